// Package budget implements rolling daily/hourly spend accounting: an
// in-memory fast path for checkBudget, and a write-behind durable log for
// recordSpend, exactly as spec.md §4.3 describes.
package budget

import (
	"log"
	"sort"
	"sync"
	"time"
)

type BreachType string

const (
	BreachNone       BreachType = "none"
	BreachDaily      BreachType = "daily"
	BreachHourly     BreachType = "hourly"
	BreachPerRequest BreachType = "per-request"
)

type OnBreachAction string

const (
	ActionBlock     OnBreachAction = "block"
	ActionWarn      OnBreachAction = "warn"
	ActionDowngrade OnBreachAction = "downgrade"
	ActionAlert     OnBreachAction = "alert"
)

// Config controls budget enforcement.
type Config struct {
	Enabled           bool
	DailyUSD          float64
	HourlyUSD         float64
	PerRequestUSD     float64 // 0 disables the per-request check
	OnBreach          OnBreachAction
	Thresholds        []float64 // ascending percentages, default {50, 80, 95}
	DowngradeThreshold float64  // percent of daily budget that triggers auto-downgrade
	FlushInterval     time.Duration
	StorePath         string // empty => memory-only
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		OnBreach:      ActionBlock,
		Thresholds:    []float64{50, 80, 95},
		FlushInterval: time.Second,
	}
}

// CheckResult is returned by CheckBudget.
type CheckResult struct {
	Allowed             bool
	Breached            bool
	BreachType          BreachType
	Action              OnBreachAction
	CurrentDailySpend   float64
	CurrentHourlySpend  float64
	DailyUtilizationPct float64
	ThresholdsCrossed   []float64
}

// Manager is the budget enforcement engine. A single mutex guards the
// in-memory cache; the fast path never touches durable storage or
// performs I/O (spec.md §5).
type Manager struct {
	cfg   Config
	store *Store // nil => memory-only degrade

	mu              sync.Mutex
	dailyKey        string
	hourlyKey       string
	dailySpend      float64
	hourlySpend     float64
	firedThresholds map[float64]bool

	queueMu sync.Mutex
	queue   []SpendRow

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Manager. If cfg.StorePath is empty or fails to open,
// the manager degrades to memory-only and logs once.
func New(cfg Config) *Manager {
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = []float64{50, 80, 95}
	}
	sort.Float64s(cfg.Thresholds)
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	m := &Manager{
		cfg:             cfg,
		firedThresholds: make(map[float64]bool),
		stopCh:          make(chan struct{}),
	}

	if cfg.StorePath != "" {
		if s, err := OpenStore(cfg.StorePath); err == nil {
			m.store = s
		} else {
			log.Printf("⚠️ budget: durable store unavailable, continuing memory-only: %v", err)
		}
	}

	m.ensureWindows(time.Now())
	m.startFlusher()
	return m
}

func dailyKeyFor(t time.Time) string  { return t.UTC().Format("2006-01-02") }
func hourlyKeyFor(t time.Time) string { return t.UTC().Format("2006-01-02T15") }

// ensureWindows must be called with mu held. If the current daily or
// hourly key differs from the cached key, the cached sum is recomputed
// from durable storage (if available) and the fired-thresholds set is
// cleared for a new daily window.
func (m *Manager) ensureWindows(now time.Time) {
	dk := dailyKeyFor(now)
	hk := hourlyKeyFor(now)

	if dk != m.dailyKey {
		m.dailyKey = dk
		m.firedThresholds = make(map[float64]bool)
		if m.store != nil {
			m.dailySpend = m.store.SumForWindow("daily_window", dk)
		} else {
			m.dailySpend = 0
		}
	}
	if hk != m.hourlyKey {
		m.hourlyKey = hk
		if m.store != nil {
			m.hourlySpend = m.store.SumForWindow("hourly_window", hk)
		} else {
			m.hourlySpend = 0
		}
	}
}

// CheckBudget is the fast path: memory + config only, no I/O. Completes
// well under the 5ms budget spec.md §4.3 requires.
func (m *Manager) CheckBudget(estimatedCost float64) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureWindows(time.Now())

	if !m.cfg.Enabled {
		return CheckResult{Allowed: true, BreachType: BreachNone, CurrentDailySpend: m.dailySpend, CurrentHourlySpend: m.hourlySpend}
	}

	result := CheckResult{
		Allowed:            true,
		BreachType:         BreachNone,
		CurrentDailySpend:  m.dailySpend,
		CurrentHourlySpend: m.hourlySpend,
	}
	if m.cfg.DailyUSD > 0 {
		result.DailyUtilizationPct = (m.dailySpend / m.cfg.DailyUSD) * 100
	}

	if estimatedCost > 0 && m.cfg.PerRequestUSD > 0 && estimatedCost > m.cfg.PerRequestUSD {
		result.Breached = true
		result.BreachType = BreachPerRequest
	} else if m.cfg.DailyUSD > 0 && m.dailySpend >= m.cfg.DailyUSD {
		result.Breached = true
		result.BreachType = BreachDaily
	} else if m.cfg.HourlyUSD > 0 && m.hourlySpend >= m.cfg.HourlyUSD {
		result.Breached = true
		result.BreachType = BreachHourly
	}

	if result.Breached {
		result.Action = m.cfg.OnBreach
		if m.cfg.OnBreach == ActionBlock {
			result.Allowed = false
		}
	}

	if m.cfg.DailyUSD > 0 {
		for _, pct := range m.cfg.Thresholds {
			if result.DailyUtilizationPct >= pct && !m.firedThresholds[pct] {
				result.ThresholdsCrossed = append(result.ThresholdsCrossed, pct)
			}
		}
	}

	return result
}

// MarkThresholdFired suppresses further ThresholdsCrossed emissions for
// pct within the current daily window. The orchestrator invokes this
// before firing the threshold alert, whose webhook delivery is async.
func (m *Manager) MarkThresholdFired(pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.firedThresholds[pct] = true
}

// RecordSpend is the slow path: updates the in-memory cache synchronously
// so a subsequent CheckBudget on this process observes it immediately,
// then queues a durable write flushed by the background timer (or
// synchronously on Shutdown).
func (m *Manager) RecordSpend(amountUSD float64, model string) {
	now := time.Now()

	m.mu.Lock()
	m.ensureWindows(now)
	m.dailySpend += amountUSD
	m.hourlySpend += amountUSD
	dk, hk := m.dailyKey, m.hourlyKey
	m.mu.Unlock()

	row := SpendRow{
		AmountUSD:    amountUSD,
		Model:        model,
		DailyWindow:  dk,
		HourlyWindow: hk,
		TimestampMs:  now.UnixMilli(),
	}

	m.queueMu.Lock()
	m.queue = append(m.queue, row)
	m.queueMu.Unlock()
}

func (m *Manager) startFlusher() {
	if m.store == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.flush()
			case <-m.stopCh:
				m.flush()
				return
			}
		}
	}()
}

func (m *Manager) flush() {
	if m.store == nil {
		return
	}
	m.queueMu.Lock()
	pending := m.queue
	m.queue = nil
	m.queueMu.Unlock()

	for _, row := range pending {
		if err := m.store.Append(row); err != nil {
			log.Printf("⚠️ budget: failed to persist spend record: %v", err)
		}
	}
}

// Shutdown flushes any queued spend records synchronously and stops the
// background flusher.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	m.flush()
}

// Reset clears in-memory and (if available) durable spend state. Explicit
// operator action only, per spec.md §3 lifecycle rules.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.dailySpend = 0
	m.hourlySpend = 0
	m.firedThresholds = make(map[float64]bool)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Reset(); err != nil {
			log.Printf("⚠️ budget: failed to reset durable store: %v", err)
		}
	}
}
