// Package alerts implements the alert manager spec.md §4.6 describes:
// deduplicated, cooldown-gated fire operations backed by a durable store
// with an in-memory ring fallback, and a best-effort webhook delivery.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const DefaultMaxHistory = 500
const DefaultCooldown = 5 * time.Minute

// Alert is one fired event.
type Alert struct {
	ID        uint
	DedupKey  string
	Source    string
	Severity  Severity
	Message   string
	Timestamp time.Time
	Delivered bool
}

// Config controls the alert manager.
type Config struct {
	StorePath   string // empty => ring-only, no durability
	MaxHistory  int
	Cooldown    time.Duration
	WebhookURL  string
	HTTPClient  *http.Client
}

func DefaultConfig() Config {
	return Config{
		MaxHistory: DefaultMaxHistory,
		Cooldown:   DefaultCooldown,
	}
}

// Manager fires and stores alerts. Durable-store unavailability degrades
// silently to the in-memory ring, logged once, matching the cache and
// budget packages' degrade behavior.
type Manager struct {
	cfg    Config
	store  *Store // nil => ring-only degrade
	client *http.Client

	mu      sync.Mutex
	ring    []Alert // capped at cfg.MaxHistory, oldest first
	lastSeq uint
}

func New(cfg Config) *Manager {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	m := &Manager{cfg: cfg, client: client}

	if cfg.StorePath != "" {
		if s, err := OpenStore(cfg.StorePath); err == nil {
			m.store = s
		} else {
			log.Printf("⚠️ alerts: durable store unavailable, continuing with in-memory history only: %v", err)
		}
	}

	return m
}

// FireThreshold fires a budget-threshold alert. dedupKey is chosen by the
// caller (the orchestrator passes "threshold:<pct>"); a later fire with the
// same key is suppressed until the cooldown has elapsed.
func (m *Manager) FireThreshold(dedupKey string, pct float64, currentSpend float64) (Alert, bool) {
	msg := thresholdMessage(pct, currentSpend)
	return m.fire(dedupKey, "budget_threshold", SeverityWarning, msg)
}

// FireAnomaly fires an anomaly-detector alert at the severity the detector
// assigned it, rather than a single fixed severity for every kind.
func (m *Manager) FireAnomaly(dedupKey string, severity Severity, kind, detail string) (Alert, bool) {
	return m.fire(dedupKey, "anomaly", severity, kind+": "+detail)
}

// FireBreach fires a budget-breach alert.
func (m *Manager) FireBreach(dedupKey, breachType string) (Alert, bool) {
	return m.fire(dedupKey, "budget_breach", SeverityCritical, "budget breach: "+breachType)
}

// fire applies the dedup+cooldown gate, records the alert, and triggers
// best-effort async webhook delivery. The bool return reports whether an
// alert was actually fired (false means the cooldown suppressed it).
func (m *Manager) fire(dedupKey, source string, severity Severity, message string) (Alert, bool) {
	now := time.Now()

	if last, ok := m.lastFired(dedupKey); ok {
		if now.Sub(last) < m.cfg.Cooldown {
			return Alert{}, false
		}
	}

	alert := Alert{
		DedupKey:  dedupKey,
		Source:    source,
		Severity:  severity,
		Message:   message,
		Timestamp: now,
	}

	if m.store != nil {
		id, err := m.store.Append(Row{
			DedupKey:    dedupKey,
			Source:      source,
			Severity:    string(severity),
			Message:     message,
			TimestampMs: now.UnixMilli(),
		})
		if err != nil {
			log.Printf("⚠️ alerts: failed to persist alert: %v", err)
		} else {
			alert.ID = id
		}
	}

	m.mu.Lock()
	m.lastSeq++
	if alert.ID == 0 {
		alert.ID = m.lastSeq
	}
	m.ring = append(m.ring, alert)
	if len(m.ring) > m.cfg.MaxHistory {
		m.ring = m.ring[len(m.ring)-m.cfg.MaxHistory:]
	}
	m.mu.Unlock()

	if m.cfg.WebhookURL != "" {
		go m.deliver(alert)
	}

	return alert, true
}

func (m *Manager) lastFired(dedupKey string) (time.Time, bool) {
	if m.store != nil {
		if ts, ok := m.store.LastFired(dedupKey); ok {
			return time.UnixMilli(ts), true
		}
		return time.Time{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.ring) - 1; i >= 0; i-- {
		if m.ring[i].DedupKey == dedupKey {
			return m.ring[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

type webhookPayload struct {
	Source string      `json:"source"`
	Alert  interface{} `json:"alert"`
}

type webhookAlert struct {
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// deliver POSTs the alert to the configured webhook, fire-and-forget.
// Delivery failures are logged, never retried, and never block the
// caller; Delivered is best-effort only (spec.md §9 Open Question).
func (m *Manager) deliver(alert Alert) {
	body, err := json.Marshal(webhookPayload{
		Source: "relayplane",
		Alert: webhookAlert{
			Severity:  string(alert.Severity),
			Message:   alert.Message,
			Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, m.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		log.Printf("⚠️ alerts: webhook delivery failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && m.store != nil && alert.ID != 0 {
		if err := m.store.MarkDelivered(alert.ID); err != nil {
			log.Printf("⚠️ alerts: failed to mark alert delivered: %v", err)
		}
	}
}

// History returns the most recent limit alerts, newest first.
func (m *Manager) History(limit int) []Alert {
	if m.store != nil {
		rows := m.store.Recent(limit)
		out := make([]Alert, len(rows))
		for i, r := range rows {
			out[i] = Alert{
				ID:        r.ID,
				DedupKey:  r.DedupKey,
				Source:    r.Source,
				Severity:  Severity(r.Severity),
				Message:   r.Message,
				Timestamp: time.UnixMilli(r.TimestampMs),
				Delivered: r.Delivered,
			}
		}
		return out
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.ring)
	if limit > n {
		limit = n
	}
	out := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.ring[n-1-i]
	}
	return out
}

func thresholdMessage(pct, currentSpend float64) string {
	return fmt.Sprintf("daily budget utilization reached %.0f%% (current spend $%.2f)", pct, currentSpend)
}
