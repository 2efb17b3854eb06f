// Package cache implements the response cache: two keying modes, an
// in-memory LRU tier, a gzip-on-disk tier, and a durable SQLite index,
// exactly as spec.md §4.2 describes.
package cache

import (
	"log"
	"sync"
	"time"

	"github.com/RelayPlane/proxy/internal/envelope"
)

const (
	DefaultMemoryBudgetBytes = 100 * 1024 * 1024
	DefaultExactTTL          = time.Hour
	DefaultAggressiveTTL     = 30 * time.Minute
)

// Config controls cache behavior.
type Config struct {
	Enabled               bool
	Mode                  Mode
	OnlyWhenDeterministic bool // exact mode only; default true
	MemoryBudgetBytes     int64
	DiskDir               string
	IndexPath             string
	ExactTTL              time.Duration
	AggressiveTTL         time.Duration
	TaskTypeTTLOverrides  map[string]time.Duration
	BypassToolCalls       bool // if true, responses containing tool calls are never cached
}

func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Mode:                  ModeExact,
		OnlyWhenDeterministic: true,
		MemoryBudgetBytes:     DefaultMemoryBudgetBytes,
		ExactTTL:              DefaultExactTTL,
		AggressiveTTL:         DefaultAggressiveTTL,
	}
}

// Stats are the counters spec.md §4.2 requires.
type Stats struct {
	mu *sync.Mutex

	Hits         int64
	Misses       int64
	Bypasses     int64
	SavedCostUSD float64

	HitsByModel    map[string]int64
	EntriesByModel map[string]int64

	HitsByTaskType    map[string]int64
	EntriesByTaskType map[string]int64
}

func newStats() *Stats {
	return &Stats{
		mu:                &sync.Mutex{},
		HitsByModel:       make(map[string]int64),
		EntriesByModel:    make(map[string]int64),
		HitsByTaskType:    make(map[string]int64),
		EntriesByTaskType: make(map[string]int64),
	}
}

func (s *Stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := Stats{
		Hits:              s.Hits,
		Misses:            s.Misses,
		Bypasses:          s.Bypasses,
		SavedCostUSD:      s.SavedCostUSD,
		HitsByModel:       cloneMap(s.HitsByModel),
		EntriesByModel:    cloneMap(s.EntriesByModel),
		HitsByTaskType:    cloneMap(s.HitsByTaskType),
		EntriesByTaskType: cloneMap(s.EntriesByTaskType),
	}
	return cp
}

func cloneMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Entry is the metadata returned alongside a cached body.
type Entry struct {
	Body      []byte
	Model     string
	TaskType  string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
}

// InsertParams describes a response being written into the cache.
type InsertParams struct {
	Body      []byte
	Model     string
	TaskType  string
	TokensIn  int
	TokensOut int
	CostUSD   float64
	HasToolCalls bool
}

// Cache is the full three-tier response cache.
type Cache struct {
	cfg   Config
	mem   *lru
	disk  *diskStore
	index *Store // nil if the durable index is unavailable (memory-only degrade)
	stats *Stats

	warnedDegraded bool
	mu             sync.Mutex
}

// New constructs a Cache. If cfg.DiskDir or cfg.IndexPath are empty, or the
// durable index fails to open, the cache degrades to memory-only and logs
// once (spec.md §9 "durable-store failures degrade silently... and log
// once").
func New(cfg Config) *Cache {
	if cfg.MemoryBudgetBytes <= 0 {
		cfg.MemoryBudgetBytes = DefaultMemoryBudgetBytes
	}
	if cfg.ExactTTL <= 0 {
		cfg.ExactTTL = DefaultExactTTL
	}
	if cfg.AggressiveTTL <= 0 {
		cfg.AggressiveTTL = DefaultAggressiveTTL
	}

	c := &Cache{
		cfg:   cfg,
		mem:   newLRU(cfg.MemoryBudgetBytes),
		stats: newStats(),
	}

	if cfg.DiskDir != "" {
		if d, err := newDiskStore(cfg.DiskDir); err == nil {
			c.disk = d
		} else {
			log.Printf("⚠️ cache: disk tier unavailable, degrading to memory-only: %v", err)
		}
	}
	if cfg.IndexPath != "" {
		if idx, err := OpenIndex(cfg.IndexPath); err == nil {
			c.index = idx
			c.sweepExpired()
		} else {
			log.Printf("⚠️ cache: durable index unavailable, degrading to memory-only: %v", err)
		}
	}

	return c
}

// ttlFor returns the configured TTL for taskType under mode.
func (c *Cache) ttlFor(mode Mode, taskType string) time.Duration {
	if d, ok := c.cfg.TaskTypeTTLOverrides[taskType]; ok {
		return d
	}
	if mode == ModeAggressive {
		return c.cfg.AggressiveTTL
	}
	return c.cfg.ExactTTL
}

// Lookup checks the cache for env under the configured mode. ok is false
// on a miss or bypass.
func (c *Cache) Lookup(env *envelope.Envelope) (entry Entry, ok bool) {
	if Bypass(env, c.cfg.Mode, c.cfg.Enabled, c.cfg.OnlyWhenDeterministic) {
		c.stats.mu.Lock()
		c.stats.Bypasses++
		c.stats.mu.Unlock()
		return Entry{}, false
	}

	key := ComputeKey(env, c.cfg.Mode)

	if body, found := c.mem.get(key); found {
		return c.recordHit(key, body)
	}

	if c.disk == nil || c.index == nil {
		c.recordMiss()
		return Entry{}, false
	}

	row, found := c.index.Get(key)
	if !found {
		c.recordMiss()
		return Entry{}, false
	}
	if row.ExpiresAt < nowMillis() {
		c.evictExpired(key)
		c.recordMiss()
		return Entry{}, false
	}

	body, err := c.disk.read(key)
	if err != nil {
		c.recordMiss()
		return Entry{}, false
	}

	// Promote into memory on disk hit.
	c.mem.put(key, body)

	return c.recordHitFromRow(key, body, row)
}

func (c *Cache) recordHit(key string, body []byte) (Entry, bool) {
	var row *IndexRow
	if c.index != nil {
		row, _ = c.index.Get(key)
	}
	if row == nil {
		c.stats.mu.Lock()
		c.stats.Hits++
		c.stats.mu.Unlock()
		return Entry{Body: body}, true
	}
	return c.recordHitFromRow(key, body, row)
}

func (c *Cache) recordHitFromRow(key string, body []byte, row *IndexRow) (Entry, bool) {
	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.HitsByModel[row.Model]++
	c.stats.HitsByTaskType[row.TaskType]++
	c.stats.SavedCostUSD += row.CostUSD
	c.stats.mu.Unlock()

	if c.index != nil {
		c.index.IncrementHit(key)
	}

	return Entry{
		Body:      body,
		Model:     row.Model,
		TaskType:  row.TaskType,
		TokensIn:  row.TokensIn,
		TokensOut: row.TokensOut,
		CostUSD:   row.CostUSD,
		CreatedAt: time.UnixMilli(row.CreatedAt),
		ExpiresAt: time.UnixMilli(row.ExpiresAt),
		HitCount:  row.HitCount + 1,
	}, true
}

func (c *Cache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

// Insert stores a response for env under the configured mode.
func (c *Cache) Insert(env *envelope.Envelope, taskType string, params InsertParams) {
	if Bypass(env, c.cfg.Mode, c.cfg.Enabled, c.cfg.OnlyWhenDeterministic) {
		return
	}
	if c.cfg.BypassToolCalls && params.HasToolCalls {
		return
	}

	key := ComputeKey(env, c.cfg.Mode)
	ttl := c.ttlFor(c.cfg.Mode, taskType)
	now := time.Now()

	c.mem.put(key, params.Body)

	if c.disk != nil {
		if err := c.disk.write(key, params.Body); err != nil {
			log.Printf("⚠️ cache: disk write failed for key %s: %v", key, err)
		}
	}
	if c.index != nil {
		row := IndexRow{
			Key:       key,
			Model:     params.Model,
			TaskType:  taskType,
			TokensIn:  params.TokensIn,
			TokensOut: params.TokensOut,
			CostUSD:   params.CostUSD,
			CreatedAt: now.UnixMilli(),
			ExpiresAt: now.Add(ttl).UnixMilli(),
			Size:      int64(len(params.Body)),
		}
		if err := c.index.Put(row); err != nil {
			log.Printf("⚠️ cache: index write failed for key %s: %v", key, err)
		}
	}

	c.stats.mu.Lock()
	c.stats.EntriesByModel[params.Model]++
	c.stats.EntriesByTaskType[taskType]++
	c.stats.mu.Unlock()
}

// evictExpired drops key from all three tiers as one unit. c.mu serializes
// eviction across tiers (spec.md §5: a single mutex per cache) so a
// concurrent Lookup and Clear/Cleanup can't interleave a partial eviction.
func (c *Cache) evictExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.delete(key)
	if c.disk != nil {
		c.disk.delete(key)
	}
	if c.index != nil {
		c.index.Delete(key)
	}
}

// sweepExpired deletes every disk file whose index row has expired,
// enforcing "a disk file exists iff an index row exists with a
// non-expired expires_at" at startup.
func (c *Cache) sweepExpired() {
	if c.index == nil {
		return
	}
	for _, key := range c.index.ExpiredKeys(nowMillis()) {
		c.evictExpired(key)
	}
}

// Cleanup runs a lazy expiry pass; callers may invoke it on a timer.
func (c *Cache) Cleanup() {
	c.sweepExpired()
}

// Clear empties all three tiers.
func (c *Cache) Clear() {
	c.mem.clear()
	if c.index != nil {
		for _, key := range c.index.AllKeys() {
			c.evictExpired(key)
		}
	}
}

// SizeBytes returns current in-memory tier usage; never exceeds the
// configured budget after Insert returns (spec.md §4.2 invariant).
func (c *Cache) SizeBytes() int64 { return c.mem.sizeBytes() }

func (c *Cache) Snapshot() Stats { return c.stats.snapshot() }

// Mode reports the configured keying mode, read by /control/status.
func (c *Cache) Mode() Mode { return c.cfg.Mode }
