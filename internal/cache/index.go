package cache

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// IndexRow is the durable row backing one cache entry's metadata. The
// pairing invariant from spec.md §4.2 ("a disk file exists iff an index
// row exists with a non-expired expires_at") is enforced by the cache's
// startup sweep (Cache.sweepExpired, run from New) plus deleting both
// together on eviction/expiry.
type IndexRow struct {
	Key       string `gorm:"primaryKey"`
	Model     string `gorm:"index"`
	TaskType  string `gorm:"index"`
	TokensIn  int
	TokensOut int
	CostUSD   float64
	CreatedAt int64
	ExpiresAt int64 `gorm:"index"`
	HitCount  int64
	Size      int64
}

// Store is the durable cache index (`cache/index.db`).
type Store struct {
	db *gorm.DB
}

// OpenIndex opens (creating if absent) the durable cache index at path.
// A caller that gets an error should fall back to memory-only operation
// rather than fail the whole cache (spec.md §9: durable-store failures
// degrade silently, logged once).
func OpenIndex(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&IndexRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(row IndexRow) error {
	return s.db.Save(&row).Error
}

func (s *Store) Get(key string) (*IndexRow, bool) {
	var row IndexRow
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		return nil, false
	}
	return &row, true
}

func (s *Store) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&IndexRow{}).Error
}

// IncrementHit bumps the hit counter for key by one; a miss is a no-op.
func (s *Store) IncrementHit(key string) {
	s.db.Model(&IndexRow{}).Where("key = ?", key).UpdateColumn("hit_count", gorm.Expr("hit_count + 1"))
}

// ExpiredKeys returns every key whose expires_at is before nowMs.
func (s *Store) ExpiredKeys(nowMs int64) []string {
	var rows []IndexRow
	s.db.Select("key").Where("expires_at < ?", nowMs).Find(&rows)
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys
}

// AllKeys returns every key currently indexed, used by an explicit cache
// Clear() to remove disk files deterministically.
func (s *Store) AllKeys() []string {
	var rows []IndexRow
	s.db.Select("key").Find(&rows)
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys
}

// IndexStats is a shape for total and per-model entry counts over the
// durable index. No function in this package fills it; EntryCount returns
// the row total.
type IndexStats struct {
	TotalEntries  int64
	EntriesByModel map[string]int64
}

func (s *Store) EntryCount() int64 {
	var count int64
	s.db.Model(&IndexRow{}).Count(&count)
	return count
}

func nowMillis() int64 { return time.Now().UnixMilli() }
