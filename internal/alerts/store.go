package alerts

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Row is one durable alert record (`alerts.db`).
type Row struct {
	ID          uint `gorm:"primaryKey"`
	DedupKey    string `gorm:"index"`
	Source      string
	Severity    string
	Message     string
	TimestampMs int64 `gorm:"index"`
	Delivered   bool
}

type Store struct {
	db *gorm.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(row Row) (uint, error) {
	err := s.db.Create(&row).Error
	return row.ID, err
}

// LastFired returns the timestamp (ms) of the most recent alert sharing
// dedupKey, used to enforce the cooldown window.
func (s *Store) LastFired(dedupKey string) (int64, bool) {
	var row Row
	err := s.db.Where("dedup_key = ?", dedupKey).Order("timestamp_ms desc").First(&row).Error
	if err != nil {
		return 0, false
	}
	return row.TimestampMs, true
}

func (s *Store) MarkDelivered(id uint) error {
	return s.db.Model(&Row{}).Where("id = ?", id).UpdateColumn("delivered", true).Error
}

// Recent returns the limit most recent alerts, newest first.
func (s *Store) Recent(limit int) []Row {
	var rows []Row
	s.db.Order("timestamp_ms desc").Limit(limit).Find(&rows)
	return rows
}
