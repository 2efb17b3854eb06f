package budget

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SpendRow is one durable, append-only spend record (`budget.db`).
type SpendRow struct {
	ID            uint   `gorm:"primaryKey"`
	AmountUSD     float64
	Model         string `gorm:"index"`
	DailyWindow   string `gorm:"index"` // YYYY-MM-DD, UTC
	HourlyWindow  string `gorm:"index"` // YYYY-MM-DDTHH, UTC
	TimestampMs   int64
}

// Store is the durable spend log.
type Store struct {
	db *gorm.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SpendRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(row SpendRow) error {
	return s.db.Create(&row).Error
}

// SumForWindow sums amount_usd for every spend record whose windowColumn
// equals windowKey ("daily_window" or "hourly_window").
func (s *Store) SumForWindow(windowColumn, windowKey string) float64 {
	var total float64
	s.db.Model(&SpendRow{}).
		Where(windowColumn+" = ?", windowKey).
		Select("COALESCE(SUM(amount_usd), 0)").
		Scan(&total)
	return total
}

// Reset deletes every durable spend record (explicit operator action only).
func (s *Store) Reset() error {
	return s.db.Exec("DELETE FROM spend_rows").Error
}
