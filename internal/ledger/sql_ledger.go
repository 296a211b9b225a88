package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one ledger key and its blob.
type Entry struct {
	Key       string `gorm:"column:ledger_key;primaryKey"`
	Value     []byte `gorm:"column:value"`
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "ledger_entries"
}

// SQLLedger stores blobs in the ledger_entries table.
type SQLLedger struct {
	db      *gorm.DB
	address string
}

func NewSQLLedger(db *gorm.DB, address string) *SQLLedger {
	return &SQLLedger{db: db, address: address}
}

func (l *SQLLedger) IsAvailable(ctx context.Context) bool {
	sqlDB, err := l.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (l *SQLLedger) GetData(ctx context.Context, key string) ([]byte, error) {
	var entry Entry
	if err := l.db.WithContext(ctx).Where("ledger_key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, unavailable("get", key, err)
	}
	return entry.Value, nil
}

func (l *SQLLedger) SetData(ctx context.Context, key string, value []byte) error {
	entry := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ledger_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

// CompareAndSwap runs the conditional write inside a transaction.
func (l *SQLLedger) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	var swapped bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if len(prev) == 0 {
			res := tx.Model(&Entry{}).
				Where("ledger_key = ? AND (value IS NULL OR length(value) = 0)", key).
				Updates(map[string]interface{}{"value": next, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				swapped = true
				return nil
			}
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&Entry{Key: key, Value: next, UpdatedAt: now})
			swapped = res.RowsAffected == 1
			return res.Error
		}

		res := tx.Model(&Entry{}).
			Where("ledger_key = ? AND value = ?", key, prev).
			Updates(map[string]interface{}{"value": next, "updated_at": now})
		swapped = res.RowsAffected == 1
		return res.Error
	})
	if err != nil {
		return false, unavailable("compare-and-swap", key, err)
	}
	return swapped, nil
}

func (l *SQLLedger) Address() string {
	return l.address
}
