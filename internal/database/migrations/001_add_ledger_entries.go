package migrations

import (
	"github.com/ksred/fhenergy-api/internal/ledger"
	"gorm.io/gorm"
)

// AddLedgerEntries creates the key/value table backing the SQL ledger
func AddLedgerEntries(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.Entry{}); err != nil {
		return err
	}

	// The reconciler and operators look for recently touched keys
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_updated_at
		 ON ledger_entries(updated_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
