package migrations

import (
	"github.com/aurify/goldtrade/internal/types"
	"gorm.io/gorm"
)

// AddLedgerIndexes creates the ledger table and its query indexes
func AddLedgerIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Ledger{}); err != nil {
		return err
	}

	// Raw SQL for index creation to have more control over index shape
	indexes := []string{
		// Order-history lookups scan by reference number and date
		`CREATE INDEX IF NOT EXISTS idx_ledgers_reference_date
		 ON ledgers(reference_number, entry_date)`,

		// Statement queries filter by user within an admin
		`CREATE INDEX IF NOT EXISTS idx_ledgers_admin_user
		 ON ledgers(admin_id, user_id)`,

		// Entry type filtering (ORDER / LP_POSITION / TRANSACTION)
		`CREATE INDEX IF NOT EXISTS idx_ledgers_entry_type
		 ON ledgers(entry_type)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
