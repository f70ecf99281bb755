package migrations

import (
	"github.com/aurify/goldtrade/internal/types"
	"gorm.io/gorm"
)

// AddOrderIndexes creates the order tables and required indexes
func AddOrderIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Order{}, &types.LPPosition{}, &types.LPProfit{}); err != nil {
		return err
	}

	indexes := []string{
		// Admin dashboards list by status
		`CREATE INDEX IF NOT EXISTS idx_orders_admin_status
		 ON orders(admin_id, order_status)`,

		// Account position queries
		`CREATE INDEX IF NOT EXISTS idx_orders_user
		 ON orders(user_id)`,

		// LP book filtering by status
		`CREATE INDEX IF NOT EXISTS idx_lp_positions_status
		 ON lp_positions(status)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
