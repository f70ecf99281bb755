package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aurify/goldtrade/internal/auth"
	"github.com/aurify/goldtrade/internal/database/migrations"
	"github.com/aurify/goldtrade/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection.
// TranslateError maps driver unique-constraint failures onto
// gorm.ErrDuplicatedKey, which order creation relies on.
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "goldtrade.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddLedgerIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddOrderIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Account{},
		&auth.Admin{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
