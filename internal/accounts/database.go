package accounts

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aurify/goldtrade/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAccount retrieves an account owned by the given admin.
func (d *Database) GetAccount(accountID, adminID string) (*types.Account, error) {
	return getAccount(d.db, accountID, adminID)
}

// GetAccountTx retrieves an account under the caller's transaction. The
// store's transaction contract serialises concurrent writers on the row.
func GetAccountTx(tx *gorm.DB, accountID, adminID string) (*types.Account, error) {
	return getAccount(tx, accountID, adminID)
}

func getAccount(db *gorm.DB, accountID, adminID string) (*types.Account, error) {
	var acct types.Account
	if err := db.Where("account_id = ? AND admin_id = ?", accountID, adminID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewDomainError(types.KindNotFound, "account %s not found", accountID)
		}
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &acct, nil
}

func (d *Database) CreateAccount(acct *types.Account) error {
	return d.db.Create(acct).Error
}

func (d *Database) UpdateAccount(acct *types.Account) error {
	return d.db.Save(acct).Error
}

// SetFreeze flips the account's freeze flag. Frozen accounts refuse new
// opens but may still close.
func (d *Database) SetFreeze(accountID, adminID string, frozen bool) error {
	result := d.db.Model(&types.Account{}).
		Where("account_id = ? AND admin_id = ?", accountID, adminID).
		Update("is_freeze", frozen)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return types.NewDomainError(types.KindNotFound, "account %s not found", accountID)
	}
	return nil
}

// ListAccounts returns all accounts owned by an admin.
func (d *Database) ListAccounts(adminID string) ([]types.Account, error) {
	var accts []types.Account
	if err := d.db.Where("admin_id = ?", adminID).Order("account_id").Find(&accts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accts, nil
}
