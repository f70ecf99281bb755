package trading

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/aurify/goldtrade/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrder retrieves an order by its number for an admin.
func (d *Database) GetOrder(orderNo, adminID string) (*types.Order, error) {
	return getOrder(d.db, orderNo, adminID)
}

// GetOrderTx retrieves an order under the caller's transaction.
func GetOrderTx(tx *gorm.DB, orderNo, adminID string) (*types.Order, error) {
	return getOrder(tx, orderNo, adminID)
}

func getOrder(db *gorm.DB, orderNo, adminID string) (*types.Order, error) {
	var order types.Order
	if err := db.Where("order_no = ? AND admin_id = ?", orderNo, adminID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewDomainError(types.KindNotFound, "order %s not found", orderNo)
		}
		return nil, fmt.Errorf("failed to fetch order: %w", err)
	}
	return &order, nil
}

// CreateOrderTx inserts the order. A violated orderNo uniqueness surfaces as
// DuplicateOrderNo, which resolves the race between two opens on the same
// number: exactly one commits.
func CreateOrderTx(tx *gorm.DB, order *types.Order) error {
	if err := tx.Create(order).Error; err != nil {
		if isDuplicate(err) {
			return types.NewDomainError(types.KindDuplicateOrderNo, "order number %s already exists", order.OrderNo)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetLPPositionTx retrieves the LP mirror of an order.
func GetLPPositionTx(tx *gorm.DB, positionID string) (*types.LPPosition, error) {
	var lp types.LPPosition
	if err := tx.Where("position_id = ?", positionID).First(&lp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewDomainError(types.KindNotFound, "LP position %s not found", positionID)
		}
		return nil, fmt.Errorf("failed to fetch LP position: %w", err)
	}
	return &lp, nil
}

// GetLPProfitTx retrieves the desk profit record of an order.
func GetLPProfitTx(tx *gorm.DB, orderNo string) (*types.LPProfit, error) {
	var lpp types.LPProfit
	if err := tx.Where("order_no = ?", orderNo).First(&lpp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewDomainError(types.KindNotFound, "LP profit for order %s not found", orderNo)
		}
		return nil, fmt.Errorf("failed to fetch LP profit: %w", err)
	}
	return &lpp, nil
}

// ListOrders returns an admin's orders, newest first.
func (d *Database) ListOrders(adminID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("admin_id = ?", adminID).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// LedgerForOrder returns an order's journal rows in write order: readers
// scanning by date break ties by insertion order.
func (d *Database) LedgerForOrder(orderNo, adminID string) ([]types.Ledger, error) {
	var rows []types.Ledger
	if err := d.db.Where("reference_number = ? AND admin_id = ?", orderNo, adminID).
		Order("entry_date, id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch ledger rows: %w", err)
	}
	return rows, nil
}
