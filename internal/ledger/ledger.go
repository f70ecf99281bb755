// Package ledger owns the write side of account mutation and journal
// insertion. A Writer is bound to the coordinator's transaction handle; rows
// become visible only when that transaction commits, and there is no update
// API: the journal is append-only.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/aurify/goldtrade/internal/pricing"
	"github.com/aurify/goldtrade/internal/types"
)

// Writer appends journal rows and mutates account balances inside the
// enclosing transaction.
type Writer struct {
	tx *gorm.DB
}

// NewWriter binds a writer to a transaction handle.
func NewWriter(tx *gorm.DB) *Writer {
	return &Writer{tx: tx}
}

// NextEntryID generates a globally unique journal entry ID: a short prefix
// plus a ULID, whose timestamp and random suffixes keep concurrent writers
// collision-free.
func NextEntryID() string {
	return "LED-" + ulid.Make().String()
}

// DebitReserved removes amount from the account's reserved cash. The balance
// may not go negative; margin checks happen before the debit, so a negative
// result is a coordinator bug.
func (w *Writer) DebitReserved(acct *types.Account, amount float64) error {
	next := pricing.Round2(acct.ReservedAmount - amount)
	if next < 0 {
		return types.NewDomainError(types.KindInsufficientBalance,
			"reserved balance would go negative (%.2f - %.2f)", acct.ReservedAmount, amount)
	}
	acct.ReservedAmount = next
	return w.tx.Model(acct).Update("reserved_amount", next).Error
}

// CreditReserved adds amount to the account's reserved cash.
func (w *Writer) CreditReserved(acct *types.Account, amount float64) error {
	acct.ReservedAmount = pricing.Round2(acct.ReservedAmount + amount)
	return w.tx.Model(acct).Update("reserved_amount", acct.ReservedAmount).Error
}

// AdjustMetal moves the account's gold holding by deltaGrams (signed).
func (w *Writer) AdjustMetal(acct *types.Account, deltaGrams float64) error {
	acct.MetalWeight = pricing.Round2(acct.MetalWeight + deltaGrams)
	return w.tx.Model(acct).Update("metal_weight", acct.MetalWeight).Error
}

// AdjustEquity moves the account's AMOUNTFC equity by delta (signed).
func (w *Writer) AdjustEquity(acct *types.Account, delta float64) error {
	acct.AmountFC = pricing.Round2(acct.AmountFC + delta)
	return w.tx.Model(acct).Update("amount_fc", acct.AmountFC).Error
}

// append stamps and persists one journal row.
func (w *Writer) append(entry *types.Ledger) error {
	entry.EntryID = NextEntryID()
	entry.Amount = pricing.Round2(entry.Amount)
	entry.RunningBalance = pricing.Round2(entry.RunningBalance)
	if entry.EntryDate.IsZero() {
		entry.EntryDate = time.Now()
	}
	if err := w.tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// OpenParams carries everything the four open-side rows record.
type OpenParams struct {
	Account   *types.Account
	Order     *types.Order
	LPValue   float64 // LP-perspective AED weight-value
	GoldValue float64 // client AED weight-value of the metal moved
	Grams     float64
	FillPrice float64 // USD/oz execution price
}

// RecordOpen writes the canonical four rows of a committed open, in order:
// ORDER debit of the margin, LP_POSITION credit of the LP value, a CASH
// transaction debit of the margin, and a GOLD transaction (credit for BUY,
// debit for SELL). Balances must already reflect the open; each row's
// running balance is the reserved cash after the change it records.
func (w *Writer) RecordOpen(p OpenParams) error {
	logger := log.With().
		Str("component", "ledger").
		Str("order_no", p.Order.OrderNo).
		Logger()

	orderDetails, _ := json.Marshal(types.OrderLedgerDetails{
		Type:       p.Order.Type,
		Symbol:     p.Order.Symbol,
		Volume:     p.Order.Volume,
		EntryPrice: p.FillPrice,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeOrder,
		ReferenceNumber: p.Order.OrderNo,
		Description: fmt.Sprintf("Margin reserved for %s %s order %s at %.2f",
			p.Order.Type, p.Order.Symbol, p.Order.OrderNo, p.FillPrice),
		Amount:         p.Order.RequiredMargin,
		EntryNature:    types.NatureDebit,
		RunningBalance: p.Account.ReservedAmount,
		Details:        string(orderDetails),
		UserID:         p.Order.UserID,
		AdminID:        p.Order.AdminID,
	}); err != nil {
		return err
	}

	lpDetails, _ := json.Marshal(types.LPLedgerDetails{
		PositionID: p.Order.OrderNo,
		Type:       p.Order.Type,
		Symbol:     p.Order.Symbol,
		Volume:     p.Order.Volume,
		Value:      p.LPValue,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeLPPosition,
		ReferenceNumber: p.Order.OrderNo,
		Description: fmt.Sprintf("LP position opened for order %s at %.2f",
			p.Order.OrderNo, p.FillPrice),
		Amount:         p.LPValue,
		EntryNature:    types.NatureCredit,
		RunningBalance: p.Account.ReservedAmount,
		Details:        string(lpDetails),
		UserID:         p.Order.UserID,
		AdminID:        p.Order.AdminID,
	}); err != nil {
		return err
	}

	cashDetails, _ := json.Marshal(types.TransactionLedgerDetails{
		Asset:        types.AssetCash,
		BalanceAfter: p.Account.ReservedAmount,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeTransaction,
		ReferenceNumber: p.Order.OrderNo,
		Description:     fmt.Sprintf("Cash allocated to order %s", p.Order.OrderNo),
		Amount:          p.Order.RequiredMargin,
		EntryNature:     types.NatureDebit,
		RunningBalance:  p.Account.ReservedAmount,
		Details:         string(cashDetails),
		UserID:          p.Order.UserID,
		AdminID:         p.Order.AdminID,
	}); err != nil {
		return err
	}

	goldNature := types.NatureCredit
	if p.Order.Type == types.SideSell {
		goldNature = types.NatureDebit
	}
	goldDetails, _ := json.Marshal(types.TransactionLedgerDetails{
		Asset:        types.AssetGold,
		Grams:        p.Grams,
		BalanceAfter: p.Account.MetalWeight,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeTransaction,
		ReferenceNumber: p.Order.OrderNo,
		Description: fmt.Sprintf("Gold %.2fg %s for order %s at %.2f",
			p.Grams, map[string]string{types.NatureCredit: "acquired", types.NatureDebit: "delivered"}[goldNature],
			p.Order.OrderNo, p.FillPrice),
		Amount:         p.GoldValue,
		EntryNature:    goldNature,
		RunningBalance: p.Account.ReservedAmount,
		Details:        string(goldDetails),
		UserID:         p.Order.UserID,
		AdminID:        p.Order.AdminID,
	}); err != nil {
		return err
	}

	logger.Debug().
		Float64("margin", p.Order.RequiredMargin).
		Float64("lp_value", p.LPValue).
		Float64("gold_value", p.GoldValue).
		Msg("open journal rows written")
	return nil
}

// CloseParams carries everything the close-side rows record.
type CloseParams struct {
	Account *types.Account
	Order   *types.Order
	Profit  float64 // client P&L, signed
	Grams   float64
}

// RecordClose writes the close-side rows in order: ORDER credit of the
// settlement (margin plus positive profit), LP_POSITION debit of the margin,
// a CASH transaction credit, and an AMOUNTFC transaction of |profit| (credit
// when the client gained, debit when they lost).
func (w *Writer) RecordClose(p CloseParams) error {
	settlement := p.Order.RequiredMargin + math.Max(p.Profit, 0)

	orderDetails, _ := json.Marshal(types.OrderLedgerDetails{
		Type:         p.Order.Type,
		Symbol:       p.Order.Symbol,
		Volume:       p.Order.Volume,
		EntryPrice:   p.Order.Price,
		ClosingPrice: p.Order.ClosingPrice,
		Profit:       p.Profit,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeOrder,
		ReferenceNumber: p.Order.OrderNo,
		Description: fmt.Sprintf("Order %s settled, profit %.2f", p.Order.OrderNo,
			p.Profit),
		Amount:         settlement,
		EntryNature:    types.NatureCredit,
		RunningBalance: p.Account.ReservedAmount,
		Details:        string(orderDetails),
		UserID:         p.Order.UserID,
		AdminID:        p.Order.AdminID,
	}); err != nil {
		return err
	}

	lpDetails, _ := json.Marshal(types.LPLedgerDetails{
		PositionID: p.Order.OrderNo,
		Type:       p.Order.Type,
		Symbol:     p.Order.Symbol,
		Volume:     p.Order.Volume,
		Value:      p.Order.RequiredMargin,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeLPPosition,
		ReferenceNumber: p.Order.OrderNo,
		Description:     fmt.Sprintf("LP position closed for order %s", p.Order.OrderNo),
		Amount:          p.Order.RequiredMargin,
		EntryNature:     types.NatureDebit,
		RunningBalance:  p.Account.ReservedAmount,
		Details:         string(lpDetails),
		UserID:          p.Order.UserID,
		AdminID:         p.Order.AdminID,
	}); err != nil {
		return err
	}

	// A loss larger than the margin flips the cash movement: the account
	// owes the excess rather than receiving a release.
	cashAmount := p.Order.RequiredMargin + p.Profit
	cashNature := types.NatureCredit
	if cashAmount < 0 {
		cashAmount = -cashAmount
		cashNature = types.NatureDebit
	}
	cashDetails, _ := json.Marshal(types.TransactionLedgerDetails{
		Asset:        types.AssetCash,
		BalanceAfter: p.Account.ReservedAmount,
	})
	if err := w.append(&types.Ledger{
		EntryType:       types.EntryTypeTransaction,
		ReferenceNumber: p.Order.OrderNo,
		Description:     fmt.Sprintf("Cash settled for order %s", p.Order.OrderNo),
		Amount:          cashAmount,
		EntryNature:     cashNature,
		RunningBalance:  p.Account.ReservedAmount,
		Details:         string(cashDetails),
		UserID:          p.Order.UserID,
		AdminID:         p.Order.AdminID,
	}); err != nil {
		return err
	}

	fcNature := types.NatureCredit
	if p.Profit < 0 {
		fcNature = types.NatureDebit
	}
	fcDetails, _ := json.Marshal(types.TransactionLedgerDetails{
		Asset:        types.AssetAmountFC,
		BalanceAfter: p.Account.AmountFC,
	})
	return w.append(&types.Ledger{
		EntryType:       types.EntryTypeTransaction,
		ReferenceNumber: p.Order.OrderNo,
		Description:     fmt.Sprintf("Equity adjustment for order %s", p.Order.OrderNo),
		Amount:          math.Abs(p.Profit),
		EntryNature:     fcNature,
		RunningBalance:  p.Account.ReservedAmount,
		Details:         string(fcDetails),
		UserID:          p.Order.UserID,
		AdminID:         p.Order.AdminID,
	})
}
