package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order lifecycle states
const (
	OrderStatusProcessing = "PROCESSING"
	OrderStatusOpen       = "OPEN"
	OrderStatusFailed     = "FAILED"
	OrderStatusClosed     = "CLOSED"
	OrderStatusCancelled  = "CANCELLED"
	OrderStatusPending    = "PENDING"
	OrderStatusExecuted   = "EXECUTED"
)

// LP position states
const (
	LPStatusOpen            = "OPEN"
	LPStatusClosed          = "CLOSED"
	LPStatusPartiallyClosed = "PARTIALLY_CLOSED"
)

// Ledger entry types
const (
	EntryTypeOrder       = "ORDER"
	EntryTypeLPPosition  = "LP_POSITION"
	EntryTypeTransaction = "TRANSACTION"
)

// Ledger entry natures
const (
	NatureDebit  = "DEBIT"
	NatureCredit = "CREDIT"
)

// Transaction assets referenced by TRANSACTION ledger rows
const (
	AssetCash     = "CASH"
	AssetGold     = "GOLD"
	AssetAmountFC = "AMOUNTFC"
)

// Account is the trading party. ReservedAmount is the cash available for
// margin, AmountFC the account equity, MetalWeight the grams of gold held.
// Spreads are USD/oz adjustments applied to the MT5 quote per side.
type Account struct {
	gorm.Model     `json:"-"`
	AccountID      string  `gorm:"uniqueIndex" json:"account_id"` // ACCODE
	AccountHead    string  `json:"account_head"`
	AdminID        string  `json:"admin_id"`
	AmountFC       float64 `json:"amount_fc"`
	ReservedAmount float64 `json:"reserved_amount"`
	MetalWeight    float64 `json:"metal_weight"`
	MarginPercent  float64 `json:"margin_percent"` // 0-100
	AskSpread      float64 `json:"ask_spread"`
	BidSpread      float64 `json:"bid_spread"`
	IsFreeze       bool    `json:"is_freeze"`
	Symbol         string  `json:"symbol"` // default product code
}

// Order is the client-facing trade. Volume is expressed in bars of the
// product; OpeningPrice and ClosingPrice are AED gold-weight values.
type Order struct {
	gorm.Model        `json:"-"`
	OrderNo           string     `gorm:"uniqueIndex" json:"order_no"`
	Type              string     `json:"type"` // BUY or SELL
	Symbol            string     `json:"symbol"`
	Volume            float64    `json:"volume"`
	RequiredMargin    float64    `json:"required_margin"`
	Price             float64    `json:"price"` // USD/oz fill price
	OpeningPrice      float64    `json:"opening_price"`
	ClosingPrice      float64    `json:"closing_price"`
	OpeningDate       time.Time  `json:"opening_date"`
	ClosingDate       *time.Time `json:"closing_date,omitempty"`
	Profit            float64    `json:"profit"`
	StopLoss          float64    `json:"stop_loss"`
	TakeProfit        float64    `json:"take_profit"`
	IsTradeSafe       bool       `json:"is_trade_safe"`
	Ticket            string     `json:"ticket"`
	LPPositionID      string     `json:"lp_position_id"`
	OrderStatus       string     `json:"order_status"`
	UserID            string     `json:"user_id"`
	AdminID           string     `json:"admin_id"`
	Comment           string     `json:"comment"`
	NotificationError string     `json:"notification_error,omitempty"`
}

// LPPosition mirrors an Order against the liquidity provider, 1:1 via
// ClientOrder = Order.OrderNo. Prices are AED weight-values at the raw MT5
// quote, without the client spread.
type LPPosition struct {
	gorm.Model   `json:"-"`
	PositionID   string  `gorm:"uniqueIndex" json:"position_id"`
	ClientOrder  string  `json:"client_order"`
	Type         string  `json:"type"`
	Symbol       string  `json:"symbol"`
	Volume       float64 `json:"volume"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	ClosingPrice float64 `json:"closing_price"`
	Status       string  `json:"status"`
	Profit       float64 `json:"profit"`
	AdminID      string  `json:"admin_id"`
}

// LPProfit is the spread the desk earns on a ticket. Opened with the
// opening-side component; the closing-side component is added on close.
type LPProfit struct {
	gorm.Model `json:"-"`
	OrderNo    string    `gorm:"index" json:"order_no"`
	OrderType  string    `json:"order_type"`
	Status     string    `json:"status"` // OPEN or CLOSED
	Volume     float64   `json:"volume"`
	Value      float64   `json:"value"` // AED
	UserID     string    `json:"user_id"`
	AdminID    string    `json:"admin_id"`
	Datetime   time.Time `json:"datetime"`
}

// Ledger is the append-only double-entry journal. RunningBalance carries the
// account's reserved cash after the change the row records. Details holds a
// JSON-encoded per-type sub-object.
type Ledger struct {
	gorm.Model      `json:"-"`
	EntryID         string    `gorm:"uniqueIndex" json:"entry_id"`
	EntryType       string    `json:"entry_type"` // ORDER, LP_POSITION, TRANSACTION
	ReferenceNumber string    `json:"reference_number"`
	Description     string    `json:"description"`
	Amount          float64   `json:"amount"`
	EntryNature     string    `json:"entry_nature"` // DEBIT or CREDIT
	RunningBalance  float64   `json:"running_balance"`
	Details         string    `json:"details"` // JSON sub-object
	UserID          string    `json:"user_id"`
	AdminID         string    `json:"admin_id"`
	EntryDate       time.Time `json:"entry_date"`
}

// OrderLedgerDetails is the detail sub-object for ORDER entries.
type OrderLedgerDetails struct {
	Type         string  `json:"type"`
	Symbol       string  `json:"symbol"`
	Volume       float64 `json:"volume"`
	EntryPrice   float64 `json:"entry_price"`
	ClosingPrice float64 `json:"closing_price,omitempty"`
	Profit       float64 `json:"profit,omitempty"`
}

// LPLedgerDetails is the detail sub-object for LP_POSITION entries.
type LPLedgerDetails struct {
	PositionID string  `json:"position_id"`
	Type       string  `json:"type"`
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	Value      float64 `json:"value"`
}

// TransactionLedgerDetails is the detail sub-object for TRANSACTION entries.
type TransactionLedgerDetails struct {
	Asset        string  `json:"asset"` // CASH, GOLD or AMOUNTFC
	Grams        float64 `json:"grams,omitempty"`
	BalanceAfter float64 `json:"balance_after"`
}
