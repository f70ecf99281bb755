package trading

import (
	"time"

	"github.com/aurify/goldtrade/internal/mt5"
	"github.com/aurify/goldtrade/internal/types"
)

// OrderIntent is the single validated record every front-end (admin console
// or chat) reduces to. All coordinator internals operate on it.
type OrderIntent struct {
	OrderNo        string    `json:"order_no"`
	Type           string    `json:"type"`
	Symbol         string    `json:"symbol"`
	Volume         float64   `json:"volume"` // bars
	Price          float64   `json:"price"`
	OpeningPrice   float64   `json:"opening_price"`
	RequiredMargin float64   `json:"required_margin"`
	OpeningDate    time.Time `json:"opening_date"`
	Ticket         string    `json:"ticket,omitempty"` // set for externally-reconciled fills
	Comment        string    `json:"comment,omitempty"`
	StopLoss       float64   `json:"stop_loss,omitempty"`
	TakeProfit     float64   `json:"take_profit,omitempty"`
}

// CloseRequest is the whitelisted mutation set of a close. Any other field
// in the inbound payload is dropped at the binding boundary.
type CloseRequest struct {
	OrderStatus  string   `json:"order_status"`
	ClosingPrice float64  `json:"closing_price,omitempty"`
	Profit       *float64 `json:"profit,omitempty"`
	ForceClose   bool     `json:"force_close,omitempty"`
}

// OpenResult is the coordinator's structured outcome for a committed open.
type OpenResult struct {
	ClientOrder  *types.Order       `json:"crm_trade"`
	LPPosition   *types.LPPosition  `json:"lp_position"`
	LPProfit     *types.LPProfit    `json:"lp_profit"`
	MT5Trade     *mt5.TradeResult   `json:"mt5_trade,omitempty"`
	Balances     types.Balances     `json:"balances"`
	PriceDetails types.PriceDetails `json:"price_details"`
}

// CloseOutcome is the coordinator's structured outcome for a committed close.
type CloseOutcome struct {
	Order           *types.Order          `json:"order"`
	Balances        types.Balances        `json:"balances"`
	Profit          types.ProfitBreakdown `json:"profit"`
	ClosingPrices   types.ClosingPrices   `json:"closing_prices"`
	MT5Synchronized bool                  `json:"mt5_synchronized"`
}
