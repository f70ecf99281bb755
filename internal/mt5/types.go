package mt5

// Connection states of the bridge client.
const (
	StateConnected    = "CONNECTED"
	StateDisconnected = "DISCONNECTED"
)

// Bridge retcodes (MT5 trade server return codes surfaced by the bridge).
const (
	RetcodeDone              = 10009
	RetcodeRequote           = 10013
	RetcodeInvalidParams     = 10017
	RetcodeMarketClosed      = 10018
	RetcodeInsufficientFunds = 10019
	RetcodePricesChanged     = 10020
	RetcodeInvalidRequest    = 10021
	RetcodeInvalidStops      = 10022
	RetcodeAutoTradingOff    = 10027
	RetcodeInvalidFilling    = 10030
)

var retcodeMessages = map[int]string{
	RetcodeRequote:           "Requote",
	RetcodeInvalidParams:     "Invalid parameters",
	RetcodeMarketClosed:      "Market closed",
	RetcodeInsufficientFunds: "Insufficient funds",
	RetcodePricesChanged:     "Prices changed",
	RetcodeInvalidRequest:    "Invalid request (check volume, symbol, or market status)",
	RetcodeInvalidStops:      "Invalid SL/TP",
	RetcodeAutoTradingOff:    "AutoTrading disabled",
	RetcodeInvalidFilling:    "Invalid order filling type",
}

// retryable reports whether a retcode is worth re-driving with a widened
// deviation. Requotes and transient price changes are; parameter and funding
// failures are not.
func retryable(retcode int) bool {
	switch retcode {
	case RetcodeRequote, RetcodePricesChanged, RetcodeInvalidRequest:
		return true
	}
	return false
}

// SymbolInfo is the bridge's /symbol_info payload.
type SymbolInfo struct {
	Name        string  `json:"name"`
	Point       float64 `json:"point"`
	Digits      int     `json:"digits"`
	Spread      float64 `json:"spread"`
	TradeMode   int     `json:"trade_mode"` // 0 = not tradable
	VolumeMin   float64 `json:"volume_min"`
	VolumeMax   float64 `json:"volume_max"`
	VolumeStep  float64 `json:"volume_step"`
	StopsLevel  float64 `json:"stops_level"`
	FillingMode int     `json:"filling_mode"`
}

// Quote is a bid/ask snapshot for a bridge symbol.
type Quote struct {
	Symbol       string  `json:"symbol"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Spread       float64 `json:"spread"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Time         string  `json:"time"`
	MarketStatus string  `json:"marketStatus"`

	FetchedAt int64 `json:"-"` // unix nanos, set by the client
}

// TradeRequest places a market order through the bridge.
type TradeRequest struct {
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	Type       string  `json:"type"` // BUY or SELL
	SLDistance float64 `json:"sl_distance,omitempty"`
	TPDistance float64 `json:"tp_distance,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	Magic      int     `json:"magic,omitempty"`
	Deviation  int     `json:"deviation,omitempty"`
}

// TradeResult is the bridge's successful /trade payload.
type TradeResult struct {
	Order   int64   `json:"order"`
	Deal    int64   `json:"deal"`
	Volume  float64 `json:"volume"`
	Price   float64 `json:"price"`
	SL      float64 `json:"sl"`
	TP      float64 `json:"tp"`
	Comment string  `json:"comment"`
	Retcode int     `json:"retcode"`
}

// CloseRequest closes an open bridge position. Side is the client order's
// direction; it selects the fallback quote side when the bridge has already
// lost the position.
type CloseRequest struct {
	Ticket string  `json:"ticket"`
	Volume float64 `json:"volume,omitempty"`
	Symbol string  `json:"symbol,omitempty"`
	Side   string  `json:"-"`
}

// CloseResult is the outcome of a close. LikelyClosed marks the fallback
// path: the bridge no longer knew the position and Price carries the current
// side-appropriate quote instead of a fill.
type CloseResult struct {
	Deal         int64   `json:"deal"`
	Retcode      int     `json:"retcode"`
	Price        float64 `json:"price"`
	Volume       float64 `json:"volume"`
	Profit       float64 `json:"profit"`
	Symbol       string  `json:"symbol"`
	PositionType string  `json:"position_type"`
	LikelyClosed bool    `json:"likely_closed"`
}

// Position is an open position reported by the bridge.
type Position struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	Profit       float64 `json:"profit"`
	Time         string  `json:"time"`
	Comment      string  `json:"comment"`
	Magic        int     `json:"magic"`
}
