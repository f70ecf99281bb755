package types

// Balances reports the account's cash and gold views after an operation.
type Balances struct {
	Cash float64 `json:"cash"` // reserved amount, AED
	Gold float64 `json:"gold"` // metal weight, grams
}

// PriceDetails explains how the client price for an open was derived from
// the MT5 fill.
type PriceDetails struct {
	MT5           float64 `json:"mt5"`    // USD/oz fill
	Client        float64 `json:"client"` // USD/oz after spread
	LP            float64 `json:"lp"`     // AED weight-value, LP perspective
	SpreadApplied float64 `json:"spread_applied"`
}

// ClosingPrices explains the close-side price derivation.
type ClosingPrices struct {
	MT5           float64 `json:"mt5"`
	Client        float64 `json:"client"`
	SpreadApplied float64 `json:"spread_applied"`
}

// ProfitBreakdown splits a close into the client's P&L and the desk's
// spread profit, both AED.
type ProfitBreakdown struct {
	Client float64 `json:"client"`
	LP     float64 `json:"lp"`
}
