// Package pricing converts between the MT5 quote scale (USD per troy ounce)
// and the client scale (AED per gram-equivalent of a product bar), and
// computes margins, P&L and the desk's spread profit.
//
// Volume is always expressed in bars of the product; gram weights are derived
// with Grams. The single conversion between the two price scales is
// price × ConversionFactor × grams; the troy-ounce constant exists only as
// the basis of the KGBAR factor.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/aurify/goldtrade/internal/types"
)

// TroyOunceGrams is the weight of one troy ounce.
const TroyOunceGrams = 31.103

// Product describes a tradable physical gold bar.
type Product struct {
	Code             string
	GramsPerBar      float64
	ConversionFactor float64 // USD/oz -> AED per gram-equivalent of the bar
}

var products = map[string]Product{
	"TTBAR": {Code: "TTBAR", GramsPerBar: 117, ConversionFactor: 13.7628},
	"KGBAR": {Code: "KGBAR", GramsPerBar: 1000, ConversionFactor: 32.1507 * 3.674},
}

// ProductByCode looks up a product by its code.
func ProductByCode(code string) (Product, bool) {
	p, ok := products[code]
	return p, ok
}

// KnownSymbol reports whether code names a tradable product.
func KnownSymbol(code string) bool {
	_, ok := products[code]
	return ok
}

// Grams returns the gram weight of volume bars of the product.
func Grams(p Product, volumeBars float64) float64 {
	return volumeBars * p.GramsPerBar
}

// ClientOpenPrice applies the account spread to an MT5 fill on the open side:
// BUY adds the ask spread, SELL subtracts the bid spread. USD/oz in and out.
func ClientOpenPrice(side string, mt5Price, askSpread, bidSpread float64) float64 {
	if side == types.SideBuy {
		return mt5Price + askSpread
	}
	return mt5Price - bidSpread
}

// ClientClosePrice applies the reverse spread on the close side: a BUY closes
// against the bid spread, a SELL against the ask spread.
func ClientClosePrice(side string, mt5Price, askSpread, bidSpread float64) float64 {
	if side == types.SideBuy {
		return mt5Price - bidSpread
	}
	return mt5Price + askSpread
}

// SpreadFor returns the spread component applied on the open side.
func SpreadFor(side string, askSpread, bidSpread float64) float64 {
	if side == types.SideBuy {
		return askSpread
	}
	return bidSpread
}

// GoldValueAED converts a USD/oz price into the AED weight-value of volume
// bars of the product. Intermediate arithmetic is exact.
func GoldValueAED(priceUSD float64, p Product, volumeBars float64) float64 {
	v := decimal.NewFromFloat(priceUSD).
		Mul(decimal.NewFromFloat(p.ConversionFactor)).
		Mul(decimal.NewFromFloat(Grams(p, volumeBars)))
	f, _ := v.Float64()
	return f
}

// USDPerOz reverses GoldValueAED's scale: the MT5 base price implied by a
// client AED weight-value.
func USDPerOz(valueAED float64, p Product, volumeBars float64) float64 {
	grams := Grams(p, volumeBars)
	if grams == 0 {
		return 0
	}
	v := decimal.NewFromFloat(valueAED).
		Div(decimal.NewFromFloat(p.ConversionFactor)).
		Div(decimal.NewFromFloat(grams))
	f, _ := v.Float64()
	return f
}

// RequiredMargin computes the AED collateral for a trade cost at the
// account's margin percentage.
func RequiredMargin(tradeCostAED, marginPercent float64) float64 {
	v := decimal.NewFromFloat(tradeCostAED).
		Mul(decimal.NewFromFloat(marginPercent)).
		Div(decimal.NewFromInt(100))
	f, _ := v.Float64()
	return f
}

// LPProfitOpen is the opening-side spread the desk earns: the BUY side pays
// the ask spread, the SELL side the bid spread, scaled to AED weight-value.
func LPProfitOpen(side string, p Product, volumeBars, askSpread, bidSpread float64) float64 {
	spread := askSpread
	if side == types.SideSell {
		spread = bidSpread
	}
	return spreadValueAED(spread, p, volumeBars)
}

// LPProfitClose is the closing-side spread component added when the position
// is closed: the reverse side of LPProfitOpen.
func LPProfitClose(side string, p Product, volumeBars, askSpread, bidSpread float64) float64 {
	spread := bidSpread
	if side == types.SideSell {
		spread = askSpread
	}
	return spreadValueAED(spread, p, volumeBars)
}

func spreadValueAED(spread float64, p Product, volumeBars float64) float64 {
	v := decimal.NewFromFloat(p.ConversionFactor).
		Mul(decimal.NewFromFloat(Grams(p, volumeBars))).
		Mul(decimal.NewFromFloat(spread))
	f, _ := v.Float64()
	return f
}

// ClientProfit is the client's P&L between two AED weight-values:
// closing − opening for a BUY, opening − closing for a SELL.
func ClientProfit(side string, openingValueAED, closingValueAED float64) float64 {
	if side == types.SideBuy {
		return closingValueAED - openingValueAED
	}
	return openingValueAED - closingValueAED
}

// Round2 rounds a monetary value to two decimal places for persistence.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
