package trading

import (
	"strings"

	"github.com/aurify/goldtrade/internal/pricing"
	"github.com/aurify/goldtrade/internal/types"
)

// validateIntent checks every field of an open intent and reports all broken
// rules in one concatenated message, so the caller fixes everything in one
// round trip.
func validateIntent(adminID, userID string, intent OrderIntent) error {
	var reasons []string

	if strings.TrimSpace(adminID) == "" {
		reasons = append(reasons, "invalid admin id")
	}
	if strings.TrimSpace(userID) == "" {
		reasons = append(reasons, "invalid user id")
	}
	if strings.TrimSpace(intent.OrderNo) == "" {
		reasons = append(reasons, "missing order number")
	}
	if intent.Type != types.SideBuy && intent.Type != types.SideSell {
		reasons = append(reasons, "order type must be BUY or SELL")
	}
	if !pricing.KnownSymbol(intent.Symbol) {
		reasons = append(reasons, "unknown symbol "+intent.Symbol)
	}
	if intent.Volume <= 0 {
		reasons = append(reasons, "volume must be positive")
	}
	if intent.Price <= 0 && intent.OpeningPrice <= 0 {
		reasons = append(reasons, "price must be positive")
	}
	if intent.RequiredMargin <= 0 {
		reasons = append(reasons, "required margin must be positive")
	}
	if intent.OpeningDate.IsZero() {
		reasons = append(reasons, "missing or invalid opening date")
	}

	if len(reasons) > 0 {
		return types.NewDomainError(types.KindValidationFailed, "%s", strings.Join(reasons, "; "))
	}
	return nil
}

// validateCloseRequest enforces the close contract: the request must ask for
// the CLOSED state.
func validateCloseRequest(req CloseRequest) error {
	if req.OrderStatus != types.OrderStatusClosed {
		return types.NewDomainError(types.KindValidationFailed, "order_status must be CLOSED")
	}
	return nil
}
