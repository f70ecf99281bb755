package trading

import (
	"context"

	"github.com/aurify/goldtrade/internal/mt5"
)

// Gateway is the execution surface the coordinator drives. *mt5.Client
// satisfies it; tests substitute a stub. Retries live inside the gateway and
// never re-enter the coordinator's transaction.
type Gateway interface {
	ResolveSymbol(ctx context.Context, symbol string) (string, error)
	Place(ctx context.Context, req mt5.TradeRequest) (*mt5.TradeResult, error)
	ClosePosition(ctx context.Context, req mt5.CloseRequest) (*mt5.CloseResult, error)
	Quote(ctx context.Context, symbol string, force bool) (*mt5.Quote, error)
}
