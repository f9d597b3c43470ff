package executor

import (
	"context"

	"github.com/evdnx/gotsma/types"
)

// Broker is the brokerage collaborator. It is the source of truth for
// positions; the engine re-reads it before every mutating action.
type Broker interface {
	Positions(ctx context.Context) ([]types.Position, error)
	Account(ctx context.Context) (types.Account, error)
	// Submit places a market order and returns the broker's order id.
	// Refusals are *types.OrderError wrapping ErrInsufficientBalance or
	// ErrOrderRejected.
	Submit(ctx context.Context, o types.Order) (string, error)
	AssetStatus(ctx context.Context, symbol string) (types.AssetStatus, error)
}

// FindPosition returns the open position for symbol, if any. A position with
// zero quantity counts as absent.
func FindPosition(ctx context.Context, b Broker, symbol string) (types.Position, bool, error) {
	positions, err := b.Positions(ctx)
	if err != nil {
		return types.Position{}, false, err
	}
	for _, p := range positions {
		if types.SameSymbol(p.Symbol, symbol) && p.Qty > 0 {
			return p, true, nil
		}
	}
	return types.Position{}, false, nil
}
