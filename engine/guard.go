package engine

import (
	"context"

	"github.com/evdnx/gotsma/executor"
)

// PositionGuard decides whether a BUY may proceed. The broker is the source
// of truth; a running monitor or an in-flight close also counts as open.
type PositionGuard struct {
	broker executor.Broker
	symbol string
	state  *positionState
}

func NewPositionGuard(b executor.Broker, symbol string, state *positionState) *PositionGuard {
	if state == nil {
		state = &positionState{}
	}
	return &PositionGuard{broker: b, symbol: symbol, state: state}
}

// HasOpenPosition reports true when a position with qty > 0 exists. When the
// broker cannot be read it reports true along with the error, so a BUY is
// never placed blind.
func (g *PositionGuard) HasOpenPosition(ctx context.Context) (bool, error) {
	if g.state.busy() {
		return true, nil
	}
	_, ok, err := executor.FindPosition(ctx, g.broker, g.symbol)
	if err != nil {
		return true, err
	}
	return ok, nil
}
