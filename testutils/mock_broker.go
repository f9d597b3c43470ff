package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/evdnx/gotsma/types"
)

// MockBroker implements executor.Broker in memory. Fills happen at
// Order.Price, falling back to Fill when the order carries no price.
type MockBroker struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]types.Position
	orders    []types.Order
	nextID    int

	// Fill is the price used for orders without a price.
	Fill float64
	// SubmitErr, when set, is returned by every Submit without recording.
	SubmitErr error
	// PositionsErr, when set, is returned by Positions.
	PositionsErr error
	// Halted marks the asset as not tradable.
	Halted bool
}

// NewMockBroker creates a broker with the supplied starting cash.
func NewMockBroker(cash float64) *MockBroker {
	return &MockBroker{cash: cash, positions: make(map[string]types.Position)}
}

// SetPosition installs an open position, as if it existed before start-up.
func (m *MockBroker) SetPosition(symbol string, qty, entry float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := types.BrokerSymbol(symbol)
	if qty <= 0 {
		delete(m.positions, key)
		return
	}
	m.positions[key] = types.Position{Symbol: key, Qty: qty, AvgEntryPrice: entry, CurrentPrice: entry}
}

func (m *MockBroker) SetErrors(submit, positions error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitErr = submit
	m.PositionsErr = positions
}

func (m *MockBroker) Positions(ctx context.Context) ([]types.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockBroker) Account(ctx context.Context) (types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return types.Account{Cash: m.cash, BuyingPower: m.cash, PortfolioValue: m.cash, Status: "ACTIVE"}, nil
}

func (m *MockBroker) AssetStatus(ctx context.Context, symbol string) (types.AssetStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Halted {
		return types.AssetStatus{Symbol: symbol, Tradable: false, Status: "inactive"}, nil
	}
	return types.AssetStatus{Symbol: symbol, Tradable: true, Status: "active"}, nil
}

// Submit records the order and updates cash and positions like PaperBroker.
func (m *MockBroker) Submit(ctx context.Context, o types.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	price := o.Price
	if price <= 0 {
		price = m.Fill
	}
	key := types.BrokerSymbol(o.Symbol)
	p := m.positions[key]
	cost := price * o.Qty
	switch o.Side {
	case types.Buy:
		if cost > m.cash {
			return "", &types.OrderError{Op: "submit", Err: types.ErrInsufficientBalance, Payload: "insufficient balance"}
		}
		m.cash -= cost
		total := p.Qty + o.Qty
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + cost) / total
		p.Qty = total
		p.Symbol = key
		m.positions[key] = p
	case types.Sell:
		if o.Qty > p.Qty+1e-12 {
			return "", &types.OrderError{Op: "submit", Err: types.ErrOrderRejected, Payload: "insufficient qty"}
		}
		m.cash += cost
		p.Qty -= o.Qty
		if p.Qty <= 1e-12 {
			delete(m.positions, key)
		} else {
			m.positions[key] = p
		}
	}
	m.orders = append(m.orders, o)
	m.nextID++
	return fmt.Sprintf("mock-%d", m.nextID), nil
}

// Cash returns the current cash balance.
func (m *MockBroker) Cash() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cash
}

// Orders returns a copy of all submitted orders (useful for assertions).
func (m *MockBroker) Orders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// OrdersBySide counts submitted orders of one side.
func (m *MockBroker) OrdersBySide(side types.Side) int {
	n := 0
	for _, o := range m.Orders() {
		if o.Side == side {
			n++
		}
	}
	return n
}
