package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/evdnx/gotsma/logger"
	"github.com/evdnx/gotsma/types"
	"github.com/google/uuid"
)

// PriceFunc supplies the fill price for the paper broker.
type PriceFunc func() (float64, bool)

// PaperBroker is an in-memory long-only broker with perfect market fills at
// the current price. Balances live only for the process lifetime.
type PaperBroker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]float64 // qty keyed by BrokerSymbol
	avgPrice  map[string]float64
	price     PriceFunc
	log       logger.Logger
}

func NewPaperBroker(startCash float64, price PriceFunc, log logger.Logger) *PaperBroker {
	if log == nil {
		log = logger.Nop()
	}
	return &PaperBroker{
		cash:      startCash,
		positions: make(map[string]float64),
		avgPrice:  make(map[string]float64),
		price:     price,
		log:       log,
	}
}

func (p *PaperBroker) fillPrice(o types.Order) float64 {
	if p.price != nil {
		if v, ok := p.price(); ok && v > 0 {
			return v
		}
	}
	return o.Price
}

func (p *PaperBroker) Submit(_ context.Context, o types.Order) (string, error) {
	op := "paper " + string(o.Side)
	if o.Qty <= 0 {
		return "", &types.OrderError{Op: op, Err: types.ErrOrderRejected, Payload: "qty must be positive"}
	}
	price := p.fillPrice(o)
	if price <= 0 {
		return "", &types.OrderError{Op: op, Err: types.ErrOrderRejected, Payload: "no price to fill at"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sym := types.BrokerSymbol(o.Symbol)
	cost := price * o.Qty
	switch o.Side {
	case types.Buy:
		if cost > p.cash {
			return "", &types.OrderError{Op: op, Err: types.ErrInsufficientBalance,
				Payload: fmt.Sprintf("requested %.2f, available %.2f", cost, p.cash)}
		}
		p.cash -= cost
		prevQty := p.positions[sym]
		p.positions[sym] = prevQty + o.Qty
		// VWAP entry
		p.avgPrice[sym] = (p.avgPrice[sym]*prevQty + cost) / p.positions[sym]
	case types.Sell:
		held := p.positions[sym]
		if o.Qty > held+1e-12 {
			return "", &types.OrderError{Op: op, Err: types.ErrOrderRejected,
				Payload: fmt.Sprintf("sell %.6f exceeds position %.6f", o.Qty, held)}
		}
		p.cash += cost
		p.positions[sym] = held - o.Qty
		if p.positions[sym] <= 1e-12 {
			delete(p.positions, sym)
			delete(p.avgPrice, sym)
		}
	default:
		return "", &types.OrderError{Op: op, Err: types.ErrOrderRejected, Payload: "unknown side"}
	}
	id := uuid.NewString()
	p.log.Info("paper_fill",
		logger.String("order_id", id),
		logger.String("side", string(o.Side)),
		logger.String("symbol", o.Symbol),
		logger.Float64("qty", o.Qty),
		logger.Float64("price", price),
		logger.Float64("cash", p.cash),
	)
	return id, nil
}

func (p *PaperBroker) Positions(_ context.Context) ([]types.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Position, 0, len(p.positions))
	for sym, qty := range p.positions {
		pos := types.Position{Symbol: sym, Qty: qty, AvgEntryPrice: p.avgPrice[sym]}
		if v, ok := p.currentPrice(); ok {
			pos.CurrentPrice = v
			pos.MarketValue = v * qty
			pos.UnrealizedPL = (v - pos.AvgEntryPrice) * qty
		}
		out = append(out, pos)
	}
	return out, nil
}

func (p *PaperBroker) currentPrice() (float64, bool) {
	if p.price == nil {
		return 0, false
	}
	return p.price()
}

func (p *PaperBroker) Account(_ context.Context) (types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	value := p.cash
	if v, ok := p.currentPrice(); ok {
		for _, qty := range p.positions {
			value += v * qty
		}
	}
	return types.Account{Cash: p.cash, BuyingPower: p.cash, PortfolioValue: value, Status: "ACTIVE"}, nil
}

func (p *PaperBroker) AssetStatus(_ context.Context, symbol string) (types.AssetStatus, error) {
	return types.AssetStatus{Symbol: symbol, Tradable: true, Status: "active"}, nil
}
