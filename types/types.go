package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is the output of the detector. NONE is the zero value.
type Signal string

const (
	SignalNone Signal = ""
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
)

// Bar is one OHLCV candle as delivered by the market-data source.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Order is a market order. Price is informational (the price the engine saw
// when it decided); brokers fill at market.
type Order struct {
	Symbol        string
	Side          Side
	Qty           float64
	Price         float64
	TimeInForce   string
	ClientOrderID string
	// meta
	Comment string
}

// Position is the brokerage's view of a holding.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	CurrentPrice  float64
	MarketValue   float64
	UnrealizedPL  float64
}

type Account struct {
	Cash           float64
	BuyingPower    float64
	PortfolioValue float64
	Status         string
}

type AssetStatus struct {
	Symbol   string
	Tradable bool
	Status   string
}

// BrokerSymbol strips the pair separator ("BTC/USD" -> "BTCUSD"); brokers
// report positions keyed this way.
func BrokerSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// SameSymbol reports whether two symbols name the same instrument regardless
// of pair separator.
func SameSymbol(a, b string) bool {
	return strings.EqualFold(BrokerSymbol(a), BrokerSymbol(b))
}

// Percent is a TP/SL setting: either a number of percent or "auto", which
// delegates the value to the position sizer.
type Percent struct {
	Auto  bool
	Value float64
}

func AutoPercent() Percent { return Percent{Auto: true} }

func FixedPercent(v float64) Percent { return Percent{Value: v} }

func ParsePercent(s string) (Percent, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if strings.EqualFold(s, "auto") {
		return AutoPercent(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Percent{}, fmt.Errorf("percent %q: %w", s, err)
	}
	return FixedPercent(v), nil
}

func (p Percent) String() string {
	if p.Auto {
		return "auto"
	}
	return strconv.FormatFloat(p.Value, 'f', -1, 64)
}

// MarshalText lets Percent round-trip through YAML and env values.
func (p Percent) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Percent) UnmarshalText(b []byte) error {
	v, err := ParsePercent(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// TradeEventKind tags what happened in a TradeEvent.
type TradeEventKind string

const (
	EventOpened      TradeEventKind = "opened"
	EventClosed      TradeEventKind = "closed"
	EventCloseFailed TradeEventKind = "close_failed"
)

// TradeEvent is emitted to subscribers and the trade log after every order.
type TradeEvent struct {
	Kind       TradeEventKind
	Symbol     string
	Side       Side
	Qty        float64
	Price      float64
	EntryPrice float64
	PnL        float64
	PnLPct     float64
	Reason     string
	OrderID    string
	Time       time.Time
}

// ClosedPosition is one row of the closed-position history.
type ClosedPosition struct {
	Symbol     string
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64
	Reason     string
	ExitTime   time.Time
}
