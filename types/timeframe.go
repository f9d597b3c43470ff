package types

import (
	"fmt"
	"time"
)

// Timeframe is the bar interval requested from the market-data source.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1Min"
	Timeframe5Min  Timeframe = "5Min"
	Timeframe15Min Timeframe = "15Min"
	Timeframe1Hour Timeframe = "1Hour"
	Timeframe1Day  Timeframe = "1Day"
)

// LegacyBarsPerYear is the 5-minute factor the volatility estimate has
// always used regardless of the configured timeframe.
const LegacyBarsPerYear = 365 * 24 * 12

var timeframes = map[Timeframe]time.Duration{
	Timeframe1Min:  time.Minute,
	Timeframe5Min:  5 * time.Minute,
	Timeframe15Min: 15 * time.Minute,
	Timeframe1Hour: time.Hour,
	Timeframe1Day:  24 * time.Hour,
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframes[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q (want 1Min, 5Min, 15Min, 1Hour or 1Day)", s)
	}
	return tf, nil
}

func (t Timeframe) Valid() bool {
	_, ok := timeframes[t]
	return ok
}

// Interval is the regular-update period for this timeframe.
func (t Timeframe) Interval() time.Duration {
	if d, ok := timeframes[t]; ok {
		return d
	}
	return 5 * time.Minute
}

// BarsPerYear is the annualization factor for volatility on this timeframe
// (crypto trades around the clock).
func (t Timeframe) BarsPerYear() float64 {
	return float64(365*24*time.Hour) / float64(t.Interval())
}

// Intraday reports whether a heartbeat should be logged between updates.
func (t Timeframe) Intraday() bool {
	return t == Timeframe1Min || t == Timeframe5Min || t == Timeframe15Min
}
