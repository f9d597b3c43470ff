package indicator

import "math"

// VolatilityWindow is how many of the newest prices feed the estimate.
const VolatilityWindow = 100

// Volatility is the annualized sample standard deviation of log returns over
// the last VolatilityWindow prices. Fewer than two prices yield 1, a neutral
// value for the length scaling; a single return yields 0.
func Volatility(prices []float64, barsPerYear float64) float64 {
	if len(prices) < 2 {
		return 1
	}
	if len(prices) > VolatilityWindow {
		prices = prices[len(prices)-VolatilityWindow:]
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] <= 0 || prices[i-1] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	ss := 0.0
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	return std * math.Sqrt(barsPerYear)
}
