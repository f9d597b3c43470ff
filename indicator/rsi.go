package indicator

// rsiEpsilon replaces a zero average loss so the ratio stays finite.
const rsiEpsilon = 1e-10

// RSI returns Wilder's RSI for every bar after the seed window. The result
// has len(prices)-period elements (nil when there are not enough prices);
// out[j] corresponds to prices[j+period].
func RSI(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period+1 {
		return nil
	}
	gain, loss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		d := prices[i] - prices[i-1]
		if d >= 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	p := float64(period)
	avgGain, avgLoss := gain/p, loss/p

	out := make([]float64, 0, len(prices)-period)
	out = append(out, rsiValue(avgGain, avgLoss))
	for i := period + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

// LastRSI is the newest RSI value, ok=false when the window is too short.
func LastRSI(prices []float64, period int) (float64, bool) {
	r := RSI(prices, period)
	if len(r) == 0 {
		return 0, false
	}
	return r[len(r)-1], true
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		avgLoss = rsiEpsilon
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
