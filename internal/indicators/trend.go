package indicators

import "bb-rsi-backtest-go/internal/models"

// EMA is an exponential moving average with alpha = 2/(span+1) and no bias
// adjustment: the first output equals the first input.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// TrendDirection compares the latest close of the secondary series with its
// latest EMA. Only the final bar is consulted. An empty series is Short.
func TrendDirection(candles []models.Candle, span int) models.Side {
	if len(candles) == 0 {
		return models.Short
	}
	cls := make([]float64, len(candles))
	for i, c := range candles {
		cls[i] = c.Close
	}
	ema := EMA(cls, span)
	last := len(cls) - 1
	if cls[last] > ema[last] {
		return models.Long
	}
	return models.Short
}
