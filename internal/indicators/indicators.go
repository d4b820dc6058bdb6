// Package indicators derives RSI, Bollinger Bands, ATR averages and relative
// volume from an ordered candle series. Every stage is a pure transform that
// returns a new row slice; the input is never modified.
package indicators

import (
	"bb-rsi-backtest-go/internal/models"
	"math"
)

// Params holds the rolling periods for every stage.
type Params struct {
	RSIPeriod      int
	BBPeriod       int
	BBStdMult      float64
	BBWidthPeriod  int
	ATRShortPeriod int
	ATRLongPeriod  int
	VolumePeriod   int
}

// DefaultParams returns the periods the strategy was tuned with.
func DefaultParams() Params {
	return Params{
		RSIPeriod:      14,
		BBPeriod:       20,
		BBStdMult:      2,
		BBWidthPeriod:  100,
		ATRShortPeriod: 14,
		ATRLongPeriod:  80,
		VolumePeriod:   50,
	}
}

// Stage adds one family of columns to a row sequence.
type Stage func(rows []models.IndicatorRow) []models.IndicatorRow

// Compute runs RSI, Bollinger, true range/ATR and relative volume, in that order.
func Compute(candles []models.Candle, p Params) []models.IndicatorRow {
	rows := Seed(candles)
	for _, stage := range []Stage{
		WithRSI(p.RSIPeriod),
		WithBollinger(p.BBPeriod, p.BBStdMult, p.BBWidthPeriod),
		WithATR(p.ATRShortPeriod, p.ATRLongPeriod),
		WithRelativeVolume(p.VolumePeriod),
	} {
		rows = stage(rows)
	}
	return rows
}

// Seed wraps candles into rows with every derived column undefined.
func Seed(candles []models.Candle) []models.IndicatorRow {
	rows := make([]models.IndicatorRow, len(candles))
	nan := math.NaN()
	for i, c := range candles {
		rows[i] = models.IndicatorRow{
			Candle:     c,
			RSI:        nan,
			BBMid:      nan,
			BBUpper:    nan,
			BBLower:    nan,
			BBWidth:    nan,
			AvgBBWidth: nan,
			TR:         nan,
			ATRShort:   nan,
			ATRLong:    nan,
			AvgVolume:  nan,
			RVol:       nan,
		}
	}
	return rows
}

// WithRSI adds the RSI column computed by RSI.
func WithRSI(period int) Stage {
	return func(in []models.IndicatorRow) []models.IndicatorRow {
		rsi := RSI(closes(in), period)
		out := clone(in)
		for i := range out {
			out[i].RSI = rsi[i]
		}
		return out
	}
}

// WithBollinger adds mid/upper/lower/width and the rolling mean of width.
func WithBollinger(period int, mult float64, widthPeriod int) Stage {
	return func(in []models.IndicatorRow) []models.IndicatorRow {
		b := Bollinger(closes(in), period, mult, widthPeriod)
		out := clone(in)
		for i := range out {
			out[i].BBMid = b.Mid[i]
			out[i].BBUpper = b.Upper[i]
			out[i].BBLower = b.Lower[i]
			out[i].BBWidth = b.Width[i]
			out[i].AvgBBWidth = b.AvgWidth[i]
		}
		return out
	}
}

// WithATR adds true range and its short/long rolling means.
func WithATR(shortPeriod, longPeriod int) Stage {
	return func(in []models.IndicatorRow) []models.IndicatorRow {
		highs, lows, cls := make([]float64, len(in)), make([]float64, len(in)), closes(in)
		for i, r := range in {
			highs[i], lows[i] = r.High, r.Low
		}
		tr := TrueRange(highs, lows, cls)
		short := RollingMean(tr, shortPeriod)
		long := RollingMean(tr, longPeriod)
		out := clone(in)
		for i := range out {
			out[i].TR = tr[i]
			out[i].ATRShort = short[i]
			out[i].ATRLong = long[i]
		}
		return out
	}
}

// WithRelativeVolume adds the rolling volume mean and rvol.
func WithRelativeVolume(period int) Stage {
	return func(in []models.IndicatorRow) []models.IndicatorRow {
		vols := make([]float64, len(in))
		for i, r := range in {
			vols[i] = r.Volume
		}
		avg, rvol := RelativeVolume(vols, period)
		out := clone(in)
		for i := range out {
			out[i].AvgVolume = avg[i]
			out[i].RVol = rvol[i]
		}
		return out
	}
}

// RSI uses simple rolling means of gains and losses (not Wilder smoothing).
// A window with no losses saturates at 100; a window with neither gains nor
// losses is NaN.
func RSI(closes []float64, period int) []float64 {
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			gains[i], losses[i] = math.NaN(), math.NaN()
			continue
		}
		switch d := closes[i] - closes[i-1]; {
		case d > 0:
			gains[i] = d
		case d < 0:
			losses[i] = -d
		}
	}
	avgGain := RollingMean(gains, period)
	avgLoss := RollingMean(losses, period)

	out := make([]float64, len(closes))
	for i := range out {
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// Bands is the output of Bollinger.
type Bands struct {
	Mid, Upper, Lower, Width, AvgWidth []float64
}

// Bollinger computes bands from the rolling mean and sample standard deviation.
func Bollinger(closes []float64, period int, mult float64, widthPeriod int) Bands {
	mid := RollingMean(closes, period)
	std := RollingStd(closes, period)
	b := Bands{
		Mid:   mid,
		Upper: make([]float64, len(closes)),
		Lower: make([]float64, len(closes)),
		Width: make([]float64, len(closes)),
	}
	for i := range closes {
		b.Upper[i] = mid[i] + mult*std[i]
		b.Lower[i] = mid[i] - mult*std[i]
		b.Width[i] = b.Upper[i] - b.Lower[i]
	}
	b.AvgWidth = RollingMean(b.Width, widthPeriod)
	return b
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
// The first bar has no previous close, so only high-low counts.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(highs))
	for i := range highs {
		hl := highs[i] - lows[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// RelativeVolume returns the rolling volume mean and volume/mean.
// Non-finite ratios (zero or undefined mean) are replaced with 0.
func RelativeVolume(volumes []float64, period int) (avg, rvol []float64) {
	avg = RollingMean(volumes, period)
	rvol = make([]float64, len(volumes))
	for i, v := range volumes {
		r := v / avg[i]
		if math.IsNaN(r) || math.IsInf(r, 0) {
			r = 0
		}
		rvol[i] = r
	}
	return avg, rvol
}

func closes(rows []models.IndicatorRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Close
	}
	return out
}

func clone(rows []models.IndicatorRow) []models.IndicatorRow {
	out := make([]models.IndicatorRow, len(rows))
	copy(out, rows)
	return out
}
