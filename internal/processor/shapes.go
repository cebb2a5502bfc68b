package processor

import (
	"math"

	"marketdash/internal/model"
)

const (
	// Candle width as a share of the smallest gap between open times.
	candleWidthRatio = 0.6
	// Width used when the series has fewer than two candles: 0.02 day.
	fallbackCandleWidth = 1_728_000.0
	// Body floor for a doji, as a share of the high-low range.
	dojiBodyRatio = 0.01
	// Body floor for a doji whose high equals its low.
	flatBodyHeight = 0.0001
)

// Shapes derives the render contract of candles. Width is shared by every
// candle of the series.
func Shapes(candles []model.Candle) []model.CandleShape {
	width := candleWidth(candles)
	out := make([]model.CandleShape, len(candles))
	for i, c := range candles {
		low, high := math.Min(c.Open, c.Close), math.Max(c.Open, c.Close)
		if c.Open == c.Close {
			if r := c.High - c.Low; r > 0 {
				high = low + r*dojiBodyRatio
			} else {
				high = low + flatBodyHeight
			}
		}
		out[i] = model.CandleShape{
			OpenTime: c.OpenTime,
			Bullish:  c.Close >= c.Open,
			BodyLow:  low,
			BodyHigh: high,
			Low:      c.Low,
			High:     c.High,
			Volume:   c.Volume,
			Width:    width,
		}
	}
	return out
}

func candleWidth(candles []model.Candle) float64 {
	if len(candles) < 2 {
		return fallbackCandleWidth
	}
	gap := int64(math.MaxInt64)
	for i := 1; i < len(candles); i++ {
		if d := candles[i].OpenTime - candles[i-1].OpenTime; d < gap {
			gap = d
		}
	}
	return float64(gap) * candleWidthRatio
}
