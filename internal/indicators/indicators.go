// Package indicators computes moving averages over closing prices.
package indicators

import (
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"

	"marketdash/internal/model"
)

// ErrInvalidArgument is returned for a non-positive period.
var ErrInvalidArgument = errors.New("invalid argument")

// SMA returns the simple moving average of values. The result has the same
// length as values; entries before the window fills are nil.
func SMA(values []float64, period int) ([]*float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sma period %d: %w", period, ErrInvalidArgument)
	}

	out := make([]*float64, len(values))
	if len(values) < period {
		return out, nil
	}

	// every window is summed independently of the previous one
	for i := period - 1; i < len(values); i++ {
		v := talib.Sma(values[i-period+1:i+1], period)[period-1]
		out[i] = &v
	}
	return out, nil
}

// EMA returns the exponential moving average of values with k = 2/(period+1),
// seeded with the first value. Every entry is defined.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema period %d: %w", period, ErrInvalidArgument)
	}

	out := make([]float64, len(values))
	if len(values) == 0 {
		return out, nil
	}

	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out, nil
}

// Closes extracts closing prices in series order.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
