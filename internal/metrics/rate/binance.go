package rate

import (
	"context"

	binance "github.com/adshao/go-binance/v2"
)

// FetchRequestWeightLimit queries the Binance spot exchangeInfo endpoint to
// retrieve the REQUEST_WEIGHT per minute limit. It returns 0 if the limit
// cannot be determined.
func FetchRequestWeightLimit(ctx context.Context, client *binance.Client) (int64, error) {
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, rl := range info.RateLimits {
		if rl.RateLimitType == "REQUEST_WEIGHT" && rl.Interval == "MINUTE" {
			if rl.IntervalNum > 1 {
				return rl.Limit / rl.IntervalNum, nil
			}
			return rl.Limit, nil
		}
	}
	return 0, nil
}

// RequestsPerSecond converts a per-minute weight limit into a sustained
// request rate, spending at most share of the budget. Zero means unknown.
func RequestsPerSecond(weightPerMinute int64, requestWeight int, share float64) float64 {
	if weightPerMinute <= 0 || requestWeight <= 0 || share <= 0 {
		return 0
	}
	if share > 1 {
		share = 1
	}
	return float64(weightPerMinute) * share / float64(requestWeight) / 60
}
