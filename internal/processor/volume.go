package processor

import (
	"fmt"

	"marketdash/internal/model"
)

// Compute splits the volume of one REST kline row into taker-buy and the
// remainder. The ratio is 0 when the bar has no volume.
func Compute(row model.KlineRow) (model.VolumeRatio, error) {
	if len(row) <= model.KlineTakerBuyBaseVolume {
		return model.VolumeRatio{}, parseErr(fmt.Sprintf("kline row has %d columns", len(row)), nil)
	}

	openTime, err := rowInt(row, model.KlineOpenTime)
	if err != nil {
		return model.VolumeRatio{}, err
	}
	total, err := rowFloat(row, model.KlineVolume)
	if err != nil {
		return model.VolumeRatio{}, err
	}
	buy, err := rowFloat(row, model.KlineTakerBuyBaseVolume)
	if err != nil {
		return model.VolumeRatio{}, err
	}

	ratio := 0.0
	if total != 0 {
		ratio = buy / total
	}
	return model.VolumeRatio{
		OpenTime:   openTime,
		BuyVolume:  buy,
		SellVolume: total - buy,
		Ratio:      ratio,
	}, nil
}

// VolumeRatioCalculator keeps the latest ratio of each window. A failed
// refresh leaves the previous value of that window in place.
type VolumeRatioCalculator struct {
	symbol  model.Symbol
	windows []string
	latest  map[string]model.VolumeRatio
}

// NewVolumeRatioCalculator tracks windows (kline intervals) in display order.
func NewVolumeRatioCalculator(symbol model.Symbol, windows []string) *VolumeRatioCalculator {
	return &VolumeRatioCalculator{
		symbol:  symbol,
		windows: append([]string(nil), windows...),
		latest:  make(map[string]model.VolumeRatio, len(windows)),
	}
}

// Windows returns the tracked windows.
func (c *VolumeRatioCalculator) Windows() []string {
	return append([]string(nil), c.windows...)
}

// Apply computes the ratio of window from the most recent bar in rows.
func (c *VolumeRatioCalculator) Apply(window string, rows []model.KlineRow) (model.VolumeRatio, error) {
	if len(rows) == 0 {
		return model.VolumeRatio{}, parseErr("no kline rows for window "+window, nil)
	}
	r, err := Compute(rows[len(rows)-1])
	if err != nil {
		return model.VolumeRatio{}, err
	}
	r.Window = window
	c.latest[window] = r
	return r, nil
}

// Snapshot lists the windows that have a value, in configured order.
func (c *VolumeRatioCalculator) Snapshot() model.VolumeSnapshot {
	out := model.VolumeSnapshot{
		Symbol:    c.symbol,
		Windows:   make([]model.VolumeRatio, 0, len(c.windows)),
		UpdatedAt: timeNow().UTC(),
	}
	for _, w := range c.windows {
		if r, ok := c.latest[w]; ok {
			out.Windows = append(out.Windows, r)
		}
	}
	return out
}

// Reset drops every window value.
func (c *VolumeRatioCalculator) Reset() {
	c.latest = make(map[string]model.VolumeRatio, len(c.windows))
}
