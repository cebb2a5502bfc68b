// internal/model/volume.go
package model

import "time"

// VolumeRatio splits one bar's volume into taker-buy and the remainder.
type VolumeRatio struct {
	Window     string  `json:"window"`
	OpenTime   int64   `json:"open_time"`
	BuyVolume  float64 `json:"buy_volume"`
	SellVolume float64 `json:"sell_volume"`
	Ratio      float64 `json:"ratio"`
}

// VolumeSnapshot holds the latest ratio per configured window.
type VolumeSnapshot struct {
	Symbol    Symbol        `json:"symbol"`
	Windows   []VolumeRatio `json:"windows"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IndicatorSnapshot carries the technical panel series. SMA entries are nil
// until the window has filled.
type IndicatorSnapshot struct {
	Symbol    Symbol     `json:"symbol"`
	Interval  string     `json:"interval"`
	OpenTimes []int64    `json:"open_times"`
	Closes    []float64  `json:"closes"`
	SMA       []*float64 `json:"sma"`
	EMA       []float64  `json:"ema"`
	SMAPeriod int        `json:"sma_period"`
	EMAPeriod int        `json:"ema_period"`
	UpdatedAt time.Time  `json:"updated_at"`
}
