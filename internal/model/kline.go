// internal/model/kline.go
package model

import "encoding/json"

// Candle is a fixed-interval OHLCV bar keyed by its open time.
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// SeriesState tracks how a kline series was populated.
type SeriesState string

const (
	Unseeded SeriesState = "unseeded"
	Seeded   SeriesState = "seeded"
	Live     SeriesState = "live"
)

// CandleShape is the render contract derived from one candle. Values are in
// price units except OpenTime and Width which are milliseconds.
type CandleShape struct {
	OpenTime int64   `json:"open_time"`
	Bullish  bool    `json:"bullish"`
	BodyLow  float64 `json:"body_low"`
	BodyHigh float64 `json:"body_high"`
	Low      float64 `json:"low"`
	High     float64 `json:"high"`
	Volume   float64 `json:"volume"`
	Width    float64 `json:"width"`
}

// KlineSeriesSnapshot is an immutable copy of the candle series.
type KlineSeriesSnapshot struct {
	Symbol   Symbol        `json:"symbol"`
	Interval string        `json:"interval"`
	State    SeriesState   `json:"state"`
	Candles  []Candle      `json:"candles"`
	Shapes   []CandleShape `json:"shapes"`
}

// KlineRow is one REST kline row, an array of
// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
// trades, takerBuyBaseVolume, takerBuyQuoteVolume, ignore].
type KlineRow []json.RawMessage

// Kline row column indexes.
const (
	KlineOpenTime = iota
	KlineOpen
	KlineHigh
	KlineLow
	KlineClose
	KlineVolume
	KlineCloseTime
	KlineQuoteVolume
	KlineTrades
	KlineTakerBuyBaseVolume
)
