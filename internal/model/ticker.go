// internal/model/ticker.go
package model

// TickerSnapshot is the immutable view of the 24h ticker plus best bid/ask.
// Optional fields are nil until a source has provided them.
type TickerSnapshot struct {
	Symbol         Symbol     `json:"symbol"`
	LastPrice      float64    `json:"last_price"`
	ChangeAbsolute float64    `json:"change_absolute"`
	ChangePercent  float64    `json:"change_percent"`
	Direction      Direction  `json:"direction"`
	PriceMove      Direction  `json:"price_move"`
	BestBid        *float64   `json:"best_bid,omitempty"`
	BestAsk        *float64   `json:"best_ask,omitempty"`
	Spread         *float64   `json:"spread,omitempty"`
	EventTime      int64      `json:"event_time"`
	Display        TickerText `json:"display"`
}

// TickerText carries the pre-formatted strings a renderer shows.
type TickerText struct {
	Price   string `json:"price"`
	Change  string `json:"change"`
	Percent string `json:"percent"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	Spread  string `json:"spread"`
}

// MiniTicker is one entry of the multi-symbol ticker bar.
type MiniTicker struct {
	Symbol        Symbol    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	ChangePercent float64   `json:"change_percent"`
	Direction     Direction `json:"direction"`
	EventTime     int64     `json:"event_time"`
	Display       string    `json:"display"`
}

// MiniTickerSnapshot lists the bar entries in configured symbol order.
// Symbols that have not ticked yet are absent.
type MiniTickerSnapshot struct {
	Tickers []MiniTicker `json:"tickers"`
}
