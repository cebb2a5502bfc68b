// internal/model/orderbook.go
package model

import "time"

// BookLevel represents a single price level in an order book.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot holds the top of book. Bids are best-first descending and
// asks best-first ascending, as delivered by the exchange.
type OrderBookSnapshot struct {
	Symbol    Symbol      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Levels    int         `json:"levels"`
	UpdatedAt time.Time   `json:"updated_at"`
}
