package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"marketdash/internal/model"
)

type depthPayload struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	B            [][2]string `json:"b"`
	A            [][2]string `json:"a"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// DepthUpdate is a top-of-book slice as [price, quantity] string pairs, in
// exchange order.
type DepthUpdate struct {
	LastUpdateID int64
	Bids         [][2]string
	Asks         [][2]string
}

// ParseDepth decodes a depth message. Both the stream form ("b"/"a") and the
// REST form ("bids"/"asks") are accepted.
func ParseDepth(raw []byte) (DepthUpdate, error) {
	var p depthPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return DepthUpdate{}, parseErr("depth", err)
	}

	u := DepthUpdate{LastUpdateID: p.LastUpdateID, Bids: p.B, Asks: p.A}
	if u.Bids == nil && u.Asks == nil {
		u.Bids, u.Asks = p.Bids, p.Asks
	}
	if u.Bids == nil && u.Asks == nil {
		return DepthUpdate{}, parseErr("depth without bids or asks", nil)
	}
	return u, nil
}

// OrderBookAggregator publishes each depth message as a fresh snapshot,
// truncated to the current level limit.
type OrderBookAggregator struct {
	symbol model.Symbol
	levels int
	latest model.OrderBookSnapshot
	has    bool
}

// NewOrderBookAggregator keeps levels entries per side.
func NewOrderBookAggregator(symbol model.Symbol, levels int) (*OrderBookAggregator, error) {
	a := &OrderBookAggregator{symbol: symbol}
	if err := a.SetLevels(levels); err != nil {
		return nil, err
	}
	return a, nil
}

// SetLevels changes how many entries of the next message are kept. The
// current snapshot is not touched.
func (a *OrderBookAggregator) SetLevels(levels int) error {
	if levels <= 0 {
		return fmt.Errorf("order book levels must be greater than 0, got %d", levels)
	}
	a.levels = levels
	return nil
}

// Levels returns the current level limit.
func (a *OrderBookAggregator) Levels() int {
	return a.levels
}

// Apply parses u into a snapshot. Any malformed level rejects the whole
// message and leaves the previous snapshot in place.
func (a *OrderBookAggregator) Apply(u DepthUpdate) (model.OrderBookSnapshot, error) {
	bids, err := parseLevels("bid", u.Bids, a.levels)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}
	asks, err := parseLevels("ask", u.Asks, a.levels)
	if err != nil {
		return model.OrderBookSnapshot{}, err
	}

	a.latest = model.OrderBookSnapshot{
		Symbol:    a.symbol,
		Bids:      bids,
		Asks:      asks,
		Levels:    a.levels,
		UpdatedAt: timeNow().UTC(),
	}
	a.has = true
	return a.latest, nil
}

// Latest returns the last published snapshot.
func (a *OrderBookAggregator) Latest() (model.OrderBookSnapshot, bool) {
	return a.latest, a.has
}

// Reset drops the snapshot but keeps the level limit.
func (a *OrderBookAggregator) Reset() {
	a.latest = model.OrderBookSnapshot{}
	a.has = false
}

func parseLevels(side string, raw [][2]string, limit int) ([]model.BookLevel, error) {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	out := make([]model.BookLevel, 0, len(raw))
	for i, pair := range raw {
		price, err := parseFloat(fmt.Sprintf("%s[%d].price", side, i), pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseFloat(fmt.Sprintf("%s[%d].quantity", side, i), pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, model.BookLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

var timeNow = time.Now
