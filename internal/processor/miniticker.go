package processor

import (
	"encoding/json"

	"github.com/adshao/go-binance/v2"

	"marketdash/internal/model"
)

// MiniTickerUpdate is a decoded mini ticker message.
type MiniTickerUpdate struct {
	Symbol    model.Symbol
	LastPrice float64
	OpenPrice float64
	EventTime int64
}

// ChangePercent is the 24h change relative to the open price, 0 for a zero open.
func (u MiniTickerUpdate) ChangePercent() float64 {
	if u.OpenPrice == 0 {
		return 0
	}
	return (u.LastPrice - u.OpenPrice) * 100 / u.OpenPrice
}

// ParseMiniTicker decodes a mini ticker message. Symbol, close and open are required.
func ParseMiniTicker(raw []byte) (MiniTickerUpdate, error) {
	var p binance.WsMiniMarketsStatEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return MiniTickerUpdate{}, parseErr("mini ticker", err)
	}
	if p.Symbol == "" {
		return MiniTickerUpdate{}, parseErr("missing field s", nil)
	}

	last, err := parseFloat("c", p.LastPrice)
	if err != nil {
		return MiniTickerUpdate{}, err
	}
	open, err := parseFloat("o", p.OpenPrice)
	if err != nil {
		return MiniTickerUpdate{}, err
	}

	return MiniTickerUpdate{
		Symbol:    model.NormalizeSymbol(p.Symbol),
		LastPrice: last,
		OpenPrice: open,
		EventTime: p.Time,
	}, nil
}

// MiniTickerFromStats builds an update from REST 24h statistics, deriving the
// open price from the last price and the absolute change.
func MiniTickerFromStats(symbol, last, change string, eventTime int64) (MiniTickerUpdate, error) {
	if symbol == "" {
		return MiniTickerUpdate{}, parseErr("missing symbol", nil)
	}
	lastPrice, err := parseFloat("lastPrice", last)
	if err != nil {
		return MiniTickerUpdate{}, err
	}
	delta, err := parseFloat("priceChange", change)
	if err != nil {
		return MiniTickerUpdate{}, err
	}
	return MiniTickerUpdate{
		Symbol:    model.NormalizeSymbol(symbol),
		LastPrice: lastPrice,
		OpenPrice: lastPrice - delta,
		EventTime: eventTime,
	}, nil
}

// MiniTickerAggregator holds the latest entry of every symbol in the ticker bar.
type MiniTickerAggregator struct {
	symbols []model.Symbol
	entries map[model.Symbol]model.MiniTicker
}

// NewMiniTickerAggregator tracks symbols in the given display order.
func NewMiniTickerAggregator(symbols []model.Symbol) *MiniTickerAggregator {
	return &MiniTickerAggregator{
		symbols: append([]model.Symbol(nil), symbols...),
		entries: make(map[model.Symbol]model.MiniTicker, len(symbols)),
	}
}

// Apply records u and returns the new bar. Unknown symbols are ignored and
// reported with false.
func (a *MiniTickerAggregator) Apply(u MiniTickerUpdate) (model.MiniTickerSnapshot, bool) {
	if !a.tracks(u.Symbol) {
		return model.MiniTickerSnapshot{}, false
	}

	percent := u.ChangePercent()
	a.entries[u.Symbol] = model.MiniTicker{
		Symbol:        u.Symbol,
		LastPrice:     u.LastPrice,
		ChangePercent: percent,
		Direction:     model.DirectionOf(percent),
		EventTime:     u.EventTime,
		Display:       u.Symbol.String() + " " + FormatNumber(u.LastPrice, 2) + " " + FormatPercent(percent),
	}
	return a.Snapshot(), true
}

// Snapshot lists entries in configured order, skipping symbols without data.
func (a *MiniTickerAggregator) Snapshot() model.MiniTickerSnapshot {
	out := model.MiniTickerSnapshot{Tickers: make([]model.MiniTicker, 0, len(a.entries))}
	for _, s := range a.symbols {
		if e, ok := a.entries[s]; ok {
			out.Tickers = append(out.Tickers, e)
		}
	}
	return out
}

// Has reports whether symbol already has an entry.
func (a *MiniTickerAggregator) Has(symbol model.Symbol) bool {
	_, ok := a.entries[symbol]
	return ok
}

func (a *MiniTickerAggregator) tracks(symbol model.Symbol) bool {
	for _, s := range a.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}
