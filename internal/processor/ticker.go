package processor

import (
	"encoding/json"

	"github.com/adshao/go-binance/v2"

	"marketdash/internal/model"
)

// TickerUpdate is a decoded 24h ticker push message. Bid and Ask are nil when
// the message did not carry a usable value.
type TickerUpdate struct {
	Symbol         model.Symbol
	LastPrice      float64
	ChangeAbsolute float64
	ChangePercent  float64
	Bid            *float64
	Ask            *float64
	EventTime      int64
}

// BookTickerUpdate is a decoded best bid/ask push message.
type BookTickerUpdate struct {
	Symbol model.Symbol
	Bid    *float64
	Ask    *float64
}

// ParseTicker decodes a ticker message. Last price and both change fields are
// required; bid and ask are optional.
func ParseTicker(raw []byte) (TickerUpdate, error) {
	var p binance.WsMarketStatEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return TickerUpdate{}, parseErr("ticker", err)
	}

	return TickerFromFields(p.Symbol, p.LastPrice, p.PriceChange, p.PriceChangePercent, p.BidPrice, p.AskPrice, p.Time)
}

// TickerFromFields builds an update from exchange string fields, e.g. the REST
// 24h statistics used before the first push message.
func TickerFromFields(symbol, last, change, percent, bid, ask string, eventTime int64) (TickerUpdate, error) {
	price, err := parseFloat("c", last)
	if err != nil {
		return TickerUpdate{}, err
	}
	abs, err := parseFloat("p", change)
	if err != nil {
		return TickerUpdate{}, err
	}
	pct, err := parseFloat("P", percent)
	if err != nil {
		return TickerUpdate{}, err
	}

	return TickerUpdate{
		Symbol:         model.NormalizeSymbol(symbol),
		LastPrice:      price,
		ChangeAbsolute: abs,
		ChangePercent:  pct,
		Bid:            parseOptionalFloat(bid),
		Ask:            parseOptionalFloat(ask),
		EventTime:      eventTime,
	}, nil
}

// ParseBookTicker decodes a book ticker message. A message without any usable
// side is a parse failure.
func ParseBookTicker(raw []byte) (BookTickerUpdate, error) {
	var p binance.WsBookTickerEvent
	if err := json.Unmarshal(raw, &p); err != nil {
		return BookTickerUpdate{}, parseErr("book ticker", err)
	}

	u := BookTickerUpdate{
		Symbol: model.NormalizeSymbol(p.Symbol),
		Bid:    parseOptionalFloat(p.BestBidPrice),
		Ask:    parseOptionalFloat(p.BestAskPrice),
	}
	if u.Bid == nil && u.Ask == nil {
		return BookTickerUpdate{}, parseErr("book ticker without bid or ask", nil)
	}
	return u, nil
}

// TickerAggregator keeps the price panel state of one symbol. Bid and ask are
// remembered from whichever source delivered them last.
type TickerAggregator struct {
	symbol    model.Symbol
	lastPrice *float64
	bid       *float64
	ask       *float64
	latest    model.TickerSnapshot
	hasPrice  bool
}

// NewTickerAggregator creates an empty aggregator for symbol.
func NewTickerAggregator(symbol model.Symbol) *TickerAggregator {
	return &TickerAggregator{symbol: symbol}
}

// Symbol returns the aggregated symbol.
func (a *TickerAggregator) Symbol() model.Symbol {
	return a.symbol
}

// ApplyTicker replaces the snapshot with u. The price move compares against the
// previously accepted price and is Up for the first one.
func (a *TickerAggregator) ApplyTicker(u TickerUpdate) model.TickerSnapshot {
	move := model.Up
	if a.lastPrice != nil && u.LastPrice < *a.lastPrice {
		move = model.Down
	}
	price := u.LastPrice
	a.lastPrice = &price

	if u.Bid != nil {
		a.bid = u.Bid
	}
	if u.Ask != nil {
		a.ask = u.Ask
	}

	a.latest = model.TickerSnapshot{
		Symbol:         a.symbol,
		LastPrice:      u.LastPrice,
		ChangeAbsolute: u.ChangeAbsolute,
		ChangePercent:  u.ChangePercent,
		Direction:      model.DirectionOf(u.ChangeAbsolute),
		PriceMove:      move,
		EventTime:      u.EventTime,
	}
	a.hasPrice = true
	a.fillBook()
	return a.latest
}

// ApplyBookTicker records the best bid and ask. It reports false while no
// ticker price has been accepted, since there is nothing to publish yet.
func (a *TickerAggregator) ApplyBookTicker(u BookTickerUpdate) (model.TickerSnapshot, bool) {
	if u.Bid != nil {
		a.bid = u.Bid
	}
	if u.Ask != nil {
		a.ask = u.Ask
	}
	if !a.hasPrice {
		return model.TickerSnapshot{}, false
	}
	a.fillBook()
	return a.latest, true
}

// Latest returns the current snapshot, if any price was accepted.
func (a *TickerAggregator) Latest() (model.TickerSnapshot, bool) {
	return a.latest, a.hasPrice
}

// Reset drops all state.
func (a *TickerAggregator) Reset() {
	*a = TickerAggregator{symbol: a.symbol}
}

func (a *TickerAggregator) fillBook() {
	s := a.latest
	s.BestBid = copyFloat(a.bid)
	s.BestAsk = copyFloat(a.ask)
	s.Spread = nil
	if s.BestBid != nil && s.BestAsk != nil {
		s.Spread = model.Float(*s.BestAsk - *s.BestBid)
	}
	s.Display = model.TickerText{
		Price:   FormatNumber(s.LastPrice, 2),
		Change:  FormatChange(s.ChangeAbsolute, s.ChangePercent),
		Percent: FormatPercent(s.ChangePercent),
		Bid:     formatOptional(s.BestBid, 2),
		Ask:     formatOptional(s.BestAsk, 2),
		Spread:  formatOptional(s.Spread, 4),
	}
	a.latest = s
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float(*v)
}
