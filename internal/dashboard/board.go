package dashboard

import (
	"marketdash/internal/model"
	"marketdash/internal/view"
)

// Board holds one publisher per panel. Snapshots are published from the
// presentation loop and read from anywhere.
type Board struct {
	Ticker     *view.Publisher[model.TickerSnapshot]
	OrderBook  *view.Publisher[model.OrderBookSnapshot]
	Klines     *view.Publisher[model.KlineSeriesSnapshot]
	Volume     *view.Publisher[model.VolumeSnapshot]
	Indicators *view.Publisher[model.IndicatorSnapshot]
	Tickers    *view.Publisher[model.MiniTickerSnapshot]
	Status     *view.Publisher[model.SessionStatus]
	BarStatus  *view.Publisher[model.TickerBarStatus]
}

// NewBoard returns a board with empty publishers.
func NewBoard() *Board {
	return &Board{
		Ticker:     view.NewPublisher[model.TickerSnapshot](),
		OrderBook:  view.NewPublisher[model.OrderBookSnapshot](),
		Klines:     view.NewPublisher[model.KlineSeriesSnapshot](),
		Volume:     view.NewPublisher[model.VolumeSnapshot](),
		Indicators: view.NewPublisher[model.IndicatorSnapshot](),
		Tickers:    view.NewPublisher[model.MiniTickerSnapshot](),
		Status:     view.NewPublisher[model.SessionStatus](),
		BarStatus:  view.NewPublisher[model.TickerBarStatus](),
	}
}

// clearSession forgets every per-symbol snapshot. The ticker bar spans all
// symbols and is kept.
func (b *Board) clearSession() {
	b.Ticker.Clear()
	b.OrderBook.Clear()
	b.Klines.Clear()
	b.Volume.Clear()
	b.Indicators.Clear()
	b.Status.Clear()
}

// ViewModel is everything a renderer needs for one frame. Panels without data
// are nil.
type ViewModel struct {
	Symbol      model.Symbol               `json:"symbol"`
	StatusLabel string                     `json:"status_label"`
	Status      *model.SessionStatus       `json:"status,omitempty"`
	Ticker      *model.TickerSnapshot      `json:"ticker,omitempty"`
	OrderBook   *model.OrderBookSnapshot   `json:"order_book,omitempty"`
	Klines      *model.KlineSeriesSnapshot `json:"klines,omitempty"`
	Volume      *model.VolumeSnapshot      `json:"volume,omitempty"`
	Indicators  *model.IndicatorSnapshot   `json:"indicators,omitempty"`
	Tickers     *model.MiniTickerSnapshot  `json:"tickers,omitempty"`
	BarStatus   *model.TickerBarStatus     `json:"ticker_bar_status,omitempty"`
}

// Model assembles the latest snapshots. It is safe to call from any goroutine.
func (b *Board) Model() ViewModel {
	vm := ViewModel{StatusLabel: model.SessionStatus{}.Label()}
	if st, ok := b.Status.Latest(); ok {
		vm.Symbol = st.Symbol
		vm.StatusLabel = st.Label()
		vm.Status = &st
	}
	vm.Ticker = latest(b.Ticker)
	vm.OrderBook = latest(b.OrderBook)
	vm.Klines = latest(b.Klines)
	vm.Volume = latest(b.Volume)
	vm.Indicators = latest(b.Indicators)
	vm.Tickers = latest(b.Tickers)
	vm.BarStatus = latest(b.BarStatus)
	return vm
}

func latest[T any](p *view.Publisher[T]) *T {
	if v, ok := p.Latest(); ok {
		return &v
	}
	return nil
}
