package dashboard

import (
	"context"
	"sync"
	"sync/atomic"

	"marketdash/config"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
	"marketdash/internal/processor"
	"marketdash/internal/reader/binance"
	"marketdash/internal/throttle"
	"marketdash/internal/view"
	"marketdash/logger"
)

// tickerBar streams the mini ticker of every configured symbol. It lives for
// the whole process, across symbol switches.
type tickerBar struct {
	cfg     *config.Config
	loop    *view.Loop
	rest    *binance.RestClient
	board   *Board
	gate    *throttle.Throttle
	log     *logger.Log
	agg     *processor.MiniTickerAggregator
	counter *panelCounters
	streams []*binance.StreamConnection
	symbols []model.Symbol
	ctx     context.Context
	active  bool
	closing atomic.Bool

	mu       sync.Mutex
	statuses map[string]model.StreamStatus
}

func newTickerBar(symbols []model.Symbol, cfg *config.Config, loop *view.Loop, rest *binance.RestClient, board *Board, log *logger.Log) *tickerBar {
	b := &tickerBar{
		cfg:      cfg,
		loop:     loop,
		rest:     rest,
		board:    board,
		gate:     throttle.New(cfg.Throttle.Interval),
		log:      log,
		agg:      processor.NewMiniTickerAggregator(symbols),
		counter:  &panelCounters{},
		symbols:  symbols,
		statuses: make(map[string]model.StreamStatus),
	}
	for _, sym := range symbols {
		b.subscribe(sym)
	}
	return b
}

func (b *tickerBar) subscribe(symbol model.Symbol) {
	stream := binance.MiniTickerStream(symbol)
	var conn *binance.StreamConnection
	conn = binance.NewStreamConnection(
		binance.StreamURL(b.cfg.Binance.StreamURL, stream),
		stream,
		func(raw []byte) { b.handle(conn, raw) },
		binance.StreamOptions{
			Symbol:           symbol,
			HandshakeTimeout: b.cfg.Stream.HandshakeTimeout,
			Reconnect:        b.cfg.Stream.Reconnect,
			OnState:          b.onState,
		},
	)
	b.streams = append(b.streams, conn)
}

// start must run on the presentation loop.
func (b *tickerBar) start(ctx context.Context) error {
	if b.active {
		return nil
	}
	b.active = true
	b.ctx = ctx
	for _, conn := range b.streams {
		if err := conn.Start(ctx); err != nil {
			b.stop()
			return err
		}
	}
	b.board.Tickers.Publish(b.agg.Snapshot())
	b.board.BarStatus.Publish(b.status())
	b.prime()
	return nil
}

// prime fills symbols without a push update yet from REST 24h statistics.
func (b *tickerBar) prime() {
	if b.rest == nil || len(b.symbols) == 0 {
		return
	}
	ctx := b.ctx
	go func() {
		stats, err := b.rest.Tickers24hr(ctx, b.symbols)
		b.loop.Post(func() {
			if !b.active || ctx.Err() != nil {
				return
			}
			if err != nil {
				b.log.WithComponent(panelTickerBar).WithError(err).Warn("failed to prime ticker bar")
				return
			}
			changed := false
			for _, st := range stats {
				u, err := processor.MiniTickerFromStats(st.Symbol, st.LastPrice, st.PriceChange, st.CloseTime)
				if err != nil {
					b.counter.malformed.Add(1)
					continue
				}
				if b.agg.Has(u.Symbol) {
					continue
				}
				if _, ok := b.agg.Apply(u); ok {
					changed = true
				}
			}
			if changed {
				b.board.Tickers.Publish(b.agg.Snapshot())
				b.counter.published.Add(1)
			}
		})
	}()
}

// stop must run on the presentation loop.
func (b *tickerBar) stop() {
	if !b.active {
		return
	}
	b.active = false
	b.closing.Store(true)
	for _, conn := range b.streams {
		conn.Stop()
	}
	metrics.ReportPanel(b.log, panelTickerBar, "", b.counter.snapshot())
}

// onState records a stream state change. It may run on any goroutine.
func (b *tickerBar) onState(st model.StreamStatus) {
	if b.closing.Load() {
		return
	}
	b.mu.Lock()
	b.statuses[st.Stream] = st
	b.mu.Unlock()

	go b.loop.Post(func() {
		if b.active {
			b.board.BarStatus.Publish(b.status())
		}
	})
}

// status lists the mini ticker streams in configured symbol order.
func (b *tickerBar) status() model.TickerBarStatus {
	b.mu.Lock()
	streams := make([]model.StreamStatus, 0, len(b.streams))
	for _, conn := range b.streams {
		st, ok := b.statuses[conn.Name()]
		if !ok {
			st = conn.Status()
		}
		streams = append(streams, st)
	}
	b.mu.Unlock()

	return model.TickerBarStatus{Live: model.AllConnected(streams), Streams: streams}
}

func (b *tickerBar) handle(conn *binance.StreamConnection, raw []byte) {
	u, err := processor.ParseMiniTicker(raw)
	if err != nil {
		b.counter.malformed.Add(1)
		metrics.EmitDropMetric(b.log, metrics.DropMetricMalformed, "", conn.Name(), panelTickerBar)
		b.log.WithComponent(panelTickerBar).WithStream(conn.Name()).WithError(err).Warn("skipping malformed message")
		return
	}
	if !b.gate.AllowNow(conn.Name()) {
		b.counter.throttled.Add(1)
		metrics.EmitDropMetric(b.log, metrics.DropMetricThrottled, u.Symbol.String(), conn.Name(), panelTickerBar)
		return
	}
	b.counter.accepted.Add(1)

	// dropped when the mailbox is full
	b.loop.TryPost(func() {
		if !b.active || !conn.Active() {
			return
		}
		if snap, ok := b.agg.Apply(u); ok {
			b.board.Tickers.Publish(snap)
			b.counter.published.Add(1)
		}
	})
}
