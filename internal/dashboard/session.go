package dashboard

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"marketdash/config"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
	"marketdash/internal/processor"
	"marketdash/internal/reader/binance"
	"marketdash/internal/throttle"
	"marketdash/internal/view"
	"marketdash/logger"
)

// Session owns every panel of one symbol: the aggregators, their push streams
// and the REST refreshes feeding them. Aggregators and the active flag are only
// touched from tasks on the presentation loop.
type Session struct {
	id     string
	symbol model.Symbol
	cfg    *config.Config
	loop   *view.Loop
	rest   *binance.RestClient
	board  *Board
	gate   *throttle.Throttle
	log    *logger.Log
	entry  *logger.Entry
	panels panelSet

	ticker    *processor.TickerAggregator
	book      *processor.OrderBookAggregator
	klines    *processor.KlineSeriesAggregator
	technical *processor.KlineSeriesAggregator
	volume    *processor.VolumeRatioCalculator

	streams []*binance.StreamConnection

	ctx     context.Context
	cancel  context.CancelFunc
	active  bool
	closing atomic.Bool

	klineSeed     int
	technicalSeed int

	mu       sync.Mutex
	statuses map[string]model.StreamStatus
}

// newSession validates the panel configuration of symbol. Nothing is started.
func newSession(symbol model.Symbol, levels int, cfg *config.Config, loop *view.Loop, rest *binance.RestClient, board *Board, log *logger.Log) (*Session, error) {
	book, err := processor.NewOrderBookAggregator(symbol, levels)
	if err != nil {
		return nil, err
	}
	klines, err := processor.NewKlineSeriesAggregator(symbol, cfg.Kline.Interval, cfg.Kline.Limit)
	if err != nil {
		return nil, err
	}
	technical, err := processor.NewKlineSeriesAggregator(symbol, cfg.Kline.Interval, cfg.Technical.Limit)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		id:        id,
		symbol:    symbol,
		cfg:       cfg,
		loop:      loop,
		rest:      rest,
		board:     board,
		gate:      throttle.New(cfg.Throttle.Interval),
		log:       log,
		entry:     log.WithSymbol(symbol.String()).WithComponent("session").WithFields(logger.Fields{"session_id": id}),
		panels:    newPanelSet(panelTicker, panelOrderBook, panelKline, panelVolume, panelTechnical),
		ticker:    processor.NewTickerAggregator(symbol),
		book:      book,
		klines:    klines,
		technical: technical,
		volume:    processor.NewVolumeRatioCalculator(symbol, cfg.Volume.Windows),
		statuses:  make(map[string]model.StreamStatus),
	}, nil
}

// ID returns the session id shown in logs and the status panel.
func (s *Session) ID() string {
	return s.id
}

// Symbol returns the session symbol.
func (s *Session) Symbol() model.Symbol {
	return s.symbol
}

// Start subscribes every stream and schedules the REST seeding. It must run on
// the presentation loop.
func (s *Session) Start(ctx context.Context) error {
	if s.active {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.active = true

	depthLevels := maxLevels(s.cfg.OrderBook.Presets)
	s.subscribe(binance.TickerStream(s.symbol), s.handleTicker)
	s.subscribe(binance.BookTickerStream(s.symbol), s.handleBookTicker)
	s.subscribe(binance.DepthStream(s.symbol, depthLevels, s.cfg.Binance.DepthSpeed), s.handleDepth)
	s.subscribe(binance.KlineStream(s.symbol, s.cfg.Kline.Interval), s.handleKline)

	for _, conn := range s.streams {
		if err := conn.Start(s.ctx); err != nil {
			s.Stop()
			return err
		}
	}

	s.board.Klines.Publish(s.klines.Snapshot())
	s.board.Status.Publish(s.status())

	s.primeTicker()
	s.primeDepth()
	s.seedKlines()
	s.seedTechnical()
	go s.runVolume(s.volume.Windows(), s.cfg.Volume.RefreshInterval)

	s.entry.WithFields(logger.Fields{"streams": len(s.streams)}).Info("session started")
	return nil
}

// Stop deactivates the session, closes its streams and resets every
// aggregator. Messages and fetch results still in flight are discarded. It
// must run on the presentation loop.
func (s *Session) Stop() {
	if !s.active {
		return
	}
	s.active = false
	s.closing.Store(true)
	s.cancel()
	for _, conn := range s.streams {
		conn.Stop()
	}

	s.panels.report(s.log, s.symbol)

	s.ticker.Reset()
	s.book.Reset()
	s.klines.Reset()
	s.technical.Reset()
	s.volume.Reset()
	s.entry.Info("session stopped")
}

// SetLevels changes how many order book levels the next depth message keeps.
func (s *Session) SetLevels(levels int) error {
	if err := s.book.SetLevels(levels); err != nil {
		return err
	}
	if s.active {
		s.board.Status.Publish(s.status())
	}
	return nil
}

// ReloadKlines re-seeds the candle series from REST in the background.
func (s *Session) ReloadKlines() {
	if s.active {
		s.seedKlines()
	}
}

// ReloadIndicators re-fetches the technical series in the background.
func (s *Session) ReloadIndicators() {
	if s.active {
		s.seedTechnical()
	}
}

func (s *Session) subscribe(stream string, handle func(*binance.StreamConnection, []byte)) {
	var conn *binance.StreamConnection
	conn = binance.NewStreamConnection(
		binance.StreamURL(s.cfg.Binance.StreamURL, stream),
		stream,
		func(raw []byte) { handle(conn, raw) },
		binance.StreamOptions{
			Symbol:           s.symbol,
			HandshakeTimeout: s.cfg.Stream.HandshakeTimeout,
			Reconnect:        s.cfg.Stream.Reconnect,
			OnState:          s.onState,
		},
	)
	s.streams = append(s.streams, conn)
}

// post runs fn on the loop unless the session or conn stopped in between.
func (s *Session) post(conn *binance.StreamConnection, fn func()) {
	s.loop.Post(func() {
		if !s.active || !conn.Active() {
			metrics.EmitDropMetric(s.log, metrics.DropMetricStopped, s.symbol.String(), conn.Name(), "presentation")
			return
		}
		fn()
	})
}

func (s *Session) malformed(panel string, conn *binance.StreamConnection, err error) {
	s.panels[panel].malformed.Add(1)
	metrics.EmitDropMetric(s.log, metrics.DropMetricMalformed, s.symbol.String(), conn.Name(), panel)
	s.entry.WithComponent(panel).WithStream(conn.Name()).WithError(err).Warn("skipping malformed message")
}

// allow applies the throttle gate of conn's stream.
func (s *Session) allow(panel string, conn *binance.StreamConnection) bool {
	if s.gate.AllowNow(conn.Name()) {
		s.panels[panel].accepted.Add(1)
		return true
	}
	s.panels[panel].throttled.Add(1)
	metrics.EmitDropMetric(s.log, metrics.DropMetricThrottled, s.symbol.String(), conn.Name(), panel)
	return false
}

func (s *Session) handleTicker(conn *binance.StreamConnection, raw []byte) {
	u, err := processor.ParseTicker(raw)
	if err != nil {
		s.malformed(panelTicker, conn, err)
		return
	}
	if !s.allow(panelTicker, conn) {
		return
	}
	s.post(conn, func() {
		s.publishTicker(s.ticker.ApplyTicker(u))
	})
}

func (s *Session) handleBookTicker(conn *binance.StreamConnection, raw []byte) {
	u, err := processor.ParseBookTicker(raw)
	if err != nil {
		s.malformed(panelTicker, conn, err)
		return
	}
	if !s.allow(panelTicker, conn) {
		return
	}
	s.post(conn, func() {
		if snap, ok := s.ticker.ApplyBookTicker(u); ok {
			s.publishTicker(snap)
		}
	})
}

func (s *Session) publishTicker(snap model.TickerSnapshot) {
	s.board.Ticker.Publish(snap)
	s.panels[panelTicker].published.Add(1)
}

func (s *Session) handleDepth(conn *binance.StreamConnection, raw []byte) {
	u, err := processor.ParseDepth(raw)
	if err != nil {
		s.malformed(panelOrderBook, conn, err)
		return
	}
	if !s.allow(panelOrderBook, conn) {
		return
	}
	s.post(conn, func() {
		snap, err := s.book.Apply(u)
		if err != nil {
			s.malformed(panelOrderBook, conn, err)
			return
		}
		s.board.OrderBook.Publish(snap)
		s.panels[panelOrderBook].published.Add(1)
	})
}

// handleKline is not throttled: a dropped final message would lose a candle.
func (s *Session) handleKline(conn *binance.StreamConnection, raw []byte) {
	u, err := processor.ParseKline(raw)
	if err != nil {
		s.malformed(panelKline, conn, err)
		return
	}
	s.panels[panelKline].accepted.Add(1)
	s.post(conn, func() {
		switch outcome := s.klines.Apply(u); {
		case outcome == processor.KlineStale:
			s.panels[panelKline].stale.Add(1)
			metrics.EmitDropMetric(s.log, metrics.DropMetricStale, s.symbol.String(), conn.Name(), panelKline)
		case outcome.Changed():
			s.board.Klines.Publish(s.klines.Snapshot())
			s.panels[panelKline].published.Add(1)
		}

		if s.technical.Apply(u).Changed() {
			s.publishIndicators()
		}
	})
}

func (s *Session) publishIndicators() {
	snap, err := computeIndicators(s.technical.Snapshot(), s.cfg.Technical.SMAPeriod, s.cfg.Technical.EMAPeriod)
	if err != nil {
		s.entry.WithComponent(panelTechnical).WithError(err).Warn("failed to compute indicators")
		return
	}
	s.board.Indicators.Publish(snap)
	s.panels[panelTechnical].published.Add(1)
}

// fetch runs call on its own goroutine and hands the result to apply on the
// loop, provided the session is still active.
func (s *Session) fetch(call func(ctx context.Context) error, apply func(err error)) {
	ctx := s.ctx
	go func() {
		err := call(ctx)
		s.loop.Post(func() {
			if !s.active || ctx.Err() != nil {
				return
			}
			apply(err)
		})
	}()
}

// primeTicker falls back to the latest price alone when the 24h statistics
// cannot be fetched; the change fields then read zero until a push arrives.
func (s *Session) primeTicker() {
	var (
		stats *binance.Ticker24h
		price *binance.LatestPrice
	)
	s.fetch(func(ctx context.Context) (err error) {
		stats, err = s.rest.Ticker24hr(ctx, s.symbol)
		if err == nil || ctx.Err() != nil {
			return err
		}
		s.entry.WithComponent(panelTicker).WithError(err).Warn("24h statistics unavailable; priming from latest price")
		price, err = s.rest.TickerPrice(ctx, s.symbol)
		return err
	}, func(err error) {
		if err != nil {
			s.entry.WithComponent(panelTicker).WithError(err).Warn("failed to prime ticker")
			return
		}
		if _, ok := s.ticker.Latest(); ok {
			return
		}
		var u processor.TickerUpdate
		if stats != nil {
			u, err = processor.TickerFromFields(stats.Symbol, stats.LastPrice, stats.PriceChange, stats.PriceChangePercent, stats.BidPrice, stats.AskPrice, stats.CloseTime)
		} else {
			u, err = processor.TickerFromFields(price.Symbol, price.Price, "0", "0", "", "", 0)
		}
		if err != nil {
			s.entry.WithComponent(panelTicker).WithError(err).Warn("skipping malformed ticker statistics")
			return
		}
		s.publishTicker(s.ticker.ApplyTicker(u))
	})
}

func (s *Session) primeDepth() {
	var depth *binance.DepthSnapshot
	s.fetch(func(ctx context.Context) (err error) {
		depth, err = s.rest.Depth(ctx, s.symbol, maxLevels(s.cfg.OrderBook.Presets))
		return err
	}, func(err error) {
		if err != nil {
			s.entry.WithComponent(panelOrderBook).WithError(err).Warn("failed to prime order book")
			return
		}
		if _, ok := s.book.Latest(); ok {
			return
		}
		snap, err := s.book.Apply(processor.DepthUpdate{LastUpdateID: depth.LastUpdateID, Bids: depth.Bids, Asks: depth.Asks})
		if err != nil {
			s.entry.WithComponent(panelOrderBook).WithError(err).Warn("skipping malformed depth snapshot")
			return
		}
		s.board.OrderBook.Publish(snap)
		s.panels[panelOrderBook].published.Add(1)
	})
}

// seedKlines fetches the candle series. Only the result of the latest seed
// request is applied.
func (s *Session) seedKlines() {
	s.klineSeed++
	seed := s.klineSeed

	var candles []model.Candle
	s.fetch(func(ctx context.Context) error {
		rows, err := s.rest.Klines(ctx, s.symbol, s.cfg.Kline.Interval, s.cfg.Kline.Limit)
		if err != nil {
			return err
		}
		candles, err = processor.CandlesFromRows(rows)
		return err
	}, func(err error) {
		if seed != s.klineSeed {
			return
		}
		if err != nil {
			s.entry.WithComponent(panelKline).WithError(err).Warn("failed to seed klines")
			return
		}
		s.klines.Seed(candles)
		s.board.Klines.Publish(s.klines.Snapshot())
		s.panels[panelKline].published.Add(1)
		s.entry.WithComponent(panelKline).WithFields(logger.Fields{"candles": s.klines.Len()}).Debug("klines seeded")
	})
}

func (s *Session) seedTechnical() {
	s.technicalSeed++
	seed := s.technicalSeed

	var candles []model.Candle
	s.fetch(func(ctx context.Context) error {
		rows, err := s.rest.Klines(ctx, s.symbol, s.cfg.Kline.Interval, s.cfg.Technical.Limit)
		if err != nil {
			return err
		}
		candles, err = processor.CandlesFromRows(rows)
		return err
	}, func(err error) {
		if seed != s.technicalSeed {
			return
		}
		if err != nil {
			s.entry.WithComponent(panelTechnical).WithError(err).Warn("failed to load technical series")
			return
		}
		s.technical.Seed(candles)
		s.publishIndicators()
	})
}

// runVolume refreshes every volume window until the session stops.
func (s *Session) runVolume(windows []string, interval time.Duration) {
	ctx := s.ctx
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, window := range windows {
			if ctx.Err() != nil {
				return
			}
			s.refreshVolume(ctx, window)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) refreshVolume(ctx context.Context, window string) {
	rows, err := s.rest.Klines(ctx, s.symbol, window, 1)
	s.loop.Post(func() {
		if !s.active || ctx.Err() != nil {
			return
		}
		if err == nil {
			_, err = s.volume.Apply(window, rows)
		}
		if err != nil {
			s.entry.WithComponent(panelVolume).WithError(err).WithFields(logger.Fields{"window": window}).Warn("failed to refresh volume ratio")
			return
		}
		s.board.Volume.Publish(s.volume.Snapshot())
		s.panels[panelVolume].published.Add(1)
	})
}

// onState records a stream state change. It may run on any goroutine.
func (s *Session) onState(st model.StreamStatus) {
	if s.closing.Load() {
		return
	}
	s.mu.Lock()
	s.statuses[st.Stream] = st
	s.mu.Unlock()

	go s.loop.Post(func() {
		if s.active {
			s.board.Status.Publish(s.status())
		}
	})
}

// status aggregates the stream states; the session is live only while every
// stream is connected.
func (s *Session) status() model.SessionStatus {
	s.mu.Lock()
	streams := make([]model.StreamStatus, 0, len(s.streams))
	for _, conn := range s.streams {
		st, ok := s.statuses[conn.Name()]
		if !ok {
			st = conn.Status()
		}
		streams = append(streams, st)
	}
	s.mu.Unlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].Stream < streams[j].Stream })

	return model.SessionStatus{
		SessionID: s.id,
		Symbol:    s.symbol,
		Live:      model.AllConnected(streams),
		Levels:    s.book.Levels(),
		Streams:   streams,
	}
}

func maxLevels(presets []int) int {
	m := 0
	for _, p := range presets {
		if p > m {
			m = p
		}
	}
	return m
}
