package dashboard

import (
	"context"
	"errors"
	"fmt"

	"marketdash/config"
	"marketdash/internal/model"
	"marketdash/internal/reader/binance"
	"marketdash/internal/view"
	"marketdash/logger"
)

var (
	// ErrUnknownSymbol is returned when switching to a symbol that is not configured.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrInvalidLevels is returned for a level count that is not a preset.
	ErrInvalidLevels = errors.New("order book levels is not a preset")
	// ErrNotStarted is returned by controls used before Start.
	ErrNotStarted = errors.New("dashboard not started")
)

// Manager drives the dashboard: it owns the active symbol session and the
// ticker bar, and serializes every control through the presentation loop.
// Its methods are safe to call from any goroutine except loop tasks.
type Manager struct {
	cfg     *config.Config
	loop    *view.Loop
	rest    *binance.RestClient
	board   *Board
	log     *logger.Log
	symbols []model.Symbol
	presets []int

	// Owned by the loop.
	ctx     context.Context
	session *Session
	bar     *tickerBar
	levels  int
}

// NewManager prepares a dashboard over loop. Nothing connects until Start.
func NewManager(cfg *config.Config, loop *view.Loop, rest *binance.RestClient, log *logger.Log) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	symbols := make([]model.Symbol, 0, len(cfg.Binance.Symbols))
	for _, s := range cfg.Binance.Symbols {
		symbols = append(symbols, model.NormalizeSymbol(s))
	}
	return &Manager{
		cfg:     cfg,
		loop:    loop,
		rest:    rest,
		board:   NewBoard(),
		log:     log,
		symbols: symbols,
		presets: append([]int(nil), cfg.OrderBook.Presets...),
		levels:  cfg.OrderBook.Default,
	}
}

// Board returns the publishers of every panel.
func (m *Manager) Board() *Board {
	return m.board
}

// Symbols returns the configured symbols in display order.
func (m *Manager) Symbols() []model.Symbol {
	return append([]model.Symbol(nil), m.symbols...)
}

// Start connects the ticker bar and opens a session for the default symbol.
// Streams live until Stop or until ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	return m.loop.Invoke(ctx, func() error {
		if m.ctx != nil {
			return fmt.Errorf("dashboard already started")
		}
		m.ctx = ctx

		m.bar = newTickerBar(m.symbols, m.cfg, m.loop, m.rest, m.board, m.log)
		if err := m.bar.start(ctx); err != nil {
			return fmt.Errorf("start ticker bar: %w", err)
		}
		return m.open(model.NormalizeSymbol(m.cfg.Binance.DefaultSymbol))
	})
}

// Stop closes the session and the ticker bar.
func (m *Manager) Stop(ctx context.Context) error {
	return m.loop.Invoke(ctx, func() error {
		if m.session != nil {
			m.session.Stop()
			m.session = nil
		}
		if m.bar != nil {
			m.bar.stop()
		}
		return nil
	})
}

// Symbol returns the symbol of the active session.
func (m *Manager) Symbol(ctx context.Context) (model.Symbol, error) {
	var sym model.Symbol
	err := m.loop.Invoke(ctx, func() error {
		if m.session == nil {
			return ErrNotStarted
		}
		sym = m.session.Symbol()
		return nil
	})
	return sym, err
}

// SwitchSymbol tears down the active session and opens one for symbol.
// Switching to the active symbol is a no-op.
func (m *Manager) SwitchSymbol(ctx context.Context, symbol string) error {
	sym := model.NormalizeSymbol(symbol)
	if !m.known(sym) {
		return fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return m.loop.Invoke(ctx, func() error {
		if m.ctx == nil {
			return ErrNotStarted
		}
		if m.session != nil && m.session.Symbol() == sym {
			return nil
		}
		return m.open(sym)
	})
}

// ToggleLevels moves the order book to the next preset and returns it.
func (m *Manager) ToggleLevels(ctx context.Context) (int, error) {
	var next int
	err := m.loop.Invoke(ctx, func() error {
		next = m.presets[0]
		for i, p := range m.presets {
			if p == m.levels {
				next = m.presets[(i+1)%len(m.presets)]
				break
			}
		}
		return m.applyLevels(next)
	})
	return next, err
}

// SetLevels selects one of the order book presets.
func (m *Manager) SetLevels(ctx context.Context, levels int) error {
	if !containsLevel(m.presets, levels) {
		return fmt.Errorf("%w: %d", ErrInvalidLevels, levels)
	}
	return m.loop.Invoke(ctx, func() error {
		return m.applyLevels(levels)
	})
}

// ReloadKlines re-seeds the candle chart from REST.
func (m *Manager) ReloadKlines(ctx context.Context) error {
	return m.withSession(ctx, (*Session).ReloadKlines)
}

// ReloadIndicators re-fetches the technical panel series from REST.
func (m *Manager) ReloadIndicators(ctx context.Context) error {
	return m.withSession(ctx, (*Session).ReloadIndicators)
}

func (m *Manager) withSession(ctx context.Context, fn func(*Session)) error {
	return m.loop.Invoke(ctx, func() error {
		if m.session == nil {
			return ErrNotStarted
		}
		fn(m.session)
		return nil
	})
}

// open runs on the loop.
func (m *Manager) open(sym model.Symbol) error {
	if m.session != nil {
		m.session.Stop()
		m.session = nil
	}
	m.board.clearSession()

	session, err := newSession(sym, m.levels, m.cfg, m.loop, m.rest, m.board, m.log)
	if err != nil {
		return err
	}
	if err := session.Start(m.ctx); err != nil {
		return fmt.Errorf("start session %s: %w", sym, err)
	}
	m.session = session
	m.log.WithComponent("manager").WithFields(logger.Fields{
		"symbol":     sym.String(),
		"session_id": session.ID(),
	}).Info("active symbol changed")
	return nil
}

// applyLevels runs on the loop.
func (m *Manager) applyLevels(levels int) error {
	if m.session != nil {
		if err := m.session.SetLevels(levels); err != nil {
			return err
		}
	}
	m.levels = levels
	return nil
}

func (m *Manager) known(sym model.Symbol) bool {
	for _, s := range m.symbols {
		if s == sym {
			return true
		}
	}
	return false
}

func containsLevel(presets []int, n int) bool {
	for _, p := range presets {
		if p == n {
			return true
		}
	}
	return false
}
