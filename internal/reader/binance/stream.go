package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketdash/config"
	"marketdash/internal/metrics"
	"marketdash/internal/model"
	"marketdash/logger"
)

// ErrStreamStopped is returned when starting a connection that was stopped.
var ErrStreamStopped = errors.New("stream connection stopped")

// Handler receives every raw message of an active stream connection, on the
// connection's reader goroutine.
type Handler func(raw []byte)

// StreamOptions configures a StreamConnection.
type StreamOptions struct {
	// Symbol labels metrics and logs.
	Symbol model.Symbol
	// HandshakeTimeout bounds the websocket dial. Zero keeps the library default.
	HandshakeTimeout time.Duration
	// Reconnect re-dials after the stream fails. Disabled by default.
	Reconnect config.ReconnectConfig
	// OnState is invoked on every connection state change.
	OnState func(model.StreamStatus)
}

// StreamConnection owns one push subscription. It is active from Start until
// Stop or until the stream fails without reconnect. No message is delivered to
// the handler once the connection is inactive.
type StreamConnection struct {
	id       string
	endpoint string
	name     string
	handler  Handler
	opts     StreamOptions
	log      *logger.Log
	dialer   websocket.Dialer

	active   atomic.Bool
	messages atomic.Int64

	mu       sync.Mutex
	conn     *websocket.Conn
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	state    model.ConnectionState
	lastErr  string
	since    time.Time
	stopOnce sync.Once
	done     chan struct{}
}

// NewStreamConnection prepares a connection to endpoint. name is the stream
// name used for metrics, e.g. "btcusdt@ticker".
func NewStreamConnection(endpoint, name string, handler Handler, opts StreamOptions) *StreamConnection {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = websocket.DefaultDialer.HandshakeTimeout
	}

	return &StreamConnection{
		id:       uuid.NewString(),
		endpoint: endpoint,
		name:     name,
		handler:  handler,
		opts:     opts,
		log:      logger.GetLogger(),
		dialer:   dialer,
		state:    model.Disconnected,
		since:    time.Now().UTC(),
		done:     make(chan struct{}),
	}
}

// ID returns the unique id of this connection.
func (s *StreamConnection) ID() string {
	return s.id
}

// Name returns the stream name.
func (s *StreamConnection) Name() string {
	return s.name
}

// Active reports whether messages are still being delivered.
func (s *StreamConnection) Active() bool {
	return s.active.Load()
}

// Done is closed once the reader goroutine has exited.
func (s *StreamConnection) Done() <-chan struct{} {
	return s.done
}

// Status returns a snapshot of the connection state.
func (s *StreamConnection) Status() model.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *StreamConnection) statusLocked() model.StreamStatus {
	return model.StreamStatus{
		ID:        s.id,
		Stream:    s.name,
		State:     s.state,
		Messages:  s.messages.Load(),
		LastError: s.lastErr,
		Since:     s.since,
	}
}

// Start marks the connection active and launches the reader goroutine, which
// dials the endpoint. Dial failures are reported through the state, not here.
func (s *StreamConnection) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStreamStopped
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("stream %s already started", s.name)
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.active.Store(true)
	s.mu.Unlock()

	s.setState(model.Connecting, nil)
	go s.run(runCtx)

	s.log.WithComponent("stream").WithStream(s.name).WithFields(logger.Fields{
		"id":       s.id,
		"endpoint": s.endpoint,
	}).Info("stream connection started")
	return nil
}

// Stop deactivates the connection and closes the socket. It is idempotent and
// does not wait for the reader goroutine; use Done for that.
func (s *StreamConnection) Stop() {
	s.stopOnce.Do(func() {
		s.active.Store(false)

		s.mu.Lock()
		s.stopped = true
		cancel := s.cancel
		conn := s.conn
		started := s.started
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if !started {
			close(s.done)
		}

		s.setState(model.Stopped, nil)
		s.log.WithComponent("stream").WithStream(s.name).WithFields(logger.Fields{
			"id":       s.id,
			"messages": s.messages.Load(),
		}).Info("stream connection stopped")
	})
}

func (s *StreamConnection) run(ctx context.Context) {
	defer close(s.done)
	defer logger.ForgetStream(s.name)
	defer func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		cancel()
	}()

	log := s.log.WithComponent("stream").WithStream(s.name).WithFields(logger.Fields{"id": s.id})

	attempt := 0
	for {
		if ctx.Err() != nil || !s.Active() {
			return
		}

		connected, err := s.session(ctx)
		if !s.Active() {
			return
		}
		if connected {
			attempt = 0
		}

		s.setState(model.Disconnected, err)
		if err != nil {
			log.WithError(err).Warn("stream connection failed")
		}

		if !s.opts.Reconnect.Enabled {
			s.active.Store(false)
			return
		}

		delay := backoffDelay(s.opts.Reconnect, attempt)
		attempt++
		log.WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Info("reconnecting stream")

		if !waitForReconnect(ctx, delay) {
			return
		}
		s.setState(model.Connecting, nil)
	}
}

// session dials once and reads until the socket fails. It reports whether
// the dial succeeded.
func (s *StreamConnection) session(ctx context.Context) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.name, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return true, nil
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.setState(model.Connected, nil)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !s.Active() {
				return true, nil
			}
			return true, fmt.Errorf("read %s: %w", s.name, err)
		}
		s.deliver(raw)
		if !s.Active() {
			return true, nil
		}
	}
}

func (s *StreamConnection) deliver(raw []byte) {
	if !s.Active() {
		metrics.EmitDropMetric(s.log, metrics.DropMetricStopped, s.opts.Symbol.String(), s.name, "stream")
		return
	}

	s.messages.Add(1)
	logger.RecordStreamMessage(s.name, len(raw))
	metrics.EmitStreamMessage(s.log, s.opts.Symbol.String(), s.name, len(raw))

	if s.handler != nil {
		s.handler(raw)
	}
}

func (s *StreamConnection) setState(state model.ConnectionState, err error) {
	s.mu.Lock()
	if s.state == model.Stopped {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.since = time.Now().UTC()
	if err != nil {
		s.lastErr = err.Error()
	}
	status := s.statusLocked()
	s.mu.Unlock()

	if s.opts.OnState != nil {
		s.opts.OnState(status)
	}
}

func backoffDelay(cfg config.ReconnectConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
		if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	return delay
}

// waitForReconnect sleeps for delay unless ctx ends first.
func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
