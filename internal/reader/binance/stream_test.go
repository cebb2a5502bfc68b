package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/config"
	"marketdash/internal/model"
)

// wsServer pushes messages to every client and keeps the socket open until
// release is closed.
func wsServer(t *testing.T, messages []string, release <-chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade websocket: %v", err)
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		if release != nil {
			<-release
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitDone(t *testing.T, s *StreamConnection) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stream to exit")
	}
}

func TestStreamDeliversMessages(t *testing.T) {
	release := make(chan struct{})
	srv := wsServer(t, []string{`{"n":1}`, `{"n":2}`}, release)
	defer srv.Close()
	defer close(release)

	got := make(chan string, 4)
	s := NewStreamConnection(StreamURL(wsURL(srv), "btcusdt@ticker"), "btcusdt@ticker", func(raw []byte) {
		got <- string(raw)
	}, StreamOptions{Symbol: "BTCUSDT"})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, want := range []string{`{"n":1}`, `{"n":2}`} {
		select {
		case msg := <-got:
			if msg != want {
				t.Fatalf("expected %s, got %s", want, msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	}

	if st := s.Status(); st.State != model.Connected || st.Messages != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}

	s.Stop()
	waitDone(t, s)
	if s.Active() {
		t.Fatal("stream should be inactive after Stop")
	}
	if st := s.Status(); st.State != model.Stopped {
		t.Fatalf("expected stopped state, got %s", st.State)
	}
}

func TestStreamNoDeliveryAfterStop(t *testing.T) {
	messages := make([]string, 200)
	for i := range messages {
		messages[i] = `{}`
	}
	srv := wsServer(t, messages, nil)
	defer srv.Close()

	var (
		mu      sync.Mutex
		stopped bool
		late    int
	)
	var s *StreamConnection
	s = NewStreamConnection(wsURL(srv), "btcusdt@depth20@100ms", func(raw []byte) {
		mu.Lock()
		if stopped {
			late++
		}
		mu.Unlock()
		if s.Status().Messages == 1 {
			mu.Lock()
			stopped = true
			mu.Unlock()
			s.Stop()
		}
	}, StreamOptions{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, s)

	mu.Lock()
	defer mu.Unlock()
	if late != 0 {
		t.Fatalf("expected no deliveries after Stop, got %d", late)
	}
}

func TestStreamFailureWithoutReconnectDeactivates(t *testing.T) {
	srv := wsServer(t, []string{`{}`}, nil)
	defer srv.Close()

	var (
		mu     sync.Mutex
		states []model.ConnectionState
	)
	s := NewStreamConnection(wsURL(srv), "btcusdt@kline_1h", nil, StreamOptions{
		OnState: func(st model.StreamStatus) {
			mu.Lock()
			states = append(states, st.State)
			mu.Unlock()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, s)

	if s.Active() {
		t.Fatal("stream should be inactive after the server closed")
	}
	st := s.Status()
	if st.State != model.Disconnected || st.LastError == "" {
		t.Fatalf("unexpected status: %+v", st)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []model.ConnectionState{model.Connecting, model.Connected, model.Disconnected}
	if len(states) != len(want) {
		t.Fatalf("unexpected transitions: %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected transitions: %v", states)
		}
	}
}

func TestStreamDialFailure(t *testing.T) {
	s := NewStreamConnection("ws://127.0.0.1:1/ws", "btcusdt@ticker", nil, StreamOptions{
		HandshakeTimeout: 200 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start should not report dial errors: %v", err)
	}
	waitDone(t, s)
	if st := s.Status(); st.State != model.Disconnected || !strings.Contains(st.LastError, "dial") {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestStreamReconnects(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{}`))
		conn.Close()
	}))
	defer srv.Close()

	got := make(chan struct{}, 8)
	s := NewStreamConnection(wsURL(srv), "btcusdt@ticker", func([]byte) {
		select {
		case got <- struct{}{}:
		default:
		}
	}, StreamOptions{
		Reconnect: config.ReconnectConfig{Enabled: true, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for reconnect")
		}
	}
	s.Stop()
	waitDone(t, s)

	mu.Lock()
	defer mu.Unlock()
	if dials < 2 {
		t.Fatalf("expected at least 2 dials, got %d", dials)
	}
}

func TestStreamStartMisuse(t *testing.T) {
	s := NewStreamConnection("ws://127.0.0.1:1/ws", "x", nil, StreamOptions{})
	s.Stop()
	s.Stop()
	waitDone(t, s)
	if err := s.Start(context.Background()); !errors.Is(err, ErrStreamStopped) {
		t.Fatalf("expected ErrStreamStopped, got %v", err)
	}

	release := make(chan struct{})
	srv := wsServer(t, nil, release)
	defer srv.Close()
	defer close(release)

	s2 := NewStreamConnection(wsURL(srv), "y", nil, StreamOptions{})
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s2.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}
	s2.Stop()
	waitDone(t, s2)
}

func TestBackoffDelay(t *testing.T) {
	cfg := config.ReconnectConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, w := range want {
		if got := backoffDelay(cfg, attempt); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, w, got)
		}
	}
}

func TestWaitForReconnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waitForReconnect(ctx, time.Minute) {
		t.Fatal("expected false on cancelled context")
	}
	if !waitForReconnect(context.Background(), time.Millisecond) {
		t.Fatal("expected true after delay")
	}
}

func TestStreamNames(t *testing.T) {
	sym := model.Symbol("BTCUSDT")
	cases := map[string]string{
		TickerStream(sym):              "btcusdt@ticker",
		BookTickerStream(sym):          "btcusdt@bookTicker",
		MiniTickerStream(sym):          "btcusdt@miniTicker",
		DepthStream(sym, 20, "100ms"):  "btcusdt@depth20@100ms",
		DepthStream(sym, 10, ""):       "btcusdt@depth10",
		KlineStream(sym, "1h"):         "btcusdt@kline_1h",
		StreamURL("wss://x/ws/", "a"):  "wss://x/ws/a",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
	}
}
