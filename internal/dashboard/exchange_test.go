package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketdash/config"
	"marketdash/internal/reader/binance"
	"marketdash/internal/view"
	"marketdash/logger"
)

// fakeExchange serves the REST endpoints and push streams used by a session.
// Streams listed in held wait for release before pushing their messages.
type fakeExchange struct {
	srv      *httptest.Server
	mu       sync.Mutex
	messages map[string][]string
	held     map[string]chan struct{}
	dials    map[string]int
	dropped  map[string]bool
	noStats  bool
}

func newFakeExchange(t *testing.T) *fakeExchange {
	t.Helper()
	ex := &fakeExchange{
		messages: map[string][]string{
			"btcusdt@ticker":        {`{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"50000.00","p":"-250.00","P":"-0.50","b":"49999.50","a":"50000.50"}`},
			"btcusdt@bookTicker":    {`{"u":1,"s":"BTCUSDT","b":"49999.00","a":"50001.00"}`},
			"btcusdt@depth20@100ms": {depthJSON(25)},
			"btcusdt@kline_1h":      {`{"e":"kline","E":7300000,"s":"BTCUSDT","k":{"t":7200000,"T":10799999,"i":"1h","o":"102","h":"110","l":"101","c":"108","v":"12","x":true}}`},
			"btcusdt@miniTicker":    {`{"e":"24hrMiniTicker","E":1,"s":"BTCUSDT","c":"110.00","o":"100.00"}`},
			"ethusdt@miniTicker":    {`{"e":"24hrMiniTicker","E":1,"s":"ETHUSDT","c":"95.00","o":"100.00"}`},
		},
		held:    make(map[string]chan struct{}),
		dials:   make(map[string]int),
		dropped: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", ex.serveStream)
	mux.HandleFunc(binance.PathKlines, ex.serveKlines)
	mux.HandleFunc(binance.PathTicker24h, func(w http.ResponseWriter, r *http.Request) {
		if symbols := r.URL.Query().Get("symbols"); symbols != "" {
			var names []string
			json.Unmarshal([]byte(symbols), &names)
			rows := make([]string, 0, len(names))
			for _, name := range names {
				rows = append(rows, fmt.Sprintf(`{"symbol":%q,"lastPrice":"90.00","priceChange":"-10.00","priceChangePercent":"-10.00","closeTime":1}`, name))
			}
			fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
			return
		}
		ex.mu.Lock()
		noStats := ex.noStats
		ex.mu.Unlock()
		if noStats {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, `{"symbol":%q,"lastPrice":"49000.00","priceChange":"100.00","priceChangePercent":"0.20","bidPrice":"48999.00","askPrice":"49001.00","closeTime":1700000000000}`, r.URL.Query().Get("symbol"))
	})
	mux.HandleFunc(binance.PathTickerPrice, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"symbol":%q,"price":"48500.00"}`, r.URL.Query().Get("symbol"))
	})
	mux.HandleFunc(binance.PathDepth, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(depthJSON(20)))
	})

	ex.srv = httptest.NewServer(mux)
	t.Cleanup(ex.srv.Close)
	return ex
}

// hold delays the messages of stream until the returned func is called.
func (ex *fakeExchange) hold(stream string) (release func()) {
	ch := make(chan struct{})
	ex.mu.Lock()
	ex.held[stream] = ch
	ex.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// drop closes stream right after its messages are sent.
func (ex *fakeExchange) drop(stream string) {
	ex.mu.Lock()
	ex.dropped[stream] = true
	ex.mu.Unlock()
}

// failStats makes the single-symbol 24h statistics endpoint unavailable.
func (ex *fakeExchange) failStats() {
	ex.mu.Lock()
	ex.noStats = true
	ex.mu.Unlock()
}

func (ex *fakeExchange) dialed(stream string) int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.dials[stream]
}

func (ex *fakeExchange) serveStream(w http.ResponseWriter, r *http.Request) {
	stream := strings.TrimPrefix(r.URL.Path, "/ws/")
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ex.mu.Lock()
	ex.dials[stream]++
	messages := ex.messages[stream]
	held := ex.held[stream]
	dropped := ex.dropped[stream]
	ex.mu.Unlock()

	if held != nil {
		select {
		case <-held:
		case <-time.After(5 * time.Second):
			return
		}
	}
	for _, msg := range messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
	if dropped {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// serveKlines returns three hourly bars, or only the last one for limit=1.
func (ex *fakeExchange) serveKlines(w http.ResponseWriter, r *http.Request) {
	rows := [][]interface{}{
		{0, "100", "105", "99", "104", "10", 3599999, "1000", 5, "6", "600", "0"},
		{3600000, "104", "106", "100", "101", "8", 7199999, "800", 4, "2", "200", "0"},
		{7200000, "101", "103", "101", "102", "4", 10799999, "400", 2, "1", "100", "0"},
	}
	if limit, _ := strconv.Atoi(r.URL.Query().Get("limit")); limit > 0 && limit < len(rows) {
		rows = rows[len(rows)-limit:]
	}
	json.NewEncoder(w).Encode(rows)
}

func depthJSON(levels int) string {
	bids := make([][2]string, levels)
	asks := make([][2]string, levels)
	for i := 0; i < levels; i++ {
		bids[i] = [2]string{strconv.Itoa(100 - i), "1.5"}
		asks[i] = [2]string{strconv.Itoa(101 + i), "2.5"}
	}
	raw, _ := json.Marshal(map[string]interface{}{"lastUpdateId": 42, "bids": bids, "asks": asks})
	return string(raw)
}

func testConfig(ex *fakeExchange) *config.Config {
	cfg := config.Default()
	cfg.Binance.RestURL = ex.srv.URL
	cfg.Binance.StreamURL = "ws" + strings.TrimPrefix(ex.srv.URL, "http") + "/ws"
	cfg.Binance.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Binance.DefaultSymbol = "BTCUSDT"
	cfg.Rest = config.RestConfig{Timeout: 2 * time.Second, Retries: 1}
	cfg.Stream.HandshakeTimeout = 2 * time.Second
	return &cfg
}

// startManager runs a loop and a started manager for the duration of the test.
func startManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()
	log := logger.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	loop := view.NewLoop(cfg.Presentation.MailboxSize)
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	rest := binance.NewRestClient(cfg.Binance.RestURL, cfg.Rest, log)
	m := NewManager(cfg, loop, rest, log)
	if err := m.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start failed: %v", err)
	}

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		if err := m.Stop(stopCtx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		cancel()
		<-done
	})
	return m
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
