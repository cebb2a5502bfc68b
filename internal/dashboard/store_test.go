package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"marketdash/internal/metrics"
)

func TestHistoryWrapsOldestFirst(t *testing.T) {
	h := newHistory[int](3)
	if got := h.collect(nil); len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
	for i := 1; i <= 5; i++ {
		h.add(i)
	}
	got := h.collect(nil)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected history: %v", got)
	}
	even := h.collect(func(v int) bool { return v%2 == 0 })
	if len(even) != 1 || even[0] != 4 {
		t.Fatalf("unexpected filtered history: %v", even)
	}
}

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Component: "stream", Name: "metric", Value: i})
	}

	snapshot := store.snapshot(recordFilter{})
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestMetricStoreFilters(t *testing.T) {
	store := newMetricStore(10)
	store.handle(metrics.Metric{Component: "stream", Name: "stream_messages_received", Value: 1, Fields: map[string]interface{}{"symbol": "BTCUSDT"}})
	store.handle(metrics.Metric{Component: "rest_client", Name: "rest_requests", Value: 1})
	store.handle(metrics.Metric{Component: "stream", Name: "stream_messages_received", Value: 2, Fields: map[string]interface{}{"symbol": "ETHUSDT"}})

	got := store.snapshot(filterFromQuery("stream", "", ""))
	if len(got) != 2 || got[1].Value != 2 {
		t.Fatalf("unexpected filtered metrics: %#v", got)
	}
	got = store.snapshot(filterFromQuery("", "ethusdt", ""))
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("unexpected symbol filter result: %#v", got)
	}
	if got := store.snapshot(filterFromQuery("missing", "", "")); len(got) != 0 {
		t.Fatalf("expected no metrics, got %#v", got)
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "warning"
	entry.Data = logrus.Fields{"component": "ticker_panel", "symbol": "BTCUSDT", "stream": "btcusdt@ticker"}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot(recordFilter{})
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}
	got := snapshot[0]
	if got.Component != "ticker_panel" || got.Symbol != "BTCUSDT" || got.Fields["stream"] != "btcusdt@ticker" {
		t.Fatalf("unexpected snapshot data: %#v", got)
	}
	if _, ok := got.Fields["symbol"]; ok {
		t.Fatalf("symbol should be promoted out of fields: %#v", got.Fields)
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		if i%2 == 1 {
			entry.Level = logrus.WarnLevel
		}
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshot := store.snapshot(recordFilter{})
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}
	if warn := store.snapshot(filterFromQuery("", "", "WARNING")); len(warn) != 1 {
		t.Fatalf("expected 1 warning entry, got %d", len(warn))
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}
	if snapshot = store.snapshot(recordFilter{}); len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}
