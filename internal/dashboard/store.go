package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"marketdash/internal/metrics"
)

// history is a fixed-capacity ring of the most recent values.
type history[T any] struct {
	mu    sync.RWMutex
	items []T
	next  int
	full  bool
}

func newHistory[T any](limit int) *history[T] {
	if limit <= 0 {
		limit = 200
	}
	return &history[T]{items: make([]T, limit)}
}

func (h *history[T]) add(v T) {
	h.mu.Lock()
	h.items[h.next] = v
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// collect returns the retained values accepted by keep, oldest first.
func (h *history[T]) collect(keep func(T) bool) []T {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	start := 0
	if h.full {
		n = len(h.items)
		start = h.next
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v := h.items[(start+i)%len(h.items)]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// recordFilter narrows /api/metrics and /api/logs. Empty fields match everything.
type recordFilter struct {
	Component string
	Symbol    string
	Level     string
}

func filterFromQuery(component, symbol, level string) recordFilter {
	return recordFilter{
		Component: strings.TrimSpace(component),
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Level:     strings.ToLower(strings.TrimSpace(level)),
	}
}

func (f recordFilter) match(component, symbol, level string) bool {
	return (f.Component == "" || f.Component == component) &&
		(f.Symbol == "" || f.Symbol == symbol) &&
		(f.Level == "" || f.Level == level)
}

// metricStore keeps the most recent emitted metrics for /api/metrics.
type metricStore struct {
	items *history[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{items: newHistory[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.items.add(metric)
}

func (s *metricStore) snapshot(f recordFilter) []metrics.Metric {
	return s.items.collect(func(m metrics.Metric) bool {
		symbol, _ := m.Fields["symbol"].(string)
		return f.match(m.Component, symbol, "")
	})
}

// logRecord is one captured log entry as served by /api/logs.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook keeping the most recent log entries.
type logStore struct {
	items   *history[logRecord]
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	ls := &logStore{items: newHistory[logRecord](limit)}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		switch k {
		case "component":
			record.Component, _ = v.(string)
			continue
		case "symbol":
			record.Symbol, _ = v.(string)
			continue
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		record.Fields[k] = printable(v)
	}

	s.items.add(record)
	return nil
}

func (s *logStore) snapshot(f recordFilter) []logRecord {
	return s.items.collect(func(r logRecord) bool {
		return f.match(r.Component, r.Symbol, r.Level)
	})
}

func (s *logStore) close() {
	s.enabled.Store(false)
}

func printable(v interface{}) interface{} {
	switch val := v.(type) {
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return val
	}
}
