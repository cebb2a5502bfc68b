package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	warnCounts  sync.Map // map[string]*int64
	errorCounts sync.Map // map[string]*int64
	streams     sync.Map // map[string]*streamStat
)

func counter(m *sync.Map, key string) *int64 {
	v, _ := m.LoadOrStore(key, new(int64))
	return v.(*int64)
}

func recordWarn(component string) {
	atomic.AddInt64(counter(&warnCounts, component), 1)
}

func recordError(component string) {
	atomic.AddInt64(counter(&errorCounts, component), 1)
}

// RecordStreamMessage counts one received push message of size bytes for the stream.
func RecordStreamMessage(stream string, size int) {
	v, _ := streams.LoadOrStore(stream, &streamStat{})
	st := v.(*streamStat)
	atomic.AddInt64(&st.messages, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// ForgetStream drops the counters of a stream that is no longer subscribed.
func ForgetStream(stream string) {
	streams.Delete(stream)
}

func countsOf(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// ReportFields returns the fields logged by the runtime report.
func ReportFields() Fields {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	names := make([]string, 0)
	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*streamStat)
		names = append(names, name)
		streamData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&st.messages),
			"bytes":    atomic.LoadInt64(&st.bytes),
		}
		return true
	})
	sort.Strings(names)

	return Fields{
		"goroutines":    runtime.NumGoroutine(),
		"heap_alloc_mb": int64(mem.HeapAlloc) / 1024 / 1024,
		"sys_mb":        int64(mem.Sys) / 1024 / 1024,
		"gc_cycles":     mem.NumGC,
		"warns":         countsOf(&warnCounts),
		"errors":        countsOf(&errorCounts),
		"stream_names":  names,
		"streams":       streamData,
	}
}

// StartReport begins periodic logging of runtime and stream statistics until
// ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.WithComponent("report").WithFields(ReportFields()).Info("runtime report")
			}
		}
	}()
}
