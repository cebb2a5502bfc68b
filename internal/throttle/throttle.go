// Package throttle gates how often a stream may update presentation state.
// Rejected messages are discarded by the caller; nothing is queued.
package throttle

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum spacing between accepted messages of a key.
const DefaultInterval = 100 * time.Millisecond

// Throttle remembers the last accepted timestamp of each stream key. A key
// accepts a message once at least the interval has elapsed since its last
// accepted message. It is safe for concurrent use.
type Throttle struct {
	interval time.Duration
	mu       sync.Mutex
	last     map[string]int64
}

// New creates a throttle; non-positive intervals fall back to DefaultInterval.
func New(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttle{
		interval: interval,
		last:     make(map[string]int64),
	}
}

// Interval returns the configured spacing.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Allow reports whether a message for key arriving at nowMillis may update
// state. The first message of a key is always accepted.
func (t *Throttle) Allow(key string, nowMillis int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, seen := t.last[key]
	if seen && nowMillis-last < t.interval.Milliseconds() {
		return false
	}
	t.last[key] = nowMillis
	return true
}

// AllowNow is Allow evaluated at the wall clock.
func (t *Throttle) AllowNow(key string) bool {
	return t.Allow(key, nowMillis())
}

// Reset forgets the history of key so its next message is accepted.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	delete(t.last, key)
	t.mu.Unlock()
}

var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}
