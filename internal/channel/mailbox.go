// Package channel provides the bounded hand-off from I/O goroutines to the
// presentation loop.
package channel

import (
	"context"
	"sync"
	"time"

	"marketdash/internal/metrics"
	"marketdash/logger"
)

// Task is a unit of work run on the presentation loop.
type Task func()

// MailboxStats counts tasks accepted, tasks dropped because the mailbox was
// full, and sends attempted after Close.
type MailboxStats struct {
	Sent    int64
	Dropped int64
	Closed  int64
}

// Mailbox is a bounded FIFO of tasks with a single consumer. Sends never
// panic after Close; they report false instead.
type Mailbox struct {
	name   string
	tasks  chan Task
	closed chan struct{}
	once   sync.Once

	stats      MailboxStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

// NewMailbox creates a mailbox holding up to size pending tasks.
func NewMailbox(name string, size int) *Mailbox {
	if size <= 0 {
		size = 1
	}
	log := logger.GetLogger()
	m := &Mailbox{
		name:   name,
		tasks:  make(chan Task, size),
		closed: make(chan struct{}),
		log:    log,
	}

	log.WithComponent("mailbox").WithFields(logger.Fields{
		"name":        name,
		"buffer_size": size,
	}).Info("mailbox initialized")

	return m
}

// Tasks is the consumer side.
func (m *Mailbox) Tasks() <-chan Task {
	return m.tasks
}

// Done is closed by Close.
func (m *Mailbox) Done() <-chan struct{} {
	return m.closed
}

// Send queues task, waiting for room until ctx ends or the mailbox closes.
func (m *Mailbox) Send(ctx context.Context, task Task) bool {
	select {
	case <-m.closed:
		m.incrementClosed()
		return false
	default:
	}

	select {
	case m.tasks <- task:
		m.incrementSent()
		return true
	case <-ctx.Done():
		return false
	case <-m.closed:
		m.incrementClosed()
		return false
	}
}

// TrySend queues task only if there is room. A full mailbox drops the task and
// emits a drop metric.
func (m *Mailbox) TrySend(task Task) bool {
	select {
	case <-m.closed:
		m.incrementClosed()
		return false
	default:
	}

	select {
	case m.tasks <- task:
		m.incrementSent()
		return true
	default:
		m.incrementDropped()
		metrics.EmitDropMetric(m.log, metrics.DropMetricMailboxFull, "", m.name, "mailbox")
		return false
	}
}

// Close stops accepting tasks. Queued tasks stay readable from Tasks.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		close(m.closed)
		m.log.WithComponent("mailbox").WithFields(logger.Fields{"name": m.name}).Info("mailbox closed")
	})
}

// Len returns the number of pending tasks.
func (m *Mailbox) Len() int {
	return len(m.tasks)
}

// Cap returns the mailbox capacity.
func (m *Mailbox) Cap() int {
	return cap(m.tasks)
}

func (m *Mailbox) incrementSent() {
	m.statsMutex.Lock()
	m.stats.Sent++
	m.statsMutex.Unlock()
}

func (m *Mailbox) incrementDropped() {
	m.statsMutex.Lock()
	m.stats.Dropped++
	m.statsMutex.Unlock()
}

func (m *Mailbox) incrementClosed() {
	m.statsMutex.Lock()
	m.stats.Closed++
	m.statsMutex.Unlock()
}

// GetStats returns a copy of the current counters.
func (m *Mailbox) GetStats() MailboxStats {
	m.statsMutex.RLock()
	defer m.statsMutex.RUnlock()
	return m.stats
}

// StartMetricsReporting logs the mailbox statistics every interval until ctx ends.
func (m *Mailbox) StartMetricsReporting(ctx context.Context, interval time.Duration) {
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
				m.logStats()
			}
		}
	}()
}

func (m *Mailbox) logStats() {
	stats := m.GetStats()
	m.log.WithComponent("mailbox").WithFields(logger.Fields{
		"name":          m.name,
		"tasks_sent":    stats.Sent,
		"tasks_dropped": stats.Dropped,
		"tasks_closed":  stats.Closed,
		"queue_len":     m.Len(),
		"queue_cap":     m.Cap(),
	}).Info("mailbox statistics")
}
