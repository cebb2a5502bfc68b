package view

import (
	"sync"
	"sync/atomic"
)

// Publisher holds the latest snapshot of one panel. Publish is called from the
// loop and runs subscribers there; Latest may be called from any goroutine.
type Publisher[T any] struct {
	latest atomic.Pointer[T]

	mu   sync.Mutex
	subs map[uint64]func(T)
	next uint64
}

// NewPublisher returns an empty publisher.
func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{subs: make(map[uint64]func(T))}
}

// Publish stores v and hands it to every subscriber.
func (p *Publisher[T]) Publish(v T) {
	p.latest.Store(&v)

	p.mu.Lock()
	subs := make([]func(T), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Latest returns the last published snapshot.
func (p *Publisher[T]) Latest() (T, bool) {
	if v := p.latest.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// Clear forgets the last snapshot.
func (p *Publisher[T]) Clear() {
	p.latest.Store(nil)
}

// OnSnapshot registers fn for future snapshots. The returned func removes it.
func (p *Publisher[T]) OnSnapshot(fn func(T)) (cancel func()) {
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}
