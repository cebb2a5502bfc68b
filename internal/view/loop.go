// Package view owns the presentation context: a single goroutine that runs
// every state mutation, and publishers that expose immutable snapshots.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"marketdash/internal/channel"
	"marketdash/logger"
)

// ErrLoopClosed is returned by Invoke once the loop has stopped.
var ErrLoopClosed = errors.New("presentation loop closed")

// Loop runs posted tasks one at a time, in posting order, on the goroutine
// that called Run.
type Loop struct {
	mailbox *channel.Mailbox
	log     *logger.Log

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// NewLoop creates a loop with room for size pending tasks.
func NewLoop(size int) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		mailbox: channel.NewMailbox("presentation", size),
		log:     logger.GetLogger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Mailbox exposes the task queue, e.g. for statistics.
func (l *Loop) Mailbox() *channel.Mailbox {
	return l.mailbox
}

// Run executes tasks until ctx ends. Tasks still queued at that point are
// discarded. A panicking task is logged and does not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("presentation loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.cancel()
		l.mailbox.Close()
	}()

	log := l.log.WithComponent("view_loop")
	log.Info("presentation loop started")

	for {
		select {
		case <-ctx.Done():
			log.WithFields(logger.Fields{"pending": l.mailbox.Len()}).Info("presentation loop stopped")
			return ctx.Err()
		case <-l.ctx.Done():
			return nil
		case task := <-l.mailbox.Tasks():
			l.run(task)
		}
	}
}

func (l *Loop) run(task channel.Task) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithComponent("view_loop").WithFields(logger.Fields{"panic": fmt.Sprint(r)}).Error("presentation task panicked")
		}
	}()
	task()
}

// Post queues task, waiting for room. It reports false once the loop stopped.
func (l *Loop) Post(task func()) bool {
	return l.mailbox.Send(l.ctx, task)
}

// TryPost queues task only if there is room right now; a full mailbox drops
// it and counts the drop.
func (l *Loop) TryPost(task func()) bool {
	return l.mailbox.TrySend(task)
}

// Invoke runs task on the loop and waits for its result. It must not be
// called from a task.
func (l *Loop) Invoke(ctx context.Context, task func() error) error {
	result := make(chan error, 1)
	if !l.mailbox.Send(ctx, func() { result <- task() }) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrLoopClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopClosed
		}
	}
}

// Close stops the loop without a context, e.g. in tests.
func (l *Loop) Close() {
	l.cancel()
	l.mailbox.Close()
}
