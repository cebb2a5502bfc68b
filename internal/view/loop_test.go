package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		if !l.Post(func() { got = append(got, i) }) {
			t.Fatalf("Post %d failed", i)
		}
	}

	var snapshot []int
	if err := l.Invoke(context.Background(), func() error {
		snapshot = append([]int(nil), got...)
		return nil
	}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(snapshot) != 10 {
		t.Fatalf("expected 10 tasks, got %d", len(snapshot))
	}
	for i, v := range snapshot {
		if v != i {
			t.Fatalf("tasks out of order: %v", snapshot)
		}
	}
}

func TestLoopInvokeReturnsTaskError(t *testing.T) {
	l, _ := startLoop(t)
	want := errors.New("boom")
	if err := l.Invoke(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestLoopSurvivesPanics(t *testing.T) {
	l, _ := startLoop(t)
	l.Post(func() { panic("bad task") })
	if err := l.Invoke(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("loop should keep running after a panic: %v", err)
	}
}

func TestLoopPostAfterStop(t *testing.T) {
	l := NewLoop(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected Run error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	if l.Post(func() {}) {
		t.Fatal("Post should fail after the loop stopped")
	}
	if err := l.Invoke(context.Background(), func() error { return nil }); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("expected ErrLoopClosed, got %v", err)
	}
	if err := l.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
}

func TestLoopSerializesConcurrentPosts(t *testing.T) {
	l, _ := startLoop(t)

	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.Post(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	var got int
	l.Invoke(context.Background(), func() error {
		got = counter
		return nil
	})
	if got != 800 {
		t.Fatalf("expected 800 increments, got %d", got)
	}
}

func TestPublisher(t *testing.T) {
	p := NewPublisher[int]()
	if _, ok := p.Latest(); ok {
		t.Fatal("new publisher should be empty")
	}

	var seen []int
	cancel := p.OnSnapshot(func(v int) { seen = append(seen, v) })
	p.Publish(1)
	p.Publish(2)
	cancel()
	p.Publish(3)

	if v, ok := p.Latest(); !ok || v != 3 {
		t.Fatalf("unexpected latest %d %v", v, ok)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("unexpected callbacks: %v", seen)
	}

	p.Clear()
	if _, ok := p.Latest(); ok {
		t.Fatal("Clear should drop the snapshot")
	}
}

func TestLoopTryPostDropsWhenFull(t *testing.T) {
	l := NewLoop(1)
	if !l.TryPost(func() {}) {
		t.Fatal("first TryPost should fit")
	}
	if l.TryPost(func() {}) {
		t.Fatal("second TryPost should be dropped")
	}
	if stats := l.Mailbox().GetStats(); stats.Dropped != 1 {
		t.Fatalf("expected one drop, got %+v", stats)
	}
}
