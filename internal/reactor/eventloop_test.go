package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nyxsys/reactor/internal/logging"
)

func startLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := NewEventLoop(logging.Default)
	if err != nil {
		t.Fatalf("NewEventLoop: %v", err)
	}
	if err := loop.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	go loop.Loop()
	t.Cleanup(func() {
		loop.Quit()
		waitUntil(t, func() bool { return atomic.LoadInt32(&loop.started) == 1 })
		_ = loop.Close()
	})
	waitUntil(t, func() bool { return atomic.LoadInt32(&loop.started) == 1 })
	return loop
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not satisfied before deadline")
	}
}

func TestEventLoopRunInLoopFromOtherGoroutineRunsOnce(t *testing.T) {
	loop := startLoop(t)

	var calls int32
	var ranOnOwner int32
	done := make(chan struct{})
	loop.RunInLoop(func() {
		atomic.AddInt32(&calls, 1)
		if loop.IsInLoopGoroutine() {
			atomic.StoreInt32(&ranOnOwner, 1)
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunInLoop callback never ran")
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("callback ran %d times, want 1", got)
	}
	if atomic.LoadInt32(&ranOnOwner) != 1 {
		t.Fatal("callback did not run on the loop's owning goroutine")
	}
}

func TestEventLoopNoConcurrentCallbacks(t *testing.T) {
	loop := startLoop(t)

	var inFlight int32
	var violated int32
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		loop.QueueInLoop(func() {
			defer wg.Done()
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.StoreInt32(&violated, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		})
	}

	doneCh := make(chan struct{})
	go func() { wg.Wait(); close(doneCh) }()
	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("queued tasks never completed")
	}

	if atomic.LoadInt32(&violated) != 0 {
		t.Fatal("observed concurrent execution of callbacks on the same loop")
	}
}

func TestEventLoopIsInLoopGoroutine(t *testing.T) {
	loop := startLoop(t)
	if loop.IsInLoopGoroutine() {
		t.Fatal("test goroutine incorrectly reported as loop goroutine")
	}
}
