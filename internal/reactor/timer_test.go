package reactor

import (
	"sync"
	"testing"
	"time"
)

// TestTimerFireOrderAndCancellation covers scenario S5: schedule one-shot
// timers at 30ms, 10ms and 20ms; cancel the 20ms timer before the 10ms one
// has fired. Only the 10ms and 30ms timers should ever run, and they must
// fire in non-decreasing deadline order.
func TestTimerFireOrderAndCancellation(t *testing.T) {
	loop := startLoop(t)

	var mu sync.Mutex
	var fired []string

	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	loop.RunAfter(30*time.Millisecond, record("30ms"))
	t10 := loop.RunAfter(10*time.Millisecond, record("10ms"))
	t20 := loop.RunAfter(20*time.Millisecond, record("20ms"))

	loop.CancelTimer(t20)
	_ = t10

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) >= 2
	})
	// Give any wrongly-surviving 20ms timer a chance to fire too.
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 2 {
		t.Fatalf("fired = %v, want exactly [10ms 30ms]", fired)
	}
	if fired[0] != "10ms" || fired[1] != "30ms" {
		t.Fatalf("fire order = %v, want [10ms 30ms]", fired)
	}
}

func TestTimerCancelledBeforeDeadlineNeverFires(t *testing.T) {
	loop := startLoop(t)

	var fired int32
	tm := loop.RunAfter(20*time.Millisecond, func() { fired = 1 })
	loop.CancelTimer(tm)

	time.Sleep(60 * time.Millisecond)
	if fired != 0 {
		t.Fatal("cancelled timer fired")
	}
}

func TestTimerRecurringFiresMultipleTimes(t *testing.T) {
	loop := startLoop(t)

	var mu sync.Mutex
	count := 0
	tm := loop.RunEvery(5*time.Millisecond, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	})
	loop.CancelTimer(tm)

	mu.Lock()
	seenAtCancel := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count > seenAtCancel+1 {
		t.Fatalf("recurring timer kept firing after cancel: %d fires after cancel observed at %d", count, seenAtCancel)
	}
}
