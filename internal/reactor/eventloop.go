package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	rerrors "github.com/nyxsys/reactor/internal/errors"
	"github.com/nyxsys/reactor/internal/logging"
)

// DefaultPollTimeout is the per-iteration poll timeout used when no other
// value is configured.
const DefaultPollTimeout = 10 * time.Second

// EventLoop is a single-thread reactor: one Poller, one TimerService, a
// wakeup descriptor, and a mutex-guarded pending-task queue. Every method
// documented as loop-confined below must only be called from the
// goroutine that is running Loop(); the only two safe cross-thread entry
// points are RunInLoop and QueueInLoop.
type EventLoop struct {
	log    logging.Logger
	poller Poller
	timers *TimerService

	ownerGoid uint64
	started   int32

	wakeupR, wakeupW int
	wakeupChannel    *Channel

	mu      sync.Mutex
	pending []func()
	// draining is true while the loop is executing the pending-task batch
	// it just swapped out; tasks queued during that window still need a
	// wakeup write so the *next* iteration picks them up.
	draining bool

	quitFlag  int32
	iteration uint64

	activeChannels []*Channel
}

// NewEventLoop constructs a loop without starting it; call Loop to run.
func NewEventLoop(log logging.Logger) (*EventLoop, error) {
	if log == nil {
		log = logging.Default
	}
	poller, err := newPoller(log)
	if err != nil {
		return nil, err
	}
	r, w, err := newWakeupPipe()
	if err != nil {
		return nil, fmt.Errorf("reactor: create wakeup pipe: %w", err)
	}
	loop := &EventLoop{log: log, poller: poller, wakeupR: r, wakeupW: w}
	loop.wakeupChannel = NewChannel(loop, r)
	loop.wakeupChannel.SetReadCallback(loop.handleWakeupRead)
	return loop, nil
}

// Start finishes initialization that needs the loop object to exist (the
// timer service registers its own Channel on this loop) and enables the
// wakeup channel. Must be called once, before Loop. The goroutine calling
// Start counts as the owner only until Start returns; Loop then claims
// ownership for its own goroutine.
func (loop *EventLoop) Start() error {
	loop.ownerGoid = goid()
	atomic.StoreInt32(&loop.started, 1)
	defer atomic.StoreInt32(&loop.started, 0)
	loop.wakeupChannel.EnableReading()
	ts, err := newTimerService(loop)
	if err != nil {
		return err
	}
	loop.timers = ts
	return nil
}

// Loop runs until Quit is called. Each iteration: poll (up to
// DefaultPollTimeout) -> dispatch each ready Channel in the order the
// Poller returned them -> execute every task queued before this drain
// began.
func (loop *EventLoop) Loop() {
	loop.ownerGoid = goid()
	atomic.StoreInt32(&loop.started, 1)

	for atomic.LoadInt32(&loop.quitFlag) == 0 {
		loop.activeChannels = loop.activeChannels[:0]
		wakeAt, err := loop.poller.Poll(int(DefaultPollTimeout.Milliseconds()), &loop.activeChannels)
		if err != nil {
			loop.log.Logf(logging.Warn, "reactor: poll: %v", err)
		}
		loop.iteration++

		for _, c := range loop.activeChannels {
			c.handleEvent(wakeAt)
		}

		loop.doPendingTasks()
	}
}

func (loop *EventLoop) doPendingTasks() {
	loop.mu.Lock()
	tasks := loop.pending
	loop.pending = nil
	loop.draining = true
	loop.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}

	loop.mu.Lock()
	loop.draining = false
	loop.mu.Unlock()
}

// IsInLoopGoroutine reports whether the caller is running on this loop's
// own goroutine.
func (loop *EventLoop) IsInLoopGoroutine() bool {
	return atomic.LoadInt32(&loop.started) == 1 && goid() == loop.ownerGoid
}

func (loop *EventLoop) assertInLoopGoroutine(what string) {
	if !loop.IsInLoopGoroutine() {
		panic(rerrors.InvariantViolation(fmt.Sprintf("%s called from outside its owning loop goroutine", what)))
	}
}

// RunInLoop runs fn immediately if called from the owning goroutine,
// otherwise enqueues it and wakes the loop.
func (loop *EventLoop) RunInLoop(fn func()) {
	if loop.IsInLoopGoroutine() {
		fn()
		return
	}
	loop.QueueInLoop(fn)
}

// QueueInLoop always enqueues fn, FIFO with respect to every other task
// queued from any thread, and wakes the loop if the caller is on another
// goroutine or the loop is currently draining its pending-task batch (so a
// task that queues another task still gets picked up next iteration).
func (loop *EventLoop) QueueInLoop(fn func()) {
	loop.mu.Lock()
	loop.pending = append(loop.pending, fn)
	needWake := !loop.IsInLoopGoroutine() || loop.draining
	loop.mu.Unlock()

	if needWake {
		loop.wakeup()
	}
}

func (loop *EventLoop) wakeup() {
	var b [8]byte
	b[0] = 1
	if err := writeWakeup(loop.wakeupW, b[:]); err != nil {
		loop.log.Logf(logging.Warn, "reactor: wakeup write: %v", err)
	}
}

func (loop *EventLoop) handleWakeupRead(_ int64) {
	drainWakeup(loop.wakeupR)
}

// RunAfter, RunEvery, RunAt delegate to the loop's TimerService.
func (loop *EventLoop) RunAfter(delay time.Duration, fn func()) *Timer {
	return loop.timers.AddTimer(delay.Milliseconds(), fn, false)
}

func (loop *EventLoop) RunEvery(period time.Duration, fn func()) *Timer {
	return loop.timers.AddTimer(period.Milliseconds(), fn, true)
}

func (loop *EventLoop) RunAt(at time.Time, fn func()) *Timer {
	return loop.timers.AddTimerAt(at.UnixMilli(), fn)
}

// CancelTimer cancels t. Safe from any goroutine: on the owning loop it
// takes effect immediately; otherwise it is routed through QueueInLoop and
// takes effect by the next iteration.
func (loop *EventLoop) CancelTimer(t *Timer) {
	loop.RunInLoop(func() { loop.timers.Cancel(t) })
}

// UpdateChannel, RemoveChannel, HasChannel are only legal from the owning
// goroutine.
func (loop *EventLoop) updateChannel(c *Channel) {
	loop.assertInLoopGoroutine("UpdateChannel")
	if err := loop.poller.UpdateChannel(c); err != nil {
		loop.log.Logf(logging.Warn, "reactor: update channel fd=%d: %v", c.fd, err)
	}
}

func (loop *EventLoop) removeChannel(c *Channel) {
	loop.assertInLoopGoroutine("RemoveChannel")
	if err := loop.poller.RemoveChannel(c); err != nil {
		loop.log.Logf(logging.Warn, "reactor: remove channel fd=%d: %v", c.fd, err)
	}
}

// HasChannel reports whether c is currently registered with this loop's
// poller. Used as a destruction-time safety check: a Channel must be
// removed from its loop before it is discarded.
func (loop *EventLoop) HasChannel(c *Channel) bool {
	loop.assertInLoopGoroutine("HasChannel")
	return loop.poller.HasChannel(c)
}

// Quit sets the loop's quit flag. Called from another goroutine, it also
// writes to the wakeup descriptor so Poll returns promptly instead of
// waiting out the full poll timeout.
func (loop *EventLoop) Quit() {
	atomic.StoreInt32(&loop.quitFlag, 1)
	if !loop.IsInLoopGoroutine() {
		loop.wakeup()
	}
}

// Close releases the loop's own descriptors (wakeup pipe, timer fd, and
// the poller). Call only after Loop has returned.
func (loop *EventLoop) Close() error {
	if loop.timers != nil {
		_ = loop.timers.Close()
	}
	closeWakeupPipe(loop.wakeupR, loop.wakeupW)
	return loop.poller.Close()
}
