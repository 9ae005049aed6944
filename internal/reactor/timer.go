package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/nyxsys/reactor/internal/logging"
)

// Timer is a scheduled callback. Deadlines are wall-clock Unix milliseconds
// (time.Now().UnixMilli()), not readings of a monotonic clock; a backward
// clock step of more than an hour fires every scheduled timer (see
// TimerService.handleRead).
type Timer struct {
	seq       uint64 // tie-breaker for equal deadlines, assigned at creation
	deadline  int64  // ms
	period    int64  // ms; 0 = one-shot
	recurring bool
	cancelled int32 // atomic
	cb        func()
}

func (t *Timer) Cancelled() bool { return atomic.LoadInt32(&t.cancelled) != 0 }

// timerHeap is a min-heap ordered by deadline, ties broken by seq (stable
// identity). Cancellation is lazy (the cancelled flag is checked on pop),
// not an eager removal from the heap; see DESIGN.md.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(*Timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TimerService is a min-heap of timers keyed by wall-clock deadline, driven
// by a single OS timer descriptor registered as a Channel on its owning
// loop. All methods except Cancel-from-another-thread are confined to the
// owning loop's goroutine; cross-thread cancellation is routed through
// EventLoop.queueInLoop by the caller (EventLoop wraps this for callers).
type TimerService struct {
	loop       *EventLoop
	heap       timerHeap
	nextSeq    uint64
	fd         timerFd
	channel    *Channel
	previousNow int64 // ms, for clock-rollback detection
	log        logging.Logger
}

func newTimerService(loop *EventLoop) (*TimerService, error) {
	fd, err := newTimerFd()
	if err != nil {
		return nil, err
	}
	ts := &TimerService{loop: loop, fd: fd, log: loop.log}
	ts.channel = NewChannel(loop, fd.Fd())
	ts.channel.SetReadCallback(ts.handleRead)
	ts.channel.EnableReading()
	ts.previousNow = nowMs()
	return ts, nil
}

// AddTimer schedules cb to run after delayMs, optionally repeating every
// delayMs thereafter when recurring is true (period == delayMs).
func (ts *TimerService) AddTimer(delayMs int64, cb func(), recurring bool) *Timer {
	t := &Timer{
		seq:       atomic.AddUint64(&ts.nextSeq, 1),
		deadline:  nowMs() + delayMs,
		period:    delayMs,
		recurring: recurring,
		cb:        cb,
	}
	if !recurring {
		t.period = 0
	}
	ts.insert(t)
	return t
}

// AddTimerAt schedules cb to run at absolute deadline deadlineMs.
func (ts *TimerService) AddTimerAt(deadlineMs int64, cb func()) *Timer {
	t := &Timer{seq: atomic.AddUint64(&ts.nextSeq, 1), deadline: deadlineMs, cb: cb}
	ts.insert(t)
	return t
}

func (ts *TimerService) insert(t *Timer) {
	wasMin := ts.heap.Len() == 0 || t.deadline < ts.heap[0].deadline
	heap.Push(&ts.heap, t)
	if wasMin {
		if err := ts.fd.ArmAt(ts.heap[0].deadline); err != nil {
			ts.log.Logf(logging.Warn, "reactor: arm timer fd: %v", err)
		}
	}
}

// Cancel marks t cancelled. Must run on the owning loop; it is lazily
// removed from the heap the next time it would otherwise fire.
func (ts *TimerService) Cancel(t *Timer) {
	atomic.StoreInt32(&t.cancelled, 1)
}

// Close releases the OS timer descriptor.
func (ts *TimerService) Close() error {
	return ts.fd.Close()
}

func (ts *TimerService) handleRead(_ int64) {
	ts.fd.Drain()
	now := nowMs()

	// Clock-rollback detection: if now looks like it jumped backwards by
	// more than an hour, treat every scheduled timer as expired rather than
	// stall forever waiting for a deadline that will never arrive again.
	rolledBack := now < ts.previousNow-3600_000
	ts.previousNow = now

	var fired []*Timer
	for ts.heap.Len() > 0 && (rolledBack || ts.heap[0].deadline <= now) {
		t := heap.Pop(&ts.heap).(*Timer)
		fired = append(fired, t)
	}

	for _, t := range fired {
		if t.Cancelled() {
			continue
		}
		t.cb()
		if t.recurring && !t.Cancelled() {
			t.deadline = now + t.period
			heap.Push(&ts.heap, t)
		}
	}

	if ts.heap.Len() > 0 {
		if err := ts.fd.ArmAt(ts.heap[0].deadline); err != nil {
			ts.log.Logf(logging.Warn, "reactor: re-arm timer fd: %v", err)
		}
	} else {
		_ = ts.fd.Disarm()
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
