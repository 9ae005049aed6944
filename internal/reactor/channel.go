package reactor

import (
	"sync/atomic"

	rerrors "github.com/nyxsys/reactor/internal/errors"
)

// EventMask is a bitset of readiness conditions reported by a Poller.
type EventMask uint32

const (
	EventNone     EventMask = 0
	EventReadable EventMask = 1 << iota
	EventWritable
	EventError
	EventClose // peer hang-up (HUP) with no further readable data
)

func (m EventMask) has(bit EventMask) bool { return m&bit != 0 }

// pollerState tags where a Channel sits in its Poller's bookkeeping.
type pollerState int

const (
	stateNew pollerState = iota
	stateAdded
	stateDeleted
)

// lifetimeTie lets a Channel suppress delivery of events fired after its
// logical owner (typically a *Connection) has gone away, without the
// Channel itself needing to know about Connection. It mirrors a weak
// reference: Alive reports whether the owner is still live.
type lifetimeTie interface {
	Alive() bool
}

// Channel binds one file descriptor to its interested-event mask and up to
// four callbacks within exactly one owning EventLoop. No Channel survives
// its owning loop, and every mutation of a Channel's mask happens on the
// owning loop's goroutine.
type Channel struct {
	fd     int
	loop   *EventLoop
	events EventMask // interested events
	revents EventMask // last reported events, set by the Poller before dispatch

	state pollerState
	index int // Poller-private slot, e.g. epoll interest-list position

	tie lifetimeTie

	onRead  func(when int64)
	onWrite func()
	onClose func()
	onError func()

	handling int32 // atomic re-entrancy guard for handleEvent
}

// NewChannel creates a Channel for fd on loop with no interest and no
// callbacks set. Callbacks and interest are configured before the first
// Update call.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{fd: fd, loop: loop, state: stateNew, index: -1}
}

func (c *Channel) Fd() int { return c.fd }

// SetReadCallback, SetWriteCallback, SetCloseCallback, SetErrorCallback wire
// the four dispatch targets. Must be called before the Channel is added to
// the Poller, or from the owning loop thereafter.
func (c *Channel) SetReadCallback(fn func(when int64)) { c.onRead = fn }
func (c *Channel) SetWriteCallback(fn func())          { c.onWrite = fn }
func (c *Channel) SetCloseCallback(fn func())          { c.onClose = fn }
func (c *Channel) SetErrorCallback(fn func())          { c.onError = fn }

// Tie binds a weak lifetime reference; events that arrive after tie.Alive()
// reports false are dropped without invoking any callback.
func (c *Channel) Tie(tie lifetimeTie) { c.tie = tie }

// EnableReading / EnableWriting / DisableWriting / DisableAll mutate the
// interest mask and push the change to the owning loop's Poller. All must
// run on the owning loop's goroutine; callers crossing threads must go
// through EventLoop.RunInLoop.
func (c *Channel) EnableReading() {
	c.events |= EventReadable
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= EventWritable
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= EventWritable
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) IsWriting() bool { return c.events.has(EventWritable) }
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

func (c *Channel) update() {
	c.loop.updateChannel(c)
}

// Remove detaches the Channel from its loop's Poller. The caller must have
// already disabled all interest; Remove asserts this.
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		panic(rerrors.InvariantViolation("Channel.Remove called with non-empty interest set"))
	}
	c.loop.removeChannel(c)
}

// setRevents is called by the Poller before the Channel is dispatched.
func (c *Channel) setRevents(m EventMask) { c.revents = m }

// handleEvent dispatches the last-reported mask to callbacks in order:
// close, error, read, write. It must not be invoked re-entrantly for the
// same Channel.
func (c *Channel) handleEvent(when int64) {
	if !atomic.CompareAndSwapInt32(&c.handling, 0, 1) {
		panic(rerrors.InvariantViolation("Channel.handleEvent invoked re-entrantly"))
	}
	defer atomic.StoreInt32(&c.handling, 0)

	if c.tie != nil && !c.tie.Alive() {
		return
	}

	rev := c.revents
	if rev.has(EventClose) && !rev.has(EventReadable) {
		if c.onClose != nil {
			c.onClose()
		}
	}
	if rev.has(EventError) {
		if c.onError != nil {
			c.onError()
		}
	}
	if rev.has(EventReadable) || rev.has(EventClose) {
		if c.onRead != nil {
			c.onRead(when)
		}
	}
	if rev.has(EventWritable) {
		if c.onWrite != nil {
			c.onWrite()
		}
	}
}
