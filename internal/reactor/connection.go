package reactor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	rerrors "github.com/nyxsys/reactor/internal/errors"
	"github.com/nyxsys/reactor/internal/logging"
)

// ConnState is a Connection's lifecycle state. Transitions are monotone:
// Connecting -> Connected -> Disconnecting -> Disconnected (Disconnecting
// may be skipped on a forced or erroring close).
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultHighWaterMark is the default 64 MiB output-buffer threshold.
const DefaultHighWaterMark = 64 << 20

// readChunk is how many bytes of tail capacity Connection reserves per
// readv call.
const readChunk = 64 * 1024

// Connection is the per-socket state machine: a Channel plus an input and
// an output Buffer. All of its loop-confined methods run only on its
// owning loop; Send, Shutdown, and ForceClose are safe from any goroutine
// and marshal themselves onto the owning loop via RunInLoop.
type Connection struct {
	name string
	loop *EventLoop
	log  logging.Logger
	fd   int

	peerAddr string

	channel *Channel
	input   *Buffer
	output  *Buffer

	state int32 // atomic ConnState

	highWaterMark     int
	highWaterMarkHigh bool // true once output has crossed the mark, until it drains below

	faulted int32 // atomic bool: send path hit a fatal socket error

	alive int32 // atomic bool, backs the Channel's lifetime tie

	mu      sync.Mutex
	context map[string]any

	ConnectionCallback     func(c *Connection)
	MessageCallback        func(c *Connection, recvTimeUnixNano int64)
	WriteCompleteCallback  func(c *Connection)
	HighWaterMarkCallback  func(c *Connection, bufferedBytes int)
	CloseCallback          func(c *Connection) // internal: server bookkeeping
}

// NewConnection creates a Connection in the Connecting state, wrapping fd
// on loop. The caller must still wire callbacks and then call
// ConnectEstablished (directly if already on loop, or via RunInLoop).
func NewConnection(loop *EventLoop, name string, fd int, peerAddr string, chunkSize int, highWaterMark int, log logging.Logger) *Connection {
	if log == nil {
		log = logging.Default
	}
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	c := &Connection{
		name:          name,
		loop:          loop,
		log:           log,
		fd:            fd,
		peerAddr:      peerAddr,
		input:         NewBuffer(chunkSize),
		output:        NewBuffer(chunkSize),
		highWaterMark: highWaterMark,
		alive:         1,
	}
	c.state = int32(StateConnecting)
	_ = unix.SetNonblock(fd, true)
	c.channel = NewChannel(loop, fd)
	c.channel.Tie(c)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	return c
}

func (c *Connection) Name() string    { return c.name }
func (c *Connection) PeerAddr() string { return c.peerAddr }
func (c *Connection) Loop() *EventLoop { return c.loop }
func (c *Connection) Fd() int          { return c.fd }
func (c *Connection) Input() *Buffer   { return c.input }
func (c *Connection) Output() *Buffer  { return c.output }

// SetHighWaterMark updates the output-buffer threshold used for future
// HighWaterMarkCallback excursions. Safe from any goroutine; the mutation
// itself is marshalled onto the owning loop since highWaterMark is only
// ever read there.
func (c *Connection) SetHighWaterMark(n int) {
	if n <= 0 {
		return
	}
	c.loop.RunInLoop(func() { c.highWaterMark = n })
}

func (c *Connection) State() ConnState { return ConnState(atomic.LoadInt32(&c.state)) }
func (c *Connection) setState(s ConnState) { atomic.StoreInt32(&c.state, int32(s)) }

// Alive implements the Channel lifetime tie: once false, no further event
// is dispatched to this Connection's callbacks.
func (c *Connection) Alive() bool { return atomic.LoadInt32(&c.alive) == 1 }

// SetContext / Context attach an arbitrary debug/application attribute to
// the connection (httpd.Server, for example, stores each connection's
// Session here).
func (c *Connection) SetContext(key string, value any) {
	c.mu.Lock()
	if c.context == nil {
		c.context = make(map[string]any)
	}
	c.context[key] = value
	c.mu.Unlock()
}

func (c *Connection) Context(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.context[key]
	return v, ok
}

// ConnectEstablished transitions Connecting -> Connected, enables read
// interest, and fires the user connection callback. Must run on the
// owning loop.
func (c *Connection) ConnectEstablished() {
	c.loop.assertInLoopGoroutine("Connection.ConnectEstablished")
	if c.State() != StateConnecting {
		return
	}
	c.setState(StateConnected)
	c.channel.EnableReading()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
}

// ConnectDestroyed removes the Channel from the Poller and marks the
// Connection dead, suppressing any event fired after this point. Must run
// on the owning loop, and only after the state machine has reached
// Disconnected.
func (c *Connection) ConnectDestroyed() {
	c.loop.assertInLoopGoroutine("Connection.ConnectDestroyed")
	if c.State() == StateConnected {
		c.setState(StateDisconnected)
	}
	c.channel.DisableAll()
	c.channel.Remove()
	atomic.StoreInt32(&c.alive, 0)
	_ = unix.Close(c.fd)
}

// Send queues data for writing, flushing synchronously when possible. Safe
// from any goroutine.
func (c *Connection) Send(data []byte) {
	if c.State() != StateConnected {
		c.log.Logf(logging.Warn, "reactor: Send on %s in state %s, dropping %d bytes", c.name, c.State(), len(data))
		return
	}
	cp := append([]byte(nil), data...)
	c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

func (c *Connection) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		return
	}
	var (
		nwrote int
		faultErr error
	)
	if !c.channel.IsWriting() && c.output.Readable() == 0 {
		n, err := unix.Write(c.fd, data)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
				faultErr = err
			}
		} else {
			nwrote = n
			if nwrote == len(data) && c.WriteCompleteCallback != nil {
				c.loop.QueueInLoop(func() { c.WriteCompleteCallback(c) })
			}
		}
	}

	if faultErr != nil {
		if isFatalSocketError(faultErr) {
			atomic.StoreInt32(&c.faulted, 1)
			c.log.Logf(logging.Warn, "reactor: %s: %v", c.name, rerrors.FatalSocket("send", faultErr))
			c.handleError()
		} else {
			c.log.Logf(logging.Warn, "reactor: %s: write error: %v", c.name, faultErr)
		}
		return
	}

	if nwrote < len(data) {
		before := c.output.Readable()
		c.output.Write(data[nwrote:])
		after := c.output.Readable()
		if before < c.highWaterMark && after >= c.highWaterMark && !c.highWaterMarkHigh {
			c.highWaterMarkHigh = true
			if c.HighWaterMarkCallback != nil {
				cb := c.HighWaterMarkCallback
				c.loop.QueueInLoop(func() { cb(c, after) })
			}
		}
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

// SendBuffer sends the entirety of buf's readable region and marks it
// consumed. The region is gathered with GatherRead and copied into one
// contiguous slice, which then takes the same path as Send; it is not
// handed to the kernel as a vectored write. Must be called from the owning
// loop (wrap in RunInLoop otherwise).
func (c *Connection) SendBuffer(buf *Buffer) {
	n := buf.Readable()
	if n == 0 {
		return
	}
	iovs, err := buf.GatherRead(n)
	if err != nil {
		c.log.Logf(logging.Warn, "reactor: %s: gatherRead for send: %v", c.name, err)
		return
	}
	data := make([]byte, 0, n)
	for _, iov := range iovs {
		data = append(data, iov...)
	}
	_ = buf.Discard(n)
	c.loop.RunInLoop(func() { c.sendInLoop(data) })
}

// SendFile streams count bytes (0 means until EOF) from fileFd starting at
// offset directly to the socket, bypassing the output Buffer entirely. On
// Linux this uses splice(2) through an intermediate pipe for a zero-copy
// transfer; elsewhere it falls back to a read/write loop. Must only be
// called while the connection is Connected and idle (no other writer
// concurrently using the socket), since it blocks the calling goroutine
// for the duration of the transfer rather than integrating with the
// loop's write-readiness dispatch.
func (c *Connection) SendFile(fileFd int, offset, count int64) (int64, error) {
	if c.State() != StateConnected {
		return 0, rerrors.InvariantViolation("SendFile called on a non-Connected connection")
	}
	return spliceFileToFd(c.fd, fileFd, offset, count)
}

// Shutdown moves Connected -> Disconnecting, half-closing the write side
// once the output buffer has drained. Safe from any goroutine.
func (c *Connection) Shutdown() {
	c.loop.RunInLoop(func() {
		if c.State() != StateConnected {
			return
		}
		c.setState(StateDisconnecting)
		if !c.channel.IsWriting() {
			c.shutdownWrite()
		}
	})
}

func (c *Connection) shutdownWrite() {
	_ = unix.Shutdown(c.fd, unix.SHUT_WR)
}

// ForceClose immediately disables all events and fires the close callback,
// regardless of pending output. Safe from any goroutine.
func (c *Connection) ForceClose() {
	c.loop.RunInLoop(func() {
		if c.State() == StateConnected || c.State() == StateDisconnecting {
			c.handleClose()
		}
	})
}

// ForceCloseWithDelay arranges ForceClose to run after d, using a weak
// self-reference (the timer callback checks Alive before doing anything)
// so a Connection destroyed before the timer fires is not resurrected.
func (c *Connection) ForceCloseWithDelay(d time.Duration) {
	weak := c
	c.loop.RunAfter(d, func() {
		if weak.Alive() {
			weak.ForceClose()
		}
	})
}

func (c *Connection) handleRead(_ int64) {
	for {
		iovs := c.input.GatherWrite(readChunk)
		n, err := unix.Readv(c.fd, iovs)
		if n > 0 {
			c.input.CommitWrite(n)
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				break
			}
			if errors.Is(err, unix.ECONNRESET) {
				c.handleError()
				return
			}
			c.log.Logf(logging.Warn, "reactor: %s: read: %v", c.name, err)
			c.handleError()
			return
		}
		if n == 0 {
			c.handleClose()
			return
		}
		if c.MessageCallback != nil {
			c.MessageCallback(c, time.Now().UnixNano())
		}
		if n < totalLen(iovs) {
			break
		}
	}
}

func totalLen(iovs [][]byte) int {
	n := 0
	for _, b := range iovs {
		n += len(b)
	}
	return n
}

func (c *Connection) handleWrite() {
	if !c.channel.IsWriting() {
		return
	}
	n := c.output.Readable()
	if n == 0 {
		c.channel.DisableWriting()
		return
	}
	iovs, err := c.output.GatherRead(n)
	if err != nil {
		c.log.Logf(logging.Warn, "reactor: %s: gatherRead on write: %v", c.name, err)
		return
	}
	written, werr := unix.Writev(c.fd, iovs)
	if written > 0 {
		_ = c.output.Discard(written)
	}
	if werr != nil {
		if errors.Is(werr, unix.EAGAIN) || errors.Is(werr, unix.EWOULDBLOCK) {
			return
		}
		if isFatalSocketError(werr) {
			atomic.StoreInt32(&c.faulted, 1)
			c.handleError()
			return
		}
		c.log.Logf(logging.Warn, "reactor: %s: write: %v", c.name, werr)
		return
	}
	if c.output.Readable() == 0 {
		c.channel.DisableWriting()
		c.highWaterMarkHigh = false
		if c.WriteCompleteCallback != nil {
			c.WriteCompleteCallback(c)
		}
		if c.State() == StateDisconnecting {
			c.shutdownWrite()
		}
	}
}

func (c *Connection) handleClose() {
	if c.State() == StateDisconnected {
		return
	}
	c.setState(StateDisconnected)
	c.channel.DisableAll()
	if c.CloseCallback != nil {
		c.CloseCallback(c)
	}
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
}

func (c *Connection) handleError() {
	c.handleClose()
}

func isFatalSocketError(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
