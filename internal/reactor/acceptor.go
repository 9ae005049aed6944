package reactor

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"

	rerrors "github.com/nyxsys/reactor/internal/errors"
	"github.com/nyxsys/reactor/internal/logging"
)

// Acceptor owns a listening socket bound to the configured address and a
// Channel over it, and runs only on the base loop.
type Acceptor struct {
	loop     *EventLoop
	log      logging.Logger
	fd       int
	channel  *Channel
	backlog  int
	listening int32

	tempAcceptErrors uint64

	// NewConnectionCallback is invoked with each accepted fd and its peer
	// address; it must hand the fd off (e.g. to a worker loop) quickly,
	// since it runs synchronously on the base loop.
	NewConnectionCallback func(fd int, peerAddr string)
}

// NewAcceptor creates (but does not yet start listening on) an Acceptor
// bound to addr, owned by loop.
func NewAcceptor(loop *EventLoop, addr string, backlog int, log logging.Logger) (*Acceptor, error) {
	if log == nil {
		log = logging.Default
	}
	if backlog <= 0 {
		backlog = 1024
	}
	fd, err := ListenSocket(addr, backlog)
	if err != nil {
		return nil, err
	}
	a := &Acceptor{loop: loop, log: log, fd: fd, backlog: backlog}
	a.channel = NewChannel(loop, fd)
	a.channel.SetReadCallback(a.handleRead)
	return a, nil
}

// Listen places the Acceptor in listening state by enabling read interest
// on the base loop. Must be called from the base loop's goroutine (e.g. via
// RunInLoop).
func (a *Acceptor) Listen() {
	atomic.StoreInt32(&a.listening, 1)
	a.channel.EnableReading()
}

// TempErrors returns the count of transient accept errors observed (e.g.
// EMFILE/ENFILE), exposed for diagnostics.
func (a *Acceptor) TempErrors() uint64 { return atomic.LoadUint64(&a.tempAcceptErrors) }

func (a *Acceptor) handleRead(_ int64) {
	for {
		connFd, peerAddr, err := AcceptOne(a.fd)
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return
			}
			if isAcceptResourceExhaustion(err) {
				atomic.AddUint64(&a.tempAcceptErrors, 1)
				a.log.Logf(logging.Warn, "reactor: accept: %v", rerrors.ResourceExhaustion(err))
				return
			}
			a.log.Logf(logging.Warn, "reactor: accept: %v", err)
			return
		}
		if a.NewConnectionCallback != nil {
			a.NewConnectionCallback(connFd, peerAddr)
		} else {
			_ = unix.Close(connFd)
		}
	}
}

func isAcceptResourceExhaustion(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) || errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.ENOMEM)
}

// Close closes the listening socket. Must run on the base loop.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	return unix.Close(a.fd)
}
