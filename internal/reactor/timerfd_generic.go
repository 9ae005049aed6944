//go:build !linux
// +build !linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pipeTimerFd emulates a timer descriptor on platforms without timerfd
// (everything but Linux) using a self-pipe and a time.Timer, the same
// framing the wakeup descriptor uses elsewhere: an 8-byte write signals
// the read end, which the Channel's read callback drains.
type pipeTimerFd struct {
	mu    sync.Mutex
	r, w  int
	timer *time.Timer
}

func newTimerFd() (timerFd, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &pipeTimerFd{r: fds[0], w: fds[1]}, nil
}

func (t *pipeTimerFd) Fd() int { return t.r }

func (t *pipeTimerFd) ArmAt(deadlineMs int64) error {
	d := time.Until(time.UnixMilli(deadlineMs))
	if d <= 0 {
		d = time.Microsecond
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	w := t.w
	t.timer = time.AfterFunc(d, func() {
		var b [8]byte
		b[0] = 1
		_, _ = unix.Write(w, b[:])
	})
	return nil
}

func (t *pipeTimerFd) Disarm() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return nil
}

func (t *pipeTimerFd) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(t.r, buf[:])
		if err != nil || n <= 0 {
			return
		}
	}
}

func (t *pipeTimerFd) Close() error {
	_ = t.Disarm()
	_ = unix.Close(t.r)
	_ = unix.Close(t.w)
	return nil
}
