//go:build linux
// +build linux

package reactor

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// linuxTimerFd wraps a real Linux timerfd, identical in spirit to the
// teacher's epoll backend: one kernel object, read via the normal Channel
// read path, draining the 8-byte expiration counter each time it fires.
type linuxTimerFd struct {
	fd int
}

func newTimerFd() (timerFd, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &linuxTimerFd{fd: fd}, nil
}

func (t *linuxTimerFd) Fd() int { return t.fd }

func (t *linuxTimerFd) ArmAt(deadlineMs int64) error {
	d := time.Until(time.UnixMilli(deadlineMs))
	if d <= 0 {
		d = time.Microsecond
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

func (t *linuxTimerFd) Disarm() error {
	var spec unix.ItimerSpec
	return unix.TimerfdSettime(t.fd, 0, &spec, nil)
}

func (t *linuxTimerFd) Drain() {
	var buf [8]byte
	for {
		n, err := unix.Read(t.fd, buf[:])
		if err != nil || n != 8 {
			return
		}
		_ = binary.LittleEndian.Uint64(buf[:])
	}
}

func (t *linuxTimerFd) Close() error {
	return unix.Close(t.fd)
}
