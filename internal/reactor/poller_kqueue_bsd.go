//go:build darwin || freebsd || netbsd || openbsd
// +build darwin freebsd netbsd openbsd

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nyxsys/reactor/internal/logging"
)

// kqueuePoller is the BSD/Darwin Poller backend. Each Channel maps to up to
// two kevent filters (EVFILT_READ, EVFILT_WRITE) registered or withdrawn
// together whenever its interest mask changes.
type kqueuePoller struct {
	kq     int
	events []unix.Kevent_t
	byFd   map[int]*Channel
	log    logging.Logger
}

func newOSPoller(log logging.Logger) (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	return &kqueuePoller{
		kq:     fd,
		events: make([]unix.Kevent_t, 64),
		byFd:   make(map[int]*Channel),
		log:    log,
	}, nil
}

func (p *kqueuePoller) apply(c *Channel) error {
	var changes []unix.Kevent_t
	readFlag := uint16(unix.EV_DELETE)
	if c.events.has(EventReadable) {
		// EV_CLEAR gives read readiness edge-triggered semantics, matching
		// the Channel contract.
		readFlag = unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(c.fd), Filter: unix.EVFILT_READ, Flags: readFlag})

	writeFlag := uint16(unix.EV_DELETE)
	if c.events.has(EventWritable) {
		writeFlag = unix.EV_ADD | unix.EV_ENABLE
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(c.fd), Filter: unix.EVFILT_WRITE, Flags: writeFlag})

	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) UpdateChannel(c *Channel) error {
	op, next := nextPollerState(c.state, c.IsNoneEvent())
	if err := p.apply(c); err != nil {
		p.log.Logf(logging.Warn, "kqueue: %s fd=%d: %v", op, c.fd, err)
		return err
	}
	if op == "add" {
		p.byFd[c.fd] = c
	}
	c.state = next
	return nil
}

func (p *kqueuePoller) RemoveChannel(c *Channel) error {
	if c.state == stateAdded {
		del := []unix.Kevent_t{
			{Ident: uint64(c.fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
			{Ident: uint64(c.fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
		}
		if _, err := unix.Kevent(p.kq, del, nil, nil); err != nil {
			p.log.Logf(logging.Warn, "kqueue: del fd=%d: %v", c.fd, err)
		}
	}
	delete(p.byFd, c.fd)
	c.state = stateNew
	return nil
}

func (p *kqueuePoller) HasChannel(c *Channel) bool {
	tracked, ok := p.byFd[c.fd]
	return ok && tracked == c
}

func (p *kqueuePoller) Poll(timeoutMs int, active *[]*Channel) (int64, error) {
	var ts unix.Timespec
	if timeoutMs >= 0 {
		d := time.Duration(timeoutMs) * time.Millisecond
		ts = unix.NsecToTimespec(d.Nanoseconds())
	}
	var tsp *unix.Timespec
	if timeoutMs >= 0 {
		tsp = &ts
	}
	n, err := unix.Kevent(p.kq, nil, p.events, tsp)
	wakeAt := time.Now().UnixNano()
	if err != nil {
		if err == unix.EINTR {
			return wakeAt, nil
		}
		return wakeAt, fmt.Errorf("kevent: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		c, ok := p.byFd[int(ev.Ident)]
		if !ok {
			continue
		}
		var m EventMask
		if ev.Flags&unix.EV_ERROR != 0 {
			m |= EventError
		}
		if ev.Filter == unix.EVFILT_READ {
			m |= EventReadable
			if ev.Flags&unix.EV_EOF != 0 {
				m |= EventClose
			}
		}
		if ev.Filter == unix.EVFILT_WRITE {
			m |= EventWritable
		}
		c.setRevents(m)
		*active = append(*active, c)
	}
	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, len(p.events)*2)
	}
	return wakeAt, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
