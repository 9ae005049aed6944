//go:build linux
// +build linux

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nyxsys/reactor/internal/logging"
)

// epollPoller is the Linux Poller backend. Read interest is registered
// edge-triggered (EPOLLET) per the Channel contract; write interest is
// level-triggered.
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
	byFd   map[int]*Channel
	log    logging.Logger
}

func newOSPoller(log logging.Logger) (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &epollPoller{
		epfd:   fd,
		events: make([]unix.EpollEvent, 64),
		byFd:   make(map[int]*Channel),
		log:    log,
	}, nil
}

func toEpollMask(m EventMask) uint32 {
	var ev uint32
	if m.has(EventReadable) {
		ev |= unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP | unix.EPOLLET
	}
	if m.has(EventWritable) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpollMask(ev uint32) EventMask {
	var m EventMask
	if ev&(unix.EPOLLHUP) != 0 && ev&unix.EPOLLIN == 0 {
		m |= EventClose
	}
	if ev&(unix.EPOLLERR) != 0 {
		m |= EventError
	}
	if ev&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		m |= EventReadable
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= EventWritable
	}
	return m
}

func (p *epollPoller) UpdateChannel(c *Channel) error {
	op, next := nextPollerState(c.state, c.IsNoneEvent())
	ev := unix.EpollEvent{Events: toEpollMask(c.events)}
	ev.Fd = int32(c.fd)

	var err error
	switch op {
	case "add":
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, c.fd, &ev)
		if err == nil {
			p.byFd[c.fd] = c
		}
	case "mod":
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev)
	case "del":
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	}
	if err != nil {
		p.log.Logf(logging.Warn, "epoll: %s fd=%d: %v", op, c.fd, err)
		return err
	}
	c.state = next
	return nil
}

func (p *epollPoller) RemoveChannel(c *Channel) error {
	if c.state == stateAdded {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, c.fd, nil); err != nil {
			p.log.Logf(logging.Warn, "epoll: del fd=%d: %v", c.fd, err)
		}
	}
	delete(p.byFd, c.fd)
	c.state = stateNew
	return nil
}

func (p *epollPoller) HasChannel(c *Channel) bool {
	tracked, ok := p.byFd[c.fd]
	return ok && tracked == c
}

func (p *epollPoller) Poll(timeoutMs int, active *[]*Channel) (int64, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	wakeAt := time.Now().UnixNano()
	if err != nil {
		if err == unix.EINTR {
			return wakeAt, nil
		}
		return wakeAt, fmt.Errorf("epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		c, ok := p.byFd[fd]
		if !ok {
			continue
		}
		c.setRevents(fromEpollMask(p.events[i].Events))
		*active = append(*active, c)
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return wakeAt, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
