//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd
// +build !linux,!darwin,!freebsd,!netbsd,!openbsd

package reactor

import (
	"sync"
	"time"

	"github.com/nyxsys/reactor/internal/logging"
)

// portablePoller is a goroutine-driven fallback used on platforms without a
// native readiness facility wired up: instead of blocking in a single
// syscall, it polls every registered Channel's fd readiness on a fixed
// 2 ms tick. It is correctness-preserving but higher-latency and
// higher-CPU than epoll or kqueue, so it is only ever selected when
// neither is available.
// portableWritableTickFactor sets how many read-ticks pass between
// write-readiness re-checks: common sockets report writable almost always,
// so checking it on every tick would mean re-scanning every channel's
// write interest 1:1 with the much cheaper and more urgent read check.
const portableWritableTickFactor = 25

type portablePoller struct {
	mu           sync.Mutex
	chs          map[int]*Channel
	log          logging.Logger
	tick         time.Duration
	writableTick time.Duration
	lastWritable time.Time
}

func newOSPoller(log logging.Logger) (Poller, error) {
	const tick = 2 * time.Millisecond
	return &portablePoller{
		chs:          make(map[int]*Channel),
		log:          log,
		tick:         tick,
		writableTick: tick * portableWritableTickFactor,
	}, nil
}

func (p *portablePoller) HasChannel(c *Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	tracked, ok := p.chs[c.fd]
	return ok && tracked == c
}

func (p *portablePoller) UpdateChannel(c *Channel) error {
	_, next := nextPollerState(c.state, c.IsNoneEvent())
	p.mu.Lock()
	if next == stateAdded {
		p.chs[c.fd] = c
	} else {
		delete(p.chs, c.fd)
	}
	p.mu.Unlock()
	c.state = next
	return nil
}

func (p *portablePoller) RemoveChannel(c *Channel) error {
	p.mu.Lock()
	delete(p.chs, c.fd)
	p.mu.Unlock()
	c.state = stateNew
	return nil
}

func (p *portablePoller) Poll(timeoutMs int, active *[]*Channel) (int64, error) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		checkWritable := time.Since(p.lastWritable) >= p.writableTick
		if checkWritable {
			p.lastWritable = time.Now()
		}

		p.mu.Lock()
		for _, c := range p.chs {
			interest := c.events & EventReadable
			if checkWritable {
				interest |= c.events & EventWritable
			}
			if interest == EventNone {
				continue
			}
			m := pollFdNonBlocking(c.fd, interest)
			if m != EventNone {
				c.setRevents(m)
				*active = append(*active, c)
			}
		}
		p.mu.Unlock()
		now := time.Now()
		if len(*active) > 0 || now.After(deadline) {
			return now.UnixNano(), nil
		}
		time.Sleep(p.tick)
	}
}

func (p *portablePoller) Close() error { return nil }

// pollFdNonBlocking is overridden per-platform where a raw select/poll
// syscall is available; the zero-value build always reports not-ready,
// which keeps the fallback safe (if slow) everywhere cgo-free Go runs.
var pollFdNonBlocking = func(fd int, interest EventMask) EventMask {
	return EventNone
}
