package reactor

import (
	"sync"
	"sync/atomic"

	"github.com/nyxsys/reactor/internal/logging"
)

// LoopPool owns a fixed number of worker EventLoops, each run on its own
// goroutine. With zero workers the pool degenerates to the base loop: every
// selection method returns it instead.
type LoopPool struct {
	log   logging.Logger
	base  *EventLoop
	loops []*EventLoop
	next  uint64
}

// NewLoopPool creates a pool of n worker loops bound to base (the loop
// that owns the Acceptor). It does not start them; call Start.
func NewLoopPool(base *EventLoop, n int, log logging.Logger) (*LoopPool, error) {
	if log == nil {
		log = logging.Default
	}
	pool := &LoopPool{log: log, base: base}
	for i := 0; i < n; i++ {
		l, err := NewEventLoop(log)
		if err != nil {
			return nil, err
		}
		pool.loops = append(pool.loops, l)
	}
	return pool, nil
}

// Start launches every worker goroutine, running initFn (if non-nil) on
// each loop before it enters Loop, and blocks until every worker has
// constructed its loop and is about to start polling.
func (p *LoopPool) Start(initFn func(*EventLoop)) error {
	var wg sync.WaitGroup
	for _, l := range p.loops {
		if err := l.Start(); err != nil {
			return err
		}
		wg.Add(1)
		l := l
		go func() {
			if initFn != nil {
				initFn(l)
			}
			wg.Done() // signal "about to enter Loop()" before blocking in it
			l.Loop()
		}()
	}
	wg.Wait()
	return nil
}

// Size returns the number of worker loops (0 if the pool degenerates to
// the base loop).
func (p *LoopPool) Size() int { return len(p.loops) }

// Next returns the next worker loop in round-robin order, or the base loop
// if the pool has no workers.
func (p *LoopPool) Next() *EventLoop {
	if len(p.loops) == 0 {
		return p.base
	}
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.loops[i%uint64(len(p.loops))]
}

// ForHash returns a worker loop selected by a stable hash, or the base loop
// if the pool has no workers. Equal hashes always map to the same loop.
func (p *LoopPool) ForHash(h uint64) *EventLoop {
	if len(p.loops) == 0 {
		return p.base
	}
	return p.loops[h%uint64(len(p.loops))]
}

// All returns every worker loop (empty if the pool has no workers).
func (p *LoopPool) All() []*EventLoop {
	return p.loops
}

// Shutdown quits every worker loop. It does not wait for their goroutines
// to return; callers that need that should track completion themselves
// (TcpServer.Stop does not).
func (p *LoopPool) Shutdown() {
	for _, l := range p.loops {
		l.Quit()
	}
}
