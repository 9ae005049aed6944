package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nyxsys/reactor/internal/logging"
)

// TcpServer owns an Acceptor on a base loop and fans accepted connections
// out across a LoopPool. Starting it is idempotent; Stop closes every live
// connection and quits every worker loop.
type TcpServer struct {
	name string
	log  logging.Logger

	baseLoop  *EventLoop
	acceptor  *Acceptor
	pool      *LoopPool
	chunkSize int
	highWaterMark int

	started int32

	mu    sync.Mutex
	conns map[string]*Connection
	nextID uint64

	// ConnectionCallback and MessageCallback are installed on every accepted
	// Connection. WriteCompleteCallback and HighWaterMarkCallback are
	// optional.
	ConnectionCallback    func(c *Connection)
	MessageCallback       func(c *Connection, recvTimeUnixNano int64)
	WriteCompleteCallback func(c *Connection)
	HighWaterMarkCallback func(c *Connection, bufferedBytes int)
}

// NewTcpServer creates a server named name, listening on addr once Start is
// called, fanning connections out across threadNum worker loops (0 means
// "run everything on the base loop").
func NewTcpServer(baseLoop *EventLoop, name, addr string, threadNum int, chunkSize, highWaterMark int, log logging.Logger) (*TcpServer, error) {
	if log == nil {
		log = logging.Default
	}
	acceptor, err := NewAcceptor(baseLoop, addr, 0, log)
	if err != nil {
		return nil, err
	}
	pool, err := NewLoopPool(baseLoop, threadNum, log)
	if err != nil {
		return nil, err
	}
	s := &TcpServer{
		name:          name,
		log:           log,
		baseLoop:      baseLoop,
		acceptor:      acceptor,
		pool:          pool,
		chunkSize:     chunkSize,
		highWaterMark: highWaterMark,
		conns:         make(map[string]*Connection),
	}
	acceptor.NewConnectionCallback = s.newConnection
	return s, nil
}

// Name returns the server's configured name, used as the connection-name
// prefix.
func (s *TcpServer) Name() string { return s.name }

// LoopPool exposes the worker pool, mainly so callers can size worker-local
// state (e.g. one ServletDispatch instance per loop is unnecessary, but per-
// loop metrics are common).
func (s *TcpServer) LoopPool() *LoopPool { return s.pool }

// Start is idempotent: the first call starts every worker loop and begins
// listening on the base loop; subsequent calls are no-ops.
func (s *TcpServer) Start() error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return nil
	}
	if err := s.pool.Start(nil); err != nil {
		return err
	}
	s.baseLoop.RunInLoop(func() { s.acceptor.Listen() })
	return nil
}

func (s *TcpServer) newConnection(fd int, peerAddr string) {
	loop := s.pool.Next()
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	connName := fmt.Sprintf("%s %s %d", s.name, peerAddr, id)

	loop.RunInLoop(func() {
		c := NewConnection(loop, connName, fd, peerAddr, s.chunkSize, s.highWaterMark, s.log)
		c.ConnectionCallback = s.ConnectionCallback
		c.MessageCallback = s.MessageCallback
		c.WriteCompleteCallback = s.WriteCompleteCallback
		c.HighWaterMarkCallback = s.HighWaterMarkCallback
		c.CloseCallback = s.removeConnection

		s.mu.Lock()
		s.conns[connName] = c
		s.mu.Unlock()

		c.ConnectEstablished()
	})
}

// removeConnection is installed as every Connection's CloseCallback; it
// removes the bookkeeping entry on the base loop, then dispatches
// ConnectDestroyed back onto the connection's own owning loop.
func (s *TcpServer) removeConnection(c *Connection) {
	s.baseLoop.QueueInLoop(func() {
		s.mu.Lock()
		delete(s.conns, c.Name())
		s.mu.Unlock()
		c.Loop().QueueInLoop(c.ConnectDestroyed)
	})
}

// SetHighWaterMark updates the threshold applied to every connection
// accepted from now on, and propagates the new value to every
// currently-live connection via Connection.SetHighWaterMark (each mutation
// runs on that connection's own owning loop).
func (s *TcpServer) SetHighWaterMark(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.highWaterMark = n
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetHighWaterMark(n)
	}
}

// Connections returns a snapshot of every currently-tracked connection.
func (s *TcpServer) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Stop closes every live connection and quits every worker loop (and the
// acceptor). It does not wait for the loops' goroutines to return.
func (s *TcpServer) Stop() {
	s.baseLoop.RunInLoop(func() { _ = s.acceptor.Close() })

	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ForceClose()
	}
	s.pool.Shutdown()
}
