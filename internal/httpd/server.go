package httpd

import (
	"time"

	"github.com/nyxsys/reactor/internal/logging"
	"github.com/nyxsys/reactor/internal/reactor"
)

// DefaultResponseBufferSize and DefaultResponseMaxBody are the
// response-side defaults; they bound what a Servlet is expected to
// produce, not anything Session enforces today (Session only frames
// inbound requests) — callers that build very large responses should
// chunk themselves.
const (
	DefaultResponseBufferSize = 4096
	DefaultResponseMaxBody    = 64 << 20
)

// sessionKey is the Connection context key Server stores each connection's
// Session under, so MessageCallback can retrieve it across events.
const sessionKey = "httpd.session"

// Server layers HTTP/1.x framing and routing on top of a TcpServer: each
// accepted Connection gets its own Session, and each finished Request is
// dispatched through a ServletDispatch to produce a Response.
type Server struct {
	tcp      *reactor.TcpServer
	dispatch *ServletDispatch
	log      logging.Logger

	requestBufSize int
	requestMaxBody int
	keepAlive      bool
}

// NewServer wraps tcp (already constructed but not yet started) with HTTP
// framing. name is used both as the TcpServer connection-name prefix (via
// tcp itself) and as the default-404 servlet's advertised server name.
func NewServer(tcp *reactor.TcpServer, name string, keepAlive bool, requestBufSize, requestMaxBody int, log logging.Logger) *Server {
	if log == nil {
		log = logging.Default
	}
	s := &Server{
		tcp:            tcp,
		dispatch:       NewServletDispatch(name),
		log:            log,
		requestBufSize: requestBufSize,
		requestMaxBody: requestMaxBody,
		keepAlive:      keepAlive,
	}
	tcp.ConnectionCallback = s.onConnection
	tcp.MessageCallback = s.onMessage
	return s
}

// Dispatch exposes the route table for registration (Register,
// RegisterWithEngineConstraint, SetNotFound).
func (s *Server) Dispatch() *ServletDispatch { return s.dispatch }

// Start delegates to the underlying TcpServer.
func (s *Server) Start() error { return s.tcp.Start() }

// Stop delegates to the underlying TcpServer.
func (s *Server) Stop() { s.tcp.Stop() }

func (s *Server) onConnection(c *reactor.Connection) {
	if c.State() != reactor.StateConnected {
		return // this is the close-side firing of the shared callback
	}
	sess := NewSession(c, s.requestBufSize, s.requestMaxBody, s.log)
	c.SetContext(sessionKey, sess)
}

func (s *Server) onMessage(c *reactor.Connection, recvTimeUnixNano int64) {
	v, ok := c.Context(sessionKey)
	if !ok {
		return
	}
	sess := v.(*Session)

	for c.State() == reactor.StateConnected {
		req, err := sess.ReadRequest()
		if err != nil {
			s.log.Logf(logging.Warn, "httpd: %s: %v", c.Name(), err)
			c.ForceClose()
			return
		}
		if req == nil {
			return // not enough data buffered yet
		}

		resp := NewResponse()
		resp.Version = req.Version
		closeAfter := !s.keepAlive || !req.KeepAlive()
		resp.SetCloseAfter(closeAfter)

		req.RemoteAddr = c.PeerAddr()
		req.StartTime = time.Unix(0, recvTimeUnixNano)

		s.dispatch.Lookup(req.Path).Serve(req, resp)

		c.Send(resp.Serialize())

		if closeAfter {
			c.Shutdown()
			return
		}
	}
}
