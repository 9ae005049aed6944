package httpd

import (
	rerrors "github.com/nyxsys/reactor/internal/errors"
	"github.com/nyxsys/reactor/internal/logging"
	"github.com/nyxsys/reactor/internal/reactor"
)

// DefaultRequestBufferSize and DefaultRequestMaxBody are the configuration
// defaults for the per-session parse buffer.
const (
	DefaultRequestBufferSize = 4096
	DefaultRequestMaxBody    = 64 << 20
)

// Session frames a byte stream into Requests, one at a time: read into the
// tail of a fixed parse buffer, feed the incremental parser, shift
// unconsumed bytes to the head, and once headers finish, read exactly
// Content-Length body bytes (consuming any already-buffered residual
// first).
type Session struct {
	conn *reactor.Connection
	log  logging.Logger

	bufSize int
	maxBody int

	parseBuf []byte // accumulated, not-yet-fully-parsed bytes
}

func NewSession(conn *reactor.Connection, bufSize, maxBody int, log logging.Logger) *Session {
	if bufSize <= 0 {
		bufSize = DefaultRequestBufferSize
	}
	if maxBody <= 0 {
		maxBody = DefaultRequestMaxBody
	}
	if log == nil {
		log = logging.Default
	}
	return &Session{conn: conn, log: log, bufSize: bufSize, maxBody: maxBody}
}

// errTooLarge builds the buffer-overflow error, carrying the configured
// limit and the size that exceeded it.
func errTooLarge(limit, got int) error { return rerrors.BufferOverflow(limit, got) }

// ReadRequest attempts to assemble one complete Request from the
// Connection's input buffer. It returns (nil, nil) when there is not yet
// enough data buffered for a full request (the caller should wait for more
// MessageCallback events); a non-nil error means the connection should be
// force-closed.
func (s *Session) ReadRequest() (*Request, error) {
	n := s.conn.Input().Readable()
	if n == 0 && len(s.parseBuf) == 0 {
		return nil, nil
	}
	if n > 0 {
		chunk := make([]byte, n)
		if _, err := s.conn.Input().Read(chunk); err != nil {
			return nil, err
		}
		s.parseBuf = append(s.parseBuf, chunk...)
	}

	p := newIncrementalParser()
	headerLen, finished, err := p.Feed(s.parseBuf)
	if err != nil {
		return nil, rerrors.ParseError(err.Error())
	}
	if !finished {
		if len(s.parseBuf) >= s.bufSize {
			return nil, errTooLarge(s.bufSize, len(s.parseBuf))
		}
		return nil, nil
	}

	contentLength := p.ContentLength()
	if contentLength > s.maxBody {
		return nil, errTooLarge(s.maxBody, contentLength)
	}
	total := headerLen + contentLength
	if len(s.parseBuf) < total {
		// Headers are parsed but the body isn't fully buffered yet; leave
		// parseBuf untouched (re-parsing the header block next call is
		// cheap) and wait for the next MessageCallback.
		return nil, nil
	}

	if contentLength > 0 {
		p.req.Body = append([]byte(nil), s.parseBuf[headerLen:total]...)
	}
	s.parseBuf = s.parseBuf[total:]

	return p.req, nil
}
