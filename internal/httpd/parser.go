package httpd

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// incrementalParser tokenizes a request line and header block out of an
// accumulated byte buffer. Session only depends on Feed's
// consumed/finished/err contract, never on how tokenization happens
// internally (see DESIGN.md).
type incrementalParser struct {
	req *Request
}

func newIncrementalParser() *incrementalParser {
	return &incrementalParser{req: NewRequest()}
}

// Feed scans buf[:n] for a complete request line + header block. It
// returns the number of bytes consumed (always either 0, meaning "need
// more data", or an amount ending exactly at the blank line terminating
// the headers), whether parsing finished, and a parse error if the data is
// malformed.
//
// Feed does not consume or look at the body: HttpSession reads exactly
// Content-Length body bytes itself once Feed reports finished.
func (p *incrementalParser) Feed(buf []byte) (consumed int, finished bool, err error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, false, nil
	}
	headerBlock := buf[:idx]
	consumed = idx + 4

	sc := bufio.NewScanner(bytes.NewReader(headerBlock))
	sc.Buffer(make([]byte, 0, len(headerBlock)+1), len(headerBlock)+1)
	if !sc.Scan() {
		return consumed, false, fmt.Errorf("httpd: empty request")
	}
	if err := p.parseRequestLine(sc.Text()); err != nil {
		return consumed, false, err
	}
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if err := p.parseHeaderLine(line); err != nil {
			return consumed, false, err
		}
	}
	return consumed, true, nil
}

func (p *incrementalParser) parseRequestLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return fmt.Errorf("httpd: malformed request line %q", line)
	}
	p.req.Method = parts[0]

	target := parts[1]
	if frag := strings.IndexByte(target, '#'); frag >= 0 {
		p.req.Fragment = target[frag+1:]
		target = target[:frag]
	}
	if q := strings.IndexByte(target, '?'); q >= 0 {
		p.req.RawQuery = target[q+1:]
		target = target[:q]
	}
	p.req.Path = target

	ver, err := parseVersion(parts[2])
	if err != nil {
		return err
	}
	p.req.Version = ver
	return nil
}

func parseVersion(s string) (Version, error) {
	if !strings.HasPrefix(s, "HTTP/") {
		return 0, fmt.Errorf("httpd: malformed version %q", s)
	}
	mm := strings.SplitN(s[len("HTTP/"):], ".", 2)
	if len(mm) != 2 {
		return 0, fmt.Errorf("httpd: malformed version %q", s)
	}
	major, err := strconv.Atoi(mm[0])
	if err != nil {
		return 0, fmt.Errorf("httpd: malformed version %q", s)
	}
	minor, err := strconv.Atoi(mm[1])
	if err != nil {
		return 0, fmt.Errorf("httpd: malformed version %q", s)
	}
	return MakeVersion(major, minor), nil
}

func (p *incrementalParser) parseHeaderLine(line string) error {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return fmt.Errorf("httpd: malformed header line %q", line)
	}
	key := strings.TrimSpace(line[:colon])
	val := strings.TrimSpace(line[colon+1:])
	p.req.Header.Add(key, val)
	return nil
}

// ContentLength reports the parsed request's Content-Length header, or 0
// if absent or non-numeric.
func (p *incrementalParser) ContentLength() int {
	n, err := strconv.Atoi(strings.TrimSpace(p.req.Header.Get("content-length")))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
