package httpd

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Version packs an HTTP version as (major<<4)|minor.
type Version uint8

func MakeVersion(major, minor int) Version { return Version((major << 4) | minor) }

func (v Version) Major() int { return int(v >> 4) }
func (v Version) Minor() int { return int(v & 0x0f) }

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major()) + "." + strconv.Itoa(v.Minor())
}

var (
	Version10 = MakeVersion(1, 0)
	Version11 = MakeVersion(1, 1)
)

// Header is a case-insensitive, order-preserving header map. Lookups
// canonicalize the key; the original casing supplied to Set/Add is kept
// for serialization.
type Header struct {
	keys   []string // canonical order of first-seen keys
	values map[string][]string
	orig   map[string]string // canonical -> as-written key
}

func NewHeader() *Header {
	return &Header{values: make(map[string][]string), orig: make(map[string]string)}
}

func canonKey(k string) string { return strings.ToLower(k) }

func (h *Header) Set(key, value string) {
	ck := canonKey(key)
	if _, ok := h.values[ck]; !ok {
		h.keys = append(h.keys, ck)
	}
	h.orig[ck] = key
	h.values[ck] = []string{value}
}

func (h *Header) Add(key, value string) {
	ck := canonKey(key)
	if _, ok := h.values[ck]; !ok {
		h.keys = append(h.keys, ck)
		h.orig[ck] = key
	}
	h.values[ck] = append(h.values[ck], value)
}

func (h *Header) Get(key string) string {
	vs := h.values[canonKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (h *Header) Values(key string) []string { return h.values[canonKey(key)] }

func (h *Header) Del(key string) {
	ck := canonKey(key)
	delete(h.values, ck)
	delete(h.orig, ck)
	for i, k := range h.keys {
		if k == ck {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Each calls fn once per header key, in the order first set, with its
// as-written key and every value joined by ", ".
func (h *Header) Each(fn func(key, value string)) {
	for _, ck := range h.keys {
		fn(h.orig[ck], strings.Join(h.values[ck], ", "))
	}
}

// Request is a parsed HTTP/1.x request. RawQuery is parsed lazily on the
// first call to Query; body form fields and cookies are not parsed.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Fragment string
	Version  Version
	Header   *Header
	Body     []byte

	RemoteAddr string
	StartTime  time.Time

	queryParsed bool
	queryVals   url.Values
}

func NewRequest() *Request {
	return &Request{Header: NewHeader()}
}

// Query lazily parses RawQuery and returns the parsed values, caching the
// result for subsequent calls.
func (r *Request) Query() url.Values {
	if !r.queryParsed {
		r.queryVals, _ = url.ParseQuery(r.RawQuery)
		r.queryParsed = true
	}
	return r.queryVals
}

// KeepAlive resolves connection persistence: HTTP/1.1 defaults to
// keep-alive unless `connection: close`; HTTP/1.0 defaults to close unless
// `connection: keep-alive`.
func (r *Request) KeepAlive() bool {
	conn := strings.ToLower(r.Header.Get("connection"))
	switch conn {
	case "close":
		return false
	case "keep-alive":
		return true
	default:
		return r.Version == Version11
	}
}

// Response is a server-built HTTP/1.x response.
type Response struct {
	Version    Version
	StatusCode int
	StatusText string
	Header     *Header
	Body       []byte

	closeAfter bool
}

func NewResponse() *Response {
	return &Response{Header: NewHeader(), StatusCode: 200, StatusText: "OK"}
}

func (resp *Response) SetStatus(code int, text string) {
	resp.StatusCode = code
	resp.StatusText = text
}

// SetCloseAfter marks whether the connection should be closed after this
// response is sent; HttpSession reads this when deciding between
// half-close and keeping the connection open for the next request.
func (resp *Response) SetCloseAfter(v bool) { resp.closeAfter = v }
func (resp *Response) CloseAfter() bool     { return resp.closeAfter }

// Serialize renders the response as wire bytes: status line, headers
// (Content-Length always set from len(Body) unless already present,
// Connection set from closeAfter unless already present), blank line,
// body.
func (resp *Response) Serialize() []byte {
	var b strings.Builder
	b.WriteString(resp.Version.String())
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(resp.StatusCode))
	b.WriteByte(' ')
	b.WriteString(resp.StatusText)
	b.WriteString("\r\n")

	if resp.Header.Get("content-length") == "" {
		resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	if resp.Header.Get("connection") == "" {
		if resp.closeAfter {
			resp.Header.Set("Connection", "close")
		} else {
			resp.Header.Set("Connection", "keep-alive")
		}
	}
	resp.Header.Each(func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	})
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(resp.Body))
	out = append(out, b.String()...)
	out = append(out, resp.Body...)
	return out
}
