package httpd

import (
	"fmt"
	"path"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Servlet produces a Response from a Request.
type Servlet interface {
	Serve(req *Request, resp *Response)
}

// ServletFunc adapts a plain function to a Servlet.
type ServletFunc func(req *Request, resp *Response)

func (f ServletFunc) Serve(req *Request, resp *Response) { f(req, resp) }

type globRoute struct {
	pattern string
	servlet Servlet
}

// EngineVersion is the running server's version, checked against any
// servlet registered with an engine constraint. It has no bearing on plain
// exact/glob dispatch.
var EngineVersion = semver.MustParse("1.0.0")

// ServletDispatch holds an exact-match route table and an ordered list of
// glob-pattern routes, guarded by a reader-writer lock because routes may
// be registered from any goroutine while requests are served from worker
// loops.
type ServletDispatch struct {
	mu     sync.RWMutex
	exact  map[string]Servlet
	globs  []globRoute
	constraints map[string]*semver.Constraints

	notFound Servlet
}

func NewServletDispatch(serverName string) *ServletDispatch {
	d := &ServletDispatch{
		exact:       make(map[string]Servlet),
		constraints: make(map[string]*semver.Constraints),
	}
	d.notFound = ServletFunc(func(req *Request, resp *Response) {
		resp.SetStatus(404, "Not Found")
		resp.Header.Set("Content-Type", "text/html")
		resp.Body = []byte(fmt.Sprintf("<html><body><h1>404 Not Found</h1><p>%s</p></body></html>", serverName))
	})
	return d
}

// Register adds an exact-match route if uri contains no glob metacharacter
// (*, ?, [), otherwise an ordered glob route. Later exact registrations of
// the same uri replace the earlier one; glob routes never replace, they
// append (lookup picks the first matching entry in registration order).
func (d *ServletDispatch) Register(uri string, s Servlet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if isGlobPattern(uri) {
		d.globs = append(d.globs, globRoute{pattern: uri, servlet: s})
		return
	}
	d.exact[uri] = s
}

// RegisterWithEngineConstraint is like Register, but the route is only
// ever dispatched if EngineVersion satisfies constraint (e.g. ">=1.0.0,
// <2.0.0"). A non-satisfying constraint does not prevent registration; it
// prevents Lookup from ever returning the servlet, falling through to the
// next candidate (or the default 404) instead — this lets a server carry
// routes meant for a range of engine versions without per-build
// conditional compilation.
func (d *ServletDispatch) RegisterWithEngineConstraint(uri, constraint string, s Servlet) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("httpd: invalid engine constraint %q for route %q: %w", constraint, uri, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constraints[uri] = c
	if isGlobPattern(uri) {
		d.globs = append(d.globs, globRoute{pattern: uri, servlet: s})
		return nil
	}
	d.exact[uri] = s
	return nil
}

func isGlobPattern(s string) bool {
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// Lookup resolves uri to a Servlet: exact table first, then globs in
// registration order (shell-style matching via path.Match), falling back
// to the default 404 servlet. A route whose registered engine constraint
// EngineVersion does not satisfy is skipped as though absent.
func (d *ServletDispatch) Lookup(uri string) Servlet {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if s, ok := d.exact[uri]; ok && d.satisfies(uri) {
		return s
	}
	for _, g := range d.globs {
		if matched, _ := path.Match(g.pattern, uri); matched && d.satisfies(g.pattern) {
			return g.servlet
		}
	}
	return d.notFound
}

func (d *ServletDispatch) satisfies(routeKey string) bool {
	c, ok := d.constraints[routeKey]
	if !ok {
		return true
	}
	return c.Check(EngineVersion)
}

// SetNotFound overrides the default 404 servlet.
func (d *ServletDispatch) SetNotFound(s Servlet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notFound = s
}
