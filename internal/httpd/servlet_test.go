package httpd

import "testing"

func ok200(body string) Servlet {
	return ServletFunc(func(_ *Request, resp *Response) {
		resp.SetStatus(200, "OK")
		resp.Body = []byte(body)
	})
}

func TestServletDispatchExactMatch(t *testing.T) {
	d := NewServletDispatch("srv")
	d.Register("/hi", ok200("hi"))

	resp := NewResponse()
	d.Lookup("/hi").Serve(NewRequest(), resp)
	if string(resp.Body) != "hi" {
		t.Fatalf("body = %q, want %q", resp.Body, "hi")
	}
}

func TestServletDispatchDefaultNotFound(t *testing.T) {
	d := NewServletDispatch("myserver")
	resp := NewResponse()
	d.Lookup("/missing").Serve(NewRequest(), resp)

	if resp.StatusCode != 404 {
		t.Fatalf("StatusCode = %d, want 404", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("Content-Type = %q, want text/html", resp.Header.Get("Content-Type"))
	}
	if !contains(string(resp.Body), "myserver") {
		t.Fatalf("404 body %q does not mention server name", resp.Body)
	}
}

func TestServletDispatchGlobRouteOrderingAndPrecedence(t *testing.T) {
	d := NewServletDispatch("srv")
	d.Register("/static/*", ok200("wildcard"))
	d.Register("/static/special", ok200("exact"))

	resp := NewResponse()
	d.Lookup("/static/special").Serve(NewRequest(), resp)
	if string(resp.Body) != "exact" {
		t.Fatalf("exact route did not take precedence over glob: got %q", resp.Body)
	}

	resp2 := NewResponse()
	d.Lookup("/static/file.css").Serve(NewRequest(), resp2)
	if string(resp2.Body) != "wildcard" {
		t.Fatalf("glob route did not match: got %q", resp2.Body)
	}
}

func TestServletDispatchEngineConstraintGating(t *testing.T) {
	d := NewServletDispatch("srv")

	if err := d.RegisterWithEngineConstraint("/future", ">=2.0.0", ok200("future")); err != nil {
		t.Fatalf("RegisterWithEngineConstraint: %v", err)
	}
	resp := NewResponse()
	d.Lookup("/future").Serve(NewRequest(), resp)
	if resp.StatusCode != 404 {
		t.Fatalf("route gated by an unsatisfied constraint was dispatched: status = %d", resp.StatusCode)
	}

	if err := d.RegisterWithEngineConstraint("/compatible", ">=1.0.0,<2.0.0", ok200("compatible")); err != nil {
		t.Fatalf("RegisterWithEngineConstraint: %v", err)
	}
	resp2 := NewResponse()
	d.Lookup("/compatible").Serve(NewRequest(), resp2)
	if string(resp2.Body) != "compatible" {
		t.Fatalf("route gated by a satisfied constraint was not dispatched: body = %q", resp2.Body)
	}
}

func TestServletDispatchInvalidConstraintRejected(t *testing.T) {
	d := NewServletDispatch("srv")
	if err := d.RegisterWithEngineConstraint("/bad", "not-a-constraint", ok200("x")); err == nil {
		t.Fatal("expected error for an invalid constraint expression")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return len(needle) == 0
}
