package httpd

import "testing"

func TestIncrementalParserFeedNeedsMoreData(t *testing.T) {
	p := newIncrementalParser()
	consumed, finished, err := p.Feed([]byte("GET / HTTP/1.1\r\nHost: x\r\n"))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if finished {
		t.Fatal("finished true without a terminating blank line")
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0", consumed)
	}
}

func TestIncrementalParserFeedCompleteRequest(t *testing.T) {
	raw := "POST /submit?a=1#frag HTTP/1.1\r\nHost: example\r\nContent-Length: 5\r\n\r\nhello" + "TRAILING"
	p := newIncrementalParser()
	consumed, finished, err := p.Feed([]byte(raw))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !finished {
		t.Fatal("finished = false, want true")
	}
	want := len("POST /submit?a=1#frag HTTP/1.1\r\nHost: example\r\nContent-Length: 5\r\n\r\n")
	if consumed != want {
		t.Fatalf("consumed = %d, want %d", consumed, want)
	}

	req := p.req
	if req.Method != "POST" {
		t.Fatalf("Method = %q", req.Method)
	}
	if req.Path != "/submit" {
		t.Fatalf("Path = %q", req.Path)
	}
	if req.RawQuery != "a=1" {
		t.Fatalf("RawQuery = %q", req.RawQuery)
	}
	if req.Fragment != "frag" {
		t.Fatalf("Fragment = %q", req.Fragment)
	}
	if req.Version != Version11 {
		t.Fatalf("Version = %v", req.Version)
	}
	if req.Header.Get("host") != "example" {
		t.Fatalf("Host header = %q", req.Header.Get("host"))
	}
	if p.ContentLength() != 5 {
		t.Fatalf("ContentLength() = %d, want 5", p.ContentLength())
	}
}

func TestIncrementalParserRejectsMalformedRequestLine(t *testing.T) {
	p := newIncrementalParser()
	_, _, err := p.Feed([]byte("GARBAGE\r\n\r\n"))
	if err == nil {
		t.Fatal("expected error for malformed request line")
	}
}

func TestIncrementalParserRejectsMalformedHeader(t *testing.T) {
	p := newIncrementalParser()
	_, _, err := p.Feed([]byte("GET / HTTP/1.1\r\nNoColonHere\r\n\r\n"))
	if err == nil {
		t.Fatal("expected error for malformed header line")
	}
}

func TestIncrementalParserContentLengthAbsentOrInvalid(t *testing.T) {
	p := newIncrementalParser()
	if _, _, err := p.Feed([]byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if p.ContentLength() != 0 {
		t.Fatalf("ContentLength() without header = %d, want 0", p.ContentLength())
	}
}
