package reactor

import (
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T, addr string, threadNum int, register func(*TcpServer)) (*TcpServer, *EventLoop) {
	t.Helper()
	loop := startLoop(t)
	srv, err := NewTcpServer(loop, "test-server", addr, threadNum, 4096, DefaultHighWaterMark, nil)
	if err != nil {
		t.Fatalf("NewTcpServer: %v", err)
	}
	if register != nil {
		register(srv)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(srv.Stop)
	// Give the acceptor a moment to actually start listening on the base loop.
	time.Sleep(20 * time.Millisecond)
	return srv, loop
}

// TestTcpServerEcho covers scenario S1: a client connects, is greeted with
// "hello\n", echoes arbitrary lines back, and on "exit\n" receives "bye\n"
// followed by the echoed "exit\n" and then a half-close.
func TestTcpServerEcho(t *testing.T) {
	addr := "127.0.0.1:18881"
	startTestServer(t, addr, 0, func(s *TcpServer) {
		s.ConnectionCallback = func(c *Connection) {
			if c.State() == StateConnected {
				c.Send([]byte("hello\n"))
			}
		}
		s.MessageCallback = func(c *Connection, _ int64) {
			n := c.Input().Readable()
			buf := make([]byte, n)
			_, _ = c.Input().Read(buf)
			msg := string(buf)
			if msg == "exit\n" {
				c.Send([]byte("bye\n"))
				c.Send([]byte(msg))
				c.Shutdown()
				return
			}
			c.Send([]byte(msg))
		}
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	greeting := readLine(t, conn)
	if greeting != "hello\n" {
		t.Fatalf("greeting = %q, want %q", greeting, "hello\n")
	}

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readLine(t, conn); got != "ping\n" {
		t.Fatalf("echo = %q, want %q", got, "ping\n")
	}

	if _, err := conn.Write([]byte("exit\n")); err != nil {
		t.Fatalf("write exit: %v", err)
	}
	if got := readLine(t, conn); got != "bye\n" {
		t.Fatalf("first reply after exit = %q, want %q", got, "bye\n")
	}
	if got := readLine(t, conn); got != "exit\n" {
		t.Fatalf("second reply after exit = %q, want %q", got, "exit\n")
	}
}

// TestTcpServerFanOutAcrossLoopPool covers scenario S2: N clients connecting
// to a server with multiple worker loops should be distributed round-robin,
// each landing on a different worker in turn.
func TestTcpServerFanOutAcrossLoopPool(t *testing.T) {
	addr := "127.0.0.1:18882"
	const workers = 4
	const clients = 8

	assigned := make(chan *EventLoop, clients)
	startTestServer(t, addr, workers, func(s *TcpServer) {
		s.ConnectionCallback = func(c *Connection) {
			if c.State() == StateConnected {
				assigned <- c.Loop()
			}
		}
	})

	conns := make([]net.Conn, 0, clients)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for i := 0; i < clients; i++ {
		c, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}

	seen := make(map[*EventLoop]int)
	for i := 0; i < clients; i++ {
		select {
		case l := <-assigned:
			seen[l]++
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d connections were accepted", i, clients)
		}
	}

	if len(seen) != workers {
		t.Fatalf("connections landed on %d distinct worker loops, want %d", len(seen), workers)
	}
	for l, n := range seen {
		if n != clients/workers {
			t.Fatalf("worker %p got %d connections, want %d", l, n, clients/workers)
		}
	}
}

// TestTcpServerSetHighWaterMarkPropagatesToLiveConnections covers the
// expansion's config-hot-reload property: changing the high-water mark
// propagates to every already-accepted connection.
func TestTcpServerSetHighWaterMarkPropagatesToLiveConnections(t *testing.T) {
	addr := "127.0.0.1:18885"
	established := make(chan *Connection, 1)
	srv, _ := startTestServer(t, addr, 0, func(s *TcpServer) {
		s.ConnectionCallback = func(c *Connection) {
			if c.State() == StateConnected {
				established <- c
			}
		}
	})

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var c *Connection
	select {
	case c = <-established:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never established")
	}

	srv.SetHighWaterMark(2048)

	waitUntil(t, func() bool {
		ch := make(chan int, 1)
		c.Loop().RunInLoop(func() { ch <- c.highWaterMark })
		return <-ch == 2048
	})
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if err != nil {
			t.Fatalf("readLine: %v (so far: %q)", err, buf)
		}
		if n == 0 {
			continue
		}
		buf = append(buf, one[0])
		if one[0] == '\n' {
			return string(buf)
		}
	}
}
