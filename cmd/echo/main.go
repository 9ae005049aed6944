// Command echo greets every new connection with "hello\n", echoes back
// whatever it receives, and treats the literal line "exit\n" as a request
// to say "bye\n" and half-close.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/nyxsys/reactor/internal/config"
	"github.com/nyxsys/reactor/internal/logging"
	"github.com/nyxsys/reactor/internal/reactor"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:8888", "listen address")
	threads := flag.Int("threads", 0, "worker loop count (0 = single-threaded)")
	flag.Parse()

	lg := logging.NewStdLogger(logging.Info)

	baseLoop, err := reactor.NewEventLoop(lg)
	if err != nil {
		log.Fatalf("echo: create base loop: %v", err)
	}
	if err := baseLoop.Start(); err != nil {
		log.Fatalf("echo: start base loop: %v", err)
	}

	cfg := config.Default()
	cfg.Addr = *addr
	cfg.ThreadNum = *threads

	server, err := reactor.NewTcpServer(baseLoop, "EchoServer", cfg.Addr, cfg.ThreadNum, cfg.ChunkSize, cfg.HighWaterMark, lg)
	if err != nil {
		log.Fatalf("echo: create server: %v", err)
	}

	server.ConnectionCallback = func(c *reactor.Connection) {
		if c.State() == reactor.StateConnected {
			c.Send([]byte("hello\n"))
		}
	}
	server.MessageCallback = func(c *reactor.Connection, recvTimeUnixNano int64) {
		n := c.Input().Readable()
		msg := make([]byte, n)
		_, _ = c.Input().Read(msg)

		lg.Logf(logging.Info, "echo: %s recv %q", c.Name(), msg)

		if string(msg) == "exit\n" {
			c.Send([]byte("bye\n"))
			c.Send(msg)
			c.Shutdown()
			return
		}
		c.Send(msg)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("echo: start: %v", err)
	}

	lg.Logf(logging.Info, "echo: listening on %s (pid %d)", cfg.Addr, os.Getpid())
	baseLoop.Loop()
}
