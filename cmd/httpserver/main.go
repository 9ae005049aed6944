// Command httpserver runs an HTTP/1.x server with keep-alive enabled and a
// single "/hi" servlet returning "ok"; any other path falls through to the
// default 404.
package main

import (
	"flag"
	"log"

	"github.com/nyxsys/reactor/internal/config"
	"github.com/nyxsys/reactor/internal/httpd"
	"github.com/nyxsys/reactor/internal/logging"
	"github.com/nyxsys/reactor/internal/reactor"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:8080", "listen address")
	threads := flag.Int("threads", 4, "worker loop count")
	configPath := flag.String("config", "", "optional JSON config file (hot-reloaded if set)")
	flag.Parse()

	lg := logging.NewStdLogger(logging.Info)

	cfg := config.Default()
	cfg.Addr = *addr
	cfg.ThreadNum = *threads
	cfg.HTTPKeepAlive = true
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("httpserver: load config: %v", err)
		}
		cfg = loaded
	}

	baseLoop, err := reactor.NewEventLoop(lg)
	if err != nil {
		log.Fatalf("httpserver: create base loop: %v", err)
	}
	if err := baseLoop.Start(); err != nil {
		log.Fatalf("httpserver: start base loop: %v", err)
	}

	tcp, err := reactor.NewTcpServer(baseLoop, cfg.Name, cfg.Addr, cfg.ThreadNum, cfg.ChunkSize, cfg.HighWaterMark, lg)
	if err != nil {
		log.Fatalf("httpserver: create tcp server: %v", err)
	}

	srv := httpd.NewServer(tcp, cfg.Name, cfg.HTTPKeepAlive, cfg.HTTPRequestBufSize, cfg.HTTPRequestMaxBody, lg)
	srv.Dispatch().Register("/hi", httpd.ServletFunc(func(req *httpd.Request, resp *httpd.Response) {
		resp.SetStatus(200, "OK")
		resp.Header.Set("Content-Type", "text/plain")
		resp.Body = []byte("ok")
	}))

	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, cfg, lg)
		if err != nil {
			log.Fatalf("httpserver: watch config: %v", err)
		}
		watcher.OnReload = func(next *config.Config) {
			tcp.SetHighWaterMark(next.HighWaterMark)
		}
		defer watcher.Close()
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("httpserver: start: %v", err)
	}

	lg.Logf(logging.Info, "httpserver: listening on %s", cfg.Addr)
	baseLoop.Loop()
}
