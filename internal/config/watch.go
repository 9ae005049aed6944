package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nyxsys/reactor/internal/logging"
)

// Watcher watches a config file's containing directory (fsnotify does not
// reliably deliver WRITE events for the file itself across editors that
// write-then-rename) and reloads it on change, applying only the fields
// that are safe to change at runtime.
//
// ThreadNum changes are explicitly rejected: the LoopPool's worker count is
// fixed at TcpServer construction time, and resizing it live is out of
// scope. Addr changes are rejected for the same reason: rebinding the
// listening socket is not supported while the server is running.
type Watcher struct {
	path string
	log  logging.Logger
	fsw  *fsnotify.Watcher

	mu      sync.Mutex
	current *Config

	// OnReload is invoked with the newly loaded Config whenever a safe
	// reload succeeds. The caller is expected to marshal any resulting
	// state changes onto the owning EventLoop itself (e.g. via
	// EventLoop.QueueInLoop), since Watcher delivers from its own
	// goroutine.
	OnReload func(*Config)

	done chan struct{}
}

// NewWatcher starts watching path's directory. initial is the
// already-loaded Config this Watcher will diff future reloads against.
func NewWatcher(path string, initial *Config, log logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Default
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, log: log, fsw: fsw, current: initial, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.path)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Logf(logging.Warn, "config: watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.log.Logf(logging.Warn, "config: reload %s: %v", w.path, err)
		return
	}

	w.mu.Lock()
	prev := w.current
	if next.ThreadNum != prev.ThreadNum {
		w.log.Logf(logging.Warn, "config: reload %s: threadNum change %d -> %d ignored (not live-reloadable)", w.path, prev.ThreadNum, next.ThreadNum)
		next.ThreadNum = prev.ThreadNum
	}
	if next.Addr != prev.Addr {
		w.log.Logf(logging.Warn, "config: reload %s: addr change %q -> %q ignored (not live-reloadable)", w.path, prev.Addr, next.Addr)
		next.Addr = prev.Addr
	}
	w.current = next
	w.mu.Unlock()

	w.log.Logf(logging.Info, "config: reloaded %s", w.path)
	if w.OnReload != nil {
		w.OnReload(next)
	}
}

// Current returns the most recently applied Config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
