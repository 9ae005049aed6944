package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path string, v map[string]any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, map[string]any{"name": "reactor", "addr": "0.0.0.0:8888", "threadNum": 4})

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnReload = func(c *Config) { reloaded <- c }

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, map[string]any{"name": "renamed-server", "addr": "0.0.0.0:8888", "threadNum": 4})

	select {
	case c := <-reloaded:
		if c.Name != "renamed-server" {
			t.Fatalf("reloaded Name = %q, want renamed-server", c.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never observed the config file change")
	}

	if w.Current().Name != "renamed-server" {
		t.Fatalf("Current().Name = %q, want renamed-server", w.Current().Name)
	}
}

func TestWatcherRejectsLiveThreadNumAndAddrChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeConfig(t, path, map[string]any{"name": "reactor", "addr": "0.0.0.0:8888", "threadNum": 4})

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w, err := NewWatcher(path, initial, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	reloaded := make(chan *Config, 1)
	w.OnReload = func(c *Config) { reloaded <- c }

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, path, map[string]any{"name": "reactor", "addr": "0.0.0.0:9999", "threadNum": 16})

	select {
	case c := <-reloaded:
		if c.ThreadNum != 4 {
			t.Fatalf("ThreadNum changed live to %d, want it reverted to 4", c.ThreadNum)
		}
		if c.Addr != "0.0.0.0:8888" {
			t.Fatalf("Addr changed live to %q, want it reverted to 0.0.0.0:8888", c.Addr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never observed the config file change")
	}
}
