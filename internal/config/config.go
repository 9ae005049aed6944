package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds every runtime-tunable knob plus the server identity fields.
// Zero-value fields are filled in by Default() / applyDefaults.
type Config struct {
	Name      string `json:"name"`
	Addr      string `json:"addr"`
	ThreadNum int    `json:"threadNum"`

	PollTimeoutMs int `json:"pollTimeoutMs"`
	ChunkSize     int `json:"chunkSize"`
	HighWaterMark int `json:"highWaterMark"`

	HTTPEnabled        bool `json:"httpEnabled"`
	HTTPKeepAlive      bool `json:"httpKeepAlive"`
	HTTPRequestBufSize int  `json:"httpRequestBufSize"`
	HTTPRequestMaxBody int  `json:"httpRequestMaxBody"`
	HTTPResponseBufSize int `json:"httpResponseBufSize"`
	HTTPResponseMaxBody int `json:"httpResponseMaxBody"`
}

// Default returns a Config with every field's default value applied.
func Default() *Config {
	c := &Config{Name: "reactor", Addr: "0.0.0.0:8888", ThreadNum: 4}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.PollTimeoutMs <= 0 {
		c.PollTimeoutMs = 10_000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4096
	}
	if c.HighWaterMark <= 0 {
		c.HighWaterMark = 64 << 20
	}
	if c.HTTPRequestBufSize <= 0 {
		c.HTTPRequestBufSize = 4096
	}
	if c.HTTPRequestMaxBody <= 0 {
		c.HTTPRequestMaxBody = 64 << 20
	}
	if c.HTTPResponseBufSize <= 0 {
		c.HTTPResponseBufSize = 4096
	}
	if c.HTTPResponseMaxBody <= 0 {
		c.HTTPResponseMaxBody = 64 << 20
	}
}

// Load reads a JSON config file at path, applying defaults for any field
// the file omits. A missing file is not an error: Load returns Default().
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}

// Clone returns a deep copy (Config has no reference fields, so this is a
// plain value copy, named for call-site clarity at reload sites).
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
