package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileDurations mirrors the duration settings of a TOML file; they are
// written as strings such as "30s" or "2m"
type fileDurations struct {
	Server struct {
		ReadTimeout     string `toml:"read_timeout"`
		WriteTimeout    string `toml:"write_timeout"`
		RequestTimeout  string `toml:"request_timeout"`
		ShutdownTimeout string `toml:"shutdown_timeout"`
	} `toml:"server"`
	Index struct {
		Timeout string `toml:"timeout"`
	} `toml:"index"`
	Embedder struct {
		Timeout string `toml:"timeout"`
	} `toml:"embedder"`
	Generator struct {
		Timeout string `toml:"timeout"`
	} `toml:"generator"`
}

// LoadFile overlays the settings found in a TOML file onto c.
// Keys absent from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var d fileDurations
	if err := toml.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	for _, f := range []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"server.read_timeout", d.Server.ReadTimeout, &c.Server.ReadTimeout},
		{"server.write_timeout", d.Server.WriteTimeout, &c.Server.WriteTimeout},
		{"server.request_timeout", d.Server.RequestTimeout, &c.Server.RequestTimeout},
		{"server.shutdown_timeout", d.Server.ShutdownTimeout, &c.Server.ShutdownTimeout},
		{"index.timeout", d.Index.Timeout, &c.Index.Timeout},
		{"embedder.timeout", d.Embedder.Timeout, &c.Embedder.Timeout},
		{"generator.timeout", d.Generator.Timeout, &c.Generator.Timeout},
	} {
		if f.value == "" {
			continue
		}
		v, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.key, f.value, err)
		}
		*f.dst = v
	}

	return nil
}
