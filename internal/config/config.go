// Package config loads backend configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the runtime configuration for the TaskDeck backend.
type Config struct {
	APIBind       string
	RemoteBaseURL string
	DataDir       string
	LogLevel      string
	ProbeInterval time.Duration
	RetryBackoff  []time.Duration
}

const (
	defaultAPIBind       = "127.0.0.1:8097"
	defaultRemoteBaseURL = "http://localhost:8090"
	defaultDataDir       = "./data"
	defaultLogLevel      = "info"
	defaultProbeInterval = 10 * time.Second
)

// defaultRetryBackoff is the delay schedule between retries of a failed
// operation. An operation is attempted len(schedule)+1 times in total.
func defaultRetryBackoff() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIBind:       defaultAPIBind,
		RemoteBaseURL: defaultRemoteBaseURL,
		DataDir:       defaultDataDir,
		LogLevel:      defaultLogLevel,
		ProbeInterval: defaultProbeInterval,
		RetryBackoff:  defaultRetryBackoff(),
	}
}

// Load parses the config file at path, falling back to defaults when the
// file is missing. An empty path uses TASKDECK_CONFIG or ./taskdeck.toml.
func Load(path string) (Config, error) {
	cfg := Default()

	resolved := resolvePath(path)
	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		APIBind       string   `toml:"api_bind"`
		RemoteBaseURL string   `toml:"remote_base_url"`
		DataDir       string   `toml:"data_dir"`
		LogLevel      string   `toml:"log_level"`
		ProbeInterval string   `toml:"probe_interval"`
		RetryBackoff  []string `toml:"retry_backoff"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.APIBind); v != "" {
		cfg.APIBind = v
	}
	if v := strings.TrimSpace(raw.RemoteBaseURL); v != "" {
		cfg.RemoteBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(raw.DataDir); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(raw.ProbeInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse probe_interval: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("probe_interval must be positive, got %q", v)
		}
		cfg.ProbeInterval = d
	}
	if len(raw.RetryBackoff) > 0 {
		schedule := make([]time.Duration, 0, len(raw.RetryBackoff))
		for _, s := range raw.RetryBackoff {
			d, err := time.ParseDuration(strings.TrimSpace(s))
			if err != nil {
				return Config{}, fmt.Errorf("parse retry_backoff entry %q: %w", s, err)
			}
			if d < 0 {
				return Config{}, fmt.Errorf("retry_backoff entry %q must not be negative", s)
			}
			schedule = append(schedule, d)
		}
		cfg.RetryBackoff = schedule
	}

	return cfg, nil
}

// resolvePath picks the config file location.
func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("TASKDECK_CONFIG"); env != "" {
		return env
	}
	return "./taskdeck.toml"
}
