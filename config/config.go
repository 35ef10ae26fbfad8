// Package config provides configuration loading and validation for grpchost.
// Configuration is JSON on disk, with defaults applied before validation.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/c360/grpchost/credentials"
	"github.com/c360/grpchost/errors"
)

// Default values applied when fields are omitted
const (
	DefaultDebounceWindow  = "2s"
	DefaultStopTimeout     = "10s"
	DefaultBridgeWorkers   = 4
	DefaultBridgeQueueSize = 16
	DefaultRefreshInterval = "30s"
)

// Config represents the complete grpchost configuration
type Config struct {
	// ListenAddress is the endpoint the native listener binds to.
	// Empty means client-only mode: no local listener is created.
	ListenAddress string `json:"listen_address,omitempty"`

	// DebounceWindow is the settle delay after the last registry mutation
	// before a restart is triggered (duration string, e.g. "2s")
	DebounceWindow string `json:"debounce_window,omitempty"`

	// StopTimeout bounds graceful stop before escalating to a hard stop
	StopTimeout string `json:"stop_timeout,omitempty"`

	// BridgeWorkers is the size of the blocking-call worker pool
	BridgeWorkers int `json:"bridge_workers,omitempty"`

	// BridgeQueueSize is the bridge task queue capacity
	BridgeQueueSize int `json:"bridge_queue_size,omitempty"`

	// MetricsAddress serves prometheus metrics when set (e.g. ":9090")
	MetricsAddress string `json:"metrics_address,omitempty"`

	// TLS holds transport credential configuration
	TLS credentials.TLSConfig `json:"tls,omitempty"`

	// Throttle configures the sibling throttling-limits poller
	Throttle ThrottleConfig `json:"throttle,omitempty"`
}

// ThrottleConfig configures the KV-backed throttling-limits poller
type ThrottleConfig struct {
	Enabled         bool   `json:"enabled"`
	URL             string `json:"url,omitempty"`              // NATS server URL
	Bucket          string `json:"bucket,omitempty"`           // KV bucket holding the limits
	Key             string `json:"key,omitempty"`              // Key within the bucket
	RefreshInterval string `json:"refresh_interval,omitempty"` // Poll interval (duration string)
}

// DefaultConfig returns a configuration with all defaults applied
func DefaultConfig() *Config {
	return &Config{
		DebounceWindow:  DefaultDebounceWindow,
		StopTimeout:     DefaultStopTimeout,
		BridgeWorkers:   DefaultBridgeWorkers,
		BridgeQueueSize: DefaultBridgeQueueSize,
		Throttle: ThrottleConfig{
			RefreshInterval: DefaultRefreshInterval,
		},
	}
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapInvalid(errors.ErrConfigNotFound, "config", "Load", path)
		}
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with defaults
func (c *Config) ApplyDefaults() {
	if c.DebounceWindow == "" {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.StopTimeout == "" {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.BridgeWorkers <= 0 {
		c.BridgeWorkers = DefaultBridgeWorkers
	}
	if c.BridgeQueueSize <= 0 {
		c.BridgeQueueSize = DefaultBridgeQueueSize
	}
	if c.Throttle.RefreshInterval == "" {
		c.Throttle.RefreshInterval = DefaultRefreshInterval
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.ListenAddress != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("listen_address %q: %w", c.ListenAddress, err),
				"config", "Validate", "parse listen address")
		}
	}

	if _, err := time.ParseDuration(c.DebounceWindow); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("debounce_window %q: %w", c.DebounceWindow, err),
			"config", "Validate", "parse duration")
	}
	if _, err := time.ParseDuration(c.StopTimeout); err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("stop_timeout %q: %w", c.StopTimeout, err),
			"config", "Validate", "parse duration")
	}

	if c.TLS.Server.Enabled {
		if c.TLS.Server.CertFile == "" || c.TLS.Server.KeyFile == "" {
			return errors.WrapInvalid(
				fmt.Errorf("tls.server enabled without cert_file or key_file: %w", errors.ErrMissingConfig),
				"config", "Validate", "check TLS files")
		}
	}

	if c.Throttle.Enabled {
		if c.Throttle.URL == "" || c.Throttle.Bucket == "" || c.Throttle.Key == "" {
			return errors.WrapInvalid(
				fmt.Errorf("throttle enabled without url, bucket or key: %w", errors.ErrMissingConfig),
				"config", "Validate", "check throttle settings")
		}
		if _, err := time.ParseDuration(c.Throttle.RefreshInterval); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("throttle.refresh_interval %q: %w", c.Throttle.RefreshInterval, err),
				"config", "Validate", "parse duration")
		}
	}

	return nil
}

// DebounceWindowDuration returns the parsed debounce window.
// Validate must have been called first.
func (c *Config) DebounceWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.DebounceWindow)
	return d
}

// StopTimeoutDuration returns the parsed stop timeout
func (c *Config) StopTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.StopTimeout)
	return d
}

// RefreshIntervalDuration returns the parsed throttle refresh interval
func (c *ThrottleConfig) RefreshIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RefreshInterval)
	return d
}

// IsClientOnly reports whether no local listener is configured
func (c *Config) IsClientOnly() bool {
	return c.ListenAddress == ""
}
