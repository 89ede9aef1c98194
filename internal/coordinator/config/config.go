// Package config holds the coordinator configuration: defaults, an optional
// YAML file, and environment overrides, applied in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the coordinator.
type Config struct {
	// ListenAddr is the WebSocket listener bind address.
	ListenAddr string `yaml:"listen_addr"`

	// SessionTimeout is the lease and session deadline for interactive
	// requests.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// ShutdownGrace delays the transport shutdown once the server is idle.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// RetryCap is the number of requeues before a request is rejected.
	RetryCap int `yaml:"retry_cap"`

	// NotificationCapacity bounds the notification ring.
	NotificationCapacity int `yaml:"notification_capacity"`

	// NotificationMaxAge is the notification retention window.
	NotificationMaxAge time.Duration `yaml:"notification_max_age"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:           DefaultListenAddr,
		SessionTimeout:       DefaultSessionTimeout,
		ShutdownGrace:        DefaultShutdownGrace,
		RetryCap:             DefaultRetryCap,
		NotificationCapacity: DefaultNotificationCapacity,
		NotificationMaxAge:   DefaultNotificationMaxAge,
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from FEEDBRIDGE_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("FEEDBRIDGE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("FEEDBRIDGE_SESSION_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEEDBRIDGE_SESSION_TIMEOUT_SECONDS: %w", err)
		}
		c.SessionTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("FEEDBRIDGE_SHUTDOWN_GRACE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEEDBRIDGE_SHUTDOWN_GRACE_MS: %w", err)
		}
		c.ShutdownGrace = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("FEEDBRIDGE_RETRY_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEEDBRIDGE_RETRY_CAP: %w", err)
		}
		c.RetryCap = n
	}
	return nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr must not be empty")
	}
	if c.SessionTimeout <= 0 {
		return errors.New("session_timeout must be positive")
	}
	if c.ShutdownGrace < 0 {
		return errors.New("shutdown_grace must not be negative")
	}
	if c.RetryCap < 0 {
		return errors.New("retry_cap must not be negative")
	}
	if c.NotificationCapacity <= 0 {
		return errors.New("notification_capacity must be positive")
	}
	if c.NotificationMaxAge <= 0 {
		return errors.New("notification_max_age must be positive")
	}
	return nil
}
