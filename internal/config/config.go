// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads trackbot settings from an optional YAML file and the
// environment. Command line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// Connection selects and configures the robot transport
type Connection struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
	Sim         bool   `yaml:"sim"`
}

// Link configures the link engine
type Link struct {
	Timeout             time.Duration `yaml:"timeout"`
	TimeoutPollInterval time.Duration `yaml:"timeout_poll_interval"`
	InputBuffer         int           `yaml:"input_buffer"`
	OutputBuffer        int           `yaml:"output_buffer"`
}

// Events configures sensor polling. A negative interval disables it.
type Events struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Behavior picks the behavior run by the run command
type Behavior struct {
	Name string `yaml:"name"`
	// Seed for the behavior's random choices. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// Metrics configures the Prometheus endpoint. An empty address disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// NATS configures the event bridge. An empty URL disables it.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Store configures the SQLite recorder. An empty path disables it.
type Store struct {
	Path string `yaml:"path"`
}

// Log configures logging
type Log struct {
	Level string `yaml:"level"`
}

// Config is the complete trackbot configuration
type Config struct {
	Connection Connection `yaml:"connection"`
	Link       Link       `yaml:"link"`
	Events     Events     `yaml:"events"`
	Behavior   Behavior   `yaml:"behavior"`
	Metrics    Metrics    `yaml:"metrics"`
	NATS       NATS       `yaml:"nats"`
	Store      Store      `yaml:"store"`
	Log        Log        `yaml:"log"`
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		Connection: Connection{
			Baud:     trackbot.DefaultBaudRate,
			Username: "admin",
		},
		Link: Link{
			Timeout:             trackbot.DefaultTimeout,
			TimeoutPollInterval: trackbot.DefaultTimeoutPollInterval,
			InputBuffer:         trackbot.DefaultBufferSize,
			OutputBuffer:        trackbot.DefaultBufferSize,
		},
		Events:   Events{PollInterval: trackbot.DefaultSensorPollInterval},
		Behavior: Behavior{Name: "avoid"},
		NATS:     NATS{Subject: "trackbot.events"},
		Log:      Log{Level: "info"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from TRACKBOT_* variables
func (c *Config) ApplyEnv() {
	c.Connection.Port = getEnv("TRACKBOT_PORT", c.Connection.Port)
	c.Connection.Baud = getEnvInt("TRACKBOT_BAUD", c.Connection.Baud)
	c.Connection.URL = getEnv("TRACKBOT_URL", c.Connection.URL)
	c.Link.Timeout = getEnvDuration("TRACKBOT_TIMEOUT", c.Link.Timeout)
	c.Events.PollInterval = getEnvDuration("TRACKBOT_POLL_INTERVAL", c.Events.PollInterval)
	c.Behavior.Name = getEnv("TRACKBOT_BEHAVIOR", c.Behavior.Name)
	c.Metrics.Addr = getEnv("TRACKBOT_METRICS_ADDR", c.Metrics.Addr)
	c.NATS.URL = getEnv("TRACKBOT_NATS_URL", c.NATS.URL)
	c.Store.Path = getEnv("TRACKBOT_DB", c.Store.Path)
	c.Log.Level = getEnv("TRACKBOT_LOG_LEVEL", c.Log.Level)
}

// Validate rejects settings the link engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Connection.Baud <= 0 {
		errs = append(errs, fmt.Errorf("connection.baud must be positive, got %d", c.Connection.Baud))
	}
	if c.Link.InputBuffer <= 0 {
		errs = append(errs, fmt.Errorf("link.input_buffer must be positive, got %d", c.Link.InputBuffer))
	}
	if c.Link.OutputBuffer <= 0 {
		errs = append(errs, fmt.Errorf("link.output_buffer must be positive, got %d", c.Link.OutputBuffer))
	}
	if c.Link.TimeoutPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("link.timeout_poll_interval must be positive, got %s", c.Link.TimeoutPollInterval))
	}
	return errors.Join(errs...)
}

// LinkConfig converts the link settings for trackbot.NewLink
func (c *Config) LinkConfig() trackbot.LinkConfig {
	return trackbot.LinkConfig{
		InputBufferSize:     c.Link.InputBuffer,
		OutputBufferSize:    c.Link.OutputBuffer,
		Timeout:             c.Link.Timeout,
		TimeoutPollInterval: c.Link.TimeoutPollInterval,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("250ms") or bare milliseconds
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// Password returns TRACKBOT_PASSWORD, or "" when unset
func Password() string {
	return os.Getenv("TRACKBOT_PASSWORD")
}
