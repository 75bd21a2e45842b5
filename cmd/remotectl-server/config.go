// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration, loaded from a single YAML file.
// The file is the only source of configuration; environment variables
// do not override it.
type Config struct {
	// ListenAddress is the TCP address the HTTP API binds to.
	ListenAddress string `yaml:"listen_address"`

	// DatabasePath is the SQLite database file. Created on first start.
	DatabasePath string `yaml:"database_path"`

	// TargetsFile is the YAML target directory mapping target names to
	// agent IP addresses.
	TargetsFile string `yaml:"targets_file"`

	// AgentPort is the TCP port agents listen on.
	AgentPort int `yaml:"agent_port"`

	// CallbackURL is the base URL agents push status updates to. It
	// must be reachable from the targets, e.g. "http://10.1.0.1:8080".
	CallbackURL string `yaml:"callback_url"`

	// ShutdownTimeout bounds graceful HTTP shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the base configuration merged under the loaded
// file.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:   ":8080",
		DatabasePath:    "remotectl.db",
		AgentPort:       9090,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("database_path is required"))
	}
	if c.TargetsFile == "" {
		errs = append(errs, fmt.Errorf("targets_file is required"))
	}
	if c.AgentPort <= 0 || c.AgentPort > 65535 {
		errs = append(errs, fmt.Errorf("agent_port must be in 1..65535, got %d", c.AgentPort))
	}
	if c.CallbackURL == "" {
		errs = append(errs, fmt.Errorf("callback_url is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error"))
	}

	return errors.Join(errs...)
}
