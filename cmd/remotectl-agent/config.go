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

// Config is the agent configuration, loaded from a single YAML file.
type Config struct {
	// ListenAddress is the TCP address the agent API binds to. The
	// server must be able to reach it on the port configured in its
	// own agent_port.
	ListenAddress string `yaml:"listen_address"`

	// Shell is the interpreter scripts run under.
	Shell string `yaml:"shell"`

	// WorkDir is where script files are written before execution.
	// Created on startup if absent.
	WorkDir string `yaml:"work_dir"`

	// ShutdownTimeout bounds graceful HTTP shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the base configuration merged under the loaded
// file.
func DefaultConfig() *Config {
	return &Config{
		ListenAddress:   ":9090",
		Shell:           "/bin/sh",
		WorkDir:         "/var/lib/remotectl-agent",
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
	}
}

// LoadConfig reads and validates the configuration file. A missing
// path returns the defaults: unlike the server, the agent can run
// entirely on them.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

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
	if c.Shell == "" {
		errs = append(errs, fmt.Errorf("shell is required"))
	}
	if c.WorkDir == "" {
		errs = append(errs, fmt.Errorf("work_dir is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error"))
	}

	return errors.Join(errs...)
}
