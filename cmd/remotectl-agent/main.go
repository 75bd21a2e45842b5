// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/process"
	"github.com/VNOI-Admin/remotectl/lib/service"
	"github.com/VNOI-Admin/remotectl/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the agent configuration file (optional)")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("remotectl-agent", version.Info())
		return nil
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o700); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerConfig{
		Shell:    cfg.Shell,
		WorkDir:  cfg.WorkDir,
		Clock:    clock.Real(),
		Logger:   logger,
		Callback: NewCallbackClient(),
	})
	api := NewAgentAPI(runner, logger)

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.ListenAddress,
		Handler:         api.Routes(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	logger.Info("remotectl agent starting",
		"version", version.Info(),
		"listen_address", cfg.ListenAddress,
		"shell", cfg.Shell,
	)
	return server.Serve(ctx)
}

// newLogger builds the process logger writing JSON lines to stderr.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
