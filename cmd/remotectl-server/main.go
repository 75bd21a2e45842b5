// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
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
	pflag.StringVar(&configPath, "config", "", "path to the server configuration file")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("remotectl-server", version.Info())
		return nil
	}
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	directory, err := LoadDirectory(cfg.TargetsFile)
	if err != nil {
		return err
	}

	realClock := clock.Real()
	store, err := OpenStore(StoreConfig{
		Path:   cfg.DatabasePath,
		Clock:  realClock,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	hub := NewHub(logger)
	agents := NewAgentClient(cfg.AgentPort)
	dispatcher := NewDispatcher(DispatcherConfig{
		Store:       store,
		Hub:         hub,
		Directory:   directory,
		Agents:      agents,
		Clock:       realClock,
		Logger:      logger,
		CallbackURL: cfg.CallbackURL,
	})
	reconciler := NewReconciler(store, hub, directory, agents, logger)

	api := NewAPIServer(APIServerConfig{
		Store:      store,
		Hub:        hub,
		Dispatcher: dispatcher,
		Reconciler: reconciler,
		Directory:  directory,
		Clock:      realClock,
		Logger:     logger,
	})

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Run(ctx)
	}()

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.ListenAddress,
		Handler:         api.Routes(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	logger.Info("remotectl server starting",
		"version", version.Info(),
		"listen_address", cfg.ListenAddress,
		"database", cfg.DatabasePath,
	)

	err = server.Serve(ctx)
	workers.Wait()
	return err
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
