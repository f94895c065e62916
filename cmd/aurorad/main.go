// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Aurorad is the orchestrator: it accepts job submissions on its unix
// socket, asks aetherd for an authorization decision, and runs
// authorized jobs in sandboxes. Job state, captured output, and result
// artifacts flow back through aetherd.
//
// On startup aurorad reclaims whatever a previous process left
// behind: orphaned sandboxes are torn down and interrupted jobs are
// marked failed before the socket opens.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aether-foundation/aether/lib/config"
	"github.com/aether-foundation/aether/lib/process"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/runtime"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/substrate"
	"github.com/aether-foundation/aether/lib/version"
	"github.com/aether-foundation/aether/runner"
	"github.com/aether-foundation/aether/sandbox"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath      string
		socketPath      string
		substrateSocket string
		showVersion     bool
	)
	flag.StringVar(&configPath, "config", "", "path to aether.yaml (default: $AETHER_CONFIG)")
	flag.StringVar(&socketPath, "socket", "", "unix socket path (overrides config)")
	flag.StringVar(&substrateSocket, "substrate-socket", "", "aetherd socket path (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("aurorad %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if socketPath != "" {
		cfg.Orchestrator.SocketPath = socketPath
	}
	if substrateSocket != "" {
		cfg.Orchestrator.SubstrateSocket = substrateSocket
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	actor, err := ref.NewActor(cfg.Orchestrator.Actor)
	if err != nil {
		return fmt.Errorf("invalid orchestrator actor: %w", err)
	}
	substrateClient := substrate.New(cfg.Orchestrator.SubstrateSocket, actor)

	manager, err := sandbox.NewManager(sandbox.ManagerOptions{
		Config:  cfg.Sandbox,
		RunDir:  cfg.Paths.Run,
		JobsDir: cfg.Paths.Jobs,
		Logger:  logger.With("component", "sandbox"),
	})
	if err != nil {
		return fmt.Errorf("initializing sandbox manager: %w", err)
	}

	// Orphans from a previous process die before any new job starts.
	reclaimed, err := manager.Reclaim()
	if err != nil {
		logger.Warn("sandbox reclamation incomplete", "error", err)
	}
	if reclaimed > 0 {
		logger.Info("reclaimed orphaned sandboxes", "count", reclaimed)
	}

	jobRunner, err := runner.New(runner.Options{
		Substrate: substrateClient,
		Sandbox:   manager,
		Runtime:   runtime.New(cfg.Orchestrator.RuntimeSocket, cfg.Orchestrator.RuntimeHost),
		JobsDir:   cfg.Paths.Jobs,
		Profile:   cfg.Sandbox.DefaultProfile,
		Logger:    logger.With("component", "runner"),
	})
	if err != nil {
		return fmt.Errorf("initializing job runner: %w", err)
	}
	defer jobRunner.Close()

	if err := jobRunner.Recover(); err != nil {
		logger.Warn("job recovery incomplete", "error", err)
	}

	orchestrator := newOrchestrator(jobRunner, substrateClient, logger)
	server := service.NewSocketServer(cfg.Orchestrator.SocketPath, logger)
	orchestrator.register(server)

	logger.Info("aurorad starting",
		"socket", cfg.Orchestrator.SocketPath,
		"substrate", cfg.Orchestrator.SubstrateSocket,
		"version", version.Info())

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("aurorad stopped")
	return nil
}
