// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Aetherd is the substrate daemon: the single process that owns the
// policy engine, the append-only audit log, the content-addressed
// artifact store, and the memory store. Everything else — the
// orchestrator, the CLI, external tools — reaches these through the
// aetherd unix socket.
//
// Every guarded operation is evaluated against the policy rule set
// and the decision is written durably to the audit log before the
// response leaves the process. If the audit log cannot be written,
// aetherd degrades to safe refusal: it stays up and answers health
// checks, but refuses all guarded work until restarted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aether-foundation/aether/lib/artifact"
	"github.com/aether-foundation/aether/lib/audit"
	"github.com/aether-foundation/aether/lib/config"
	"github.com/aether-foundation/aether/lib/memory"
	"github.com/aether-foundation/aether/lib/policy"
	"github.com/aether-foundation/aether/lib/process"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		policyFile  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to aether.yaml (default: $AETHER_CONFIG)")
	flag.StringVar(&socketPath, "socket", "", "unix socket path (overrides config)")
	flag.StringVar(&policyFile, "policy", "", "policy rule file (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("aetherd %s\n", version.Info())
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
		cfg.Daemon.SocketPath = socketPath
	}
	if policyFile != "" {
		cfg.Daemon.PolicyFile = policyFile
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := policy.LoadRules(cfg.Daemon.PolicyFile)
	if err != nil {
		return fmt.Errorf("loading policy rules: %w", err)
	}
	engine, err := policy.NewEngine(rules)
	if err != nil {
		return fmt.Errorf("building policy engine: %w", err)
	}
	logger.Info("policy loaded",
		"file", cfg.Daemon.PolicyFile,
		"rules", len(rules),
		"version", engine.Version())

	if err := os.MkdirAll(cfg.Paths.Audit, 0o700); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}
	auditLog, err := audit.Open(filepath.Join(cfg.Paths.Audit, "audit.jsonl"))
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	artifacts, err := artifact.Open(artifact.Options{
		Dir:    cfg.Paths.Artifacts,
		Logger: logger.With("component", "artifact"),
	})
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}
	defer artifacts.Close()

	if err := os.MkdirAll(cfg.Paths.Memory, 0o700); err != nil {
		return fmt.Errorf("creating memory directory: %w", err)
	}
	memories, err := memory.Open(memory.Options{
		Path:   filepath.Join(cfg.Paths.Memory, "memory.db"),
		Logger: logger.With("component", "memory"),
	})
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer memories.Close()

	daemon := newDaemon(daemonOptions{
		Engine:    engine,
		Audit:     auditLog,
		Artifacts: artifacts,
		Memory:    memories,
		Logger:    logger,
	})
	daemon.recordStartup()

	// Retention sweeps run for the lifetime of the daemon.
	retention := artifact.RetentionPolicy{
		MaxAge:        cfg.RetentionMaxAge(),
		MaxTotalBytes: cfg.Daemon.Retention.MaxTotalBytes,
	}
	if interval := cfg.RetentionInterval(); interval > 0 {
		go daemon.sweepLoop(ctx, retention, interval)
	}

	server := service.NewSocketServer(cfg.Daemon.SocketPath, logger)
	daemon.register(server)

	logger.Info("aetherd starting",
		"socket", cfg.Daemon.SocketPath,
		"version", version.Info(),
		"environment", string(cfg.Environment))

	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	logger.Info("aetherd stopped")
	return nil
}

// sweepLoop applies the retention policy on a fixed interval until
// the context is cancelled.
func (d *daemon) sweepLoop(ctx context.Context, retention artifact.RetentionPolicy, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.sweep(ctx, retention)
	}
}
