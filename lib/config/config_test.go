// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aether.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Environment != Development {
		t.Errorf("environment = %s, want development", cfg.Environment)
	}
	if cfg.Daemon.SocketPath != "/tmp/aetherd.sock" {
		t.Errorf("daemon socket = %s", cfg.Daemon.SocketPath)
	}
	if cfg.Orchestrator.SubstrateSocket != cfg.Daemon.SocketPath {
		t.Error("orchestrator must default to the daemon socket")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("AETHER_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without AETHER_CONFIG must fail")
	}
}

func TestLoadFileExpandsRoot(t *testing.T) {
	path := writeConfig(t, `
environment: development
paths:
  root: /srv/aether
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.Jobs != "/srv/aether/jobs" {
		t.Errorf("jobs dir = %s, want /srv/aether/jobs", cfg.Paths.Jobs)
	}
	if cfg.Daemon.PolicyFile != "/srv/aether/policy.jsonc" {
		t.Errorf("policy file = %s", cfg.Daemon.PolicyFile)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
paths:
  root: /srv/aether
production:
  daemon:
    socket_path: /run/aether/aetherd.sock
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Daemon.SocketPath != "/run/aether/aetherd.sock" {
		t.Errorf("socket = %s", cfg.Daemon.SocketPath)
	}
}

func TestProductionHardensFallback(t *testing.T) {
	path := writeConfig(t, `
environment: production
paths:
  root: /srv/aether
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Sandbox.Fallback.NoUserns != "error" {
		t.Errorf("production no_userns = %s, want error", cfg.Sandbox.Fallback.NoUserns)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}

	cfg.Sandbox.Fallback.NoBwrap = "ignore"
	cfg.Daemon.Retention.MaxAge = "not-a-duration"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if !strings.Contains(err.Error(), "no_bwrap") {
		t.Errorf("error should mention no_bwrap: %v", err)
	}
	if !strings.Contains(err.Error(), "max_age") {
		t.Errorf("error should mention max_age: %v", err)
	}
}

func TestRetentionDurations(t *testing.T) {
	cfg := Default()
	if cfg.RetentionInterval() != time.Hour {
		t.Errorf("interval = %v", cfg.RetentionInterval())
	}
	if cfg.RetentionMaxAge() != 168*time.Hour {
		t.Errorf("max age = %v", cfg.RetentionMaxAge())
	}
	cfg.Daemon.Retention.Interval = ""
	if cfg.RetentionInterval() != 0 {
		t.Error("unset interval must be zero")
	}
}
