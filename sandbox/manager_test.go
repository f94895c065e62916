// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/aether-foundation/aether/lib/config"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

func testManager(t *testing.T, caps *Capabilities, fallback config.FallbackConfig) *Manager {
	t.Helper()
	root := t.TempDir()
	manager, err := NewManager(ManagerOptions{
		Config: config.SandboxConfig{
			DefaultProfile: "minimal",
			Fallback:       fallback,
		},
		RunDir:       filepath.Join(root, "run"),
		JobsDir:      filepath.Join(root, "jobs"),
		Logger:       slog.New(slog.DiscardHandler),
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func skipFallback() config.FallbackConfig {
	return config.FallbackConfig{NoUserns: "skip", NoBwrap: "skip", NoSystemd: "skip"}
}

func TestPrepareWritesHandle(t *testing.T) {
	manager := testManager(t, &Capabilities{}, skipFallback())

	jobID := ref.NewJobID()
	handle, err := manager.Prepare(jobID, "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if handle.Profile != "minimal" {
		t.Errorf("handle profile = %q, want default minimal", handle.Profile)
	}
	if info, err := os.Stat(handle.Scratch); err != nil || !info.IsDir() {
		t.Errorf("scratch directory not created: %v", err)
	}

	// The handle file is on disk before anything launches.
	loaded, err := readHandle(manager.handlePath(jobID))
	if err != nil {
		t.Fatalf("reading handle file: %v", err)
	}
	if loaded.JobID != jobID {
		t.Errorf("handle job ID = %v, want %v", loaded.JobID, jobID)
	}
	if loaded.PID != 0 {
		t.Errorf("handle PID before launch = %d, want 0", loaded.PID)
	}
}

func TestPrepareUnknownProfile(t *testing.T) {
	manager := testManager(t, &Capabilities{}, skipFallback())

	_, err := manager.Prepare(ref.NewJobID(), "no-such-profile")
	if !schema.IsKind(err, schema.ErrSandboxSetup) {
		t.Errorf("expected sandbox-setup-failure, got %v", err)
	}
}

func TestLaunchWithoutIsolation(t *testing.T) {
	manager := testManager(t, &Capabilities{}, skipFallback())

	handle, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	cmd, err := manager.Launch(context.Background(), handle,
		[]string{"/bin/sh", "-c", "true"}, schema.ResourceProfile{}, nil)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if !slices.Equal(cmd.Args, []string{"/bin/sh", "-c", "true"}) {
		t.Errorf("unisolated argv = %v", cmd.Args)
	}
	if handle.Isolated {
		t.Error("handle marked isolated without bwrap")
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Error("launched command must lead its own process group")
	}
}

func TestLaunchNoBwrapError(t *testing.T) {
	fallback := skipFallback()
	fallback.NoBwrap = "error"
	manager := testManager(t, &Capabilities{}, fallback)

	handle, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	_, err = manager.Launch(context.Background(), handle,
		[]string{"true"}, schema.ResourceProfile{}, nil)
	if !schema.IsKind(err, schema.ErrSandboxSetup) {
		t.Errorf("expected sandbox-setup-failure, got %v", err)
	}
}

func TestLaunchIsolated(t *testing.T) {
	caps := &Capabilities{
		BwrapAvailable:        true,
		BwrapPath:             "/usr/bin/bwrap",
		UserNamespacesEnabled: true,
	}
	manager := testManager(t, caps, skipFallback())

	handle, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	cmd, err := manager.Launch(context.Background(), handle,
		[]string{"/bin/echo", "hi"}, schema.ResourceProfile{}, nil)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	if cmd.Args[0] != "/usr/bin/bwrap" {
		t.Errorf("isolated argv[0] = %q, want bwrap", cmd.Args[0])
	}
	if !slices.Contains(cmd.Args, "--unshare-net") {
		t.Error("default network policy must unshare the network namespace")
	}
	if !handle.Isolated {
		t.Error("handle not marked isolated")
	}
}

func TestLaunchScopeUnavailable(t *testing.T) {
	fallback := skipFallback()
	fallback.NoSystemd = "error"
	manager := testManager(t, &Capabilities{}, fallback)

	handle, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	limits := schema.ResourceProfile{MemoryMaxBytes: 1 << 20}
	_, err = manager.Launch(context.Background(), handle, []string{"true"}, limits, nil)
	if !schema.IsKind(err, schema.ErrSandboxSetup) {
		t.Errorf("expected sandbox-setup-failure, got %v", err)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	manager := testManager(t, &Capabilities{}, skipFallback())

	handle, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if err := manager.Teardown(handle); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if _, err := os.Stat(handle.Scratch); !os.IsNotExist(err) {
		t.Error("scratch directory survived teardown")
	}
	if _, err := os.Stat(manager.handlePath(handle.JobID)); !os.IsNotExist(err) {
		t.Error("handle file survived teardown")
	}

	// Second teardown is a no-op.
	if err := manager.Teardown(handle); err != nil {
		t.Errorf("repeated Teardown failed: %v", err)
	}
}

func TestReclaim(t *testing.T) {
	manager := testManager(t, &Capabilities{}, skipFallback())

	// One sandbox that never launched, one whose process is long gone.
	neverLaunched, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	dead, err := manager.Prepare(ref.NewJobID(), "")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	// PID far above pid_max: kill(2) reports no such process.
	if err := manager.Started(dead, 1<<30); err != nil {
		t.Fatalf("Started failed: %v", err)
	}

	reclaimed, err := manager.Reclaim()
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if reclaimed != 2 {
		t.Errorf("reclaimed %d sandboxes, want 2", reclaimed)
	}

	for _, handle := range []*Handle{neverLaunched, dead} {
		if _, err := os.Stat(manager.handlePath(handle.JobID)); !os.IsNotExist(err) {
			t.Errorf("handle for %v survived reclaim", handle.JobID)
		}
	}
}
