// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"slices"
	"strings"
	"testing"

	"github.com/aether-foundation/aether/lib/schema"
)

func testProfile() *Profile {
	return &Profile{
		Name: "test",
		Filesystem: []Mount{
			{Source: "${SCRATCH}", Dest: "/scratch", Mode: "rw"},
			{Source: "/usr", Dest: "/usr", Mode: "ro"},
			{Dest: "/tmp", Type: "tmpfs"},
		},
		Namespaces: NamespaceConfig{
			PID: true,
			IPC: true,
			UTS: true,
		},
		Security: SecurityConfig{
			NewSession:    true,
			DieWithParent: true,
		},
		Environment: map[string]string{
			"PATH": "/usr/bin",
			"HOME": "/scratch",
		},
		CreateDirs: []string{"/var/tmp"},
	}
}

func TestBwrapBuilder(t *testing.T) {
	builder := NewBwrapBuilder()
	args, err := builder.Build(&BwrapOptions{
		Profile: testProfile(),
		Scratch: "/work/job/scratch",
		Command: []string{"/bin/sh", "-c", "true"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	argStr := strings.Join(args, " ")

	for _, want := range []string{
		"--unshare-pid",
		"--unshare-net",
		"--unshare-ipc",
		"--unshare-uts",
		"--new-session",
		"--die-with-parent",
		"--proc /proc",
		"--dev /dev",
		"--bind /work/job/scratch /scratch",
		"--ro-bind /usr /usr",
		"--tmpfs /tmp",
		"--dir /var/tmp",
		"--clearenv",
		"--setenv HOME /scratch",
		"--setenv PATH /usr/bin",
	} {
		if !strings.Contains(argStr, want) {
			t.Errorf("missing %q in:\n%s", want, argStr)
		}
	}

	// Command comes after the separator.
	sep := slices.Index(args, "--")
	if sep < 0 {
		t.Fatal("missing -- separator")
	}
	if got := args[sep+1:]; !slices.Equal(got, []string{"/bin/sh", "-c", "true"}) {
		t.Errorf("command after separator = %v", got)
	}
}

func TestBwrapBuilderNetworkAllowlist(t *testing.T) {
	builder := NewBwrapBuilder()
	args, err := builder.Build(&BwrapOptions{
		Profile: testProfile(),
		Scratch: "/work/job/scratch",
		Network: schema.NetworkAllowlist,
		Command: []string{"true"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if slices.Contains(args, "--unshare-net") {
		t.Error("allowlist policy must not unshare the network namespace")
	}
}

func TestBwrapBuilderOptionalMountSkipped(t *testing.T) {
	profile := &Profile{
		Name: "test",
		Filesystem: []Mount{
			{Source: "/scratch-src", Dest: "/scratch", Mode: "rw"},
			{Source: "/no/such/path/aether-test", Dest: "/opt/x", Mode: "ro", Optional: true},
		},
	}

	builder := NewBwrapBuilder()
	args, err := builder.Build(&BwrapOptions{
		Profile: profile,
		Scratch: "/scratch-src",
		Command: []string{"true"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if strings.Contains(strings.Join(args, " "), "/opt/x") {
		t.Error("optional mount with missing source was not skipped")
	}
}

func TestBwrapBuilderExtraEnvOverrides(t *testing.T) {
	builder := NewBwrapBuilder()
	args, err := builder.Build(&BwrapOptions{
		Profile:  testProfile(),
		Scratch:  "/work/job/scratch",
		ExtraEnv: map[string]string{"HOME": "/elsewhere"},
		Command:  []string{"true"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	argStr := strings.Join(args, " ")
	if !strings.Contains(argStr, "--setenv HOME /elsewhere") {
		t.Error("extra env did not override profile env")
	}
}

func TestBwrapBuilderRequiresCommand(t *testing.T) {
	builder := NewBwrapBuilder()
	if _, err := builder.Build(&BwrapOptions{
		Profile: testProfile(),
		Scratch: "/work/job/scratch",
	}); err == nil {
		t.Error("expected error for empty command")
	}
}
