// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"slices"
	"strings"
	"testing"

	"github.com/aether-foundation/aether/lib/schema"
)

func TestSystemdScopeWrapCommand(t *testing.T) {
	scope := NewSystemdScope("aether-job-test", schema.ResourceProfile{
		CPUQuotaPercent: 200,
		MemoryMaxBytes:  2 << 30,
		TasksMax:        64,
		IOWeight:        50,
	})

	wrapped := scope.WrapCommand([]string{"/usr/bin/bwrap", "--", "true"})
	argStr := strings.Join(wrapped, " ")

	for _, want := range []string{
		"systemd-run",
		"--user",
		"--scope",
		"--unit=aether-job-test",
		"--property=TasksMax=64",
		"--property=MemoryMax=2147483648",
		"--property=CPUQuota=200%",
		"--property=IOWeight=50",
	} {
		if !strings.Contains(argStr, want) {
			t.Errorf("missing %q in:\n%s", want, argStr)
		}
	}

	sep := slices.Index(wrapped, "--")
	if sep < 0 {
		t.Fatal("missing -- separator")
	}
	if wrapped[sep+1] != "/usr/bin/bwrap" {
		t.Errorf("inner command = %v", wrapped[sep+1:])
	}
}

func TestSystemdScopeNoLimits(t *testing.T) {
	scope := NewSystemdScope("aether-job-test", schema.ResourceProfile{})
	cmd := []string{"true"}
	if got := scope.WrapCommand(cmd); !slices.Equal(got, cmd) {
		t.Errorf("no-limit wrap changed command: %v", got)
	}
}
