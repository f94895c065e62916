// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"

	"github.com/aether-foundation/aether/lib/schema"
)

// SystemdScope wraps command execution in a systemd scope so the
// kernel enforces the job's cgroup ceilings.
type SystemdScope struct {
	// Name is the scope unit name (e.g. "aether-job-<id>").
	Name string

	// Limits are the job's resource ceilings.
	Limits schema.ResourceProfile

	// User runs the scope as the current user (--user flag).
	User bool
}

// NewSystemdScope creates a new systemd scope wrapper.
func NewSystemdScope(name string, limits schema.ResourceProfile) *SystemdScope {
	return &SystemdScope{
		Name:   name,
		Limits: limits,
		User:   true,
	}
}

// Available checks if systemd-run is available.
func (s *SystemdScope) Available() bool {
	_, err := exec.LookPath("systemd-run")
	return err == nil
}

// WrapCommand wraps a command with systemd-run for resource limits.
// Returns the original command unchanged if no limits are configured.
func (s *SystemdScope) WrapCommand(cmd []string) []string {
	if !s.Limits.HasLimits() {
		return cmd
	}

	args := []string{"systemd-run"}

	if s.User {
		args = append(args, "--user")
	}

	args = append(args, "--scope", "--collect")

	if s.Name != "" {
		args = append(args, "--unit="+s.Name)
	}

	if s.Limits.TasksMax > 0 {
		args = append(args, fmt.Sprintf("--property=TasksMax=%d", s.Limits.TasksMax))
	}
	if s.Limits.MemoryMaxBytes > 0 {
		args = append(args, fmt.Sprintf("--property=MemoryMax=%d", s.Limits.MemoryMaxBytes))
	}
	if s.Limits.CPUQuotaPercent > 0 {
		args = append(args, fmt.Sprintf("--property=CPUQuota=%d%%", s.Limits.CPUQuotaPercent))
	}
	if s.Limits.IOWeight > 0 {
		args = append(args, fmt.Sprintf("--property=IOWeight=%d", s.Limits.IOWeight))
	}

	args = append(args, "--")
	args = append(args, cmd...)

	return args
}
