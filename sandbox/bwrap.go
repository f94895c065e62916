// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aether-foundation/aether/lib/schema"
)

// BwrapOptions holds options for building a bwrap command.
type BwrapOptions struct {
	// Profile is the resolved and expanded profile to use.
	Profile *Profile

	// Scratch is the job's private writable directory, mounted at
	// /scratch.
	Scratch string

	// Network is the job's network policy. NetworkNone unshares the
	// network namespace; NetworkAllowlist leaves it shared.
	Network schema.NetworkPolicy

	// ExtraEnv are additional environment variables, set after the
	// profile's so they win.
	ExtraEnv map[string]string

	// Command is the argv to run inside the sandbox.
	Command []string
}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
	env  map[string]string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{
		args: []string{},
		env:  make(map[string]string),
	}
}

// Build constructs the bwrap arguments from options.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if opts.Scratch == "" {
		return nil, fmt.Errorf("scratch directory is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	b.args = []string{}
	b.env = make(map[string]string)

	b.addNamespaces(opts.Profile.Namespaces, opts.Network)
	b.addSecurity(opts.Profile.Security)

	// /proc is needed for most programs; /dev is the minimal safe set.
	b.args = append(b.args, "--proc", "/proc")
	b.args = append(b.args, "--dev", "/dev")

	if err := b.addProfileMounts(opts.Profile, opts.Scratch); err != nil {
		return nil, err
	}

	for _, dir := range opts.Profile.CreateDirs {
		b.args = append(b.args, "--dir", dir)
	}

	// Always clear the host environment; only explicit variables pass.
	b.args = append(b.args, "--clearenv")

	for key, value := range opts.Profile.Environment {
		b.env[key] = value
	}
	for key, value := range opts.ExtraEnv {
		b.env[key] = value
	}

	// Sorted for deterministic argument order.
	envKeys := make([]string, 0, len(b.env))
	for key := range b.env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		b.args = append(b.args, "--setenv", key, b.env[key])
	}

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)

	return b.args, nil
}

// addNamespaces adds namespace unsharing options. The network
// namespace follows the job's policy, not the profile.
func (b *BwrapBuilder) addNamespaces(ns NamespaceConfig, network schema.NetworkPolicy) {
	if ns.PID {
		b.args = append(b.args, "--unshare-pid")
	}
	if network != schema.NetworkAllowlist {
		b.args = append(b.args, "--unshare-net")
	}
	if ns.IPC {
		b.args = append(b.args, "--unshare-ipc")
	}
	if ns.UTS {
		b.args = append(b.args, "--unshare-uts")
	}
	if ns.Cgroup {
		b.args = append(b.args, "--unshare-cgroup")
	}
	if ns.User {
		b.args = append(b.args, "--unshare-user")
	}
}

func (b *BwrapBuilder) addSecurity(sec SecurityConfig) {
	if sec.NewSession {
		b.args = append(b.args, "--new-session")
	}
	if sec.DieWithParent {
		b.args = append(b.args, "--die-with-parent")
	}
}

// addProfileMounts adds mounts from the profile configuration.
func (b *BwrapBuilder) addProfileMounts(profile *Profile, scratch string) error {
	for _, mount := range profile.Filesystem {
		source := mount.Source

		// ${SCRATCH} survives expansion when the catalog is resolved
		// before the job directory exists.
		if source == "${SCRATCH}" {
			source = scratch
		}

		switch mount.Type {
		case MountTypeTmpfs:
			b.args = append(b.args, "--tmpfs", mount.Dest)

		case MountTypeProc:
			b.args = append(b.args, "--proc", mount.Dest)

		case MountTypeDev:
			b.args = append(b.args, "--dev", mount.Dest)

		case MountTypeDevBind:
			if mount.Optional {
				if _, err := os.Stat(source); os.IsNotExist(err) {
					continue
				}
			}
			b.args = append(b.args, "--dev-bind", source, mount.Dest)

		default:
			// Regular bind mount.
			if mount.Optional {
				if _, err := os.Stat(source); os.IsNotExist(err) {
					continue
				}
			}

			if mount.Glob {
				matches, err := filepath.Glob(source)
				if err != nil {
					return fmt.Errorf("invalid glob pattern %q: %w", source, err)
				}
				for _, match := range matches {
					dest := filepath.Join(mount.Dest, filepath.Base(match))
					if mount.Mode == MountModeRO {
						b.args = append(b.args, "--ro-bind", match, dest)
					} else {
						b.args = append(b.args, "--bind", match, dest)
					}
				}
				continue
			}

			if mount.Mode == MountModeRO {
				b.args = append(b.args, "--ro-bind", source, mount.Dest)
			} else {
				b.args = append(b.args, "--bind", source, mount.Dest)
			}
		}
	}

	return nil
}

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}
