// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes what isolation features are available on
// this host.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool

	// SystemdRunAvailable is true if systemd-run is available.
	SystemdRunAvailable bool

	// SystemdUserScopesWork is true if user scopes can be created.
	SystemdUserScopesWork bool
}

// DetectCapabilities checks what isolation features are available.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path

		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces()

	if _, err := exec.LookPath("systemd-run"); err == nil {
		caps.SystemdRunAvailable = true

		cmd := exec.Command("systemd-run", "--user", "--scope", "--", "true")
		if err := cmd.Run(); err == nil {
			caps.SystemdUserScopesWork = true
		}
	}

	return caps
}

// CanIsolate returns true if namespace isolation is possible.
func (c *Capabilities) CanIsolate() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// checkUserNamespaces tests if unprivileged user namespaces work.
func checkUserNamespaces() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil {
		if strings.TrimSpace(string(data)) == "0" {
			return false
		}
	}
	// File not existing usually means userns is allowed.

	bwrapPath, err := BwrapPath()
	if err != nil {
		return false
	}

	cmd := exec.Command(bwrapPath,
		"--unshare-user",
		"--ro-bind", "/", "/",
		"--",
		"true",
	)
	return cmd.Run() == nil
}
