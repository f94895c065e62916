// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox constructs and manages the isolation boundary for
// jobs. A job runs inside a bubblewrap container with unshared
// namespaces, a read-only view of the host toolchain, and a private
// writable scratch directory, optionally wrapped in a systemd scope
// for cgroup resource ceilings.
//
// The Manager owns the lifecycle: Prepare creates the scratch
// directory and durably records a handle file before anything is
// launched, Launch builds the container command, and Teardown kills
// the process group and reclaims all state. Handle files survive
// crashes; Reclaim scans for them at startup and tears down whatever
// the previous process left behind.
//
// Isolation is capability-probed. When bubblewrap, user namespaces,
// or systemd-run are missing, configured fallback policy decides
// whether to degrade or refuse.
package sandbox
