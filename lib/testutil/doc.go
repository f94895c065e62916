// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Aether packages.
//
// [SocketDir] creates a short-pathed temporary directory in /tmp for
// Unix domain sockets, which have a 108-byte path limit (sun_path in
// sockaddr_un) that deeply nested test tmpdirs can exceed.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate
// the timeout safety valve pattern (select with a time.After
// fallback) so individual tests never hang silently on a channel.
//
// All helpers call t.Fatalf on failure rather than returning errors:
// test setup failures are not recoverable.
//
// This package has no Aether-internal dependencies.
package testutil
