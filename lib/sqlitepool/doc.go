// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the Aether-standard SQLite connection
// pool. The artifact index and the memory store both sit on it.
//
// It wraps zombiezen.com/go/sqlite with fixed pragmas: WAL journal
// mode so readers never block the single writer, NORMAL synchronous
// (transactions survive a process crash; the artifact blobs and the
// audit log carry their own stronger durability), a busy timeout
// instead of immediate SQLITE_BUSY, and memory-mapped reads.
//
// Callers [Pool.Take] a connection, do their work with sqlitex
// helpers, and [Pool.Put] it back. Connections are not safe for
// concurrent use; the pool is. There is no query builder and no
// abstraction over SQL — services write SQL against their own schema,
// installed via the OnConnect hook.
package sqlitepool
