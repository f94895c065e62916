// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit implements the append-only, crash-safe audit log.
//
// The log is a single JSON-lines file: one schema.AuditRecord per
// line, in append order. JSON rather than CBOR so the trail can be
// inspected with tail and jq — the audit log is the one Aether
// surface meant to be read outside the system.
//
// Durability is the central contract: Append fsyncs the file before
// returning, so a record acknowledged to the caller survives a
// process or OS crash. The policy engine's wrapper relies on this —
// no decision is served until its record is durable.
//
// All appends go through a single writer guarded by a mutex,
// preserving total append order under concurrent callers. Sequence
// numbers are assigned by the writer and are strictly increasing with
// no gaps.
//
// A crash between write and fsync can leave a partial final line.
// Open detects this and truncates the file back to the last complete
// record before accepting new appends.
//
// After any write or sync failure the log enters a refusing state:
// every subsequent Append fails immediately with the original error.
// The daemon maps this to its safe-refusal mode rather than serving
// unaudited decisions.
package audit
