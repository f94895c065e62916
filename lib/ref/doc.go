// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides typed identifiers for Aether's domain objects:
// jobs, artifacts, memory entries, and actors.
//
// Every identifier is a distinct Go type wrapping a validated string.
// The constructors are the only way to obtain a non-zero value, so a
// JobID in a struct field is always either zero or well-formed.
// Identifiers implement encoding.TextMarshaler / TextUnmarshaler and
// therefore serialize as plain strings in both CBOR and JSON.
//
// Formats:
//
//	job-<32 hex>   JobID (random, generated at submission)
//	art-<16 hex>   ArtifactID (prefix of the BLAKE3 content hash)
//	mem-<32 hex>   EntryID (random, generated at insertion)
//
// Actors are free-form non-empty strings ("operator", "aurorad",
// "agent/planner") — they name the requesting principal for policy
// evaluation and audit, not a cryptographic identity.
package ref
