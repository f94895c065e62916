// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the shared wire and persisted-state types of
// the Aether substrate: jobs and their lifecycle states, resource
// profiles, artifact and memory-entry metadata, policy decisions,
// audit records, and the error-kind taxonomy.
//
// These types are the contract between aetherd (substrate daemon),
// aurorad (orchestrator), and the aether CLI. They carry json struct
// tags, which also control CBOR field naming through lib/codec.
// Changing a field name here changes the wire format — both sides of
// every boundary import this package rather than mirroring types.
package schema
