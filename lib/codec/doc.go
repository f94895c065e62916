// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Aether's standard CBOR encoding configuration.
//
// Aether uses CBOR (RFC 8949) for every internal surface: the aetherd
// and aurorad socket protocols, sandbox handle files, and per-job
// state records. The audit log is the one exception — it is JSON
// lines so it can be inspected and tailed with standard tools.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. The same logical value always produces identical bytes,
// which the policy engine relies on for its rule-set version hash.
//
// Struct types carry `json` tags only. fxamacker/cbor reads json tags
// as a fallback, so one tag controls field naming for both the CBOR
// wire format and the CLI's --json output.
//
// For buffer-oriented operations (state files, hashes):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
