// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements Aether's deny-by-default rule engine.
//
// The engine evaluates (actor, action, resource) triples against an
// ordered rule set. Each rule carries glob patterns for all three
// fields and an effect (allow or deny). Evaluation is deterministic:
//
//  1. Collect every rule whose actor, action, and resource patterns
//     all match.
//  2. The most specific resource pattern wins — specificity is the
//     count of literal (non-wildcard) characters in the pattern, so
//     "artifact/put" beats "artifact/*" beats "**".
//  3. Ties go to the most recently defined rule (highest index).
//  4. No matching rule means deny.
//
// Patterns use hierarchical "/"-separated glob semantics: "*" matches
// one segment, "**" any number of segments, "?" one non-slash
// character. Malformed patterns never match — a bad pattern must not
// grant access.
//
// Rule sets load from a JSONC file (JSON with comments, so rule files
// can document themselves). The rule-set version is the BLAKE3 hash
// of the canonical CBOR encoding of the rules; identical logical rule
// sets always hash identically, and every PolicyDecision carries the
// version so repeated decisions are auditable as reproducible.
//
// The engine itself is pure: it appends nothing. aetherd wraps every
// Evaluate call so exactly one audit record is durably appended
// before the decision reaches the caller.
package policy
