// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package bm25 implements Okapi BM25 relevance ranking over small
// in-process corpora. The memory store rebuilds an Index over its
// entries and serves keyword search from it.
//
// Documents carry weighted text fields; a field's tokens are repeated
// weight times in the composite document, so tags can outrank body
// text without per-field scoring machinery. The index is immutable
// after construction and safe for concurrent reads.
package bm25
