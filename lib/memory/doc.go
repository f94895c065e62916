// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory implements the durable note store with keyword
// search.
//
// Entries are append-only text notes with tags and mandatory
// provenance: every entry names the job, artifact, or file it came
// from, and adds without a source reference are rejected. Entries
// persist in SQLite and survive restarts.
//
// Search is BM25 over entry text and tags. The index rebuilds lazily
// after a write; reads between writes share one immutable index, so
// concurrent searches never contend with each other.
package memory
