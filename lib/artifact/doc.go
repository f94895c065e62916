// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact implements the content-addressed artifact store.
//
// Artifacts are immutable blobs named by the BLAKE3 keyed hash of
// their uncompressed bytes. Putting the same bytes twice yields the
// same artifact ID and stores one blob; metadata keeps the original
// registration time. Blobs live under a two-level hex-sharded
// directory tree and are written temp-then-rename so a crash never
// leaves a partial blob at its final path.
//
// Blob bytes are compressed on disk when it pays: zstd for text-like
// content, LZ4 when speed matters more, byte-grouped LZ4 for float32
// tensor data, raw when incompressible. Get always returns the
// original bytes and re-verifies the content hash before handing
// them out.
//
// Metadata (hash, size, MIME type, producing job) lives in a SQLite
// index next to the blob tree. The index also tracks which jobs
// reference which artifacts; the retention sweep evicts by age and
// total size but never evicts an artifact a live job record points at.
package artifact
