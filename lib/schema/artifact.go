// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"time"

	"github.com/aether-foundation/aether/lib/ref"
)

// ArtifactMeta is the metadata record for one stored artifact. The
// bytes themselves live in the content store; this record lives in
// the metadata index and on the wire.
type ArtifactMeta struct {
	// ID is derived from the content hash: identical bytes always
	// yield the same ID.
	ID ref.ArtifactID `json:"id"`

	// ContentHash is the full file-domain BLAKE3 hash, hex encoded.
	ContentHash string `json:"content_hash"`

	// Size is the uncompressed content size in bytes.
	Size int64 `json:"size"`

	// MIMEType describes the content, best-effort ("text/plain",
	// "application/octet-stream").
	MIMEType string `json:"mime_type,omitempty"`

	// ProducingJob is the job whose execution produced this artifact.
	// Zero for directly uploaded input blobs.
	ProducingJob ref.JobID `json:"producing_job,omitempty"`

	// CreatedAt is when the artifact was first registered. A
	// deduplicated put keeps the original timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactFilter selects artifacts for list operations. Zero fields
// match everything.
type ArtifactFilter struct {
	// ProducingJob restricts results to artifacts produced by one job.
	ProducingJob ref.JobID `json:"producing_job,omitempty"`

	// MIMEType restricts results to an exact MIME type.
	MIMEType string `json:"mime_type,omitempty"`

	// Limit caps the number of results. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// MemoryEntry is one durable note in the memory store. Provenance is
// mandatory: entries without a source reference are rejected at add
// time.
type MemoryEntry struct {
	ID ref.EntryID `json:"id"`

	// Text is the note body, indexed for search.
	Text string `json:"text"`

	// Tags are free-form labels, indexed for search at lower weight
	// than the body.
	Tags []string `json:"tags,omitempty"`

	// SourceRef is the provenance pointer: the originating job,
	// artifact, or file/line ("job-…", "art-…", "notes.md:12").
	SourceRef string `json:"source_ref"`

	CreatedAt time.Time `json:"created_at"`
}

// MemorySearchResult is one search hit with its relevance score.
type MemorySearchResult struct {
	Entry MemoryEntry `json:"entry"`

	// Score is the BM25 relevance score. Higher is more relevant;
	// the scale is corpus-dependent.
	Score float64 `json:"score"`
}
