// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"time"

	"github.com/aether-foundation/aether/lib/ref"
)

// SchemaVersion is the boundary protocol version carried on every
// request envelope. Servers reject requests from a newer major
// version than their own.
const SchemaVersion = 1

// Envelope carries the fields required on every boundary request:
// correlation id, requesting principal, and protocol version. Request
// types embed it alongside their action-specific fields.
type Envelope struct {
	// RequestID correlates the request with audit records and logs.
	// Generated by the client (ref.RequestID) when empty.
	RequestID string `json:"request_id"`

	// Actor is the requesting principal, used for policy evaluation.
	Actor ref.Actor `json:"actor"`

	// SchemaVersion is the client's protocol version.
	SchemaVersion int `json:"schema_version"`
}

// Substrate daemon (aetherd) requests.

// PolicyCheckRequest asks the daemon to evaluate one action. The
// decision is audited durably before the response is sent.
type PolicyCheckRequest struct {
	Envelope
	CheckActor ref.Actor `json:"check_actor"`
	Action     string    `json:"check_action"`
	Resource   string    `json:"resource"`
}

// AppendEventRequest appends a non-decision event to the audit log
// (job lifecycle transitions, administrative events).
type AppendEventRequest struct {
	Envelope
	JobID      ref.JobID `json:"job_id,omitempty"`
	Action     string    `json:"event_action"`
	Reason     string    `json:"reason,omitempty"`
	Provenance string    `json:"provenance,omitempty"`
}

// AuditTailRequest reads the last Count records of the audit log in
// append order.
type AuditTailRequest struct {
	Envelope
	Count int `json:"count"`
}

// ArtifactPutRequest registers content with the artifact store. The
// bytes travel inline; the store deduplicates by content hash.
type ArtifactPutRequest struct {
	Envelope
	Content      []byte    `json:"content"`
	MIMEType     string    `json:"mime_type,omitempty"`
	ProducingJob ref.JobID `json:"producing_job,omitempty"`
}

// ArtifactGetRequest fetches an artifact's bytes and metadata.
type ArtifactGetRequest struct {
	Envelope
	ID ref.ArtifactID `json:"artifact_id"`
}

// ArtifactGetResponse carries the artifact content and metadata.
type ArtifactGetResponse struct {
	Meta    ArtifactMeta `json:"meta"`
	Content []byte       `json:"content"`
}

// ArtifactListRequest lists artifact metadata matching a filter.
type ArtifactListRequest struct {
	Envelope
	Filter ArtifactFilter `json:"filter"`
}

// JobRefsRequest updates the daemon's view of which artifacts are
// referenced by which jobs, and whether the job is terminal. The
// retention sweeper never evicts an artifact referenced by any
// recorded job.
type JobRefsRequest struct {
	Envelope
	JobID    ref.JobID        `json:"job_id"`
	Refs     []ref.ArtifactID `json:"refs"`
	Terminal bool             `json:"terminal"`
}

// MemoryAddRequest inserts a memory entry. SourceRef is mandatory.
type MemoryAddRequest struct {
	Envelope
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
	SourceRef string   `json:"source_ref"`
}

// MemoryGetRequest fetches one memory entry by id.
type MemoryGetRequest struct {
	Envelope
	ID ref.EntryID `json:"entry_id"`
}

// MemorySearchRequest runs a relevance-ranked search over the memory
// store.
type MemorySearchRequest struct {
	Envelope
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// Orchestrator (aurorad) requests.

// SubmitRequest submits a job for authorization and execution.
type SubmitRequest struct {
	Envelope
	Spec JobSpec `json:"spec"`
}

// SubmitResponse returns the generated job id. The job proceeds
// asynchronously; poll with StatusRequest or stream with LogsRequest.
type SubmitResponse struct {
	JobID ref.JobID `json:"job_id"`
	State JobState  `json:"state"`
}

// StatusRequest fetches one job record.
type StatusRequest struct {
	Envelope
	JobID ref.JobID `json:"job_id"`
}

// ListJobsRequest lists job records, newest first.
type ListJobsRequest struct {
	Envelope
	// States restricts results to the given states. Empty means all.
	States []JobState `json:"states,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// LogsRequest opens a log stream for a job. With Follow, the server
// keeps the connection open and sends LogRecord values until the job
// reaches a terminal state or the client disconnects.
type LogsRequest struct {
	Envelope
	JobID  ref.JobID `json:"job_id"`
	Follow bool      `json:"follow"`
}

// LogRecord is one element of a log stream: an output line, or the
// end-of-stream marker carrying the job's terminal state.
type LogRecord struct {
	// Line is one captured output line. Empty on the final record.
	Line string `json:"line,omitempty"`

	// Stream is "stdout" or "stderr" for output records.
	Stream string `json:"stream,omitempty"`

	At time.Time `json:"at,omitempty"`

	// End marks the final record of the stream.
	End bool `json:"end,omitempty"`

	// State is the job's state at stream end.
	State JobState `json:"state,omitempty"`
}

// StopRequest requests cooperative termination: SIGTERM, then a grace
// period, then escalation to kill. Outside Running this is a no-op
// returning the current record.
type StopRequest struct {
	Envelope
	JobID ref.JobID `json:"job_id"`
}

// KillRequest requests immediate unconditional termination of the
// job's process tree. Outside Running this is a no-op returning the
// current record.
type KillRequest struct {
	Envelope
	JobID ref.JobID `json:"job_id"`
}

// HealthResponse is the liveness and version report, served by both
// daemons.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`

	// Degraded is set when the service is alive but refusing work
	// (aetherd in audit safe-refusal mode).
	Degraded bool `json:"degraded,omitempty"`

	// Detail explains a degraded state.
	Detail string `json:"detail,omitempty"`
}
