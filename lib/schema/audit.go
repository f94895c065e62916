// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"time"

	"github.com/aether-foundation/aether/lib/ref"
)

// AuditDecision is the decision recorded on an audit record.
type AuditDecision string

const (
	// AuditAllow records a permitted action.
	AuditAllow AuditDecision = "allow"

	// AuditDeny records a rejected action.
	AuditDeny AuditDecision = "deny"

	// AuditEvent records a lifecycle or administrative event that is
	// not a policy decision (state transitions, evictions, startup).
	AuditEvent AuditDecision = "event"
)

// AuditRecord is one line of the append-only audit log. Once
// appended, a record is never mutated or reordered; readers observe
// records in append order.
type AuditRecord struct {
	// Sequence is the record's position in the log, assigned by the
	// single writer. Strictly increasing with no gaps.
	Sequence uint64 `json:"seq"`

	// TSMonotonic is a monotonic-clock reading in nanoseconds since
	// daemon start. Orders records unambiguously even across wall
	// clock adjustments.
	TSMonotonic int64 `json:"ts_mono"`

	// TSWall is the wall-clock timestamp.
	TSWall time.Time `json:"ts_wall"`

	// Actor is the principal whose action is being recorded.
	Actor ref.Actor `json:"actor"`

	// IntentID correlates the record with a boundary request. Empty
	// for internally generated events.
	IntentID string `json:"intent_id,omitempty"`

	// JobID is set for job lifecycle events.
	JobID ref.JobID `json:"job_id,omitempty"`

	// Action is the hierarchical action string ("job/submit",
	// "artifact/put", "job/state/running").
	Action string `json:"action"`

	// Decision is allow, deny, or event.
	Decision AuditDecision `json:"decision"`

	// Reason explains a deny or annotates an event.
	Reason string `json:"reason,omitempty"`

	// PolicyVersion is the rule-set version hash for policy
	// decisions. Empty for plain events.
	PolicyVersion string `json:"policy_version,omitempty"`

	// Provenance points at the record's origin (resource path,
	// artifact id, source file).
	Provenance string `json:"provenance,omitempty"`
}

// PolicyDecision is the result of evaluating one (actor, action,
// resource) triple. Identical inputs against an unchanged policy
// version always yield the same decision.
type PolicyDecision struct {
	Allowed bool `json:"allowed"`

	// Reason names the matched rule or the default-deny fallback.
	Reason string `json:"reason"`

	// PolicyVersion is the BLAKE3 hash of the canonical rule-set
	// encoding under which this decision was made.
	PolicyVersion string `json:"policy_version"`
}
