// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Policy action constants. Actions use a hierarchical namespace
// separated by "/" and are matched by the policy engine's glob
// patterns (* one segment, ** any segments, ? one character). They
// are plain strings, not a named type, because rule patterns use glob
// syntax and the runtime service can introduce new external job
// types.

// Job operations, enforced by aurorad before any sandbox work begins.
// The full submit action carries the job type as its last segment:
// "job/submit/echo", "job/submit/predict".
const (
	ActionJobSubmitPrefix = "job/submit/"
	ActionJobStop         = "job/stop"
	ActionJobKill         = "job/kill"
	ActionJobStatus       = "job/status"
	ActionJobLogs         = "job/logs"

	// ActionJobRefs guards rewriting a job's artifact pins. Only
	// the orchestrator holds it under a normal rule set: anyone
	// else who could clear pins could defeat retention sweeps.
	ActionJobRefs = "job/refs"
)

// Artifact operations, enforced by aetherd at its socket boundary.
const (
	ActionArtifactPut  = "artifact/put"
	ActionArtifactGet  = "artifact/get"
	ActionArtifactList = "artifact/list"
)

// Memory operations, enforced by aetherd at its socket boundary.
const (
	ActionMemoryAdd    = "memory/add"
	ActionMemoryGet    = "memory/get"
	ActionMemorySearch = "memory/search"
)

// Audit read access. Appends are not an action — every decision
// appends exactly one record as a side effect of evaluation.
const ActionAuditTail = "audit/tail"

// Lifecycle event actions recorded (decision "event") as a job moves
// through its state machine. The full action is the prefix plus the
// state name: "job/state/running".
const ActionJobStatePrefix = "job/state/"
