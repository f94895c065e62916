// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"time"

	"github.com/aether-foundation/aether/lib/ref"
)

// JobState is a job's position in the lifecycle state machine.
type JobState string

const (
	// JobPending is the initial state: submitted, not yet authorized.
	JobPending JobState = "pending"

	// JobAuthorized means the policy engine allowed the submission
	// and the sandbox is being constructed.
	JobAuthorized JobState = "authorized"

	// JobRejected means the policy engine denied the submission.
	// Terminal.
	JobRejected JobState = "rejected"

	// JobRunning means the job's process tree is executing inside
	// its sandbox. The only state from which stop and kill act.
	JobRunning JobState = "running"

	// JobSucceeded means the process exited zero. Terminal.
	JobSucceeded JobState = "succeeded"

	// JobFailed means the process exited non-zero, crashed, or the
	// sandbox could not be constructed. Terminal.
	JobFailed JobState = "failed"

	// JobKilled means the job was terminated by an explicit stop or
	// kill request. Terminal.
	JobKilled JobState = "killed"

	// JobTimedOut means the job exceeded its wall-clock budget and
	// was forcibly terminated. Terminal.
	JobTimedOut JobState = "timed-out"
)

// Terminal reports whether the state is final. Terminal states admit
// no further transitions; the record is retained for queries.
func (s JobState) Terminal() bool {
	switch s {
	case JobRejected, JobSucceeded, JobFailed, JobKilled, JobTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle state machine permits
// moving from s to next. Transitions are monotonic: no state is
// reachable twice, and no intermediate state may be skipped.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobAuthorized || next == JobRejected
	case JobAuthorized:
		// Authorized→Failed covers sandbox setup failures: the job
		// never reaches Running but still terminates with a diagnostic.
		return next == JobRunning || next == JobFailed
	case JobRunning:
		return next == JobSucceeded || next == JobFailed ||
			next == JobKilled || next == JobTimedOut
	}
	return false
}

// JobType is the closed set of work the substrate knows how to run.
// Types resolved entirely by the external runtime service use
// JobTypeExternal with the concrete type carried in
// JobSpec.ExternalType, so the core never needs runtime type
// discovery.
type JobType string

const (
	// JobTypeEcho writes the input payload back as the result
	// artifact. The smallest end-to-end exercise of the substrate.
	JobTypeEcho JobType = "echo"

	// JobTypeShellExec runs an explicit argv inside the sandbox.
	JobTypeShellExec JobType = "shell-exec"

	// JobTypePredict requests a model prediction from the runtime
	// service.
	JobTypePredict JobType = "predict"

	// JobTypeEncode requests a state encoding from the runtime service.
	JobTypeEncode JobType = "encode"

	// JobTypeScore requests a scoring pass from the runtime service.
	JobTypeScore JobType = "score"

	// JobTypeExternal forwards an opaque job type to the runtime
	// service verbatim.
	JobTypeExternal JobType = "external"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeEcho, JobTypeShellExec, JobTypePredict, JobTypeEncode,
		JobTypeScore, JobTypeExternal:
		return true
	}
	return false
}

// RuntimeBacked reports whether the job is fulfilled by the external
// runtime service rather than by a sandboxed local process.
func (t JobType) RuntimeBacked() bool {
	switch t {
	case JobTypePredict, JobTypeEncode, JobTypeScore, JobTypeExternal:
		return true
	}
	return false
}

// NetworkPolicy controls a sandboxed job's network access.
type NetworkPolicy string

const (
	// NetworkNone unshares the network namespace: no network at all.
	// This is the default.
	NetworkNone NetworkPolicy = "none"

	// NetworkAllowlist permits network access; the allowed
	// destinations are listed in ResourceProfile.NetworkAllow.
	// Enforcement is coarse: the namespace is shared and the
	// allowlist is recorded for audit.
	NetworkAllowlist NetworkPolicy = "allowlist"
)

// ResourceProfile declares the resource ceilings and isolation level
// for one job. The zero value means "no explicit limits, no network".
type ResourceProfile struct {
	// CPUQuotaPercent caps CPU time for the job's cgroup, in percent
	// of one core (200 = two cores). Zero means unlimited.
	CPUQuotaPercent int `json:"cpu_quota_percent,omitempty"`

	// MemoryMaxBytes caps the job's memory. Breach kills the process
	// group (cgroup memory.max). Zero means unlimited.
	MemoryMaxBytes int64 `json:"memory_max_bytes,omitempty"`

	// TasksMax caps the number of processes/threads in the job's
	// process tree. Zero means unlimited.
	TasksMax int `json:"tasks_max,omitempty"`

	// IOWeight is the cgroup v2 io.weight value (1–10000). Zero means
	// the cgroup default.
	IOWeight int `json:"io_weight,omitempty"`

	// WallClockBudget bounds total execution time. Exceeding it
	// forces a kill and records TimedOut. Zero means unbounded.
	WallClockBudget time.Duration `json:"wall_clock_budget,omitempty"`

	// Network selects the network policy. Empty is NetworkNone.
	Network NetworkPolicy `json:"network,omitempty"`

	// NetworkAllow lists permitted destinations (host or host:port)
	// when Network is NetworkAllowlist.
	NetworkAllow []string `json:"network_allow,omitempty"`
}

// HasLimits reports whether any cgroup-enforced ceiling is set.
func (p *ResourceProfile) HasLimits() bool {
	return p.CPUQuotaPercent > 0 || p.MemoryMaxBytes > 0 ||
		p.TasksMax > 0 || p.IOWeight > 0
}

// NetworkPolicy returns the effective network policy, mapping the
// zero value to NetworkNone.
func (p *ResourceProfile) NetworkPolicy() NetworkPolicy {
	if p.Network == "" {
		return NetworkNone
	}
	return p.Network
}

// JobSpec is a job submission: what to run and under which ceilings.
type JobSpec struct {
	// Type selects the work kind.
	Type JobType `json:"type"`

	// ExternalType carries the concrete runtime-service job type when
	// Type is JobTypeExternal ("trigger-learning", "save-weights", …).
	ExternalType string `json:"external_type,omitempty"`

	// Input is the inline payload for the job. Mutually exclusive
	// with InputRef.
	Input []byte `json:"input,omitempty"`

	// InputRef points at an artifact holding the payload. Mutually
	// exclusive with Input.
	InputRef ref.ArtifactID `json:"input_ref,omitempty"`

	// Command is the argv for shell-exec jobs. Ignored otherwise.
	Command []string `json:"command,omitempty"`

	// ModelVersion pins the model for runtime-backed jobs.
	ModelVersion string `json:"model_version,omitempty"`

	// Profile declares the resource ceilings and isolation level.
	Profile ResourceProfile `json:"profile,omitempty"`
}

// JobRecord is the full observable state of one job.
type JobRecord struct {
	ID    ref.JobID `json:"id"`
	Actor ref.Actor `json:"actor"`
	Spec  JobSpec   `json:"spec"`
	State JobState  `json:"state"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// ExitStatus is the process exit code. Meaningful only in
	// terminal states reached through process exit.
	ExitStatus int `json:"exit_status,omitempty"`

	// ResultRef points at the result artifact registered with the
	// substrate daemon, when the job produced one.
	ResultRef ref.ArtifactID `json:"result_ref,omitempty"`

	// ErrorKind is the taxonomy kind for failed/rejected jobs.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	// Diagnostic carries captured stderr or a setup-failure detail
	// for terminal failure states. Recorded verbatim, never
	// reinterpreted.
	Diagnostic string `json:"diagnostic,omitempty"`
}
