// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aether-foundation/aether/lib/clock"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/runtime"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/substrate"
	"github.com/aether-foundation/aether/sandbox"
)

// defaultGracePeriod bounds a stop's cooperative phase before
// escalation to SIGKILL.
const defaultGracePeriod = 10 * time.Second

// reapTimeout bounds the wait for process exit after SIGKILL. The
// kernel delivers SIGKILL promptly; a longer wait means the process
// is stuck in the kernel and the monitor must not hang on it.
const reapTimeout = 5 * time.Second

// Options configures a Runner.
type Options struct {
	// Substrate is the aetherd client used for policy checks, audit
	// events, and artifact registration.
	Substrate *substrate.Client

	// Sandbox manages job isolation.
	Sandbox *sandbox.Manager

	// Runtime resolves runtime-backed job types. Nil rejects those
	// types at submission.
	Runtime runtime.Invoker

	// JobsDir holds per-job state files, captured logs, and scratch
	// directories.
	JobsDir string

	// Profile is the sandbox profile for shell-exec jobs. Empty uses
	// the sandbox manager's default.
	Profile string

	// GracePeriod bounds a stop's cooperative phase.
	GracePeriod time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Runner owns the job registry and executes submissions.
type Runner struct {
	substrate *substrate.Client
	sandbox   *sandbox.Manager
	runtime   runtime.Invoker
	jobsDir   string
	profile   string
	grace     time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	jobs  map[ref.JobID]*job
	order []ref.JobID

	baseCtx   context.Context
	cancelAll context.CancelFunc
	running   sync.WaitGroup
}

// job pairs a record with its execution machinery. The record is only
// read or written under mu.
type job struct {
	mu     sync.Mutex
	record schema.JobRecord
	logs   *logBuffer

	stopOnce sync.Once
	stopCh   chan struct{}
	killOnce sync.Once
	killCh   chan struct{}

	// done is closed when the job reaches a terminal state.
	done chan struct{}
}

func (j *job) snapshot() schema.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.record
}

func (j *job) requestStop() { j.stopOnce.Do(func() { close(j.stopCh) }) }
func (j *job) requestKill() { j.killOnce.Do(func() { close(j.killCh) }) }

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Substrate == nil {
		return nil, fmt.Errorf("substrate client is required")
	}
	if opts.Sandbox == nil {
		return nil, fmt.Errorf("sandbox manager is required")
	}
	if opts.JobsDir == "" {
		return nil, fmt.Errorf("jobs directory is required")
	}
	if err := os.MkdirAll(opts.JobsDir, 0o700); err != nil {
		return nil, err
	}

	cl := opts.Clock
	if cl == nil {
		cl = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Runner{
		substrate: opts.Substrate,
		sandbox:   opts.Sandbox,
		runtime:   opts.Runtime,
		jobsDir:   opts.JobsDir,
		profile:   opts.Profile,
		grace:     grace,
		clock:     cl,
		logger:    logger,
		jobs:      make(map[ref.JobID]*job),
		baseCtx:   baseCtx,
		cancelAll: cancel,
	}, nil
}

// Submit validates and authorizes a job, then starts its execution
// asynchronously. The returned record is Authorized on success and
// Rejected (with a policy-denied error) on refusal.
func (r *Runner) Submit(ctx context.Context, actor ref.Actor, spec schema.JobSpec) (schema.JobRecord, error) {
	if err := r.validateSpec(spec); err != nil {
		return schema.JobRecord{}, err
	}

	id := ref.NewJobID()
	j := &job{
		record: schema.JobRecord{
			ID:        id,
			Actor:     actor,
			Spec:      spec,
			State:     schema.JobPending,
			CreatedAt: r.clock.Now(),
		},
		logs:   newLogBuffer(filepath.Join(r.jobDir(id), "log.jsonl")),
		stopCh: make(chan struct{}),
		killCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := os.MkdirAll(r.jobDir(id), 0o700); err != nil {
		return schema.JobRecord{}, schema.NewError(schema.ErrStorageIO, "creating job directory: %v", err)
	}

	r.mu.Lock()
	r.jobs[id] = j
	r.order = append(r.order, id)
	r.mu.Unlock()
	r.persist(j)

	// Deny by default: the job proceeds only on an explicit allow,
	// and an unreachable policy engine rejects.
	action := schema.ActionJobSubmitPrefix + submitType(spec)
	decision, err := r.substrate.CheckPolicy(ctx, actor, action, "job/"+id.String())
	if err != nil {
		r.transition(j, schema.JobRejected, func(rec *schema.JobRecord) {
			rec.ErrorKind = schema.ErrPolicyDenied
			rec.Diagnostic = fmt.Sprintf("policy check unavailable: %v", err)
		})
		return j.snapshot(), schema.NewError(schema.ErrPolicyDenied, "policy check unavailable: %v", err)
	}
	if !decision.Allowed {
		r.transition(j, schema.JobRejected, func(rec *schema.JobRecord) {
			rec.ErrorKind = schema.ErrPolicyDenied
			rec.Diagnostic = decision.Reason
		})
		return j.snapshot(), schema.NewError(schema.ErrPolicyDenied, "%s", decision.Reason)
	}

	r.transition(j, schema.JobAuthorized, nil)

	r.running.Add(1)
	go func() {
		defer r.running.Done()
		r.execute(j)
	}()

	return j.snapshot(), nil
}

// Status returns the record for one job.
func (r *Runner) Status(jobID ref.JobID) (schema.JobRecord, error) {
	j := r.lookup(jobID)
	if j == nil {
		return schema.JobRecord{}, schema.NewError(schema.ErrNotFound, "unknown job %s", jobID)
	}
	return j.snapshot(), nil
}

// List returns job records, newest first, optionally filtered by
// state. Zero limit means no cap.
func (r *Runner) List(states []schema.JobState, limit int) []schema.JobRecord {
	r.mu.Lock()
	ids := make([]ref.JobID, len(r.order))
	copy(ids, r.order)
	jobs := make(map[ref.JobID]*job, len(r.jobs))
	for id, j := range r.jobs {
		jobs[id] = j
	}
	r.mu.Unlock()

	wanted := func(state schema.JobState) bool {
		if len(states) == 0 {
			return true
		}
		for _, s := range states {
			if s == state {
				return true
			}
		}
		return false
	}

	var records []schema.JobRecord
	for i := len(ids) - 1; i >= 0; i-- {
		record := jobs[ids[i]].snapshot()
		if !wanted(record.State) {
			continue
		}
		records = append(records, record)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records
}

// Stop requests cooperative termination and waits until the process
// exits or the grace period elapses, whichever is first. Outside
// Running it is a no-op returning the current record.
func (r *Runner) Stop(ctx context.Context, jobID ref.JobID) (schema.JobRecord, error) {
	j := r.lookup(jobID)
	if j == nil {
		return schema.JobRecord{}, schema.NewError(schema.ErrNotFound, "unknown job %s", jobID)
	}
	if j.snapshot().State != schema.JobRunning {
		return j.snapshot(), nil
	}

	j.requestStop()
	select {
	case <-j.done:
	case <-r.clock.After(r.grace):
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
	return j.snapshot(), nil
}

// Kill terminates the job's process tree unconditionally and waits
// for the bounded reap. Outside Running it is a no-op returning the
// current record.
func (r *Runner) Kill(ctx context.Context, jobID ref.JobID) (schema.JobRecord, error) {
	j := r.lookup(jobID)
	if j == nil {
		return schema.JobRecord{}, schema.NewError(schema.ErrNotFound, "unknown job %s", jobID)
	}
	if j.snapshot().State != schema.JobRunning {
		return j.snapshot(), nil
	}

	j.requestKill()
	select {
	case <-j.done:
	case <-r.clock.After(reapTimeout + time.Second):
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
	return j.snapshot(), nil
}

// Logs sends the job's log records to send, from the beginning. With
// follow, it blocks for new records until the job reaches a terminal
// state or ctx is cancelled; the final record carries End and the
// terminal state. Without follow it sends the records captured so far.
func (r *Runner) Logs(ctx context.Context, jobID ref.JobID, follow bool, send func(schema.LogRecord) error) error {
	j := r.lookup(jobID)
	if j == nil {
		return schema.NewError(schema.ErrNotFound, "unknown job %s", jobID)
	}

	for i := 0; ; i++ {
		record, ok, err := j.logs.next(ctx, i, follow)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := send(record); err != nil {
			// Client went away.
			return nil
		}
		if record.End {
			return nil
		}
	}
}

// Recover loads persisted job records from the jobs directory.
// Terminal records rejoin the registry as queryable history.
// Non-terminal records belonged to a previous process whose sandboxes
// were already reclaimed; they are marked Failed. Call before serving
// requests.
func (r *Runner) Recover() error {
	entries, err := os.ReadDir(r.jobsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := ref.ParseJobID(entry.Name())
		if err != nil {
			continue
		}
		record, err := readRecord(filepath.Join(r.jobsDir, entry.Name(), "record.json"))
		if err != nil {
			r.logger.Warn("skipping unreadable job record", "job_id", entry.Name(), "error", err)
			continue
		}

		j := &job{
			record: record,
			logs:   newLogBuffer(""),
			stopCh: make(chan struct{}),
			killCh: make(chan struct{}),
			done:   make(chan struct{}),
		}
		if !record.State.Terminal() {
			j.record.State = schema.JobFailed
			j.record.ErrorKind = schema.ErrJobProcess
			j.record.Diagnostic = "orchestrator restarted during execution"
			j.record.FinishedAt = r.clock.Now()
		}
		j.logs.end(j.record.State, j.record.FinishedAt)
		close(j.done)

		r.mu.Lock()
		r.jobs[id] = j
		r.order = append(r.order, id)
		r.mu.Unlock()
		if !record.State.Terminal() {
			r.persist(j)
			r.appendStateEvent(j)
			// The interrupted run may have pinned its input.
			r.settleRefs(j)
		}
	}
	return nil
}

// Close kills all running jobs and waits for their monitors.
func (r *Runner) Close() {
	r.cancelAll()
	r.running.Wait()
}

func (r *Runner) lookup(jobID ref.JobID) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobID]
}

func (r *Runner) jobDir(id ref.JobID) string {
	return filepath.Join(r.jobsDir, id.String())
}

func (r *Runner) validateSpec(spec schema.JobSpec) error {
	if !spec.Type.Valid() {
		return fmt.Errorf("unknown job type %q", spec.Type)
	}
	if spec.Type == schema.JobTypeShellExec && len(spec.Command) == 0 {
		return fmt.Errorf("shell-exec job requires a command")
	}
	if spec.Type == schema.JobTypeExternal && spec.ExternalType == "" {
		return fmt.Errorf("external job requires external_type")
	}
	if len(spec.Input) > 0 && !spec.InputRef.IsZero() {
		return fmt.Errorf("input and input_ref are mutually exclusive")
	}
	if spec.Type.RuntimeBacked() && r.runtime == nil {
		return fmt.Errorf("job type %q requires the runtime service, which is not configured", spec.Type)
	}
	return nil
}

// submitType is the last segment of the submit action: the job type,
// with the concrete external type appended for forwarded jobs.
func submitType(spec schema.JobSpec) string {
	if spec.Type == schema.JobTypeExternal {
		return string(spec.Type) + "/" + spec.ExternalType
	}
	return string(spec.Type)
}

// transition moves the job to next under its lock, enforcing the
// state machine, then persists the record and appends the lifecycle
// audit event. Mutate runs while the lock is held. Returns false if
// the transition is not permitted (the job reached a terminal state
// concurrently).
func (r *Runner) transition(j *job, next schema.JobState, mutate func(*schema.JobRecord)) bool {
	j.mu.Lock()
	if !j.record.State.CanTransition(next) {
		j.mu.Unlock()
		return false
	}
	j.record.State = next
	now := r.clock.Now()
	switch next {
	case schema.JobRunning:
		j.record.StartedAt = now
	case schema.JobRejected, schema.JobSucceeded, schema.JobFailed,
		schema.JobKilled, schema.JobTimedOut:
		j.record.FinishedAt = now
	}
	if mutate != nil {
		mutate(&j.record)
	}
	state := j.record.State
	j.mu.Unlock()

	r.persist(j)
	r.appendStateEvent(j)

	if state.Terminal() {
		j.logs.end(state, now)
		close(j.done)
	}
	return true
}

// persist writes the job record durably enough for status queries to
// survive a restart: temp file then rename.
func (r *Runner) persist(j *job) {
	record := j.snapshot()
	path := filepath.Join(r.jobDir(record.ID), "record.json")

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		r.logger.Error("marshaling job record", "job_id", record.ID, "error", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		r.logger.Error("writing job record", "job_id", record.ID, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		r.logger.Error("writing job record", "job_id", record.ID, "error", err)
	}
}

// appendStateEvent records the lifecycle transition in the audit log.
// Best effort: the decision audit is the daemon's duty; a missed
// lifecycle event degrades forensics, not correctness.
func (r *Runner) appendStateEvent(j *job) {
	record := j.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	action := schema.ActionJobStatePrefix + string(record.State)
	if err := r.substrate.AppendEvent(ctx, record.ID, action, record.Diagnostic, string(record.Spec.Type)); err != nil {
		r.logger.Warn("appending lifecycle event", "job_id", record.ID, "state", record.State, "error", err)
	}
}

func readRecord(path string) (schema.JobRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.JobRecord{}, err
	}
	var record schema.JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return schema.JobRecord{}, err
	}
	return record, nil
}
