// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

// stderrTailBytes bounds the stderr capture carried on a failure
// diagnostic.
const stderrTailBytes = 64 * 1024

// execute is the monitor: exactly one per job, from Authorized to a
// terminal state.
func (r *Runner) execute(j *job) {
	spec := j.snapshot().Spec
	r.pinInput(j, spec)
	switch {
	case spec.Type == schema.JobTypeEcho:
		r.runEcho(j)
	case spec.Type == schema.JobTypeShellExec:
		r.runShell(j)
	case spec.Type.RuntimeBacked():
		r.runRuntime(j)
	default:
		// Unreachable: validateSpec rejected everything else.
		r.fail(j, schema.ErrJobProcess, fmt.Sprintf("no executor for job type %q", spec.Type))
	}
	r.settleRefs(j)
}

// pinInput registers the job's input artifact reference before any
// executor resolves it, so a retention sweep during the run cannot
// evict the input out from under the job.
func (r *Runner) pinInput(j *job, spec schema.JobSpec) {
	if spec.InputRef.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(r.baseCtx, 10*time.Second)
	defer cancel()
	record := j.snapshot()
	if err := r.substrate.SetJobRefs(ctx, record.ID, []ref.ArtifactID{spec.InputRef}, false); err != nil {
		r.logger.Warn("pinning input artifact", "job_id", record.ID, "error", err)
	}
}

// settleRefs runs after the terminal transition: the input pin is
// dropped and the result artifact, if any, stays pinned for as long
// as the job record is retained. A record's ResultRef must always be
// resolvable through artifact get.
func (r *Runner) settleRefs(j *job) {
	record := j.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	if record.ResultRef.IsZero() {
		err = r.substrate.SetJobRefs(ctx, record.ID, nil, true)
	} else {
		err = r.substrate.SetJobRefs(ctx, record.ID, []ref.ArtifactID{record.ResultRef}, false)
	}
	if err != nil {
		r.logger.Warn("settling job refs", "job_id", record.ID, "error", err)
	}
}

// fail records an Authorized→Failed or Running→Failed transition.
func (r *Runner) fail(j *job, kind schema.ErrorKind, diagnostic string) {
	r.transition(j, schema.JobFailed, func(rec *schema.JobRecord) {
		rec.ErrorKind = kind
		rec.Diagnostic = diagnostic
	})
}

// resolveInput returns the job's payload: inline bytes, or the
// referenced artifact's content.
func (r *Runner) resolveInput(ctx context.Context, spec schema.JobSpec) ([]byte, error) {
	if spec.InputRef.IsZero() {
		return spec.Input, nil
	}
	_, content, err := r.substrate.GetArtifact(ctx, spec.InputRef)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// registerResult stores the job's output as an artifact and records
// the reference on the job record.
func (r *Runner) registerResult(ctx context.Context, j *job, output []byte, mimeType string) (ref.ArtifactID, error) {
	record := j.snapshot()
	meta, err := r.substrate.PutArtifact(ctx, output, mimeType, record.ID)
	if err != nil {
		return ref.ArtifactID{}, err
	}
	return meta.ID, nil
}

// runEcho writes the input payload back as the result artifact. The
// smallest end-to-end exercise of submission, execution, artifact
// registration, and teardown.
func (r *Runner) runEcho(j *job) {
	ctx, cancel := context.WithTimeout(r.baseCtx, time.Minute)
	defer cancel()

	if !r.transition(j, schema.JobRunning, nil) {
		return
	}

	input, err := r.resolveInput(ctx, j.snapshot().Spec)
	if err != nil {
		r.fail(j, errorKind(err, schema.ErrStorageIO), fmt.Sprintf("resolving input: %v", err))
		return
	}

	j.logs.append(schema.LogRecord{Line: string(input), Stream: "stdout", At: r.clock.Now()})

	resultID, err := r.registerResult(ctx, j, input, "application/octet-stream")
	if err != nil {
		r.fail(j, errorKind(err, schema.ErrStorageIO), fmt.Sprintf("registering result: %v", err))
		return
	}
	r.transition(j, schema.JobSucceeded, func(rec *schema.JobRecord) {
		rec.ResultRef = resultID
	})
}

// runShell executes the job's argv inside a sandbox and supervises
// it: process exit, wall-clock budget, stop, and kill all converge on
// a single terminal transition. The sandbox is torn down on every
// path.
func (r *Runner) runShell(j *job) {
	record := j.snapshot()
	spec := record.Spec

	handle, err := r.sandbox.Prepare(record.ID, r.profile)
	if err != nil {
		r.fail(j, schema.ErrSandboxSetup, err.Error())
		return
	}
	defer func() {
		if err := r.sandbox.Teardown(handle); err != nil {
			r.logger.Warn("sandbox teardown", "job_id", record.ID, "error", err)
		}
	}()

	execCtx, cancel := context.WithCancel(r.baseCtx)
	defer cancel()

	cmd, err := r.sandbox.Launch(execCtx, handle, spec.Command, spec.Profile, nil)
	if err != nil {
		r.fail(j, errorKind(err, schema.ErrSandboxSetup), err.Error())
		return
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.fail(j, schema.ErrSandboxSetup, fmt.Sprintf("stdout pipe: %v", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.fail(j, schema.ErrSandboxSetup, fmt.Sprintf("stderr pipe: %v", err))
		return
	}

	var stdoutBuf bytes.Buffer
	stderrTail := &tailWriter{max: stderrTailBytes}
	var capture sync.WaitGroup
	capture.Add(2)
	go func() {
		defer capture.Done()
		j.logs.capture(stdout, "stdout", &stdoutBuf, r.clock.Now)
	}()
	go func() {
		defer capture.Done()
		j.logs.capture(stderr, "stderr", stderrTail, r.clock.Now)
	}()

	if err := cmd.Start(); err != nil {
		r.fail(j, schema.ErrSandboxSetup, fmt.Sprintf("starting job process: %v", err))
		return
	}
	pid := cmd.Process.Pid
	if err := r.sandbox.Started(handle, pid); err != nil {
		r.logger.Warn("recording sandbox pid", "job_id", record.ID, "error", err)
	}

	if !r.transition(j, schema.JobRunning, nil) {
		r.killGroup(pid)
		cmd.Wait()
		return
	}

	waitCh := make(chan error, 1)
	go func() {
		// Pipes must drain before Wait closes them.
		capture.Wait()
		waitCh <- cmd.Wait()
	}()

	var budgetCh <-chan time.Time
	if budget := spec.Profile.WallClockBudget; budget > 0 {
		budgetCh = r.clock.After(budget)
	}

	select {
	case err := <-waitCh:
		r.finishShell(j, err, &stdoutBuf, stderrTail)

	case <-budgetCh:
		r.killGroup(pid)
		r.awaitReap(waitCh)
		r.transition(j, schema.JobTimedOut, func(rec *schema.JobRecord) {
			rec.ErrorKind = schema.ErrResourceExceeded
			rec.Diagnostic = fmt.Sprintf("wall-clock budget %s exceeded", spec.Profile.WallClockBudget)
		})

	case <-j.stopCh:
		// Cooperative phase: SIGTERM the group, then escalate.
		if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			r.logger.Warn("signaling job process group", "job_id", record.ID, "error", err)
		}
		select {
		case <-waitCh:
			// Exited within the grace period. A clean exit after
			// SIGTERM still counts as killed-by-request.
			r.transition(j, schema.JobKilled, func(rec *schema.JobRecord) {
				rec.ExitStatus = cmd.ProcessState.ExitCode()
				rec.Diagnostic = "stopped by request"
			})
		case <-r.clock.After(r.grace):
			r.killGroup(pid)
			r.awaitReap(waitCh)
			r.transition(j, schema.JobKilled, func(rec *schema.JobRecord) {
				rec.Diagnostic = "stop escalated to kill after grace period"
			})
		case <-j.killCh:
			r.killGroup(pid)
			r.awaitReap(waitCh)
			r.transition(j, schema.JobKilled, func(rec *schema.JobRecord) {
				rec.Diagnostic = "killed by request"
			})
		}

	case <-j.killCh:
		r.killGroup(pid)
		r.awaitReap(waitCh)
		r.transition(j, schema.JobKilled, func(rec *schema.JobRecord) {
			rec.Diagnostic = "killed by request"
		})

	case <-r.baseCtx.Done():
		r.killGroup(pid)
		r.awaitReap(waitCh)
		r.transition(j, schema.JobKilled, func(rec *schema.JobRecord) {
			rec.Diagnostic = "orchestrator shutting down"
		})
	}
}

// finishShell records the terminal state for a normally exited
// process.
func (r *Runner) finishShell(j *job, waitErr error, stdout *bytes.Buffer, stderrTail *tailWriter) {
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			r.fail(j, schema.ErrJobProcess, fmt.Sprintf("waiting for job process: %v", waitErr))
			return
		}
	}

	if exitCode != 0 {
		r.transition(j, schema.JobFailed, func(rec *schema.JobRecord) {
			rec.ExitStatus = exitCode
			rec.ErrorKind = schema.ErrJobProcess
			rec.Diagnostic = stderrTail.String()
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	resultID, err := r.registerResult(ctx, j, stdout.Bytes(), "text/plain")
	if err != nil {
		r.fail(j, errorKind(err, schema.ErrStorageIO), fmt.Sprintf("registering result: %v", err))
		return
	}
	r.transition(j, schema.JobSucceeded, func(rec *schema.JobRecord) {
		rec.ExitStatus = 0
		rec.ResultRef = resultID
	})
}

// runRuntime forwards the job to the external runtime service. There
// is no local process; stop, kill, and the wall-clock budget all act
// by cancelling the in-flight call.
func (r *Runner) runRuntime(j *job) {
	record := j.snapshot()
	spec := record.Spec

	if !r.transition(j, schema.JobRunning, nil) {
		return
	}

	execCtx, cancel := context.WithCancel(r.baseCtx)
	defer cancel()

	// why is tracked so a cancellation maps to the right terminal
	// state instead of a generic failure.
	var mu sync.Mutex
	why := ""
	abort := func(reason string) {
		mu.Lock()
		if why == "" {
			why = reason
		}
		mu.Unlock()
		cancel()
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	var budgetCh <-chan time.Time
	if budget := spec.Profile.WallClockBudget; budget > 0 {
		budgetCh = r.clock.After(budget)
	}
	go func() {
		select {
		case <-j.stopCh:
			abort("stop")
		case <-j.killCh:
			abort("kill")
		case <-budgetCh:
			abort("budget")
		case <-watchDone:
		}
	}()

	jobType := string(spec.Type)
	if spec.Type == schema.JobTypeExternal {
		jobType = spec.ExternalType
	}

	input, err := r.resolveInput(execCtx, spec)
	if err != nil {
		r.fail(j, errorKind(err, schema.ErrStorageIO), fmt.Sprintf("resolving input: %v", err))
		return
	}

	output, err := r.runtime.Invoke(execCtx, jobType, spec.ModelVersion, input)
	if err != nil {
		mu.Lock()
		reason := why
		mu.Unlock()
		switch reason {
		case "stop", "kill":
			r.transition(j, schema.JobKilled, func(rec *schema.JobRecord) {
				rec.Diagnostic = "killed by request"
			})
		case "budget":
			r.transition(j, schema.JobTimedOut, func(rec *schema.JobRecord) {
				rec.ErrorKind = schema.ErrResourceExceeded
				rec.Diagnostic = fmt.Sprintf("wall-clock budget %s exceeded", spec.Profile.WallClockBudget)
			})
		default:
			r.fail(j, errorKind(err, schema.ErrJobProcess), err.Error())
		}
		return
	}

	ctx, cancelPut := context.WithTimeout(context.Background(), time.Minute)
	defer cancelPut()
	resultID, err := r.registerResult(ctx, j, output, "application/octet-stream")
	if err != nil {
		r.fail(j, errorKind(err, schema.ErrStorageIO), fmt.Sprintf("registering result: %v", err))
		return
	}
	r.transition(j, schema.JobSucceeded, func(rec *schema.JobRecord) {
		rec.ResultRef = resultID
	})
}

// killGroup SIGKILLs the job's process group.
func (r *Runner) killGroup(pid int) {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		r.logger.Warn("killing job process group", "pid", pid, "error", err)
	}
}

// awaitReap waits for the process to be reaped after SIGKILL, bounded
// so an unresponsive kernel-stuck process cannot hang the monitor.
func (r *Runner) awaitReap(waitCh <-chan error) {
	select {
	case <-waitCh:
	case <-r.clock.After(reapTimeout):
		r.logger.Warn("job process did not reap within bound")
	}
}

// errorKind extracts the taxonomy kind from err, defaulting to
// fallback for unclassified errors.
func errorKind(err error, fallback schema.ErrorKind) schema.ErrorKind {
	var typed *schema.Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return fallback
}
