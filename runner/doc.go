// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner executes jobs: it authorizes submissions through the
// substrate daemon, drives each job through its lifecycle state
// machine, supervises the sandboxed process (or runtime-service call)
// with one monitor goroutine per running job, captures output for
// live log streaming, and registers results as artifacts.
//
// Every job executes at most once. The state machine is enforced
// under the job's lock; stop and kill outside Running are no-ops that
// return the current record. Terminal records are retained in the
// registry and persisted per job, so status queries keep answering
// after completion and across restarts.
package runner
