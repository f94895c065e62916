// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aether-foundation/aether/lib/artifact"
	"github.com/aether-foundation/aether/lib/audit"
	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/memory"
	"github.com/aether-foundation/aether/lib/policy"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/substrate"
	"github.com/aether-foundation/aether/lib/version"
)

type daemonOptions struct {
	Engine    *policy.Engine
	Audit     *audit.Log
	Artifacts *artifact.Store
	Memory    *memory.Store
	Logger    *slog.Logger
}

// daemon holds the substrate state behind the socket handlers.
type daemon struct {
	engine    *policy.Engine
	audit     *audit.Log
	artifacts *artifact.Store
	memory    *memory.Store
	logger    *slog.Logger
}

func newDaemon(opts daemonOptions) *daemon {
	return &daemon{
		engine:    opts.Engine,
		audit:     opts.Audit,
		artifacts: opts.Artifacts,
		memory:    opts.Memory,
		logger:    opts.Logger,
	}
}

func (d *daemon) register(server *service.SocketServer) {
	server.Handle(substrate.ActionCheckPolicy, d.handleCheckPolicy)
	server.Handle(substrate.ActionAppendEvent, d.handleAppendEvent)
	server.Handle(substrate.ActionArtifactPut, d.handleArtifactPut)
	server.Handle(substrate.ActionArtifactGet, d.handleArtifactGet)
	server.Handle(substrate.ActionArtifactList, d.handleArtifactList)
	server.Handle(substrate.ActionJobRefs, d.handleJobRefs)
	server.Handle(substrate.ActionMemoryAdd, d.handleMemoryAdd)
	server.Handle(substrate.ActionMemoryGet, d.handleMemoryGet)
	server.Handle(substrate.ActionMemorySearch, d.handleMemorySearch)
	server.Handle(substrate.ActionAuditTail, d.handleAuditTail)
	server.Handle(substrate.ActionHealth, d.handleHealth)
	server.Handle("version", handleVersion("aetherd"))
}

// handleVersion serves the bare version string for probes that do not
// want the full health report.
func handleVersion(name string) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		return map[string]string{"service": name, "version": version.Info()}, nil
	}
}

// recordStartup appends the daemon start event. A failure here means
// the log is already refusing, which health will report.
func (d *daemon) recordStartup() {
	_, err := d.audit.Append(schema.AuditRecord{
		Actor:    mustActor("aetherd"),
		Action:   "daemon/start",
		Decision: schema.AuditEvent,
		Reason:   version.Info(),
	})
	if err != nil {
		d.logger.Error("startup audit append failed", "error", err)
	}
}

func mustActor(s string) ref.Actor {
	actor, err := ref.NewActor(s)
	if err != nil {
		panic(err)
	}
	return actor
}

// checkEnvelope rejects requests from a newer protocol major version
// or with no principal.
func checkEnvelope(envelope schema.Envelope) error {
	if envelope.SchemaVersion > schema.SchemaVersion {
		return fmt.Errorf("unsupported schema version %d (daemon speaks %d)",
			envelope.SchemaVersion, schema.SchemaVersion)
	}
	if envelope.Actor.IsZero() {
		return fmt.Errorf("missing required field: actor")
	}
	return nil
}

// authorize evaluates the policy for a guarded operation and records
// the decision durably before returning. An audit write failure is a
// refusal: no decision leaves the process unrecorded.
func (d *daemon) authorize(envelope schema.Envelope, action, resource string) error {
	decision := d.engine.Evaluate(envelope.Actor.String(), action, resource)

	record := schema.AuditRecord{
		Actor:         envelope.Actor,
		IntentID:      envelope.RequestID,
		Action:        action,
		Reason:        decision.Reason,
		PolicyVersion: decision.PolicyVersion,
		Provenance:    resource,
		Decision:      schema.AuditAllow,
	}
	if !decision.Allowed {
		record.Decision = schema.AuditDeny
	}
	if _, err := d.audit.Append(record); err != nil {
		d.logger.Error("audit append failed, refusing",
			"action", action, "actor", envelope.Actor.String(), "error", err)
		return schema.NewError(schema.ErrStorageIO, "audit log unavailable: %v", err)
	}

	if !decision.Allowed {
		return schema.NewError(schema.ErrPolicyDenied, "%s", decision.Reason)
	}
	return nil
}

func (d *daemon) handleCheckPolicy(ctx context.Context, raw []byte) (any, error) {
	var request schema.PolicyCheckRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if request.CheckActor.IsZero() || request.Action == "" {
		return nil, fmt.Errorf("check-policy requires check_actor and check_action")
	}

	decision := d.engine.Evaluate(request.CheckActor.String(), request.Action, request.Resource)

	record := schema.AuditRecord{
		Actor:         request.CheckActor,
		IntentID:      request.RequestID,
		Action:        request.Action,
		Reason:        decision.Reason,
		PolicyVersion: decision.PolicyVersion,
		Provenance:    request.Resource,
		Decision:      schema.AuditAllow,
	}
	if !decision.Allowed {
		record.Decision = schema.AuditDeny
	}
	// The decision is durable before the response is sent. On audit
	// failure the caller gets an error, not a decision: an unrecorded
	// allow must never act.
	if _, err := d.audit.Append(record); err != nil {
		d.logger.Error("audit append failed, refusing decision", "error", err)
		return nil, schema.NewError(schema.ErrStorageIO, "audit log unavailable: %v", err)
	}

	return decision, nil
}

func (d *daemon) handleAppendEvent(ctx context.Context, raw []byte) (any, error) {
	var request schema.AppendEventRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if request.Action == "" {
		return nil, fmt.Errorf("append-event requires event_action")
	}

	_, err := d.audit.Append(schema.AuditRecord{
		Actor:      request.Actor,
		IntentID:   request.RequestID,
		JobID:      request.JobID,
		Action:     request.Action,
		Decision:   schema.AuditEvent,
		Reason:     request.Reason,
		Provenance: request.Provenance,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrStorageIO, "audit log unavailable: %v", err)
	}
	return nil, nil
}

func (d *daemon) handleArtifactPut(ctx context.Context, raw []byte) (any, error) {
	var request schema.ArtifactPutRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionArtifactPut, "artifact"); err != nil {
		return nil, err
	}
	return d.artifacts.Put(ctx, request.Content, request.MIMEType, request.ProducingJob)
}

func (d *daemon) handleArtifactGet(ctx context.Context, raw []byte) (any, error) {
	var request schema.ArtifactGetRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionArtifactGet, request.ID.String()); err != nil {
		return nil, err
	}
	content, meta, err := d.artifacts.Get(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return schema.ArtifactGetResponse{Meta: meta, Content: content}, nil
}

func (d *daemon) handleArtifactList(ctx context.Context, raw []byte) (any, error) {
	var request schema.ArtifactListRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionArtifactList, "artifact"); err != nil {
		return nil, err
	}
	return d.artifacts.List(ctx, request.Filter)
}

func (d *daemon) handleJobRefs(ctx context.Context, raw []byte) (any, error) {
	var request schema.JobRefsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if request.JobID.IsZero() {
		return nil, fmt.Errorf("job-refs requires job_id")
	}
	if err := d.authorize(request.Envelope, schema.ActionJobRefs, "job/"+request.JobID.String()); err != nil {
		return nil, err
	}
	if request.Terminal {
		return nil, d.artifacts.ReleaseJobRefs(ctx, request.JobID)
	}
	return nil, d.artifacts.SetJobRefs(ctx, request.JobID, request.Refs)
}

func (d *daemon) handleMemoryAdd(ctx context.Context, raw []byte) (any, error) {
	var request schema.MemoryAddRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionMemoryAdd, "memory"); err != nil {
		return nil, err
	}
	return d.memory.Add(ctx, request.Text, request.Tags, request.SourceRef)
}

func (d *daemon) handleMemoryGet(ctx context.Context, raw []byte) (any, error) {
	var request schema.MemoryGetRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionMemoryGet, request.ID.String()); err != nil {
		return nil, err
	}
	return d.memory.Get(ctx, request.ID)
}

func (d *daemon) handleMemorySearch(ctx context.Context, raw []byte) (any, error) {
	var request schema.MemorySearchRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionMemorySearch, "memory"); err != nil {
		return nil, err
	}
	return d.memory.Search(ctx, request.Query, request.Limit)
}

func (d *daemon) handleAuditTail(ctx context.Context, raw []byte) (any, error) {
	var request schema.AuditTailRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := d.authorize(request.Envelope, schema.ActionAuditTail, "audit"); err != nil {
		return nil, err
	}
	return d.audit.Tail(request.Count)
}

func (d *daemon) handleHealth(ctx context.Context, raw []byte) (any, error) {
	response := schema.HealthResponse{
		OK:      true,
		Service: "aetherd",
		Version: version.Info(),
	}
	if err := d.audit.Err(); err != nil {
		response.Degraded = true
		response.Detail = fmt.Sprintf("audit log unavailable: %v", err)
	}
	return response, nil
}

// sweep runs one retention pass and records evictions in the audit
// log.
func (d *daemon) sweep(ctx context.Context, retention artifact.RetentionPolicy) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	stats, err := d.artifacts.Sweep(sweepCtx, retention)
	if err != nil {
		d.logger.Error("retention sweep failed", "error", err)
		return
	}
	if stats.Evicted == 0 {
		return
	}
	d.logger.Info("retention sweep",
		"evicted", stats.Evicted, "bytes_freed", stats.BytesFreed)
	if _, err := d.audit.Append(schema.AuditRecord{
		Actor:    mustActor("aetherd"),
		Action:   "artifact/evict",
		Decision: schema.AuditEvent,
		Reason:   fmt.Sprintf("%d artifacts evicted, %d bytes freed", stats.Evicted, stats.BytesFreed),
	}); err != nil {
		d.logger.Error("eviction audit append failed", "error", err)
	}
}
