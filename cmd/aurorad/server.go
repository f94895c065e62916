// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aether-foundation/aether/lib/codec"
	"github.com/aether-foundation/aether/lib/orchestrator"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/substrate"
	"github.com/aether-foundation/aether/lib/version"
	"github.com/aether-foundation/aether/runner"
)

// orchestratorServer exposes the runner over the aurorad socket.
// Submission authorization lives inside the runner; the read and
// control actions are authorized here, against aetherd, before they
// touch any job.
type orchestratorServer struct {
	runner    *runner.Runner
	substrate *substrate.Client
	logger    *slog.Logger
}

func newOrchestrator(jobRunner *runner.Runner, substrateClient *substrate.Client, logger *slog.Logger) *orchestratorServer {
	return &orchestratorServer{
		runner:    jobRunner,
		substrate: substrateClient,
		logger:    logger,
	}
}

func (o *orchestratorServer) register(server *service.SocketServer) {
	server.Handle(orchestrator.ActionSubmit, o.handleSubmit)
	server.Handle(orchestrator.ActionStatus, o.handleStatus)
	server.Handle(orchestrator.ActionList, o.handleList)
	server.Handle(orchestrator.ActionStop, o.handleStop)
	server.Handle(orchestrator.ActionKill, o.handleKill)
	server.HandleStream(orchestrator.ActionLogs, o.handleLogs)
	server.Handle(orchestrator.ActionHealth, o.handleHealth)
	server.Handle("version", func(ctx context.Context, raw []byte) (any, error) {
		return map[string]string{"service": "aurorad", "version": version.Info()}, nil
	})
}

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

// authorize asks aetherd for a decision. The substrate daemon audits
// before answering; an unreachable daemon is a denial.
func (o *orchestratorServer) authorize(ctx context.Context, actor ref.Actor, action string, jobID ref.JobID) error {
	decision, err := o.substrate.CheckPolicy(ctx, actor, action, "job/"+jobID.String())
	if err != nil {
		o.logger.Error("policy check unavailable, denying",
			"action", action, "actor", actor.String(), "error", err)
		return schema.NewError(schema.ErrPolicyDenied, "policy check unavailable")
	}
	if !decision.Allowed {
		return schema.NewError(schema.ErrPolicyDenied, "%s", decision.Reason)
	}
	return nil
}

func (o *orchestratorServer) handleSubmit(ctx context.Context, raw []byte) (any, error) {
	var request schema.SubmitRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	record, err := o.runner.Submit(ctx, request.Actor, request.Spec)
	if err != nil {
		// The failure response carries only the error. A rejected
		// submission still leaves a durable Rejected record behind,
		// reachable through list, for audit correlation.
		return nil, err
	}
	return record, nil
}

func (o *orchestratorServer) handleStatus(ctx context.Context, raw []byte) (any, error) {
	var request schema.StatusRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, request.Actor, schema.ActionJobStatus, request.JobID); err != nil {
		return nil, err
	}
	return o.runner.Status(request.JobID)
}

func (o *orchestratorServer) handleList(ctx context.Context, raw []byte) (any, error) {
	var request schema.ListJobsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, request.Actor, schema.ActionJobStatus, ref.JobID{}); err != nil {
		return nil, err
	}
	return o.runner.List(request.States, request.Limit), nil
}

func (o *orchestratorServer) handleStop(ctx context.Context, raw []byte) (any, error) {
	var request schema.StopRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, request.Actor, schema.ActionJobStop, request.JobID); err != nil {
		return nil, err
	}
	return o.runner.Stop(ctx, request.JobID)
}

func (o *orchestratorServer) handleKill(ctx context.Context, raw []byte) (any, error) {
	var request schema.KillRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return nil, err
	}
	if err := o.authorize(ctx, request.Actor, schema.ActionJobKill, request.JobID); err != nil {
		return nil, err
	}
	return o.runner.Kill(ctx, request.JobID)
}

func (o *orchestratorServer) handleLogs(ctx context.Context, raw []byte, stream *service.Stream) error {
	var request schema.LogsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	if err := checkEnvelope(request.Envelope); err != nil {
		return err
	}
	if err := o.authorize(ctx, request.Actor, schema.ActionJobLogs, request.JobID); err != nil {
		return err
	}
	return o.runner.Logs(ctx, request.JobID, request.Follow, func(record schema.LogRecord) error {
		return stream.Send(record)
	})
}

func (o *orchestratorServer) handleHealth(ctx context.Context, raw []byte) (any, error) {
	return schema.HealthResponse{
		OK:      true,
		Service: "aurorad",
		Version: version.Info(),
	}, nil
}
