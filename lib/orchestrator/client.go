// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator provides a typed client for the aurorad Unix
// socket API: job submission, status, control, and log streaming.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
)

// Action names served by aurorad.
const (
	ActionSubmit = "job/submit"
	ActionStatus = "job/status"
	ActionList   = "job/list"
	ActionStop   = "job/stop"
	ActionKill   = "job/kill"
	ActionLogs   = "job/logs"
	ActionHealth = "health"
)

// Client is a typed client for the orchestrator.
type Client struct {
	client *service.Client
	actor  ref.Actor
}

// New creates a Client that communicates with aurorad over the given
// Unix socket path, acting as the given principal.
func New(socketPath string, actor ref.Actor) *Client {
	return &Client{
		client: service.NewClient(socketPath),
		actor:  actor,
	}
}

func (c *Client) envelope() schema.Envelope {
	return schema.Envelope{
		RequestID:     ref.RequestID(),
		Actor:         c.actor,
		SchemaVersion: schema.SchemaVersion,
	}
}

// Submit submits a job. The returned record reflects the
// authorization outcome; execution proceeds asynchronously.
func (c *Client) Submit(ctx context.Context, spec schema.JobSpec) (schema.JobRecord, error) {
	request := schema.SubmitRequest{Envelope: c.envelope(), Spec: spec}
	var record schema.JobRecord
	if err := c.client.Call(ctx, ActionSubmit, request, &record); err != nil {
		return schema.JobRecord{}, fmt.Errorf("job/submit: %w", err)
	}
	return record, nil
}

// Status fetches one job record.
func (c *Client) Status(ctx context.Context, jobID ref.JobID) (schema.JobRecord, error) {
	request := schema.StatusRequest{Envelope: c.envelope(), JobID: jobID}
	var record schema.JobRecord
	if err := c.client.Call(ctx, ActionStatus, request, &record); err != nil {
		return schema.JobRecord{}, fmt.Errorf("job/status: %w", err)
	}
	return record, nil
}

// List returns job records, newest first, optionally restricted to
// the given states.
func (c *Client) List(ctx context.Context, states []schema.JobState, limit int) ([]schema.JobRecord, error) {
	request := schema.ListJobsRequest{Envelope: c.envelope(), States: states, Limit: limit}
	var records []schema.JobRecord
	if err := c.client.Call(ctx, ActionList, request, &records); err != nil {
		return nil, fmt.Errorf("job/list: %w", err)
	}
	return records, nil
}

// Stop requests cooperative termination: SIGTERM, a grace period,
// then kill. A no-op when the job is not running.
func (c *Client) Stop(ctx context.Context, jobID ref.JobID) (schema.JobRecord, error) {
	request := schema.StopRequest{Envelope: c.envelope(), JobID: jobID}
	var record schema.JobRecord
	if err := c.client.Call(ctx, ActionStop, request, &record); err != nil {
		return schema.JobRecord{}, fmt.Errorf("job/stop: %w", err)
	}
	return record, nil
}

// Kill terminates the job's process tree immediately. A no-op when
// the job is not running.
func (c *Client) Kill(ctx context.Context, jobID ref.JobID) (schema.JobRecord, error) {
	request := schema.KillRequest{Envelope: c.envelope(), JobID: jobID}
	var record schema.JobRecord
	if err := c.client.Call(ctx, ActionKill, request, &record); err != nil {
		return schema.JobRecord{}, fmt.Errorf("job/kill: %w", err)
	}
	return record, nil
}

// Logs streams the job's captured output to handle, one record at a
// time, ending with the end-of-stream marker. With follow the stream
// stays open until the job reaches a terminal state. A handle error
// stops the stream and is returned.
func (c *Client) Logs(ctx context.Context, jobID ref.JobID, follow bool, handle func(schema.LogRecord) error) error {
	request := schema.LogsRequest{Envelope: c.envelope(), JobID: jobID, Follow: follow}
	reader, err := c.client.CallStream(ctx, ActionLogs, request)
	if err != nil {
		return fmt.Errorf("job/logs: %w", err)
	}
	defer reader.Close()

	for {
		var record schema.LogRecord
		if err := reader.Next(&record); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("job/logs: %w", err)
		}
		if err := handle(record); err != nil {
			return err
		}
		if record.End {
			return nil
		}
	}
}

// Health reports the orchestrator's liveness.
func (c *Client) Health(ctx context.Context) (schema.HealthResponse, error) {
	request := struct {
		schema.Envelope
	}{c.envelope()}
	var health schema.HealthResponse
	if err := c.client.Call(ctx, ActionHealth, request, &health); err != nil {
		return schema.HealthResponse{}, fmt.Errorf("health: %w", err)
	}
	return health, nil
}
