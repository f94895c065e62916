// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

// Package substrate provides a typed client for the aetherd Unix
// socket API. The orchestrator, job runner, and CLI all reach the
// substrate daemon — policy checks, audit appends, artifacts, memory —
// through this client rather than hand-building protocol requests.
package substrate

import (
	"context"
	"fmt"

	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
)

// Action names served by aetherd.
const (
	ActionCheckPolicy  = "check-policy"
	ActionAppendEvent  = "append-event"
	ActionArtifactPut  = "artifact/put"
	ActionArtifactGet  = "artifact/get"
	ActionArtifactList = "artifact/list"
	ActionJobRefs      = "job-refs"
	ActionMemoryAdd    = "memory/add"
	ActionMemoryGet    = "memory/get"
	ActionMemorySearch = "memory/search"
	ActionAuditTail    = "audit/tail"
	ActionHealth       = "health"
)

// Client is a typed client for the substrate daemon.
type Client struct {
	client *service.Client
	actor  ref.Actor
}

// New creates a Client that communicates with aetherd over the given
// Unix socket path, acting as the given principal.
func New(socketPath string, actor ref.Actor) *Client {
	return &Client{
		client: service.NewClient(socketPath),
		actor:  actor,
	}
}

// Actor returns the principal this client acts as.
func (c *Client) Actor() ref.Actor { return c.actor }

func (c *Client) envelope() schema.Envelope {
	return schema.Envelope{
		RequestID:     ref.RequestID(),
		Actor:         c.actor,
		SchemaVersion: schema.SchemaVersion,
	}
}

// CheckPolicy evaluates one (actor, action, resource) triple. The
// daemon records the decision durably before responding.
func (c *Client) CheckPolicy(ctx context.Context, actor ref.Actor, action, resource string) (schema.PolicyDecision, error) {
	request := schema.PolicyCheckRequest{
		Envelope:   c.envelope(),
		CheckActor: actor,
		Action:     action,
		Resource:   resource,
	}
	var decision schema.PolicyDecision
	if err := c.client.Call(ctx, ActionCheckPolicy, request, &decision); err != nil {
		return schema.PolicyDecision{}, fmt.Errorf("check-policy: %w", err)
	}
	return decision, nil
}

// AppendEvent records a lifecycle or administrative event in the
// audit log.
func (c *Client) AppendEvent(ctx context.Context, jobID ref.JobID, action, reason, provenance string) error {
	request := schema.AppendEventRequest{
		Envelope:   c.envelope(),
		JobID:      jobID,
		Action:     action,
		Reason:     reason,
		Provenance: provenance,
	}
	if err := c.client.Call(ctx, ActionAppendEvent, request, nil); err != nil {
		return fmt.Errorf("append-event: %w", err)
	}
	return nil
}

// PutArtifact registers content with the artifact store. Identical
// bytes deduplicate to the same artifact.
func (c *Client) PutArtifact(ctx context.Context, content []byte, mimeType string, producingJob ref.JobID) (schema.ArtifactMeta, error) {
	request := schema.ArtifactPutRequest{
		Envelope:     c.envelope(),
		Content:      content,
		MIMEType:     mimeType,
		ProducingJob: producingJob,
	}
	var meta schema.ArtifactMeta
	if err := c.client.Call(ctx, ActionArtifactPut, request, &meta); err != nil {
		return schema.ArtifactMeta{}, fmt.Errorf("artifact/put: %w", err)
	}
	return meta, nil
}

// GetArtifact fetches an artifact's bytes and metadata.
func (c *Client) GetArtifact(ctx context.Context, id ref.ArtifactID) (schema.ArtifactMeta, []byte, error) {
	request := schema.ArtifactGetRequest{
		Envelope: c.envelope(),
		ID:       id,
	}
	var response schema.ArtifactGetResponse
	if err := c.client.Call(ctx, ActionArtifactGet, request, &response); err != nil {
		return schema.ArtifactMeta{}, nil, fmt.Errorf("artifact/get: %w", err)
	}
	return response.Meta, response.Content, nil
}

// ListArtifacts lists artifact metadata matching the filter, newest
// first.
func (c *Client) ListArtifacts(ctx context.Context, filter schema.ArtifactFilter) ([]schema.ArtifactMeta, error) {
	request := schema.ArtifactListRequest{
		Envelope: c.envelope(),
		Filter:   filter,
	}
	var metas []schema.ArtifactMeta
	if err := c.client.Call(ctx, ActionArtifactList, request, &metas); err != nil {
		return nil, fmt.Errorf("artifact/list: %w", err)
	}
	return metas, nil
}

// SetJobRefs records which artifacts a job references. Referenced
// artifacts are never evicted by the retention sweep. Terminal
// releases the references instead.
func (c *Client) SetJobRefs(ctx context.Context, jobID ref.JobID, refs []ref.ArtifactID, terminal bool) error {
	request := schema.JobRefsRequest{
		Envelope: c.envelope(),
		JobID:    jobID,
		Refs:     refs,
		Terminal: terminal,
	}
	if err := c.client.Call(ctx, ActionJobRefs, request, nil); err != nil {
		return fmt.Errorf("job-refs: %w", err)
	}
	return nil
}

// AddMemory inserts a memory entry. SourceRef is mandatory.
func (c *Client) AddMemory(ctx context.Context, text string, tags []string, sourceRef string) (schema.MemoryEntry, error) {
	request := schema.MemoryAddRequest{
		Envelope:  c.envelope(),
		Text:      text,
		Tags:      tags,
		SourceRef: sourceRef,
	}
	var entry schema.MemoryEntry
	if err := c.client.Call(ctx, ActionMemoryAdd, request, &entry); err != nil {
		return schema.MemoryEntry{}, fmt.Errorf("memory/add: %w", err)
	}
	return entry, nil
}

// GetMemory fetches one memory entry by id.
func (c *Client) GetMemory(ctx context.Context, id ref.EntryID) (schema.MemoryEntry, error) {
	request := schema.MemoryGetRequest{
		Envelope: c.envelope(),
		ID:       id,
	}
	var entry schema.MemoryEntry
	if err := c.client.Call(ctx, ActionMemoryGet, request, &entry); err != nil {
		return schema.MemoryEntry{}, fmt.Errorf("memory/get: %w", err)
	}
	return entry, nil
}

// SearchMemory runs a relevance-ranked search over the memory store.
func (c *Client) SearchMemory(ctx context.Context, query string, limit int) ([]schema.MemorySearchResult, error) {
	request := schema.MemorySearchRequest{
		Envelope: c.envelope(),
		Query:    query,
		Limit:    limit,
	}
	var results []schema.MemorySearchResult
	if err := c.client.Call(ctx, ActionMemorySearch, request, &results); err != nil {
		return nil, fmt.Errorf("memory/search: %w", err)
	}
	return results, nil
}

// AuditTail reads the last count records of the audit log in append
// order.
func (c *Client) AuditTail(ctx context.Context, count int) ([]schema.AuditRecord, error) {
	request := schema.AuditTailRequest{
		Envelope: c.envelope(),
		Count:    count,
	}
	var records []schema.AuditRecord
	if err := c.client.Call(ctx, ActionAuditTail, request, &records); err != nil {
		return nil, fmt.Errorf("audit/tail: %w", err)
	}
	return records, nil
}

// Health reports the daemon's liveness and degradation state.
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
