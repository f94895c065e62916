// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aether-foundation/aether/lib/artifact"
	"github.com/aether-foundation/aether/lib/audit"
	"github.com/aether-foundation/aether/lib/memory"
	"github.com/aether-foundation/aether/lib/policy"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/service"
	"github.com/aether-foundation/aether/lib/substrate"
	"github.com/aether-foundation/aether/lib/testutil"
)

const testRules = `{
	// Operators hold full access; the probe actor holds nothing.
	"rules": [
		{"name": "operator-all", "actor": "operator/**", "action": "**", "resource": "**", "effect": "allow"},
		{"name": "no-audit-reads", "actor": "operator/limited", "action": "audit/tail", "resource": "**", "effect": "deny"},
	],
}`

type daemonHarness struct {
	daemon     *daemon
	audit      *audit.Log
	client     *substrate.Client
	socketPath string
}

func startDaemon(t *testing.T) *daemonHarness {
	t.Helper()

	root := t.TempDir()
	rules, err := policy.ParseRules([]byte(testRules))
	if err != nil {
		t.Fatalf("parsing rules: %v", err)
	}
	engine, err := policy.NewEngine(rules)
	if err != nil {
		t.Fatal(err)
	}

	auditLog, err := audit.Open(filepath.Join(root, "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { auditLog.Close() })

	artifacts, err := artifact.Open(artifact.Options{Dir: filepath.Join(root, "artifacts")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { artifacts.Close() })

	memories, err := memory.Open(memory.Options{Path: filepath.Join(root, "memory.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { memories.Close() })

	d := newDaemon(daemonOptions{
		Engine:    engine,
		Audit:     auditLog,
		Artifacts: artifacts,
		Memory:    memories,
		Logger:    slog.New(slog.DiscardHandler),
	})

	socketPath := filepath.Join(testutil.SocketDir(t), "aetherd.sock")
	server := service.NewSocketServer(socketPath, slog.New(slog.DiscardHandler))
	d.register(server)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, served, 5*time.Second, "daemon shutdown")
	})

	operator, err := ref.NewActor("operator/test")
	if err != nil {
		t.Fatal(err)
	}
	client := substrate.New(socketPath, operator)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := client.Health(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon never became reachable")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return &daemonHarness{daemon: d, audit: auditLog, client: client, socketPath: socketPath}
}

func TestCheckPolicyAudited(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	operator, _ := ref.NewActor("operator/test")
	stranger, _ := ref.NewActor("stranger")

	allowed, err := h.client.CheckPolicy(ctx, operator, "job/submit/echo", "job/test")
	if err != nil {
		t.Fatalf("CheckPolicy failed: %v", err)
	}
	if !allowed.Allowed {
		t.Errorf("operator denied: %s", allowed.Reason)
	}

	denied, err := h.client.CheckPolicy(ctx, stranger, "job/submit/echo", "job/test")
	if err != nil {
		t.Fatalf("CheckPolicy failed: %v", err)
	}
	if denied.Allowed {
		t.Error("stranger allowed")
	}

	// Both decisions were recorded before the responses went out.
	records, err := h.client.AuditTail(ctx, 10)
	if err != nil {
		t.Fatalf("AuditTail failed: %v", err)
	}
	var sawAllow, sawDeny bool
	for _, record := range records {
		if record.Action != "job/submit/echo" {
			continue
		}
		switch record.Decision {
		case schema.AuditAllow:
			sawAllow = true
		case schema.AuditDeny:
			sawDeny = true
		}
	}
	if !sawAllow || !sawDeny {
		t.Errorf("audit missing decisions: allow=%v deny=%v", sawAllow, sawDeny)
	}
}

func TestConcurrentDenialsBothAudited(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	// Two denied checks racing through the daemon must each leave a
	// deny record; neither may be lost or merged.
	const action = "memory/add"
	var group sync.WaitGroup
	for _, name := range []string{"intruder/one", "intruder/two"} {
		actor, err := ref.NewActor(name)
		if err != nil {
			t.Fatal(err)
		}
		group.Add(1)
		go func() {
			defer group.Done()
			decision, err := h.client.CheckPolicy(ctx, actor, action, "memory")
			if err != nil {
				t.Errorf("CheckPolicy %s failed: %v", actor, err)
				return
			}
			if decision.Allowed {
				t.Errorf("%s allowed", actor)
			}
		}()
	}
	group.Wait()

	records, err := h.client.AuditTail(ctx, 20)
	if err != nil {
		t.Fatalf("AuditTail failed: %v", err)
	}
	var denies []schema.AuditRecord
	for _, record := range records {
		if record.Action == action {
			denies = append(denies, record)
		}
	}
	if len(denies) != 2 {
		t.Fatalf("audit holds %d records for %s, want 2", len(denies), action)
	}
	for _, record := range denies {
		if record.Decision != schema.AuditDeny {
			t.Errorf("record %d decision = %s, want deny", record.Sequence, record.Decision)
		}
	}
	if denies[0].Sequence >= denies[1].Sequence {
		t.Errorf("sequences not strictly ordered: %d, %d", denies[0].Sequence, denies[1].Sequence)
	}
	if denies[0].Actor == denies[1].Actor {
		t.Error("both records attribute the same actor")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	content := []byte("artifact payload")
	meta, err := h.client.PutArtifact(ctx, content, "text/plain", ref.JobID{})
	if err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("size = %d", meta.Size)
	}

	gotMeta, got, err := h.client.GetArtifact(ctx, meta.ID)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content = %q", got)
	}
	if gotMeta.ContentHash != meta.ContentHash {
		t.Errorf("hash mismatch: %s vs %s", gotMeta.ContentHash, meta.ContentHash)
	}

	// Identical bytes deduplicate.
	again, err := h.client.PutArtifact(ctx, content, "text/plain", ref.JobID{})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != meta.ID {
		t.Errorf("dedup failed: %s vs %s", again.ID, meta.ID)
	}

	metas, err := h.client.ListArtifacts(ctx, schema.ArtifactFilter{MIMEType: "text/plain"})
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(metas) != 1 {
		t.Errorf("listed %d artifacts, want 1", len(metas))
	}
}

func TestGuardedActionsDeny(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	stranger, _ := ref.NewActor("stranger")
	strangerClient := substrate.New(h.socketPath, stranger)

	if _, err := strangerClient.PutArtifact(ctx, []byte("x"), "", ref.JobID{}); !schema.IsKind(err, schema.ErrPolicyDenied) {
		t.Errorf("artifact put: expected policy-denied, got %v", err)
	}
	if _, err := strangerClient.SearchMemory(ctx, "anything", 5); !schema.IsKind(err, schema.ErrPolicyDenied) {
		t.Errorf("memory search: expected policy-denied, got %v", err)
	}
	if _, err := strangerClient.AuditTail(ctx, 5); !schema.IsKind(err, schema.ErrPolicyDenied) {
		t.Errorf("audit tail: expected policy-denied, got %v", err)
	}

	// Pins guard eviction; rewriting them is a guarded action too.
	pinned := ref.NewJobID()
	meta, err := h.client.PutArtifact(ctx, []byte("held"), "", pinned)
	if err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}
	if err := strangerClient.SetJobRefs(ctx, pinned, nil, true); !schema.IsKind(err, schema.ErrPolicyDenied) {
		t.Errorf("job-refs clear: expected policy-denied, got %v", err)
	}
	if err := h.client.SetJobRefs(ctx, pinned, []ref.ArtifactID{meta.ID}, false); err != nil {
		t.Errorf("operator job-refs should pass: %v", err)
	}

	// A specific deny rule wins over the operator allow.
	limited, _ := ref.NewActor("operator/limited")
	limitedClient := substrate.New(h.socketPath, limited)
	if _, err := limitedClient.AuditTail(ctx, 5); !schema.IsKind(err, schema.ErrPolicyDenied) {
		t.Errorf("limited operator audit tail: expected policy-denied, got %v", err)
	}
	if _, err := limitedClient.PutArtifact(ctx, []byte("y"), "", ref.JobID{}); err != nil {
		t.Errorf("limited operator artifact put should pass: %v", err)
	}
}

func TestMemoryAddSearch(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	entry, err := h.client.AddMemory(ctx, "the scheduler prefers idle hosts", []string{"scheduler"}, "notes.md:1")
	if err != nil {
		t.Fatalf("AddMemory failed: %v", err)
	}
	if entry.ID.IsZero() {
		t.Fatal("entry has no id")
	}

	// Provenance is mandatory.
	if _, err := h.client.AddMemory(ctx, "no source", nil, ""); err == nil {
		t.Error("expected error for missing source_ref")
	}

	results, err := h.client.SearchMemory(ctx, "scheduler idle", 5)
	if err != nil {
		t.Fatalf("SearchMemory failed: %v", err)
	}
	if len(results) == 0 || results[0].Entry.ID != entry.ID {
		t.Errorf("search results = %+v", results)
	}

	got, err := h.client.GetMemory(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if got.Text != entry.Text {
		t.Errorf("text = %q", got.Text)
	}
}

func TestHealthDegradedAfterAuditFailure(t *testing.T) {
	h := startDaemon(t)
	ctx := context.Background()

	health, err := h.client.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !health.OK || health.Degraded {
		t.Errorf("health = %+v", health)
	}
	if health.Service != "aetherd" {
		t.Errorf("service = %q", health.Service)
	}

	// Closing the log simulates a stuck disk: every guarded action
	// refuses, health reports degraded, the process stays up.
	h.audit.Close()

	if _, err := h.client.PutArtifact(ctx, []byte("x"), "", ref.JobID{}); !schema.IsKind(err, schema.ErrStorageIO) {
		t.Errorf("expected storage-io refusal, got %v", err)
	}

	operator, _ := ref.NewActor("operator/test")
	if _, err := h.client.CheckPolicy(ctx, operator, "job/submit/echo", "job/x"); !schema.IsKind(err, schema.ErrStorageIO) {
		t.Errorf("expected storage-io refusal for decision, got %v", err)
	}

	health, err = h.client.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed while degraded: %v", err)
	}
	if !health.Degraded {
		t.Error("health does not report degraded state")
	}
}
