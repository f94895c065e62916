// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/testutil"
)

func TestLogBufferFollow(t *testing.T) {
	b := newLogBuffer("")

	got := make(chan schema.LogRecord, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			record, ok, err := b.next(context.Background(), i, true)
			if err != nil || !ok {
				return
			}
			got <- record
			if record.End {
				return
			}
		}
	}()

	b.append(schema.LogRecord{Line: "one", Stream: "stdout", At: time.Now()})
	if r := testutil.RequireReceive(t, got, 5*time.Second, "first record"); r.Line != "one" {
		t.Errorf("line = %q", r.Line)
	}
	b.append(schema.LogRecord{Line: "two", Stream: "stderr", At: time.Now()})
	if r := testutil.RequireReceive(t, got, 5*time.Second, "second record"); r.Stream != "stderr" {
		t.Errorf("stream = %q", r.Stream)
	}

	b.end(schema.JobSucceeded, time.Now())
	final := testutil.RequireReceive(t, got, 5*time.Second, "end record")
	if !final.End || final.State != schema.JobSucceeded {
		t.Errorf("final record = %+v", final)
	}
	testutil.RequireClosed(t, done, 5*time.Second, "follower exit")

	// Appends after end are dropped.
	b.append(schema.LogRecord{Line: "late"})
	if _, ok, _ := b.next(context.Background(), 3, false); ok {
		t.Error("record appended after end")
	}
}

func TestLogBufferNonBlocking(t *testing.T) {
	b := newLogBuffer("")
	if _, ok, err := b.next(context.Background(), 0, false); ok || err != nil {
		t.Errorf("empty buffer: ok=%v err=%v", ok, err)
	}

	b.append(schema.LogRecord{Line: "x"})
	record, ok, err := b.next(context.Background(), 0, false)
	if !ok || err != nil || record.Line != "x" {
		t.Errorf("record=%+v ok=%v err=%v", record, ok, err)
	}
}

func TestLogBufferContextCancel(t *testing.T) {
	b := newLogBuffer("")
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, _, err := b.next(ctx, 0, true)
		errCh <- err
	}()
	cancel()
	if err := testutil.RequireReceive(t, errCh, 5*time.Second, "canceled next"); err == nil {
		t.Error("expected context error")
	}
}

func TestLogBufferMirrorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	b := newLogBuffer(path)
	b.append(schema.LogRecord{Line: "mirrored", Stream: "stdout", At: time.Now()})
	b.end(schema.JobFailed, time.Now())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading mirror: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("mirror has %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"mirrored"`) {
		t.Errorf("first line = %s", lines[0])
	}
	if !strings.Contains(lines[1], `"end":true`) {
		t.Errorf("final line = %s", lines[1])
	}
}

func TestTailWriterBound(t *testing.T) {
	w := &tailWriter{max: 8}
	w.Write([]byte("0123456789abcdef"))
	if got := w.String(); got != "89abcdef" {
		t.Errorf("tail = %q", got)
	}
	w.Write([]byte("ZZ"))
	if got := w.String(); got != "abcdefZZ" {
		t.Errorf("tail after second write = %q", got)
	}
}

func TestLogsFollowEndsWithState(t *testing.T) {
	h := newHarness(t, nil)

	record, err := h.runner.Submit(context.Background(), h.actor, schema.JobSpec{
		Type:    schema.JobTypeShellExec,
		Command: []string{"/bin/sh", "-c", "echo line-a; echo line-b"},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var records []schema.LogRecord
	err = h.runner.Logs(context.Background(), record.ID, true, func(r schema.LogRecord) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if len(records) < 3 {
		t.Fatalf("got %d records, want output lines plus end", len(records))
	}
	last := records[len(records)-1]
	if !last.End || last.State != schema.JobSucceeded {
		t.Errorf("final record = %+v", last)
	}
	var lines []string
	for _, r := range records[:len(records)-1] {
		lines = append(lines, r.Line)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "line-a") || !strings.Contains(joined, "line-b") {
		t.Errorf("output lines = %q", joined)
	}
}
