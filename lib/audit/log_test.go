// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

func openTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log, path
}

func testActor(t *testing.T) ref.Actor {
	t.Helper()
	actor, err := ref.NewActor("operator")
	if err != nil {
		t.Fatalf("NewActor: %v", err)
	}
	return actor
}

func TestAppendAssignsSequence(t *testing.T) {
	log, _ := openTestLog(t)
	actor := testActor(t)

	first, err := log.Append(schema.AuditRecord{Actor: actor, Action: "job/submit/echo", Decision: schema.AuditAllow})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := log.Append(schema.AuditRecord{Actor: actor, Action: "job/state/running", Decision: schema.AuditEvent})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", first.Sequence, second.Sequence)
	}
	if second.TSMonotonic < first.TSMonotonic {
		t.Error("monotonic timestamps went backwards")
	}
	if first.TSWall.IsZero() {
		t.Error("wall timestamp not assigned")
	}
}

func TestReadReturnsAppendOrder(t *testing.T) {
	log, _ := openTestLog(t)
	actor := testActor(t)

	actions := []string{"job/submit/echo", "job/state/authorized", "job/state/running", "job/state/succeeded"}
	for _, action := range actions {
		if _, err := log.Append(schema.AuditRecord{Actor: actor, Action: action, Decision: schema.AuditEvent}); err != nil {
			t.Fatalf("Append(%s): %v", action, err)
		}
	}

	records, err := log.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != len(actions) {
		t.Fatalf("read %d records, want %d", len(records), len(actions))
	}
	for i, record := range records {
		if record.Action != actions[i] {
			t.Errorf("record %d action = %q, want %q", i, record.Action, actions[i])
		}
		if record.Sequence != uint64(i+1) {
			t.Errorf("record %d sequence = %d, want %d", i, record.Sequence, i+1)
		}
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	actor := testActor(t)

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := log.Append(schema.AuditRecord{Actor: actor, Action: "a", Decision: schema.AuditEvent}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append(schema.AuditRecord{Actor: actor, Action: "b", Decision: schema.AuditEvent}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	log.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	record, err := reopened.Append(schema.AuditRecord{Actor: actor, Action: "c", Decision: schema.AuditEvent})
	if err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if record.Sequence != 3 {
		t.Errorf("sequence after reopen = %d, want 3", record.Sequence)
	}
}

func TestOpenTruncatesPartialFinalLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	actor := testActor(t)

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := log.Append(schema.AuditRecord{Actor: actor, Action: "complete", Decision: schema.AuditEvent}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	log.Close()

	// Simulate a torn write: a partial record with no newline.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := file.WriteString(`{"seq":2,"action":"torn`); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	file.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen after torn write: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != 1 || records[0].Action != "complete" {
		t.Fatalf("records after recovery = %+v, want the single complete record", records)
	}

	record, err := reopened.Append(schema.AuditRecord{Actor: actor, Action: "next", Decision: schema.AuditEvent})
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if record.Sequence != 2 {
		t.Errorf("sequence after recovery = %d, want 2", record.Sequence)
	}
}

func TestOpenRefusesCorruptedCompleteLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(path, []byte("not json at all\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open accepted a corrupted log")
	}
}

func TestConcurrentAppendsTotallyOrdered(t *testing.T) {
	log, _ := openTestLog(t)
	actor := testActor(t)

	const appenders = 8
	const perAppender = 25

	var wg sync.WaitGroup
	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perAppender; j++ {
				if _, err := log.Append(schema.AuditRecord{Actor: actor, Action: "concurrent", Decision: schema.AuditEvent}); err != nil {
					t.Errorf("Append: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	records, err := log.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != appenders*perAppender {
		t.Fatalf("read %d records, want %d", len(records), appenders*perAppender)
	}
	for i, record := range records {
		if record.Sequence != uint64(i+1) {
			t.Fatalf("record %d has sequence %d: append order not total", i, record.Sequence)
		}
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	log, _ := openTestLog(t)
	log.Close()
	if _, err := log.Append(schema.AuditRecord{Actor: testActor(t), Action: "late", Decision: schema.AuditEvent}); err == nil {
		t.Fatal("Append after Close succeeded")
	}
}
