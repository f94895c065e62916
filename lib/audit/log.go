// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aether-foundation/aether/lib/schema"
)

// Log is the append-only audit log. Safe for concurrent use: appends
// are serialized by an internal mutex (the single-writer discipline),
// reads open their own file handle and never block writers.
type Log struct {
	path string

	mu       sync.Mutex
	file     *os.File
	sequence uint64 // last assigned sequence number
	started  time.Time
	failed   error // sticky: first write/sync failure
}

// Open opens (or creates) the audit log at path. The parent directory
// is created if missing. If the file ends in a partial line from a
// crash mid-write, it is truncated back to the last complete record.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	validLength, lastSequence, err := scan(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log %s: %w", path, err)
	}
	if err := file.Truncate(validLength); err != nil {
		file.Close()
		return nil, fmt.Errorf("truncating partial record in %s: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, fmt.Errorf("seeking audit log %s: %w", path, err)
	}

	return &Log{
		path:     path,
		file:     file,
		sequence: lastSequence,
		started:  time.Now(),
	}, nil
}

// scan reads an existing log file, returning the byte length of the
// complete-record prefix and the last record's sequence number.
// Returns (0, 0, nil) when the file does not exist.
func scan(path string) (validLength int64, lastSequence uint64, err error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("scanning audit log %s: %w", path, err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// No trailing newline: partial final line, excluded from
			// the valid prefix.
			return validLength, lastSequence, nil
		}
		if err != nil {
			return 0, 0, fmt.Errorf("scanning audit log %s: %w", path, err)
		}

		var record schema.AuditRecord
		if err := json.Unmarshal(bytes.TrimSpace(line), &record); err != nil {
			// A complete but unparseable line means the log was
			// corrupted by something other than a torn write. Refuse
			// to open rather than silently drop records.
			return 0, 0, fmt.Errorf("audit log %s corrupted at byte %d: %w", path, validLength, err)
		}
		validLength += int64(len(line))
		lastSequence = record.Sequence
	}
}

// Append assigns the record's sequence number and timestamps, writes
// it as one JSON line, and fsyncs before returning. On any failure
// the log becomes refusing: this and all future Appends return the
// first error.
func (l *Log) Append(record schema.AuditRecord) (schema.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed != nil {
		return schema.AuditRecord{}, l.failed
	}

	record.Sequence = l.sequence + 1
	record.TSMonotonic = int64(time.Since(l.started))
	if record.TSWall.IsZero() {
		record.TSWall = time.Now()
	}

	line, err := json.Marshal(record)
	if err != nil {
		// Marshal failure is a programming error, not a storage
		// failure; it does not poison the log.
		return schema.AuditRecord{}, fmt.Errorf("encoding audit record: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		l.failed = fmt.Errorf("audit append failed: %w", err)
		return schema.AuditRecord{}, l.failed
	}
	if err := l.file.Sync(); err != nil {
		l.failed = fmt.Errorf("audit sync failed: %w", err)
		return schema.AuditRecord{}, l.failed
	}

	l.sequence = record.Sequence
	return record, nil
}

// Err returns the sticky failure, or nil while the log is healthy.
func (l *Log) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

// Read returns all records in append order. It opens its own handle,
// so concurrent appends are not blocked; records appended after the
// read begins may or may not be included.
func (l *Log) Read() ([]schema.AuditRecord, error) {
	return readAll(l.path)
}

// Tail returns the last count records in append order. count <= 0
// returns nothing.
func (l *Log) Tail(count int) ([]schema.AuditRecord, error) {
	if count <= 0 {
		return nil, nil
	}
	records, err := readAll(l.path)
	if err != nil {
		return nil, err
	}
	if len(records) > count {
		records = records[len(records)-count:]
	}
	return records, nil
}

// Close flushes and closes the log file. Appends after Close fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed == nil {
		l.failed = fmt.Errorf("audit log closed")
	}
	return l.file.Close()
}

func readAll(path string) ([]schema.AuditRecord, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading audit log %s: %w", path, err)
	}
	defer file.Close()

	var records []schema.AuditRecord
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading audit log %s: %w", path, err)
		}
		var record schema.AuditRecord
		if err := json.Unmarshal(bytes.TrimSpace(line), &record); err != nil {
			return nil, fmt.Errorf("audit log %s corrupted: %w", path, err)
		}
		records = append(records, record)
	}
}
