// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aether-foundation/aether/lib/schema"
)

// logBuffer accumulates a job's output records and lets any number of
// followers read them from the beginning. It is append-only: records
// are never mutated or dropped while the job is in the registry. The
// final record carries End and the terminal state.
type logBuffer struct {
	mu      sync.Mutex
	records []schema.LogRecord
	ended   bool

	// updated is closed and replaced on every append, waking blocked
	// followers.
	updated chan struct{}

	// file mirrors the records as JSON lines for post-mortem
	// inspection. Best effort; streaming never depends on it.
	file *os.File
}

func newLogBuffer(path string) *logBuffer {
	b := &logBuffer{updated: make(chan struct{})}
	if path != "" {
		// Failure to open the mirror file does not block execution.
		b.file, _ = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	}
	return b
}

func (b *logBuffer) append(record schema.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return
	}
	b.records = append(b.records, record)
	if record.End {
		b.ended = true
	}

	if b.file != nil {
		if line, err := json.Marshal(record); err == nil {
			b.file.Write(append(line, '\n'))
		}
		if record.End {
			b.file.Close()
			b.file = nil
		}
	}

	close(b.updated)
	b.updated = make(chan struct{})
}

// end appends the terminal marker. Further appends are ignored.
func (b *logBuffer) end(state schema.JobState, at time.Time) {
	b.append(schema.LogRecord{End: true, State: state, At: at})
}

// next returns the record at index i, blocking until it exists when
// wait is true. The second return is false when i is past the end of
// a finished buffer, or when wait is false and the record does not
// exist yet.
func (b *logBuffer) next(ctx context.Context, i int, wait bool) (schema.LogRecord, bool, error) {
	for {
		b.mu.Lock()
		if i < len(b.records) {
			record := b.records[i]
			b.mu.Unlock()
			return record, true, nil
		}
		if b.ended || !wait {
			b.mu.Unlock()
			return schema.LogRecord{}, false, nil
		}
		updated := b.updated
		b.mu.Unlock()

		select {
		case <-updated:
		case <-ctx.Done():
			return schema.LogRecord{}, false, ctx.Err()
		}
	}
}

// capture reads lines from a process pipe into the buffer, also
// copying the raw bytes to sink when non-nil.
func (b *logBuffer) capture(r io.Reader, stream string, sink io.Writer, now func() time.Time) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if sink != nil {
			sink.Write(append([]byte(line), '\n'))
		}
		b.append(schema.LogRecord{Line: line, Stream: stream, At: now()})
	}
}

// tailWriter keeps the last max bytes written to it. Used to bound
// the stderr capture carried on failure diagnostics.
type tailWriter struct {
	max int
	buf []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string { return string(w.buf) }
