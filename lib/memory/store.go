// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/aether-foundation/aether/lib/bm25"
	"github.com/aether-foundation/aether/lib/clock"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/sqlitepool"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '',
	source_ref TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_created ON entries(created_at);
`

// tagSeparator joins tags in their single column. Unit separator:
// never appears in reasonable tag text.
const tagSeparator = "\x1f"

// tagFieldWeight boosts tag tokens over body tokens in search
// ranking.
const tagFieldWeight = 3

// Options configures a Store. Path is required.
type Options struct {
	// Path is the SQLite database file.
	Path string

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// Clock supplies entry timestamps. Nil means the real clock.
	Clock clock.Clock

	// PoolSize is the connection pool size. Zero uses the default.
	PoolSize int
}

// Store is the memory store. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	clock  clock.Clock

	// mu guards the lazily rebuilt search index. index is nil after
	// any write; the next search rebuilds it from the full table.
	mu    sync.Mutex
	index *bm25.Index
	byID  map[string]schema.MemoryEntry
}

// Open opens or creates the store. The caller must Close it.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("memory: Path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     opts.Path,
		PoolSize: opts.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("memory: opening store: %w", err)
	}
	return &Store{pool: pool, logger: logger, clock: clk}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Add persists a new entry and returns it with ID and timestamp
// assigned. Entries without a source reference are rejected:
// provenance is what makes a note auditable later.
func (s *Store) Add(ctx context.Context, text string, tags []string, sourceRef string) (schema.MemoryEntry, error) {
	if strings.TrimSpace(text) == "" {
		return schema.MemoryEntry{}, fmt.Errorf("memory: entry text is empty")
	}
	if strings.TrimSpace(sourceRef) == "" {
		return schema.MemoryEntry{}, fmt.Errorf("memory: entry requires a source reference")
	}

	entry := schema.MemoryEntry{
		ID:        ref.NewEntryID(),
		Text:      text,
		Tags:      tags,
		SourceRef: sourceRef,
		CreatedAt: s.clock.Now().UTC(),
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.MemoryEntry{}, schema.NewError(schema.ErrStorageIO, "memory store: %v", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO entries (id, text, tags, source_ref, created_at)
		VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			entry.ID.String(), entry.Text, strings.Join(entry.Tags, tagSeparator),
			entry.SourceRef, entry.CreatedAt.UnixNano(),
		},
	})
	if err != nil {
		return schema.MemoryEntry{}, schema.NewError(schema.ErrStorageIO, "recording memory entry: %v", err)
	}

	s.mu.Lock()
	s.index = nil
	s.mu.Unlock()

	s.logger.Info("memory entry added",
		"entry_id", entry.ID.String(),
		"source_ref", entry.SourceRef,
		"tags", len(entry.Tags),
	)
	return entry, nil
}

// Get returns one entry by ID.
func (s *Store) Get(ctx context.Context, id ref.EntryID) (schema.MemoryEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.MemoryEntry{}, schema.NewError(schema.ErrStorageIO, "memory store: %v", err)
	}
	defer s.pool.Put(conn)

	var entry schema.MemoryEntry
	found := false
	err = sqlitex.Execute(conn, `
		SELECT id, text, tags, source_ref, created_at FROM entries WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				entry = scanned
				found = true
				return nil
			},
		})
	if err != nil {
		return schema.MemoryEntry{}, schema.NewError(schema.ErrStorageIO, "memory lookup: %v", err)
	}
	if !found {
		return schema.MemoryEntry{}, schema.NewError(schema.ErrNotFound, "memory entry %s", id)
	}
	return entry, nil
}

// Search ranks entries against the query by BM25 relevance. Tag
// matches weigh more than body matches. Results come back best first,
// capped at limit (zero means no cap).
func (s *Store) Search(ctx context.Context, query string, limit int) ([]schema.MemorySearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		if err := s.rebuildLocked(ctx); err != nil {
			return nil, err
		}
	}

	hits := s.index.Search(query, limit)
	results := make([]schema.MemorySearchResult, 0, len(hits))
	for _, hit := range hits {
		entry, ok := s.byID[hit.Name]
		if !ok {
			continue
		}
		results = append(results, schema.MemorySearchResult{Entry: entry, Score: hit.Score})
	}
	return results, nil
}

// List returns entries newest first, capped at limit (zero means no
// cap).
func (s *Store) List(ctx context.Context, limit int) ([]schema.MemoryEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, schema.NewError(schema.ErrStorageIO, "memory store: %v", err)
	}
	defer s.pool.Put(conn)

	query := "SELECT id, text, tags, source_ref, created_at FROM entries ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var entries []schema.MemoryEntry
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		},
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrStorageIO, "listing memory entries: %v", err)
	}
	return entries, nil
}

// rebuildLocked loads every entry and builds a fresh BM25 index.
// Caller holds mu.
func (s *Store) rebuildLocked(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.NewError(schema.ErrStorageIO, "memory store: %v", err)
	}
	defer s.pool.Put(conn)

	var entries []schema.MemoryEntry
	err = sqlitex.Execute(conn, "SELECT id, text, tags, source_ref, created_at FROM entries", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		},
	})
	if err != nil {
		return schema.NewError(schema.ErrStorageIO, "loading memory entries: %v", err)
	}

	documents := make([]bm25.Document, len(entries))
	byID := make(map[string]schema.MemoryEntry, len(entries))
	for i, entry := range entries {
		documents[i] = bm25.Document{
			Name: entry.ID.String(),
			Fields: []bm25.Field{
				{Text: entry.Text, Weight: 1},
				{Text: strings.Join(entry.Tags, " "), Weight: tagFieldWeight},
			},
		}
		byID[entry.ID.String()] = entry
	}
	s.index = bm25.New(documents)
	s.byID = byID
	return nil
}

func scanEntry(stmt *sqlite.Stmt) (schema.MemoryEntry, error) {
	id, err := ref.ParseEntryID(stmt.ColumnText(0))
	if err != nil {
		return schema.MemoryEntry{}, schema.NewError(schema.ErrStorageIO, "corrupt memory row: %v", err)
	}
	var tags []string
	if raw := stmt.ColumnText(2); raw != "" {
		tags = strings.Split(raw, tagSeparator)
	}
	return schema.MemoryEntry{
		ID:        id,
		Text:      stmt.ColumnText(1),
		Tags:      tags,
		SourceRef: stmt.ColumnText(3),
		CreatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
	}, nil
}
