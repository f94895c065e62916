// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/aether-foundation/aether/lib/clock"
	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
	"github.com/aether-foundation/aether/lib/sqlitepool"
)

// Options configures a Store. Dir is required.
type Options struct {
	// Dir is the store root. Blobs live under Dir/blobs, the
	// metadata index at Dir/index.db.
	Dir string

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// Clock supplies registration timestamps and retention ages.
	// Nil means the real clock.
	Clock clock.Clock

	// PoolSize is the SQLite connection pool size. Zero uses the
	// pool default.
	PoolSize int
}

// Store is the content-addressed artifact store. Safe for concurrent
// use.
type Store struct {
	dir     string
	blobDir string
	pool    *sqlitepool.Pool
	logger  *slog.Logger
	clock   clock.Clock
}

// Open creates the directory layout if needed and opens the metadata
// index. The caller must Close the store when done.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("artifact: Dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	blobDir := filepath.Join(opts.Dir, "blobs")
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, fmt.Errorf("artifact: creating blob directory: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(opts.Dir, "index.db"),
		PoolSize: opts.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, indexSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: opening index: %w", err)
	}

	return &Store{
		dir:     opts.Dir,
		blobDir: blobDir,
		pool:    pool,
		logger:  logger,
		clock:   clk,
	}, nil
}

// Close closes the metadata index.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Put registers data as an artifact. The ID derives from the content
// hash, so putting identical bytes is idempotent: the existing
// metadata comes back, original timestamp intact, and no second blob
// is written. producingJob may be zero for directly uploaded inputs.
func (s *Store) Put(ctx context.Context, data []byte, mimeType string, producingJob ref.JobID) (schema.ArtifactMeta, error) {
	hash := HashBlob(data)
	id := ref.ArtifactIDFromHash(hash)

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "artifact index: %v", err)
	}
	defer s.pool.Put(conn)

	if existing, err := lookupMeta(conn, id.String()); err == nil {
		return existing.meta, nil
	} else if !schema.IsKind(err, schema.ErrNotFound) {
		return schema.ArtifactMeta{}, err
	}

	compressed, tag, err := CompressAuto(data, mimeType)
	if err != nil {
		return schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "compressing artifact: %v", err)
	}

	if err := s.writeBlob(hash, compressed); err != nil {
		return schema.ArtifactMeta{}, err
	}

	meta := schema.ArtifactMeta{
		ID:           id,
		ContentHash:  FormatHash(hash),
		Size:         int64(len(data)),
		MIMEType:     mimeType,
		ProducingJob: producingJob,
		CreatedAt:    s.clock.Now().UTC(),
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO artifacts (id, content_hash, size, stored_size, compression, mime_type, producing_job, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			meta.ID.String(), meta.ContentHash, meta.Size, int64(len(compressed)),
			tag.String(), meta.MIMEType, meta.ProducingJob.String(), meta.CreatedAt.UnixNano(),
		},
	})
	if err != nil {
		return schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "recording artifact %s: %v", id, err)
	}

	s.logger.Info("artifact stored",
		"artifact_id", meta.ID.String(),
		"size", meta.Size,
		"stored_size", len(compressed),
		"compression", tag.String(),
	)
	return meta, nil
}

// Get returns the original bytes and metadata. The content hash is
// re-verified; a mismatch means on-disk corruption and surfaces as a
// storage error, never as silently wrong bytes.
func (s *Store) Get(ctx context.Context, id ref.ArtifactID) ([]byte, schema.ArtifactMeta, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "artifact index: %v", err)
	}
	row, err := lookupMeta(conn, id.String())
	s.pool.Put(conn)
	if err != nil {
		return nil, schema.ArtifactMeta{}, err
	}

	hash, err := ParseHash(row.meta.ContentHash)
	if err != nil {
		return nil, schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "artifact %s: %v", id, err)
	}
	compressed, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		return nil, schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "reading blob for %s: %v", id, err)
	}
	data, err := Decompress(compressed, row.compression, int(row.meta.Size))
	if err != nil {
		return nil, schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "decompressing %s: %v", id, err)
	}
	if HashBlob(data) != hash {
		return nil, schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "artifact %s failed hash verification", id)
	}
	return data, row.meta, nil
}

// Stat returns metadata without touching the blob.
func (s *Store) Stat(ctx context.Context, id ref.ArtifactID) (schema.ArtifactMeta, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.ArtifactMeta{}, schema.NewError(schema.ErrStorageIO, "artifact index: %v", err)
	}
	defer s.pool.Put(conn)
	row, err := lookupMeta(conn, id.String())
	if err != nil {
		return schema.ArtifactMeta{}, err
	}
	return row.meta, nil
}

// List returns metadata for artifacts matching the filter, newest
// first.
func (s *Store) List(ctx context.Context, filter schema.ArtifactFilter) ([]schema.ArtifactMeta, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, schema.NewError(schema.ErrStorageIO, "artifact index: %v", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT id, content_hash, size, stored_size, compression, mime_type, producing_job, created_at
		FROM artifacts WHERE 1=1`
	var args []any
	if !filter.ProducingJob.IsZero() {
		query += " AND producing_job = ?"
		args = append(args, filter.ProducingJob.String())
	}
	if filter.MIMEType != "" {
		query += " AND mime_type = ?"
		args = append(args, filter.MIMEType)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var results []schema.ArtifactMeta
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row, err := scanRow(stmt)
			if err != nil {
				return err
			}
			results = append(results, row.meta)
			return nil
		},
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrStorageIO, "listing artifacts: %v", err)
	}
	return results, nil
}

// SetJobRefs replaces the set of artifacts a job references. The
// retention sweep never evicts a referenced artifact; the runner
// calls this when a job records its inputs and result, and clears it
// when the job record itself is pruned.
func (s *Store) SetJobRefs(ctx context.Context, job ref.JobID, refs []ref.ArtifactID) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.NewError(schema.ErrStorageIO, "artifact index: %v", err)
	}
	defer s.pool.Put(conn)

	endTx, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.NewError(schema.ErrStorageIO, "job refs transaction: %v", err)
	}
	defer endTx(&err)

	err = sqlitex.Execute(conn, "DELETE FROM job_refs WHERE job_id = ?", &sqlitex.ExecOptions{
		Args: []any{job.String()},
	})
	if err != nil {
		return schema.NewError(schema.ErrStorageIO, "clearing job refs: %v", err)
	}
	for _, artifactID := range refs {
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO job_refs (job_id, artifact_id) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{job.String(), artifactID.String()}})
		if err != nil {
			return schema.NewError(schema.ErrStorageIO, "recording job ref: %v", err)
		}
	}
	return nil
}

// ReleaseJobRefs drops all references held by a job.
func (s *Store) ReleaseJobRefs(ctx context.Context, job ref.JobID) error {
	return s.SetJobRefs(ctx, job, nil)
}

// RetentionPolicy bounds the store. Zero fields disable that bound.
type RetentionPolicy struct {
	// MaxAge evicts unreferenced artifacts older than this.
	MaxAge time.Duration

	// MaxTotalBytes caps the summed on-disk blob size. When over,
	// the oldest unreferenced artifacts go first until under the cap.
	MaxTotalBytes int64
}

// SweepStats reports one retention pass.
type SweepStats struct {
	Evicted    int
	BytesFreed int64
}

// Sweep applies the retention policy. Artifacts referenced by any job
// are never evicted regardless of age or pressure.
func (s *Store) Sweep(ctx context.Context, policy RetentionPolicy) (SweepStats, error) {
	var stats SweepStats
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return stats, schema.NewError(schema.ErrStorageIO, "artifact index: %v", err)
	}
	defer s.pool.Put(conn)

	type candidate struct {
		id         string
		hash       string
		storedSize int64
	}
	collect := func(query string, args []any) ([]candidate, error) {
		var out []candidate
		err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, candidate{
					id:         stmt.ColumnText(0),
					hash:       stmt.ColumnText(1),
					storedSize: stmt.ColumnInt64(2),
				})
				return nil
			},
		})
		return out, err
	}
	evict := func(c candidate) error {
		err := sqlitex.Execute(conn, "DELETE FROM artifacts WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{c.id},
		})
		if err != nil {
			return schema.NewError(schema.ErrStorageIO, "evicting %s: %v", c.id, err)
		}
		hash, err := ParseHash(c.hash)
		if err == nil {
			if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("blob removal failed", "artifact_id", c.id, "error", err)
			}
		}
		stats.Evicted++
		stats.BytesFreed += c.storedSize
		return nil
	}

	const unreferenced = `
		SELECT a.id, a.content_hash, a.stored_size FROM artifacts a
		LEFT JOIN job_refs r ON r.artifact_id = a.id
		WHERE r.artifact_id IS NULL`

	if policy.MaxAge > 0 {
		cutoff := s.clock.Now().Add(-policy.MaxAge).UnixNano()
		aged, err := collect(unreferenced+" AND a.created_at < ?", []any{cutoff})
		if err != nil {
			return stats, schema.NewError(schema.ErrStorageIO, "retention age scan: %v", err)
		}
		for _, c := range aged {
			if err := evict(c); err != nil {
				return stats, err
			}
		}
	}

	if policy.MaxTotalBytes > 0 {
		var total int64
		err := sqlitex.Execute(conn, "SELECT COALESCE(SUM(stored_size), 0) FROM artifacts", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnInt64(0)
				return nil
			},
		})
		if err != nil {
			return stats, schema.NewError(schema.ErrStorageIO, "retention size scan: %v", err)
		}
		if total > policy.MaxTotalBytes {
			oldest, err := collect(unreferenced+" ORDER BY a.created_at ASC", nil)
			if err != nil {
				return stats, schema.NewError(schema.ErrStorageIO, "retention size scan: %v", err)
			}
			for _, c := range oldest {
				if total <= policy.MaxTotalBytes {
					break
				}
				if err := evict(c); err != nil {
					return stats, err
				}
				total -= c.storedSize
			}
		}
	}

	if stats.Evicted > 0 {
		s.logger.Info("retention sweep",
			"evicted", stats.Evicted,
			"bytes_freed", stats.BytesFreed,
		)
	}
	return stats, nil
}

// blobPath shards blobs by the first two hex characters so no single
// directory grows unbounded.
func (s *Store) blobPath(hash Hash) string {
	hexHash := FormatHash(hash)
	return filepath.Join(s.blobDir, hexHash[:2], hexHash)
}

// writeBlob writes temp-then-rename within the shard directory so a
// blob is either fully present at its final path or absent.
func (s *Store) writeBlob(hash Hash, compressed []byte) error {
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	shard := filepath.Dir(path)
	if err := os.MkdirAll(shard, 0o700); err != nil {
		return schema.NewError(schema.ErrStorageIO, "creating shard directory: %v", err)
	}
	temp, err := os.CreateTemp(shard, ".put-*")
	if err != nil {
		return schema.NewError(schema.ErrStorageIO, "creating temp blob: %v", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(compressed); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return schema.NewError(schema.ErrStorageIO, "writing blob: %v", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return schema.NewError(schema.ErrStorageIO, "syncing blob: %v", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return schema.NewError(schema.ErrStorageIO, "closing blob: %v", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return schema.NewError(schema.ErrStorageIO, "publishing blob: %v", err)
	}
	return nil
}
