// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/aether-foundation/aether/lib/ref"
	"github.com/aether-foundation/aether/lib/schema"
)

// indexSchema is installed on every pool connection. Timestamps are
// unix nanoseconds.
const indexSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id            TEXT PRIMARY KEY,
	content_hash  TEXT NOT NULL UNIQUE,
	size          INTEGER NOT NULL,
	stored_size   INTEGER NOT NULL,
	compression   TEXT NOT NULL,
	mime_type     TEXT NOT NULL DEFAULT '',
	producing_job TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS artifacts_created ON artifacts(created_at);

CREATE TABLE IF NOT EXISTS job_refs (
	job_id      TEXT NOT NULL,
	artifact_id TEXT NOT NULL,
	PRIMARY KEY (job_id, artifact_id)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS job_refs_artifact ON job_refs(artifact_id);
`

// indexRow is one artifacts row plus the storage details the public
// metadata omits.
type indexRow struct {
	meta        schema.ArtifactMeta
	compression CompressionTag
	storedSize  int64
}

func scanRow(stmt *sqlite.Stmt) (indexRow, error) {
	var row indexRow
	id, err := ref.ParseArtifactID(stmt.ColumnText(0))
	if err != nil {
		return row, schema.NewError(schema.ErrStorageIO, "corrupt artifact row: %v", err)
	}
	tag, err := ParseCompressionTag(stmt.ColumnText(4))
	if err != nil {
		return row, schema.NewError(schema.ErrStorageIO, "corrupt artifact row: %v", err)
	}
	row.meta = schema.ArtifactMeta{
		ID:          id,
		ContentHash: stmt.ColumnText(1),
		Size:        stmt.ColumnInt64(2),
		MIMEType:    stmt.ColumnText(5),
		CreatedAt:   time.Unix(0, stmt.ColumnInt64(7)).UTC(),
	}
	if producing := stmt.ColumnText(6); producing != "" {
		jobID, err := ref.ParseJobID(producing)
		if err != nil {
			return row, schema.NewError(schema.ErrStorageIO, "corrupt artifact row: %v", err)
		}
		row.meta.ProducingJob = jobID
	}
	row.compression = tag
	row.storedSize = stmt.ColumnInt64(3)
	return row, nil
}

func lookupMeta(conn *sqlite.Conn, id string) (indexRow, error) {
	var row indexRow
	found := false
	err := sqlitex.Execute(conn, `
		SELECT id, content_hash, size, stored_size, compression, mime_type, producing_job, created_at
		FROM artifacts WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			scanned, err := scanRow(stmt)
			if err != nil {
				return err
			}
			row = scanned
			found = true
			return nil
		},
	})
	if err != nil {
		return row, schema.NewError(schema.ErrStorageIO, "artifact lookup: %v", err)
	}
	if !found {
		return row, schema.NewError(schema.ErrNotFound, "artifact %s", id)
	}
	return row, nil
}
