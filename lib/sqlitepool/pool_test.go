// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/aether-foundation/aether/lib/sqlitepool"
)

func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  4,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, nil)

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	var journalMode string
	err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			journalMode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestOnConnectInstallsSchema(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS entries (
				id INTEGER PRIMARY KEY,
				text TEXT NOT NULL
			);
		`, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	err = sqlitex.Execute(conn, "INSERT INTO entries (text) VALUES (?)", &sqlitex.ExecOptions{
		Args: []any{"hello"},
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}
}

func TestConcurrentReads(t *testing.T) {
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS numbers (value INTEGER NOT NULL);
		`, nil)
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take for setup: %v", err)
	}
	err = sqlitex.ExecuteScript(conn, `
		INSERT INTO numbers (value) VALUES (1), (2), (3), (4), (5);
	`, nil)
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	pool.Put(conn)

	const goroutineCount = 8
	var waitGroup sync.WaitGroup
	errs := make(chan error, goroutineCount)
	for range goroutineCount {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			conn, err := pool.Take(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer pool.Put(conn)
			var sum int64
			err = sqlitex.Execute(conn, "SELECT value FROM numbers", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					sum += stmt.ColumnInt64(0)
					return nil
				},
			})
			if err != nil {
				errs <- err
				return
			}
			if sum != 15 {
				errs <- fmt.Errorf("sum = %d, want 15", sum)
			}
		}()
	}
	waitGroup.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsCancelledContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}

	pool.Put(conn)
}
