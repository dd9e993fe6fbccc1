// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const testSchema = `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL);`

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := Open(context.Background(), Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Schema: testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func countRows(t *testing.T, pool *Pool) int {
	t.Helper()
	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Put(conn)
	count := 0
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM kv", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return count
}

func TestImmediateCommits(t *testing.T) {
	pool := openTestPool(t)
	err := pool.Immediate(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO kv (key, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"tk", "value"},
		})
	})
	if err != nil {
		t.Fatalf("Immediate: %v", err)
	}
	if got := countRows(t, pool); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}

func TestImmediateRollsBackOnError(t *testing.T) {
	pool := openTestPool(t)
	sentinel := errors.New("abort")
	err := pool.Immediate(context.Background(), func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO kv (key, value) VALUES ('a', 'b')", nil); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Immediate error = %v, want sentinel", err)
	}
	if got := countRows(t, pool); got != 0 {
		t.Errorf("rows = %d after rollback, want 0", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("Open without a path succeeded")
	}
}
