// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/railclerk/railclerk/lib/codec"
	"github.com/railclerk/railclerk/lib/sqlitepool"
)

// SQLiteSchema creates the session table. A database may hold several
// named sessions (one per account).
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	name        TEXT PRIMARY KEY,
	artifacts   BLOB NOT NULL,
	fingerprint BLOB NOT NULL,
	saved_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// SQLiteStore keeps artifact sets as CBOR blobs keyed by session name.
type SQLiteStore struct {
	pool *sqlitepool.Pool
	name string
}

// NewSQLiteStore binds a store to one named row. The pool must have
// been opened with SQLiteSchema.
func NewSQLiteStore(pool *sqlitepool.Pool, name string) *SQLiteStore {
	if name == "" {
		name = "default"
	}
	return &SQLiteStore{pool: pool, name: name}
}

// Load reads the named row.
func (s *SQLiteStore) Load(ctx context.Context) (*ArtifactSet, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var blob []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT artifacts FROM sessions WHERE name = ?", &sqlitex.ExecOptions{
		Args: []any{s.name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", s.name, err)
	}
	if !found {
		return nil, ErrNotFound
	}

	var artifacts []Artifact
	if err := codec.Unmarshal(blob, &artifacts); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", s.name, err)
	}
	return NewArtifactSet(artifacts...), nil
}

// Save upserts the named row in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, set *ArtifactSet) error {
	blob, err := codec.Marshal(set.Artifacts())
	if err != nil {
		return fmt.Errorf("encoding session %q: %w", s.name, err)
	}
	fingerprint := set.Fingerprint()
	return s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO sessions (name, artifacts, fingerprint) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				artifacts = excluded.artifacts,
				fingerprint = excluded.fingerprint,
				saved_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
			&sqlitex.ExecOptions{Args: []any{s.name, blob, fingerprint[:]}})
	})
}

// Clear deletes the named row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM sessions WHERE name = ?", &sqlitex.ExecOptions{Args: []any{s.name}})
	})
}
