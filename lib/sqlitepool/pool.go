// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite databases that back the session
// store and the booking ledger. Every connection gets WAL journaling
// and a busy timeout so a keepalive process and a booking run can share
// one file.
package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config describes a pool. Path is required.
type Config struct {
	// Path is the database file, created if missing. ":memory:" only
	// makes sense with PoolSize 1.
	Path string

	// PoolSize defaults to 2: one connection for the booking flow and
	// one for the keepalive.
	PoolSize int

	// Schema is executed once when the pool opens. Statements must be
	// idempotent (CREATE TABLE IF NOT EXISTS ...).
	Schema string

	Logger *slog.Logger
}

// Pool wraps sqlitex.Pool.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool and applies Schema.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 2
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	pool := &Pool{inner: inner, logger: logger, path: cfg.Path}

	if cfg.Schema != "" {
		conn, err := pool.Take(ctx)
		if err != nil {
			inner.Close()
			return nil, err
		}
		err = sqlitex.ExecuteScript(conn, cfg.Schema, nil)
		pool.Put(conn)
		if err != nil {
			inner.Close()
			return nil, fmt.Errorf("sqlitepool: applying schema to %s: %w", cfg.Path, err)
		}
	}

	logger.Debug("sqlite pool opened", "path", cfg.Path, "pool_size", size)
	return pool, nil
}

// Take borrows a connection; pair with Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a borrowed connection.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Immediate runs fn inside a BEGIN IMMEDIATE transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (p *Pool) Immediate(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin: %w", err)
	}
	defer endTransaction(&err)
	return fn(conn)
}

// Close closes every connection.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Debug("sqlite pool closed", "path", p.path)
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}
