// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger records booking attempts in SQLite and guards the
// commit step: a repeat-submission token can be claimed for commit at
// most once, across processes sharing the database.
//
// Tokens are stored as BLAKE3 hashes. Confirmation pages are kept
// lz4-compressed for post-mortem inspection.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/railclerk/railclerk/lib/sqlitepool"
)

// ErrAlreadyCommitted is returned by ClaimCommit for a token that was
// claimed before.
var ErrAlreadyCommitted = errors.New("ledger: commit already claimed for this token")

// ErrUnknownAttempt is returned for an attempt id the ledger never saw.
var ErrUnknownAttempt = errors.New("ledger: unknown attempt")

// Schema creates the ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id           TEXT PRIMARY KEY,
	started_at   INTEGER NOT NULL,
	finished_at  INTEGER,
	train        TEXT NOT NULL,
	seat_class   TEXT NOT NULL,
	traveler     TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL DEFAULT 'running',
	order_id     TEXT NOT NULL DEFAULT '',
	code         TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	confirm_page BLOB
);
CREATE TABLE IF NOT EXISTS commits (
	token_hash TEXT PRIMARY KEY,
	attempt_id TEXT NOT NULL,
	claimed_at INTEGER NOT NULL
);
`

// Attempt is one row of the ledger.
type Attempt struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	Train     string
	SeatClass string
	Traveler  string

	// Stage is the last pipeline stage attempted.
	Stage string

	// Outcome is "running", "committed", "failed", or "unknown".
	Outcome string
	OrderID string
	Code    string
	Message string
}

// Result is what Finish records.
type Result struct {
	Stage   string
	Outcome string
	OrderID string
	Code    string
	Message string
}

// Ledger is safe for concurrent use.
type Ledger struct {
	pool   *sqlitepool.Pool
	now    func() time.Time
	logger *slog.Logger
}

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{Path: path, Schema: Schema, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return &Ledger{pool: pool, now: time.Now, logger: logger}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.pool.Close() }

// Begin records a new attempt and returns its id.
func (l *Ledger) Begin(ctx context.Context, attempt Attempt) (string, error) {
	id := uuid.NewString()
	started := attempt.Started
	if started.IsZero() {
		started = l.now()
	}
	err := l.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO attempts (id, started_at, train, seat_class, traveler) VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{id, started.UnixMilli(), attempt.Train, attempt.SeatClass, attempt.Traveler}})
	})
	if err != nil {
		return "", fmt.Errorf("recording attempt: %w", err)
	}
	l.logger.Debug("attempt recorded", "attempt", id, "train", attempt.Train)
	return id, nil
}

// SaveConfirmPage stores the order-confirmation page for an attempt.
func (l *Ledger) SaveConfirmPage(ctx context.Context, id string, page []byte) error {
	var compressed bytes.Buffer
	writer := lz4.NewWriter(&compressed)
	if _, err := writer.Write(page); err != nil {
		return fmt.Errorf("compressing confirm page: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("compressing confirm page: %w", err)
	}
	return l.update(ctx, id, `UPDATE attempts SET confirm_page = ? WHERE id = ?`, compressed.Bytes(), id)
}

// ConfirmPage returns the stored confirmation page, or nil.
func (l *Ledger) ConfirmPage(ctx context.Context, id string) ([]byte, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var blob []byte
	found := false
	err = sqlitex.Execute(conn, `SELECT confirm_page FROM attempts WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			if stmt.ColumnType(0) == sqlite.TypeNull {
				return nil
			}
			blob = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, blob)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading confirm page: %w", err)
	}
	if !found {
		return nil, ErrUnknownAttempt
	}
	if blob == nil {
		return nil, nil
	}
	page, err := io.ReadAll(lz4.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return nil, fmt.Errorf("decompressing confirm page: %w", err)
	}
	return page, nil
}

// RecordStage notes the stage an attempt has reached.
func (l *Ledger) RecordStage(ctx context.Context, id, stage string) error {
	return l.update(ctx, id, `UPDATE attempts SET stage = ? WHERE id = ?`, stage, id)
}

// Finish records the attempt's terminal result.
func (l *Ledger) Finish(ctx context.Context, id string, result Result) error {
	return l.update(ctx, id, `
		UPDATE attempts SET finished_at = ?, stage = ?, outcome = ?, order_id = ?, code = ?, message = ?
		WHERE id = ?`,
		l.now().UnixMilli(), result.Stage, result.Outcome, result.OrderID, result.Code, result.Message, id)
}

func (l *Ledger) update(ctx context.Context, id, query string, args ...any) error {
	return l.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w %s", ErrUnknownAttempt, id)
		}
		return nil
	})
}

// HashToken returns the hex BLAKE3 digest under which a token is
// stored.
func HashToken(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ClaimCommit reserves token for one commit by attempt id. It fails
// with ErrAlreadyCommitted when the token was claimed before, by this
// or any other process.
func (l *Ledger) ClaimCommit(ctx context.Context, id, token string) error {
	hash := HashToken(token)
	return l.pool.Immediate(ctx, func(conn *sqlite.Conn) error {
		claimed := false
		err := sqlitex.Execute(conn, `SELECT 1 FROM commits WHERE token_hash = ?`, &sqlitex.ExecOptions{
			Args:       []any{hash},
			ResultFunc: func(*sqlite.Stmt) error { claimed = true; return nil },
		})
		if err != nil {
			return err
		}
		if claimed {
			return ErrAlreadyCommitted
		}
		return sqlitex.Execute(conn, `INSERT INTO commits (token_hash, attempt_id, claimed_at) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{hash, id, l.now().UnixMilli()}})
	})
}

// Recent returns up to limit attempts, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var attempts []Attempt
	err = sqlitex.Execute(conn, `
		SELECT id, started_at, finished_at, train, seat_class, traveler, stage, outcome, order_id, code, message
		FROM attempts ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				attempt := Attempt{
					ID:        stmt.ColumnText(0),
					Started:   time.UnixMilli(stmt.ColumnInt64(1)),
					Train:     stmt.ColumnText(3),
					SeatClass: stmt.ColumnText(4),
					Traveler:  stmt.ColumnText(5),
					Stage:     stmt.ColumnText(6),
					Outcome:   stmt.ColumnText(7),
					OrderID:   stmt.ColumnText(8),
					Code:      stmt.ColumnText(9),
					Message:   stmt.ColumnText(10),
				}
				if stmt.ColumnType(2) != sqlite.TypeNull {
					attempt.Finished = time.UnixMilli(stmt.ColumnInt64(2))
				}
				attempts = append(attempts, attempt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return attempts, nil
}
