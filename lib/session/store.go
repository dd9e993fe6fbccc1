// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned by Store.Load when nothing is persisted.
var ErrNotFound = errors.New("session: no persisted artifacts")

// Store persists an ArtifactSet. Save replaces the stored set as a
// whole; a failed Save leaves the previous set intact.
type Store interface {
	Load(ctx context.Context) (*ArtifactSet, error)
	Save(ctx context.Context, set *ArtifactSet) error
	Clear(ctx context.Context) error
}

// Record is the on-disk JSON shape: the full scoped list plus the
// simple projection for consumers that only understand name/value.
type Record struct {
	Cookies []Artifact        `json:"cookies"`
	Simple  map[string]string `json:"simple"`
}

// Encode renders set as an indented Record.
func Encode(set *ArtifactSet) ([]byte, error) {
	record := Record{Cookies: set.Artifacts(), Simple: set.Simple()}
	if record.Cookies == nil {
		record.Cookies = []Artifact{}
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		return nil, fmt.Errorf("encoding session record: %w", err)
	}
	return buffer.Bytes(), nil
}

// Decode accepts a Record, a Record carrying only the simple
// projection, or a legacy flat {"name": "value"} object.
func Decode(data []byte) (*ArtifactSet, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	_, hasCookies := top["cookies"]
	_, hasSimple := top["simple"]
	if !hasCookies && !hasSimple {
		flat := make(map[string]string, len(top))
		for name, raw := range top {
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				return nil, fmt.Errorf("decoding legacy session value %q: %w", name, err)
			}
			flat[name] = value
		}
		return FromSimple(flat), nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding session record: %w", err)
	}
	if len(record.Cookies) == 0 {
		return FromSimple(record.Simple), nil
	}
	return NewArtifactSet(record.Cookies...), nil
}

// FileStore keeps the JSON Record in a plain file with mode 0600.
type FileStore struct {
	Path string
}

// Load reads the file.
func (f *FileStore) Load(ctx context.Context) (*ArtifactSet, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	return Decode(data)
}

// Save writes the file atomically.
func (f *FileStore) Save(ctx context.Context, set *ArtifactSet) error {
	data, err := Encode(set)
	if err != nil {
		return err
	}
	return writeAtomic(f.Path, data)
}

// Clear removes the file. A missing file is not an error.
func (f *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// writeAtomic writes data to a temporary sibling of path and renames
// it into place, so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary session file: %w", err)
	}
	name := temporary.Name()
	cleanup := func() { os.Remove(name) }

	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("setting session file mode: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		cleanup()
		return fmt.Errorf("syncing session file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing session file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// Persister saves sets to a Store, skipping writes whose content has
// not changed since the last successful save. Save failures are
// logged and swallowed: callers keep working with the in-memory set.
type Persister struct {
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	last [32]byte
	have bool
}

// NewPersister wraps store.
func NewPersister(store Store, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: store, logger: logger}
}

// Load reads the store and remembers the fingerprint of what it read.
func (p *Persister) Load(ctx context.Context) (*ArtifactSet, error) {
	set, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.last, p.have = set.Fingerprint(), true
	p.mu.Unlock()
	return set, nil
}

// Persist saves set unless it matches the last saved content. It
// reports whether a write happened.
func (p *Persister) Persist(ctx context.Context, set *ArtifactSet) bool {
	fingerprint := set.Fingerprint()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.have && p.last == fingerprint {
		return false
	}
	if err := p.store.Save(ctx, set); err != nil {
		p.logger.Warn("saving session artifacts failed; continuing with in-memory session", "error", err)
		return false
	}
	p.last, p.have = fingerprint, true
	p.logger.Debug("session artifacts saved", "artifacts", set.Len())
	return true
}

// Clear removes persisted artifacts and forgets the fingerprint.
func (p *Persister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.have = false
	return p.store.Clear(ctx)
}
