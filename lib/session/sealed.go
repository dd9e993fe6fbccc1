// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/railclerk/railclerk/lib/sealed"
)

// SealedFileStore keeps the Record age-encrypted. Recipients receive
// the ciphertext; Identity decrypts it on Load.
type SealedFileStore struct {
	Path       string
	Recipients []string
	Identity   *sealed.Identity
}

// Load decrypts and decodes the file.
func (s *SealedFileStore) Load(ctx context.Context) (*ArtifactSet, error) {
	ciphertext, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading sealed session file: %w", err)
	}
	if s.Identity == nil {
		return nil, errors.New("sealed session store has no identity")
	}
	plaintext, err := sealed.Open(ciphertext, s.Identity)
	if err != nil {
		return nil, fmt.Errorf("opening sealed session file: %w", err)
	}
	return Decode(plaintext)
}

// Save encrypts the Record to every recipient and writes it
// atomically.
func (s *SealedFileStore) Save(ctx context.Context, set *ArtifactSet) error {
	plaintext, err := Encode(set)
	if err != nil {
		return err
	}
	ciphertext, err := sealed.Seal(plaintext, s.Recipients)
	if err != nil {
		return fmt.Errorf("sealing session record: %w", err)
	}
	return writeAtomic(s.Path, ciphertext)
}

// Clear removes the file.
func (s *SealedFileStore) Clear(ctx context.Context) error {
	return (&FileStore{Path: s.Path}).Clear(ctx)
}
