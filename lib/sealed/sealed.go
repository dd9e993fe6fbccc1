// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts persisted session artifacts with age. Output
// is ASCII-armored so a sealed session file stays diffable and safe to
// paste. Identities are kept in [secret.Buffer] values.
package sealed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/railclerk/railclerk/lib/secret"
)

// Identity is an age X25519 identity held in locked memory together
// with its public recipient string.
type Identity struct {
	Private   *secret.Buffer
	Recipient string
}

// Close releases the private key.
func (i *Identity) Close() error {
	if i.Private == nil {
		return nil
	}
	return i.Private.Close()
}

// GenerateIdentity creates a fresh X25519 identity.
func GenerateIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	private, err := secret.FromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting age identity: %w", err)
	}
	return &Identity{Private: private, Recipient: identity.Recipient().String()}, nil
}

// ReadIdentity parses an identity in age-keygen file format (comment
// lines allowed) from a locked buffer. The buffer is borrowed.
func ReadIdentity(private *secret.Buffer) (*Identity, error) {
	identities, err := age.ParseIdentities(bytes.NewReader(private.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	for _, candidate := range identities {
		x25519, ok := candidate.(*age.X25519Identity)
		if !ok {
			continue
		}
		copied, err := secret.FromBytes([]byte(x25519.String()))
		if err != nil {
			return nil, err
		}
		return &Identity{Private: copied, Recipient: x25519.Recipient().String()}, nil
	}
	return nil, errors.New("no X25519 identity found")
}

// Seal encrypts plaintext to the given recipients and returns armored
// ciphertext.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, errors.New("sealed: at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("starting age encryption: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finishing armor: %w", err)
	}
	return output.Bytes(), nil
}

// Open decrypts armored ciphertext with identity.
func Open(ciphertext []byte, identity *Identity) ([]byte, error) {
	parsed, err := age.ParseX25519Identity(identity.Private.String())
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	reader, err := age.Decrypt(armor.NewReader(bytes.NewReader(ciphertext)), parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	return plaintext, nil
}
