// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"strings"
	"testing"

	"github.com/railclerk/railclerk/lib/secret"
)

func TestSealOpenRoundTrip(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer identity.Close()

	plaintext := []byte(`{"simple":{"JSESSIONID":"abc","tk":"def"}}`)
	ciphertext, err := Seal(plaintext, []string{identity.Recipient})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(string(ciphertext), "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Errorf("ciphertext is not armored: %q", ciphertext[:40])
	}
	if bytes.Contains(ciphertext, []byte("JSESSIONID")) {
		t.Error("ciphertext leaks plaintext")
	}

	opened, err := Open(ciphertext, identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open = %q, want %q", opened, plaintext)
	}
}

func TestOpenWithWrongIdentity(t *testing.T) {
	owner, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer owner.Close()
	stranger, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer stranger.Close()

	ciphertext, err := Seal([]byte("x"), []string{owner.Recipient})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(ciphertext, stranger); err == nil {
		t.Fatal("Open with the wrong identity succeeded")
	}
}

func TestReadIdentityAcceptsKeygenFormat(t *testing.T) {
	generated, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer generated.Close()

	file := "# created: 2026-02-01T07:00:00Z\n# public key: " + generated.Recipient + "\n" + generated.Private.String() + "\n"
	buffer, err := secret.FromBytes([]byte(file))
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()

	parsed, err := ReadIdentity(buffer)
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}
	defer parsed.Close()
	if parsed.Recipient != generated.Recipient {
		t.Errorf("Recipient = %q, want %q", parsed.Recipient, generated.Recipient)
	}
}

func TestSealRequiresRecipient(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); err == nil {
		t.Fatal("Seal without recipients succeeded")
	}
	if _, err := Seal([]byte("x"), []string{"not-a-key"}); err == nil {
		t.Fatal("Seal with a malformed recipient succeeded")
	}
}
