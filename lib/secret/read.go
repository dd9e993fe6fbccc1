// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

// ReadFile reads a secret from path, or the first line of stdin when
// path is "-". Surrounding whitespace, including the trailing newline
// editors add, is trimmed.
func ReadFile(path string) (*Buffer, error) {
	if path == "-" {
		return ReadLine(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	return fromTrimmed(data)
}

// ReadLine reads a single line from reader into a Buffer.
func ReadLine(reader io.Reader) (*Buffer, error) {
	scanner := bufio.NewScanner(reader)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return nil, ErrEmpty
	}
	return fromTrimmed(scanner.Bytes())
}

func fromTrimmed(data []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, ErrEmpty
	}
	buffer, err := FromBytes(trimmed)
	Zero(data)
	return buffer, err
}
