// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerFormats(t *testing.T) {
	var buffer bytes.Buffer
	NewLogger(&buffer, false, false).Info("auth state", "from", "probing", "to", "authenticated")
	var entry map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &entry); err != nil {
		t.Fatalf("piped output is not JSON: %v\n%s", err, buffer.String())
	}
	if entry["to"] != "authenticated" {
		t.Errorf("entry = %v", entry)
	}

	buffer.Reset()
	logger := NewLogger(&buffer, true, false)
	logger.Debug("hidden")
	logger.Info("shown", "stage", "submitted")
	if strings.Contains(buffer.String(), "hidden") || !strings.Contains(buffer.String(), "stage=submitted") {
		t.Errorf("text output:\n%s", buffer.String())
	}

	buffer.Reset()
	NewLogger(&buffer, true, true).Debug("detail")
	if !strings.Contains(buffer.String(), "detail") {
		t.Error("verbose logger dropped debug")
	}
}
