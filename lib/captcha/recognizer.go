// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/railclerk/railclerk/lib/netutil"
)

// Recognizer is the automatic solver. It posts the raw image to an
// HTTP recognition service and expects {"answer": "..."} back. An
// empty answer means the service could not classify the image.
type Recognizer struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

type recognizerReply struct {
	Answer string `json:"answer"`
	Result string `json:"result"`
}

// Solve implements Solver.
func (r *Recognizer) Solve(ctx context.Context, image []byte) (string, bool, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(image))
	if err != nil {
		return "", false, fmt.Errorf("captcha: building recognizer request: %w", err)
	}
	request.Header.Set("Content-Type", http.DetectContentType(image))
	request.Header.Set("Accept", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return "", false, fmt.Errorf("captcha: recognizer: %w", err)
	}
	defer response.Body.Close()
	body, err := netutil.ReadResponse(response)
	if err != nil {
		return "", false, fmt.Errorf("captcha: reading recognizer reply: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("captcha: recognizer returned %s: %s", response.Status, netutil.Snippet(body, 200))
	}

	var reply recognizerReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", false, fmt.Errorf("captcha: decoding recognizer reply: %w", err)
	}
	answer := strings.TrimSpace(reply.Answer)
	if answer == "" {
		answer = strings.TrimSpace(reply.Result)
	}
	if answer == "" {
		if r.Logger != nil {
			r.Logger.Debug("recognizer returned no answer")
		}
		return "", false, nil
	}
	return answer, true, nil
}
