// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Envelope is the wrapper the /otn endpoints put around every JSON
// reply. Data is decoded by the caller once Status is checked.
type Envelope struct {
	Status     bool            `json:"status"`
	HTTPStatus int             `json:"httpstatus"`
	Data       json.RawMessage `json:"data"`
	Messages   []string        `json:"messages"`
}

// Message joins the service's messages for display.
func (e *Envelope) Message() string {
	return strings.Join(e.Messages, "; ")
}

// DecodeData decodes Data into v. Absent or null data leaves v alone.
func (e *Envelope) DecodeData(v any) error {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return json.Unmarshal(trimmed, v)
}

// Code is a result code the service sends sometimes as a JSON string
// and sometimes as a number, depending on the endpoint.
type Code string

// UnmarshalJSON accepts a string, a number, or null.
func (c *Code) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*c = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = Code(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return err
	}
	*c = Code(number.String())
	return nil
}
