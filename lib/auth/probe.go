// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"

	"github.com/railclerk/railclerk/lib/session"
	"github.com/railclerk/railclerk/lib/transport"
)

const (
	pathInitMy12306 = "/otn/index/initMy12306"
	pathCheckUser   = "/otn/login/checkUser"
)

// keyArtifacts are the names whose presence, together with a page
// that did not bounce to login, marks a live session.
var keyArtifacts = []string{"JSESSIONID", "tk", "uKey", "_passport_session"}

// Probe reports whether the service honours the client's session. The
// navigation probe runs first; the API probe is consulted when it
// says no or fails. An error is returned only when both probes fail.
func (e *Engine) Probe(ctx context.Context) (bool, error) {
	ok, navigationErr := e.ProbeNavigation(ctx)
	if ok {
		return true, nil
	}
	ok, apiErr := e.ProbeAPI(ctx)
	if ok {
		return true, nil
	}
	if navigationErr != nil && apiErr != nil {
		return false, apiErr
	}
	return false, nil
}

// ProbeNavigation loads a page that requires a session without
// following redirects. A bounce towards login means logged out; a
// 2xx page counts only when key artifacts are present.
func (e *Engine) ProbeNavigation(ctx context.Context) (bool, error) {
	response, err := e.client.Do(ctx, transport.Request{Path: pathInitMy12306, NoRedirect: true})
	if err != nil {
		return false, err
	}
	if response.Redirected() {
		location := response.Location()
		e.logger.Debug("navigation probe redirected", "location", location, "to_login", transport.IsLoginPath(location))
		return false, nil
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return false, transport.TransportError(response.Endpoint, response.StatusCode, nil)
	}
	if !strings.Contains(response.URL.Path, "initMy12306") {
		return false, nil
	}
	return HasKeyArtifact(e.client.Export()), nil
}

// HasKeyArtifact reports whether set carries one of the artifacts a
// live session is identified by.
func HasKeyArtifact(set *session.ArtifactSet) bool {
	for _, name := range keyArtifacts {
		if value, ok := set.Get(name); ok && value != "" {
			return true
		}
	}
	return false
}

type checkUserData struct {
	Flag       bool   `json:"flag"`
	LoginCheck string `json:"loginCheck"`
}

// ProbeAPI asks the login-check endpoint. Either of its two success
// signals is accepted: data.flag, or status with data.loginCheck "Y".
func (e *Engine) ProbeAPI(ctx context.Context) (bool, error) {
	response, err := e.client.Get(ctx, pathCheckUser, nil, pathInitMy12306)
	if err != nil {
		return false, err
	}
	var envelope transport.Envelope
	if err := transport.DecodeJSON(response, &envelope); err != nil {
		return false, err
	}
	var data checkUserData
	if err := envelope.DecodeData(&data); err != nil {
		return false, transport.ProtocolViolation(pathCheckUser, "decoding data: %v", err)
	}
	return data.Flag || (envelope.Status && data.LoginCheck == "Y"), nil
}
