// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package interactive defines the boundary a browser-driven transport
// must satisfy to stand in for the HTTP client during login and
// session checks. Browser adapters live outside this module; Direct
// satisfies the same contract with the plain HTTP engine so callers
// can be written once against Transport.
package interactive

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/railclerk/railclerk/lib/auth"
	"github.com/railclerk/railclerk/lib/session"
	"github.com/railclerk/railclerk/lib/transport"
)

// Navigation is where a page load ended up.
type Navigation struct {
	// URL is the page that answered.
	URL string

	// Redirected is set when the service answered with a redirect;
	// Location is its target.
	Redirected bool
	Location   string

	StatusCode int
}

// LandedOn reports whether the navigation ended, with a 2xx status
// and no redirect, on a page whose path contains fragment.
func (n Navigation) LandedOn(fragment string) bool {
	if n.Redirected || n.StatusCode < 200 || n.StatusCode >= 300 {
		return false
	}
	parsed, err := url.Parse(n.URL)
	if err != nil {
		return false
	}
	return strings.Contains(parsed.Path, fragment)
}

// Transport is the set of capabilities the login and session layers
// consume from an interactive session.
type Transport interface {
	// ImportArtifacts loads set into the live session.
	ImportArtifacts(ctx context.Context, set *session.ArtifactSet) error

	// ExportArtifacts snapshots the live session.
	ExportArtifacts(ctx context.Context) (*session.ArtifactSet, error)

	// Navigate loads path and reports where it ended without
	// following a redirect.
	Navigate(ctx context.Context, path string) (Navigation, error)

	// QRLogin runs the scan-to-confirm login and returns nil only on
	// a confirmed login.
	QRLogin(ctx context.Context) error

	// CaptchaRound presents one captcha challenge and returns the
	// answer the service accepted.
	CaptchaRound(ctx context.Context) (string, error)
}

// Direct implements Transport over an auth engine and its client.
type Direct struct {
	Engine *auth.Engine
}

var _ Transport = Direct{}

// ImportArtifacts loads set into the engine's client jar.
func (d Direct) ImportArtifacts(ctx context.Context, set *session.ArtifactSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Engine.Client().Import(set)
	return nil
}

// ExportArtifacts snapshots the client jar.
func (d Direct) ExportArtifacts(ctx context.Context) (*session.ArtifactSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Engine.Client().Export(), nil
}

// Navigate issues a GET for path with redirects left unfollowed.
func (d Direct) Navigate(ctx context.Context, path string) (Navigation, error) {
	response, err := d.Engine.Client().Do(ctx, transport.Request{Path: path, NoRedirect: true})
	if err != nil {
		return Navigation{}, err
	}
	return Navigation{
		URL:        response.URL.String(),
		Redirected: response.Redirected(),
		Location:   response.Location(),
		StatusCode: response.StatusCode,
	}, nil
}

// QRLogin runs a QR login on the engine.
func (d Direct) QRLogin(ctx context.Context) error {
	return d.Engine.LoginWith(ctx, auth.MethodQR)
}

// CaptchaRound fetches, solves and verifies one captcha.
func (d Direct) CaptchaRound(ctx context.Context) (string, error) {
	return d.Engine.CaptchaRound(ctx)
}

// ErrNoSession is returned by Resume when nothing was persisted.
var ErrNoSession = errors.New("no persisted session")

// Resume imports the persisted session into t and checks that the
// account page loads without a redirect. The navigation is returned
// so callers can show where a stale session was sent.
func Resume(ctx context.Context, t Transport, persister *session.Persister) (Navigation, bool, error) {
	set, err := persister.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return Navigation{}, false, ErrNoSession
	}
	if err != nil {
		return Navigation{}, false, err
	}
	if set.Len() == 0 {
		return Navigation{}, false, ErrNoSession
	}
	if err := t.ImportArtifacts(ctx, set); err != nil {
		return Navigation{}, false, err
	}
	return Check(ctx, t)
}

// Check probes the account page. The session is live when the page
// loads with a 2xx status and the session carries a key artifact. A
// status that is neither 2xx nor a redirect is a KindTransport error.
func Check(ctx context.Context, t Transport) (Navigation, bool, error) {
	navigation, err := t.Navigate(ctx, AccountPage)
	if err != nil {
		return Navigation{}, false, err
	}
	if navigation.Redirected {
		return navigation, false, nil
	}
	if navigation.StatusCode < 200 || navigation.StatusCode >= 300 {
		return navigation, false, transport.TransportError(AccountPage, navigation.StatusCode, errors.New("unexpected status"))
	}
	if !navigation.LandedOn("initMy12306") {
		return navigation, false, nil
	}
	artifacts, err := t.ExportArtifacts(ctx)
	if err != nil {
		return navigation, false, err
	}
	return navigation, auth.HasKeyArtifact(artifacts), nil
}

// AccountPage requires a session; the service redirects away from it
// when logged out.
const AccountPage = "/otn/index/initMy12306"
