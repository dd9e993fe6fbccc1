// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/railclerk/railclerk/lib/session"
)

// exportPaths are the path prefixes the service scopes artifacts to.
// cookiejar only answers per URL, so export probes each of them.
var exportPaths = []string{"/", "/otn/", "/passport/"}

// artifactJar is an http.CookieJar whose contents can be exported
// with their domain scope and replaced wholesale. cookiejar.Jar does
// not expose scopes, so they are tracked alongside it.
type artifactJar struct {
	base *url.URL

	mu     sync.Mutex
	inner  *cookiejar.Jar
	scopes map[string]session.Artifact
}

func newArtifactJar(base *url.URL) (*artifactJar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("transport: creating cookie jar: %w", err)
	}
	return &artifactJar{base: base, inner: inner, scopes: make(map[string]session.Artifact)}, nil
}

func scopeKey(name, path string) string { return name + "\x00" + path }

// SetCookies records the scope of every cookie the service sets.
func (j *artifactJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	for _, cookie := range cookies {
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		key := scopeKey(cookie.Name, path)
		if cookie.MaxAge < 0 {
			delete(j.scopes, key)
			continue
		}
		domain := u.Hostname()
		if cookie.Domain != "" {
			domain = "." + strings.TrimPrefix(cookie.Domain, ".")
		}
		j.scopes[key] = session.Artifact{Name: cookie.Name, Value: cookie.Value, Domain: domain, Path: path}
	}
}

// Cookies returns the cookies to send to u.
func (j *artifactJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Import loads set into the jar. Artifacts scoped to a domain the
// service origin does not belong to become host-only cookies on the
// origin, which keeps a saved session usable against a mirror.
func (j *artifactJar) Import(set *session.ArtifactSet) {
	j.mu.Lock()
	defer j.mu.Unlock()
	host := j.base.Hostname()
	for _, artifact := range set.Artifacts() {
		cookie := &http.Cookie{Name: artifact.Name, Value: artifact.Value, Path: artifact.Path}
		domain := strings.TrimPrefix(artifact.Domain, ".")
		if domain != host && strings.HasSuffix(host, "."+domain) {
			cookie.Domain = domain
		}
		origin := &url.URL{Scheme: j.base.Scheme, Host: j.base.Host, Path: "/"}
		j.inner.SetCookies(origin, []*http.Cookie{cookie})
		j.scopes[scopeKey(artifact.Name, artifact.Path)] = artifact
	}
}

// Export returns every live artifact with its recorded scope, or the
// inferred scope for artifacts whose origin is unknown.
func (j *artifactJar) Export() *session.ArtifactSet {
	j.mu.Lock()
	defer j.mu.Unlock()

	set := &session.ArtifactSet{}
	seen := make(map[string]bool)
	for _, path := range exportPaths {
		probe := &url.URL{Scheme: j.base.Scheme, Host: j.base.Host, Path: path}
		for _, cookie := range j.inner.Cookies(probe) {
			artifact, ok := j.lookupLocked(cookie.Name, cookie.Value)
			if !ok {
				artifact = session.Artifact{
					Name:   cookie.Name,
					Value:  cookie.Value,
					Domain: session.InferDomain(cookie.Name),
					Path:   "/",
				}
			}
			key := artifact.Name + "\x00" + artifact.Domain + "\x00" + artifact.Path
			if seen[key] {
				continue
			}
			seen[key] = true
			set.Put(artifact)
		}
	}
	return set
}

func (j *artifactJar) lookupLocked(name, value string) (session.Artifact, bool) {
	for _, artifact := range j.scopes {
		if artifact.Name == name && artifact.Value == value {
			return artifact, true
		}
	}
	return session.Artifact{}, false
}

// Reset drops every artifact.
func (j *artifactJar) Reset() error {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("transport: creating cookie jar: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = inner
	j.scopes = make(map[string]session.Artifact)
	return nil
}

// Import adds set's artifacts to the client, replacing same-scoped ones.
func (c *Client) Import(set *session.ArtifactSet) {
	c.jar.Import(set)
}

// Export snapshots the client's artifacts.
func (c *Client) Export() *session.ArtifactSet {
	return c.jar.Export()
}

// Artifact returns the live value of the named artifact.
func (c *Client) Artifact(name string) (string, bool) {
	return c.jar.Export().Get(name)
}

// ClearArtifacts empties the jar so a login never mixes stale and
// fresh artifacts.
func (c *Client) ClearArtifacts() error {
	return c.jar.Reset()
}
