// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package session models the booking service's session artifacts
// (cookies) and persists them between runs.
//
// An [ArtifactSet] keeps each artifact's domain scope so it can be
// replayed into the HTTP cookie jar or into a browser context. Its
// simple projection (name to value) is what lighter consumers read,
// and [FromSimple] rebuilds scopes from a projection using the fixed
// list of artifacts the service sets on the parent domain.
package session

import (
	"slices"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/railclerk/railclerk/lib/codec"
)

// Domains the service scopes artifacts to.
const (
	HostDomain   = "kyfw.12306.cn"
	ParentDomain = ".12306.cn"
)

// Names of the artifacts that make a session usable.
const (
	SessionID       = "JSESSIONID"
	TransactionTK   = "tk"
	PassportSession = "_passport_session"
)

// parentScoped lists artifacts the service sets on ParentDomain. Any
// other name is assumed to belong to HostDomain.
var parentScoped = map[string]bool{
	"cursorStatus":     true,
	"guidesStatus":     true,
	"highContrastMode": true,
	"_uab_collina":     true,
}

// Artifact is one named session credential fragment.
type Artifact struct {
	Name   string `json:"name" cbor:"name"`
	Value  string `json:"value" cbor:"value"`
	Domain string `json:"domain" cbor:"domain"`
	Path   string `json:"path" cbor:"path"`
}

// ArtifactSet is an ordered collection of artifacts keyed by name,
// domain, and path. The zero value is empty and ready to use.
type ArtifactSet struct {
	artifacts []Artifact
}

// NewArtifactSet builds a set from artifacts. Later duplicates
// replace earlier ones.
func NewArtifactSet(artifacts ...Artifact) *ArtifactSet {
	set := &ArtifactSet{}
	for _, artifact := range artifacts {
		set.Put(artifact)
	}
	return set
}

// FromSimple rebuilds a scoped set from a name-to-value projection.
func FromSimple(simple map[string]string) *ArtifactSet {
	names := make([]string, 0, len(simple))
	for name := range simple {
		names = append(names, name)
	}
	sort.Strings(names)

	set := &ArtifactSet{}
	for _, name := range names {
		set.Put(Artifact{Name: name, Value: simple[name], Domain: InferDomain(name), Path: "/"})
	}
	return set
}

// InferDomain returns the scope the service uses for an artifact name.
func InferDomain(name string) string {
	if parentScoped[name] {
		return ParentDomain
	}
	return HostDomain
}

// Put adds or replaces an artifact. Empty domain and path default to
// the inferred domain and "/".
func (s *ArtifactSet) Put(artifact Artifact) {
	if artifact.Domain == "" {
		artifact.Domain = InferDomain(artifact.Name)
	}
	if artifact.Path == "" {
		artifact.Path = "/"
	}
	for i, existing := range s.artifacts {
		if existing.Name == artifact.Name && existing.Domain == artifact.Domain && existing.Path == artifact.Path {
			s.artifacts[i] = artifact
			return
		}
	}
	s.artifacts = append(s.artifacts, artifact)
}

// Get returns the value of the first artifact named name.
func (s *ArtifactSet) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, artifact := range s.artifacts {
		if artifact.Name == name {
			return artifact.Value, true
		}
	}
	return "", false
}

// Artifacts returns a copy of the artifacts in insertion order.
func (s *ArtifactSet) Artifacts() []Artifact {
	if s == nil {
		return nil
	}
	return slices.Clone(s.artifacts)
}

// Len returns the number of artifacts.
func (s *ArtifactSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.artifacts)
}

// Simple projects the set onto name to value. When a name exists in
// several scopes the host-scoped value wins, matching what the
// service reads on booking requests.
func (s *ArtifactSet) Simple() map[string]string {
	simple := make(map[string]string, s.Len())
	if s == nil {
		return simple
	}
	for _, artifact := range s.artifacts {
		if _, seen := simple[artifact.Name]; seen && artifact.Domain != HostDomain {
			continue
		}
		simple[artifact.Name] = artifact.Value
	}
	return simple
}

// Required returns the artifact names a usable session must carry.
// Sessions obtained by QR confirmation additionally carry the
// passport-session marker.
func Required(polling bool) []string {
	if polling {
		return []string{SessionID, TransactionTK, PassportSession}
	}
	return []string{SessionID, TransactionTK}
}

// Missing lists required artifacts that are absent or empty.
func (s *ArtifactSet) Missing(polling bool) []string {
	var missing []string
	for _, name := range Required(polling) {
		if value, ok := s.Get(name); !ok || value == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Usable reports whether the set looks complete. It does not prove
// the server still honours the artifacts; that needs a probe.
func (s *ArtifactSet) Usable(polling bool) bool {
	return len(s.Missing(polling)) == 0
}

// Fingerprint is a content hash of the set, independent of insertion
// order. Persisters compare fingerprints to skip redundant writes.
func (s *ArtifactSet) Fingerprint() [32]byte {
	sorted := s.Artifacts()
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Path < b.Path
	})
	encoded, err := codec.Marshal(sorted)
	if err != nil {
		// Artifacts are plain strings; encoding cannot fail.
		panic("session: encoding artifacts: " + err.Error())
	}
	return blake3.Sum256(encoded)
}
