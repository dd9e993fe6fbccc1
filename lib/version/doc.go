// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what railclerk binary is running.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X. When they are absent, as in "go install" builds and
// tests, the VCS stamps Go records in the binary are used instead.
package version
