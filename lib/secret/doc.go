// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the account password and the session-store age
// identity in memory that is mlock'd, excluded from core dumps, and
// zeroed on Close. The backing pages come from an anonymous mmap, so
// the garbage collector never copies them.
package secret
