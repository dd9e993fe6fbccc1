// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for railclerk: a tree of
// Commands dispatched by name, flags bound from tagged parameter
// structs, categorized errors, and the exit-code contract.
//
// A booking run ends in one of these exit codes:
//
//	0  order committed (or the command succeeded)
//	1  unexpected error
//	2  no offer in the window, or the traveler is not bound
//	3  the attempt failed and no order was created
//	4  order state unknown; check the account before retrying
package cli
