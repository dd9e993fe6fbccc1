// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// Exit codes. See the package documentation.
const (
	ExitOK      = 0
	ExitGeneral = 1
	ExitNoOffer = 2
	ExitFailed  = 3
	ExitUnknown = 4
)

// ExitError ends the program with Code after the command has already
// written its own output, so main prints nothing more.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}
