// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ErrorCategory says what the operator can do about an error.
type ErrorCategory string

const (
	// CategoryValidation: bad flags, config or arguments. Fix the
	// input and run again.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: no offer in the window, an unbound traveler,
	// a missing session or file.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden: the service refused the login.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict: the action conflicts with recorded state,
	// such as a token that was already committed.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient: network trouble or throttling. Retrying
	// later may help.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: anything else.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is an error with a category. It wraps the underlying
// error so errors.Is and errors.As see through it.
type ToolError struct {
	Category ErrorCategory
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// ExitCode maps the category to the process exit code.
func (e *ToolError) ExitCode() int {
	if e.Category == CategoryNotFound {
		return ExitNoOffer
	}
	return ExitGeneral
}

// Validation reports bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Forbidden reports a refusal by the service.
func Forbidden(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryForbidden, Err: fmt.Errorf(format, args...)}
}

// Conflict reports a clash with recorded state.
func Conflict(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryConflict, Err: fmt.Errorf(format, args...)}
}

// Transient reports a failure that may pass.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal reports an unexpected failure.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns err's category, or CategoryInternal when err
// carries none.
func CategoryOf(err error) ErrorCategory {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Category
	}
	return CategoryInternal
}
