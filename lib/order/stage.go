// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"errors"
	"fmt"

	"github.com/railclerk/railclerk/lib/transport"
)

// Stage is a position in the order pipeline. Stages are strictly
// ordered; each is reached only from its predecessor.
type Stage int

const (
	Idle Stage = iota
	Submitted
	Confirming
	PassengersLoaded
	Checked
	Queued
	Committed
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitted:
		return "submitted"
	case Confirming:
		return "confirming"
	case PassengersLoaded:
		return "passengers_loaded"
	case Checked:
		return "checked"
	case Queued:
		return "queued"
	case Committed:
		return "committed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Endpoint returns the remote call that drives the pipeline into s.
func (s Stage) Endpoint() string {
	switch s {
	case Submitted:
		return pathSubmitOrder
	case Confirming:
		return pathInitDc
	case PassengersLoaded:
		return pathPassengers
	case Checked:
		return pathCheckOrder
	case Queued:
		return pathQueueCount
	case Committed:
		return pathConfirmQueue
	default:
		return ""
	}
}

// StageError attaches the stage being attempted to a failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("order %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Failure codes for failures that carry no service code.
const (
	CodeNoTravelers       = "no_travelers"
	CodeTravelerNotFound  = "traveler_not_found"
	CodeDryRun            = "dry_run"
	CodeAlreadyCommitted  = "already_committed"
	CodeLedgerUnavailable = "ledger_unavailable"
)

// ErrNoTravelers means the account has no travelers bound to it.
var ErrNoTravelers = errors.New("no travelers bound to the account")

// errDryRun stops the pipeline before the commit step.
var errDryRun = errors.New("dry run: stopped before commit")

// Outcome is the terminal result of one pipeline run: either a
// committed order or a failure at a stage.
type Outcome struct {
	Committed bool

	// OrderID may be empty on a committed outcome when the service
	// created the order without returning its id.
	OrderID string

	// Stage is the stage that was being attempted when the run ended,
	// Committed on success.
	Stage Stage

	// Code and Message are the service's rejection verbatim, or one
	// of the Code constants.
	Code    string
	Message string

	// Unknown is set when the commit call failed in transit or its
	// accepted reply could not be read: an order may or may not exist.
	Unknown bool

	AttemptID string
	Err       error
}

// NoOrder reports whether the outcome guarantees no order was created.
func (o Outcome) NoOrder() bool { return !o.Committed && !o.Unknown }

func (o Outcome) String() string {
	switch {
	case o.Committed && o.OrderID != "":
		return fmt.Sprintf("committed: order %s", o.OrderID)
	case o.Committed:
		return "committed: order created, id not returned; check your account"
	case o.Unknown:
		return fmt.Sprintf("order state unknown after %s; check your account before retrying", o.Stage)
	case o.Message != "":
		return fmt.Sprintf("failed at %s [%s]: %s", o.Stage, o.Code, o.Message)
	default:
		return fmt.Sprintf("failed at %s [%s]", o.Stage, o.Code)
	}
}

// failed builds a failure outcome from a stage error.
func failed(stage Stage, err error) Outcome {
	outcome := Outcome{Stage: stage, Err: &StageError{Stage: stage, Err: err}}
	var remoteErr *transport.Error
	var notFound *TravelerNotFoundError
	switch {
	case errors.As(err, &remoteErr):
		outcome.Code = remoteErr.Code
		if outcome.Code == "" {
			outcome.Code = remoteErr.Kind.String()
		}
		outcome.Message = remoteErr.Message
		if outcome.Message == "" && remoteErr.Err != nil {
			outcome.Message = remoteErr.Err.Error()
		}
	case errors.Is(err, ErrNoTravelers):
		outcome.Code, outcome.Message = CodeNoTravelers, err.Error()
	case errors.As(err, &notFound):
		outcome.Code, outcome.Message = CodeTravelerNotFound, err.Error()
	case errors.Is(err, errDryRun):
		outcome.Code, outcome.Message = CodeDryRun, err.Error()
	default:
		outcome.Code, outcome.Message = "error", err.Error()
	}
	return outcome
}
