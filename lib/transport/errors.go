// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failed exchange with the booking service.
type Kind int

const (
	// KindTransport covers network failures, timeouts, non-2xx
	// statuses, and bodies that are not the expected JSON. A caller
	// may retry at its own discretion, except at the commit step.
	KindTransport Kind = iota + 1

	// KindProtocol means a token or marker the protocol guarantees
	// was absent. The remote contract changed; never retry.
	KindProtocol

	// KindBusiness is an explicit rejection from the service,
	// carried verbatim in Code and Message.
	KindBusiness

	// KindAuthExpired means the session is no longer honoured and a
	// full login is required.
	KindAuthExpired
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol_violation"
	case KindBusiness:
		return "business_rejection"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the typed outcome of a failed call. Use errors.As to
// inspect it:
//
//	var remoteErr *transport.Error
//	if errors.As(err, &remoteErr) && remoteErr.Kind == transport.KindBusiness {
//	    log.Print(remoteErr.Message)
//	}
type Error struct {
	Kind     Kind
	Endpoint string

	// StatusCode is the HTTP status, zero when no response arrived.
	StatusCode int

	// Code and Message are the service's own failure code and text.
	Code    string
	Message string

	// Throttled marks transport failures caused by the service's
	// abuse controls (HTTP 429/503 or a "network busy" page).
	Throttled bool

	Err error
}

func (e *Error) Error() string {
	text := fmt.Sprintf("%s %s", e.Kind, e.Endpoint)
	if e.StatusCode != 0 {
		text += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Code != "" {
		text += " [" + e.Code + "]"
	}
	if e.Message != "" {
		text += ": " + e.Message
	}
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	return text
}

func (e *Error) Unwrap() error { return e.Err }

// TransportError builds a KindTransport error.
func TransportError(endpoint string, statusCode int, err error) *Error {
	return &Error{Kind: KindTransport, Endpoint: endpoint, StatusCode: statusCode, Err: err}
}

// ProtocolViolation builds a KindProtocol error.
func ProtocolViolation(endpoint, format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Endpoint: endpoint, Message: fmt.Sprintf(format, args...)}
}

// BusinessRejection builds a KindBusiness error.
func BusinessRejection(endpoint, code, message string) *Error {
	return &Error{Kind: KindBusiness, Endpoint: endpoint, Code: code, Message: message}
}

// AuthExpired builds a KindAuthExpired error.
func AuthExpired(endpoint, message string) *Error {
	return &Error{Kind: KindAuthExpired, Endpoint: endpoint, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var remoteErr *Error
	if errors.As(err, &remoteErr) {
		return remoteErr.Kind
	}
	return 0
}

// IsTransport reports whether err is a KindTransport error.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsProtocol reports whether err is a KindProtocol error.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }

// IsBusiness reports whether err is a KindBusiness error.
func IsBusiness(err error) bool { return KindOf(err) == KindBusiness }

// IsAuthExpired reports whether err is a KindAuthExpired error.
func IsAuthExpired(err error) bool { return KindOf(err) == KindAuthExpired }

// IsThrottled reports whether err is a throttled transport failure.
func IsThrottled(err error) bool {
	var remoteErr *Error
	return errors.As(err, &remoteErr) && remoteErr.Throttled
}

// Redact shortens a token for logging: the first four characters
// survive, the rest is elided.
func Redact(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..."
}
