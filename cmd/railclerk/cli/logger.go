// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewCommandLogger returns the logger commands pass to every
// component. On a terminal it writes text; piped, it writes JSON
// lines.
func NewCommandLogger(verbose bool) *slog.Logger {
	return NewLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), verbose)
}

// NewLogger writes text when terminal is set and JSON lines otherwise.
func NewLogger(w io.Writer, terminal, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if terminal {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

// IsTerminal reports whether f is a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
