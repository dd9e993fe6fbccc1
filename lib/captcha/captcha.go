// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package captcha resolves login challenge images into answer strings.
//
// A [Solver] either produces an answer or reports that it has none.
// "No answer" is not an error: the login engine fetches a fresh
// challenge and tries again within its retry budget. Errors are
// reserved for conditions that should stop the login, such as
// cancellation.
package captcha

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/railclerk/railclerk/lib/config"
)

// Solver turns a challenge image into an answer.
type Solver interface {
	// Solve returns the answer and true, or "" and false when this
	// solver could not produce one.
	Solve(ctx context.Context, image []byte) (string, bool, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, image []byte) (string, bool, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, image []byte) (string, bool, error) {
	return f(ctx, image)
}

// Chain tries each solver in order and returns the first answer.
type Chain struct {
	Solvers []Solver
	Logger  *slog.Logger
}

// Solve implements Solver.
func (c *Chain) Solve(ctx context.Context, image []byte) (string, bool, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for index, solver := range c.Solvers {
		answer, ok, err := solver.Solve(ctx, image)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, err
			}
			logger.Warn("captcha solver failed", "solver", index, "error", err)
			continue
		}
		if ok {
			return answer, true, nil
		}
	}
	return "", false, nil
}

// FromConfig builds the solver named by cfg.Solver.
func FromConfig(cfg config.CaptchaConfig, logger *slog.Logger) (Solver, error) {
	manual := &Manual{ImageDir: cfg.ImageDir}
	switch cfg.Solver {
	case "", "manual":
		return manual, nil
	case "auto":
		return newRecognizer(cfg, logger), nil
	case "chain":
		return &Chain{Solvers: []Solver{newRecognizer(cfg, logger), manual}, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("captcha: unknown solver %q", cfg.Solver)
	}
}

func newRecognizer(cfg config.CaptchaConfig, logger *slog.Logger) *Recognizer {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Recognizer{
		URL:    cfg.RecognizerURL,
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}
