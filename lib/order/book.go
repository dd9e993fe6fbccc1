// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/clock"
	"github.com/railclerk/railclerk/lib/transport"
)

// ErrNoOffer means no offer passed the filters.
var ErrNoOffer = errors.New("no train in the departure window has the requested seats")

// Plan is what Book looks for.
type Plan struct {
	Date, From, To   string
	FromName, ToName string

	// WindowStart and WindowEnd are "HH:MM", inclusive.
	WindowStart, WindowEnd string

	// Classes in order of preference.
	Classes []availability.Class

	Traveler string

	// Attempts bounds full query-to-commit attempts. Defaults to 1.
	Attempts int

	// RetryPause separates attempts. Defaults to 3s.
	RetryPause time.Duration
}

// Booker composes query, filter, selection and the pipeline.
type Booker struct {
	Query    *availability.Query
	Pipeline *Pipeline
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Select queries availability for plan and picks an offer and class.
// It returns ErrNoOffer when nothing qualifies.
func (b *Booker) Select(ctx context.Context, plan Plan) (availability.Offer, availability.Class, error) {
	offers, err := b.Query.Offers(ctx, plan.Date, plan.From, plan.To)
	if err != nil {
		return availability.Offer{}, 0, fmt.Errorf("querying availability: %w", err)
	}
	inWindow, err := availability.ByDepartureWindow(offers, plan.WindowStart, plan.WindowEnd)
	if err != nil {
		return availability.Offer{}, 0, err
	}
	eligible := availability.ByInventoryClass(inWindow, plan.Classes)
	b.logger().Info("availability",
		"trains", len(offers),
		"in_window", len(inWindow),
		"eligible", len(eligible),
	)
	offer, class, ok := availability.Select(eligible, plan.Classes)
	if !ok {
		return availability.Offer{}, 0, ErrNoOffer
	}
	return offer, class, nil
}

// Book runs up to plan.Attempts attempts. Every attempt starts from a
// fresh query, since booking secrets and repeat-submission tokens are
// single-use. It stops at the first committed or unknown outcome and
// at failures a new attempt cannot fix. The error is non-nil only when
// no attempt reached the pipeline.
func (b *Booker) Book(ctx context.Context, plan Plan) (Outcome, error) {
	attempts := max(plan.Attempts, 1)
	pause := plan.RetryPause
	if pause <= 0 {
		pause = 3 * time.Second
	}
	clk := b.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var last Outcome
	var lastErr error
	ran := false
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := clock.Wait(ctx, clk, pause); err != nil {
				break
			}
		}
		offer, class, err := b.Select(ctx, plan)
		if err != nil {
			lastErr = err
			b.logger().Info("no offer selected", "attempt", attempt, "error", err)
			if errors.Is(err, ErrNoOffer) || transport.IsTransport(err) {
				continue
			}
			break
		}
		b.logger().Info("offer selected",
			"attempt", attempt,
			"train", offer.TrainCode,
			"departs", offer.Departs,
			"seat_class", class.String(),
		)
		last = b.Pipeline.Run(ctx, Request{
			Offer:    offer,
			Class:    class,
			Traveler: plan.Traveler,
			Trip:     Trip{Date: plan.Date, FromName: plan.FromName, ToName: plan.ToName},
		})
		ran, lastErr = true, nil
		if !Retryable(last) {
			break
		}
	}
	if !ran {
		return Outcome{}, lastErr
	}
	return last, nil
}

// Retryable reports whether a fresh attempt might succeed where o
// failed. Commits, unknown states, contract violations, traveler
// problems and dry runs are final.
func Retryable(o Outcome) bool {
	if o.Committed || o.Unknown || o.Stage >= Queued {
		return false
	}
	kind := transport.KindOf(o.Err)
	return kind == transport.KindTransport || kind == transport.KindBusiness
}

func (b *Booker) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}
