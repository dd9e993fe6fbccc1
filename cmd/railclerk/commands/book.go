// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/config"
	"github.com/railclerk/railclerk/lib/order"
	"github.com/railclerk/railclerk/lib/transport"
)

type bookParams struct {
	cli.GlobalParams
	tripParams
	Passenger  string        `flag:"passenger,p" desc:"traveler name as bound to the account (default trip.passenger)"`
	DryRun     bool          `flag:"dry-run" desc:"run every step except the final commit"`
	Attempts   int           `flag:"attempts" desc:"full query-to-commit attempts (default order.attempts)"`
	RetryPause time.Duration `flag:"retry-pause" default:"3s" desc:"pause between attempts"`
}

func bookCommand(std streams) *cli.Command {
	var params bookParams
	return &cli.Command{
		Name:    "book",
		Summary: "Book a seat on the first qualifying train",
		Description: `Log in if needed, pick the earliest train in the departure window with
seats in a preferred class, and run the order steps through to the
commit.

Exit codes: 0 committed (or dry run complete), 2 nothing to book,
3 no order was created, 4 the commit's result is unknown. On 4, check
the account's unpaid orders before running again.`,
		Examples: []cli.Example{
			{
				Description: "Rehearse without committing",
				Command:     "railclerk book --passenger 张三 --dry-run",
			},
			{
				Description: "Take any second-class or standing ticket in the morning",
				Command:     "railclerk book -p 张三 --window 06:00-12:00 --classes second,no_seat --attempts 5",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("book", &params) },
		Run: func(ctx context.Context, args []string) error {
			return runBook(ctx, params, std)
		},
	}
}

func runBook(ctx context.Context, params bookParams, std streams) error {
	a, err := newApp(ctx, params.GlobalParams, std)
	if err != nil {
		return err
	}
	defer a.Close()

	classes, err := params.apply(a.cfg)
	if err != nil {
		return err
	}
	if params.Passenger != "" {
		a.cfg.Trip.Passenger = params.Passenger
	}
	if a.cfg.Trip.Passenger == "" {
		return cli.Validation("no passenger: pass --passenger or set trip.passenger")
	}
	if params.Attempts > 0 {
		a.cfg.Order.Attempts = params.Attempts
	}
	dryRun := params.DryRun || a.cfg.Order.DryRun

	engine, err := a.engine(engineOptions{})
	if err != nil {
		return err
	}
	if err := a.ensureSession(ctx, engine); err != nil {
		return err
	}

	template, err := loadQueueTemplate(a.cfg.Order.QueueTemplate)
	if err != nil {
		return err
	}
	book, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	var recorder order.Recorder
	if book != nil {
		recorder = book
	}

	pipeline, err := order.NewPipeline(order.Config{
		Client:        a.client,
		QueueTemplate: template,
		Pacing:        pacing(a.cfg.Order.Pacing),
		Recorder:      recorder,
		DryRun:        dryRun,
		Logger:        a.logger,
	})
	if err != nil {
		return cli.Internal("%w", err)
	}
	booker := &order.Booker{
		Query:    availability.NewQuery(a.client, a.logger),
		Pipeline: pipeline,
		Logger:   a.logger,
	}
	plan := planFor(a.cfg.Trip, classes, a.cfg.Order.Attempts, params.RetryPause)

	outcome, err := booker.Book(ctx, plan)
	if sessionLost(outcome, err) {
		// One full re-login, then a fresh attempt.
		a.logger.Warn("session expired while booking; logging in again")
		if err := engine.Login(ctx); err != nil {
			return remoteError("login", err)
		}
		outcome, err = booker.Book(ctx, plan)
	}
	switch {
	case errors.Is(err, order.ErrNoOffer):
		fmt.Fprintf(std.out, "no train departing %s-%s has %s seats\n",
			plan.WindowStart, plan.WindowEnd, classLabels(classes))
		return &cli.ExitError{Code: cli.ExitNoOffer}
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return remoteError("book", err)
	}

	fmt.Fprintln(std.out, a.view.Outcome(outcome))
	if outcome.Committed {
		a.persister.Persist(ctx, a.client.Export())
	}
	if code := outcomeExitCode(outcome); code != cli.ExitOK {
		return &cli.ExitError{Code: code}
	}
	return nil
}

func planFor(trip config.TripConfig, classes []availability.Class, attempts int, pause time.Duration) order.Plan {
	return order.Plan{
		Date:        trip.Date,
		From:        trip.From,
		To:          trip.To,
		FromName:    trip.FromName,
		ToName:      trip.ToName,
		WindowStart: trip.WindowStart,
		WindowEnd:   trip.WindowEnd,
		Classes:     classes,
		Traveler:    trip.Passenger,
		Attempts:    attempts,
		RetryPause:  pause,
	}
}

func pacing(cfg config.PacingConfig) order.Pacing {
	return order.Pacing{
		AfterSubmit:     cfg.AfterSubmit.Std(),
		AfterConfirm:    cfg.AfterConfirm.Std(),
		AfterPassengers: cfg.AfterPassengers.Std(),
		AfterCheck:      cfg.AfterCheck.Std(),
		BeforeQueue:     cfg.BeforeQueue.Std(),
		AfterQueue:      cfg.AfterQueue.Std(),
	}
}

// sessionLost reports whether booking stopped because the session
// expired before any order could have been created.
func sessionLost(outcome order.Outcome, err error) bool {
	if err != nil {
		return transport.IsAuthExpired(err)
	}
	return outcome.NoOrder() && transport.IsAuthExpired(outcome.Err)
}

func outcomeExitCode(outcome order.Outcome) int {
	switch {
	case outcome.Committed, outcome.Code == order.CodeDryRun:
		return cli.ExitOK
	case outcome.Unknown:
		return cli.ExitUnknown
	case outcome.Code == order.CodeNoTravelers, outcome.Code == order.CodeTravelerNotFound:
		return cli.ExitNoOffer
	default:
		return cli.ExitFailed
	}
}

// loadQueueTemplate returns the captured template at path, or the
// static one when path is empty.
func loadQueueTemplate(path string) (*order.RequestTemplate, error) {
	if path == "" {
		return order.StaticQueueTemplate(), nil
	}
	template, err := order.LoadCapturedTemplate(path)
	if err != nil {
		return nil, cli.Validation("queue template: %w", err)
	}
	return template, nil
}
