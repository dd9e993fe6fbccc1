// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/availability"
)

type queryParams struct {
	cli.GlobalParams
	tripParams
	All bool `flag:"all" desc:"list trains outside the departure window too"`
}

func queryCommand(std streams) *cli.Command {
	var params queryParams
	return &cli.Command{
		Name:    "query",
		Summary: "List trains and seat availability",
		Description: `Query remaining tickets for the configured trip and show which train
and class a booking would pick. Exits 2 when nothing qualifies.`,
		Examples: []cli.Example{
			{Command: "railclerk query --date 2026-02-01 --from IOQ --to CWQ --window 08:00-12:00"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("query", &params) },
		Run: func(ctx context.Context, args []string) error {
			return runQuery(ctx, params, std)
		},
	}
}

func runQuery(ctx context.Context, params queryParams, std streams) error {
	a, err := newApp(ctx, params.GlobalParams, std)
	if err != nil {
		return err
	}
	defer a.Close()
	classes, err := params.apply(a.cfg)
	if err != nil {
		return err
	}

	// The query works logged out; a saved session makes it look like
	// the rest of the account's traffic.
	if set, err := a.persister.Load(ctx); err == nil {
		a.client.Import(set)
	}

	trip := a.cfg.Trip
	offers, err := availability.NewQuery(a.client, a.logger).Offers(ctx, trip.Date, trip.From, trip.To)
	if err != nil {
		return remoteError("query", err)
	}
	inWindow, err := availability.ByDepartureWindow(offers, trip.WindowStart, trip.WindowEnd)
	if err != nil {
		return cli.Validation("%w", err)
	}

	listed := inWindow
	if params.All {
		listed = offers
	}
	fmt.Fprintln(std.out, a.view.Offers(listed, classes))

	offer, class, ok := availability.Select(availability.ByInventoryClass(inWindow, classes), classes)
	if !ok {
		fmt.Fprintf(std.out, "no train departing %s-%s has %s seats\n", trip.WindowStart, trip.WindowEnd, classLabels(classes))
		return &cli.ExitError{Code: cli.ExitNoOffer}
	}
	fmt.Fprintf(std.out, "would book %s %s, departing %s (%s)\n", offer.TrainCode, class.Label(), offer.Departs, offer.Seat(class))
	return nil
}

func classLabels(classes []availability.Class) string {
	labels := ""
	for i, class := range classes {
		if i > 0 {
			labels += "/"
		}
		labels += class.Label()
	}
	return labels
}
