// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/availability"
	"github.com/railclerk/railclerk/lib/config"
	"github.com/railclerk/railclerk/lib/transport"
)

// tripParams override the config's trip section.
type tripParams struct {
	Date    string   `flag:"date,d" desc:"travel date, YYYY-MM-DD (default trip.date)"`
	From    string   `flag:"from" desc:"departure station telecode, e.g. IOQ"`
	To      string   `flag:"to" desc:"arrival station telecode, e.g. CWQ"`
	Window  string   `flag:"window" desc:"departure window HH:MM-HH:MM (default trip.window_start-trip.window_end)"`
	Classes []string `flag:"classes" desc:"inventory classes in preference order, e.g. second,no_seat"`
}

// apply overlays the flags on cfg and validates the trip.
func (t tripParams) apply(cfg *config.Config) ([]availability.Class, error) {
	trip := &cfg.Trip
	if t.Date != "" {
		trip.Date = t.Date
	}
	if t.From != "" {
		trip.From = strings.ToUpper(t.From)
	}
	if t.To != "" {
		trip.To = strings.ToUpper(t.To)
	}
	if t.Window != "" {
		start, end, ok := strings.Cut(t.Window, "-")
		if !ok {
			return nil, cli.Validation("--window %q: want HH:MM-HH:MM", t.Window)
		}
		trip.WindowStart, trip.WindowEnd = strings.TrimSpace(start), strings.TrimSpace(end)
	}
	if len(t.Classes) > 0 {
		trip.Classes = t.Classes
	}
	if err := cfg.ValidateTrip(); err != nil {
		return nil, cli.Validation("invalid trip:\n%w", err)
	}
	classes, err := availability.ParseClasses(trip.Classes)
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	return classes, nil
}

// remoteError maps service errors to CLI categories.
func remoteError(action string, err error) error {
	switch {
	case transport.IsAuthExpired(err):
		return cli.Forbidden("%s: session expired; run 'railclerk login': %w", action, err)
	case transport.IsTransport(err):
		return cli.Transient("%s: %w", action, err)
	case transport.IsBusiness(err):
		return cli.Forbidden("%s: %w", action, err)
	default:
		return cli.Internal("%s: %w", action, err)
	}
}
