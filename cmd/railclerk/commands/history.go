// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/ledger"
)

type historyParams struct {
	cli.GlobalParams
	Limit int    `flag:"limit,n" default:"20" desc:"attempts to list, newest first"`
	Page  string `flag:"page" desc:"print the confirmation page saved for this attempt id"`
}

func historyCommand(std streams) *cli.Command {
	var params historyParams
	return &cli.Command{
		Name:    "history",
		Summary: "List recorded booking attempts",
		Description: `List the attempts in the ledger at order.ledger_path with the stage
each reached and how it ended. With --page, print the order
confirmation page an attempt loaded, as the service sent it.`,
		Examples: []cli.Example{
			{Description: "The last five attempts", Command: "railclerk history -n 5"},
			{Description: "The page behind an unknown commit", Command: "railclerk history --page 0b6f3c1e-5d7a-4a55-9c1e-2f0d8a7b9e10"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("history", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Validation("history takes no arguments")
			}
			if params.Limit <= 0 {
				return cli.Validation("--limit must be positive")
			}
			return runHistory(ctx, params, std)
		},
	}
}

func runHistory(ctx context.Context, params historyParams, std streams) error {
	a, err := newApp(ctx, params.GlobalParams, std)
	if err != nil {
		return err
	}
	defer a.Close()

	book, err := a.openLedger(ctx)
	if err != nil {
		return err
	}
	if book == nil {
		return cli.Validation("no ledger configured; set order.ledger_path")
	}

	if params.Page != "" {
		page, err := book.ConfirmPage(ctx, params.Page)
		switch {
		case errors.Is(err, ledger.ErrUnknownAttempt):
			return cli.NotFound("no attempt %s in the ledger", params.Page)
		case err != nil:
			return cli.Internal("reading confirmation page: %w", err)
		case page == nil:
			return cli.NotFound("attempt %s saved no confirmation page", params.Page)
		}
		_, err = std.out.Write(page)
		return err
	}

	attempts, err := book.Recent(ctx, params.Limit)
	if err != nil {
		return cli.Internal("%w", err)
	}
	fmt.Fprintln(std.out, a.view.Attempts(attempts))
	return nil
}
