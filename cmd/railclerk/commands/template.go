// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/pflag"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
)

type templateParams struct {
	cli.GlobalParams
}

type shownTemplate struct {
	Source string      `json:"source"`
	Path   string      `json:"path"`
	Header http.Header `json:"header"`
	Fields url.Values  `json:"fields"`
}

func templateCommand(std streams) *cli.Command {
	return &cli.Command{
		Name:    "template",
		Summary: "Inspect the queue request template",
		Subcommands: []*cli.Command{
			templateShowCommand(std),
		},
	}
}

func templateShowCommand(std streams) *cli.Command {
	var params templateParams
	return &cli.Command{
		Name:    "show",
		Summary: "Print the queue request a booking would send",
		Description: `Print the queue-count request template: the captured one at [path],
else order.queue_template, else the static form built from the
confirmation page ("fields": null).`,
		Usage: "railclerk template show [flags] [path]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("template show", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return cli.Validation("template show takes at most one path")
			}
			a, err := newApp(ctx, params.GlobalParams, std)
			if err != nil {
				return err
			}
			defer a.Close()

			path := a.cfg.Order.QueueTemplate
			if len(args) == 1 {
				path = args[0]
			}
			template, err := loadQueueTemplate(path)
			if err != nil {
				return err
			}
			data, err := json.Marshal(shownTemplate{
				Source: template.Source,
				Path:   template.Path,
				Header: template.Header,
				Fields: template.Fields,
			})
			if err != nil {
				return cli.Internal("encoding template: %w", err)
			}
			fmt.Fprintln(std.out, a.view.JSON(data))
			return nil
		},
	}
}
