// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands implements the railclerk command tree.
package commands

import (
	"context"
	"fmt"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/version"
)

// Root returns the railclerk command tree bound to the process's
// standard files.
func Root() *cli.Command {
	return newRoot(osStreams())
}

func newRoot(std streams) *cli.Command {
	return &cli.Command{
		Name:    "railclerk",
		Summary: "Book train tickets on 12306",
		Description: `railclerk logs in to the 12306 booking service, watches seat
availability for one trip, and places an order on the earliest train
in a departure window that has seats in a preferred class.

Configuration is read from --config, $RAILCLERK_CONFIG, or the default
path under the user config directory. ${VAR} references are expanded
from the environment and from --env-file.`,
		Output: std.err,
		Subcommands: []*cli.Command{
			loginCommand(std),
			sessionCommand(std),
			queryCommand(std),
			bookCommand(std),
			keepaliveCommand(std),
			templateCommand(std),
			historyCommand(std),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(ctx context.Context, args []string) error {
					fmt.Fprintf(std.out, "railclerk %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
