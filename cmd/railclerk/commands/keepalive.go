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
)

type keepaliveParams struct {
	cli.GlobalParams
	Interval time.Duration `flag:"interval" desc:"probe interval (default auth.keepalive_interval)"`
	Relogin  bool          `flag:"relogin" default:"true" desc:"log in again when the session expires"`
}

func keepaliveCommand(std streams) *cli.Command {
	var params keepaliveParams
	return &cli.Command{
		Name:    "keepalive",
		Summary: "Keep the saved session alive until interrupted",
		Description: `Probe the session periodically and save refreshed artifacts. When the
session expires, log in again (unless --relogin=false, which exits 1).`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("keepalive", &params) },
		Run: func(ctx context.Context, args []string) error {
			return runKeepalive(ctx, params, std)
		},
	}
}

func runKeepalive(ctx context.Context, params keepaliveParams, std streams) error {
	a, err := newApp(ctx, params.GlobalParams, std)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine(engineOptions{})
	if err != nil {
		return err
	}
	if err := a.ensureSession(ctx, engine); err != nil {
		return err
	}

	interval := params.Interval
	if interval <= 0 {
		interval = a.cfg.Auth.KeepaliveInterval.Std()
	}
	fmt.Fprintf(std.out, "keeping session alive every %s; interrupt to stop\n", interval)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	expired := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		done <- engine.Keepalive(ctx, interval, func(err error) {
			select {
			case expired <- err:
			default:
			}
		})
	}()

	for {
		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case err := <-expired:
			if !params.Relogin {
				cancel()
				<-done
				fmt.Fprintln(std.err, "session expired")
				return &cli.ExitError{Code: cli.ExitGeneral}
			}
			a.logger.Warn("session expired; logging in again", "error", err)
			if err := a.ensureSession(ctx, engine); err != nil {
				cancel()
				<-done
				return err
			}
			fmt.Fprintln(std.out, "session restored")
		}
	}
}
