// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/auth"
	"github.com/railclerk/railclerk/lib/interactive"
	"github.com/railclerk/railclerk/lib/session"
	"github.com/railclerk/railclerk/lib/transport"
)

func sessionCommand(std streams) *cli.Command {
	return &cli.Command{
		Name:    "session",
		Summary: "Inspect or remove the saved session",
		Subcommands: []*cli.Command{
			sessionShowCommand(std),
			sessionCheckCommand(std),
			sessionClearCommand(std),
		},
	}
}

type sessionParams struct {
	cli.GlobalParams
}

// shownArtifact is an artifact with its value shortened.
type shownArtifact struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

type shownSession struct {
	Backend   string          `json:"backend"`
	Path      string          `json:"path"`
	Artifacts []shownArtifact `json:"artifacts"`
	Missing   []string        `json:"missing,omitempty"`
}

func sessionShowCommand(std streams) *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:        "show",
		Summary:     "Print the saved session artifacts",
		Description: "Print the saved session artifacts with their values shortened.",
		Flags:       func() *pflag.FlagSet { return cli.FlagsFromParams("session show", &params) },
		Run: func(ctx context.Context, args []string) error {
			a, err := newApp(ctx, params.GlobalParams, std)
			if err != nil {
				return err
			}
			defer a.Close()

			set, err := a.persister.Load(ctx)
			if errors.Is(err, session.ErrNotFound) {
				return cli.NotFound("no saved session at %s; run 'railclerk login'", a.cfg.Session.Path)
			}
			if err != nil {
				return cli.Internal("loading session: %w", err)
			}

			shown := shownSession{
				Backend:   a.cfg.Session.Backend,
				Path:      a.cfg.Session.Path,
				Artifacts: []shownArtifact{},
				Missing:   set.Missing(a.cfg.Auth.Method == string(auth.MethodQR)),
			}
			for _, artifact := range set.Artifacts() {
				shown.Artifacts = append(shown.Artifacts, shownArtifact{
					Name:   artifact.Name,
					Value:  transport.Redact(artifact.Value),
					Domain: artifact.Domain,
					Path:   artifact.Path,
				})
			}
			data, err := json.Marshal(shown)
			if err != nil {
				return cli.Internal("encoding session: %w", err)
			}
			fmt.Fprintln(std.out, a.view.JSON(data))
			return nil
		},
	}
}

func sessionCheckCommand(std streams) *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "check",
		Summary: "Check whether the saved session still works",
		Description: `Load the saved session and ask the service whether it is still logged
in. Exits 0 when it is and 1 when it is not.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("session check", &params) },
		Run: func(ctx context.Context, args []string) error {
			a, err := newApp(ctx, params.GlobalParams, std)
			if err != nil {
				return err
			}
			defer a.Close()

			engine, err := a.engine(engineOptions{})
			if err != nil {
				return err
			}
			navigation, live, err := interactive.Resume(ctx, interactive.Direct{Engine: engine}, a.persister)
			if errors.Is(err, interactive.ErrNoSession) {
				return cli.NotFound("no saved session at %s; run 'railclerk login'", a.cfg.Session.Path)
			}
			if err != nil {
				return cli.Transient("checking session: %w", err)
			}
			if live {
				// The page loaded; confirm with the login-check API.
				live, err = engine.ProbeAPI(ctx)
				if err != nil {
					a.logger.Warn("login check failed", "error", err)
				}
			}

			if live {
				a.persister.Persist(ctx, a.client.Export())
				fmt.Fprintln(std.out, "session is live")
				return nil
			}
			if navigation.Redirected {
				fmt.Fprintf(std.out, "session expired (redirected to %s); run 'railclerk login'\n", navigation.Location)
			} else {
				fmt.Fprintln(std.out, "session expired; run 'railclerk login'")
			}
			return &cli.ExitError{Code: cli.ExitGeneral}
		},
	}
}

func sessionClearCommand(std streams) *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "clear",
		Summary: "Remove the saved session",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("session clear", &params) },
		Run: func(ctx context.Context, args []string) error {
			a, err := newApp(ctx, params.GlobalParams, std)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.persister.Clear(ctx); err != nil {
				return cli.Internal("clearing session: %w", err)
			}
			fmt.Fprintln(std.out, "session cleared")
			return nil
		},
	}
}
