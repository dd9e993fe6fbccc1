// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/auth"
	"github.com/railclerk/railclerk/lib/captcha"
	"github.com/railclerk/railclerk/lib/config"
	"github.com/railclerk/railclerk/lib/ledger"
	"github.com/railclerk/railclerk/lib/offerview"
	"github.com/railclerk/railclerk/lib/sealed"
	"github.com/railclerk/railclerk/lib/secret"
	"github.com/railclerk/railclerk/lib/session"
	"github.com/railclerk/railclerk/lib/sqlitepool"
	"github.com/railclerk/railclerk/lib/transport"
	"github.com/railclerk/railclerk/lib/version"
)

// streams are the command's standard files.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func osStreams() streams {
	return streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}
}

// app holds what a command builds from the configuration. Close
// releases it.
type app struct {
	cfg       *config.Config
	streams   streams
	logger    *slog.Logger
	view      *offerview.Renderer
	client    *transport.Client
	persister *session.Persister

	closers []func() error
}

func newApp(ctx context.Context, global cli.GlobalParams, std streams) (*app, error) {
	var cfg *config.Config
	var err error
	if global.ConfigPath != "" {
		cfg, err = config.LoadFile(global.ConfigPath, global.EnvFile)
	} else {
		cfg, err = config.Load(global.EnvFile)
	}
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration:\n%w", err)
	}

	a := &app{
		cfg:     cfg,
		streams: std,
		logger:  newLogger(std.err, global.Verbose),
		view:    offerview.New(std.out, colorEnabled(std.out, global.NoColor)),
	}

	a.logger.Debug("starting", "version", version.Info(), "config", global.ConfigPath)

	a.client, err = transport.New(transport.Config{
		BaseURL:            cfg.Service.BaseURL,
		Timeout:            cfg.Service.Timeout.Std(),
		InsecureSkipVerify: cfg.Service.InsecureSkipVerify,
		UserAgent:          cfg.Service.UserAgent,
		Logger:             a.logger,
	})
	if err != nil {
		return nil, cli.Validation("%w", err)
	}

	store, err := a.sessionStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.persister = session.NewPersister(store, a.logger)
	return a, nil
}

func (a *app) sessionStore(ctx context.Context) (session.Store, error) {
	cfg := a.cfg.Session
	switch cfg.Backend {
	case "sealed":
		key, err := secret.ReadFile(cfg.IdentityPath)
		if err != nil {
			return nil, cli.NotFound("reading session identity: %w", err)
		}
		identity, err := sealed.ReadIdentity(key)
		key.Close()
		if err != nil {
			return nil, cli.Validation("session identity %s: %w", cfg.IdentityPath, err)
		}
		a.closers = append(a.closers, identity.Close)
		return &session.SealedFileStore{Path: cfg.Path, Recipients: cfg.Recipients, Identity: identity}, nil
	case "sqlite":
		pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
			Path:   cfg.Path,
			Schema: session.SQLiteSchema,
			Logger: a.logger,
		})
		if err != nil {
			return nil, cli.Internal("opening session database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return session.NewSQLiteStore(pool, "default"), nil
	default:
		return &session.FileStore{Path: cfg.Path}, nil
	}
}

// engineOptions are the per-command parts of the auth engine.
type engineOptions struct {
	method      auth.Method
	credentials *auth.Credentials
	qrSink      auth.QRSink
	observer    func(auth.QRStatus)
}

func (a *app) engine(options engineOptions) (*auth.Engine, error) {
	method := options.method
	if method == "" {
		method = auth.Method(a.cfg.Auth.Method)
	}
	cfg := auth.Config{
		Client:          a.client,
		Persister:       a.persister,
		Method:          method,
		QRTimeout:       a.cfg.Auth.QRTimeout.Std(),
		QRPollInterval:  a.cfg.Auth.QRPollInterval.Std(),
		QRMaxChallenges: a.cfg.Auth.QRMaxChallenges,
		QRSink:          options.qrSink,
		Observer:        options.observer,
		Credentials:     options.credentials,
		CaptchaRetries:  a.cfg.Auth.CaptchaRetries,
		Logger:          a.logger,
	}
	if cfg.QRSink == nil {
		cfg.QRSink = qrFileSink(a.cfg.Auth.QRImagePath, a.streams.err)
	}
	if len(a.cfg.Session.Seed) > 0 {
		cfg.Seed = session.FromSimple(a.cfg.Session.Seed)
	}
	if method == auth.MethodPassword {
		solver, err := a.solver()
		if err != nil {
			return nil, err
		}
		cfg.Solver = solver
	}
	engine, err := auth.New(cfg)
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	return engine, nil
}

func (a *app) solver() (captcha.Solver, error) {
	solver, err := captcha.FromConfig(a.cfg.Captcha, a.logger)
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	solvers := []captcha.Solver{solver}
	if chain, ok := solver.(*captcha.Chain); ok {
		solvers = chain.Solvers
	}
	for _, candidate := range solvers {
		if manual, ok := candidate.(*captcha.Manual); ok {
			manual.Input, manual.Output = a.streams.in, a.streams.err
		}
	}
	return solver, nil
}

// ensureSession restores or establishes a session, mapping failures
// to CLI categories.
func (a *app) ensureSession(ctx context.Context, engine *auth.Engine) error {
	err := engine.Ensure(ctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, auth.ErrQRTimeout):
		return cli.Transient("login: %w", err)
	case transport.IsTransport(err):
		return cli.Transient("login: %w", err)
	case transport.IsBusiness(err):
		return cli.Forbidden("login: %w", err)
	default:
		return fmt.Errorf("login: %w", err)
	}
}

// openLedger opens the attempt ledger, or returns nil when none is
// configured.
func (a *app) openLedger(ctx context.Context) (*ledger.Ledger, error) {
	if a.cfg.Order.LedgerPath == "" {
		return nil, nil
	}
	book, err := ledger.Open(ctx, a.cfg.Order.LedgerPath, a.logger)
	if err != nil {
		return nil, cli.Internal("opening ledger: %w", err)
	}
	a.closers = append(a.closers, book.Close)
	return book, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("closing", "error", err)
		}
	}
	a.closers = nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	file, ok := w.(*os.File)
	return cli.NewLogger(w, ok && cli.IsTerminal(file), verbose)
}

func colorEnabled(w io.Writer, disabled bool) bool {
	if disabled || os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	return ok && cli.IsTerminal(file)
}
