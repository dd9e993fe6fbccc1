// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth establishes an authenticated session with the booking
// service.
//
// The [Engine] first replays persisted artifacts and probes whether
// the service still honours them. When it does not, the engine clears
// every artifact and runs a full login, either by QR confirmation
// (the user scans a code with the mobile app) or by password plus a
// captcha challenge. Both end in the same two-step token exchange.
// A successful session is persisted immediately.
//
// Every state transition is logged as "auth state" with from and to
// attributes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/railclerk/railclerk/lib/captcha"
	"github.com/railclerk/railclerk/lib/clock"
	"github.com/railclerk/railclerk/lib/secret"
	"github.com/railclerk/railclerk/lib/session"
	"github.com/railclerk/railclerk/lib/transport"
)

// State is a position in the authentication state machine.
type State int

const (
	Unauthenticated State = iota
	Probing
	Authenticating
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Probing:
		return "probing"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Method selects the login protocol.
type Method string

const (
	MethodQR       Method = "qr"
	MethodPassword Method = "password"
)

// Credentials are the account name and password for MethodPassword.
type Credentials struct {
	Username string
	Password *secret.Buffer
}

// Config configures an Engine. Client is required; everything else
// has a default or is only needed by one login method.
type Config struct {
	Client *transport.Client

	// Persister stores the session after every successful login and
	// keepalive. Nil disables persistence.
	Persister *session.Persister

	// Seed is imported when nothing is persisted.
	Seed *session.ArtifactSet

	Method Method

	// QRTimeout bounds the whole QR login, across challenges.
	QRTimeout       time.Duration
	QRPollInterval  time.Duration
	QRMaxChallenges int
	QRSink          QRSink

	// Observer receives every QR status change. Optional.
	Observer func(QRStatus)

	Credentials *Credentials
	Solver      captcha.Solver

	// CaptchaRetries bounds password attempts that fail on the
	// challenge. Other rejections are never retried.
	CaptchaRetries int

	// RetryPause separates password attempts. Defaults to 2s.
	RetryPause time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine runs the authentication state machine. Methods are safe to
// call from the booking flow and the keepalive concurrently; logins
// are serialized.
type Engine struct {
	cfg    Config
	client *transport.Client
	clock  clock.Clock
	logger *slog.Logger

	login sync.Mutex

	mu    sync.Mutex
	state State
}

// New validates cfg and returns an Engine in the Unauthenticated state.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, errors.New("auth: Client is required")
	}
	switch cfg.Method {
	case "":
		cfg.Method = MethodQR
	case MethodQR, MethodPassword:
	default:
		return nil, fmt.Errorf("auth: unknown method %q", cfg.Method)
	}
	if cfg.QRTimeout <= 0 {
		cfg.QRTimeout = 300 * time.Second
	}
	if cfg.QRPollInterval <= 0 {
		cfg.QRPollInterval = 2 * time.Second
	}
	if cfg.QRMaxChallenges <= 0 {
		cfg.QRMaxChallenges = 5
	}
	if cfg.CaptchaRetries <= 0 {
		cfg.CaptchaRetries = 3
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		client: cfg.Client,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		state:  Unauthenticated,
	}, nil
}

// Client returns the transport client the engine authenticates.
func (e *Engine) Client() *transport.Client { return e.client }

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) transition(to State, attrs ...any) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	e.logger.Info("auth state", append([]any{"from", from.String(), "to", to.String()}, attrs...)...)
}

// Ensure returns once the client carries a session the service
// honours. Persisted artifacts are tried first; a full login runs
// only when every probe says the session is gone.
func (e *Engine) Ensure(ctx context.Context) error {
	e.login.Lock()
	defer e.login.Unlock()

	e.transition(Probing)
	restored := e.restore(ctx)
	if restored > 0 {
		ok, err := e.Probe(ctx)
		if err != nil {
			e.logger.Warn("session probe failed", "error", err)
		}
		if ok {
			e.authenticated(ctx, "restored")
			return nil
		}
	}
	return e.loginLocked(ctx, e.cfg.Method)
}

// Login discards the current session and runs the configured login
// protocol, regardless of whether the session still works.
func (e *Engine) Login(ctx context.Context) error {
	return e.LoginWith(ctx, e.cfg.Method)
}

// LoginWith is Login with an explicit method.
func (e *Engine) LoginWith(ctx context.Context, method Method) error {
	switch method {
	case MethodQR, MethodPassword:
	default:
		return fmt.Errorf("auth: unknown method %q", method)
	}
	e.login.Lock()
	defer e.login.Unlock()
	return e.loginLocked(ctx, method)
}

func (e *Engine) loginLocked(ctx context.Context, method Method) error {
	e.transition(Authenticating, "method", string(method))
	if err := e.client.ClearArtifacts(); err != nil {
		e.transition(Failed, "error", err)
		return err
	}

	var err error
	switch method {
	case MethodPassword:
		err = e.loginPassword(ctx)
	default:
		err = e.loginQR(ctx)
	}
	if err != nil {
		e.transition(Failed, "error", err)
		return err
	}
	e.authenticated(ctx, string(method))
	return nil
}

func (e *Engine) authenticated(ctx context.Context, via string) {
	artifacts := e.client.Export()
	if missing := artifacts.Missing(e.cfg.Method == MethodQR); len(missing) > 0 {
		e.logger.Warn("session lacks expected artifacts", "missing", missing)
	}
	e.transition(Authenticated, "via", via, "artifacts", artifacts.Len())
	e.persist(ctx)
}

func (e *Engine) persist(ctx context.Context) {
	if e.cfg.Persister == nil {
		return
	}
	e.cfg.Persister.Persist(ctx, e.client.Export())
}

// restore imports persisted artifacts, falling back to the seed. It
// returns the number of artifacts imported.
func (e *Engine) restore(ctx context.Context) int {
	var set *session.ArtifactSet
	if e.cfg.Persister != nil {
		loaded, err := e.cfg.Persister.Load(ctx)
		switch {
		case err == nil:
			set = loaded
		case errors.Is(err, session.ErrNotFound):
			e.logger.Debug("no persisted session")
		default:
			e.logger.Warn("loading persisted session failed", "error", err)
		}
	}
	if set.Len() == 0 && e.cfg.Seed.Len() > 0 {
		e.logger.Info("using configured seed artifacts", "artifacts", e.cfg.Seed.Len())
		set = e.cfg.Seed
	}
	if set.Len() == 0 {
		return 0
	}
	if missing := set.Missing(e.cfg.Method == MethodQR); len(missing) > 0 {
		e.logger.Debug("restored session looks incomplete", "missing", missing)
	}
	e.client.Import(set)
	return set.Len()
}

// Keepalive probes the session every interval until ctx is done. A
// probe that finds the session gone reports a KindAuthExpired error
// to onExpired and the loop keeps running; re-login is the caller's
// decision. Live sessions are re-persisted so refreshed artifacts
// survive a restart. Keepalive never touches order state.
func (e *Engine) Keepalive(ctx context.Context, interval time.Duration, onExpired func(error)) error {
	if interval <= 0 {
		interval = 1200 * time.Second
	}
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info("keepalive started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("keepalive stopped")
			return ctx.Err()
		case <-ticker.C:
		}
		ok, err := e.ProbeNavigation(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("keepalive probe failed", "error", err)
		case ok:
			e.logger.Debug("keepalive ok")
			e.persist(ctx)
		default:
			e.logger.Warn("keepalive found session expired")
			if onExpired != nil {
				onExpired(transport.AuthExpired(pathInitMy12306, "session no longer honoured"))
			}
		}
	}
}
