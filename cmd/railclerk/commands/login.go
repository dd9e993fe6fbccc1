// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/railclerk/railclerk/cmd/railclerk/cli"
	"github.com/railclerk/railclerk/lib/auth"
	"github.com/railclerk/railclerk/lib/secret"
)

type loginParams struct {
	cli.GlobalParams
	Method       string `flag:"method" desc:"login method, qr or password (default from config)"`
	Username     string `flag:"username,u" desc:"account name for password login"`
	PasswordFile string `flag:"password-file" desc:"file holding the account password"`
	Force        bool   `flag:"force" desc:"log in again even when the saved session still works"`
}

func loginCommand(std streams) *cli.Command {
	var params loginParams
	return &cli.Command{
		Name:    "login",
		Summary: "Log in and save the session",
		Description: `Restore the saved session, or log in when it no longer works, and save
the result. QR login writes the code image to auth.qr_image_path; scan
it with the 12306 app and confirm. Password login asks for a captcha.`,
		Examples: []cli.Example{
			{Description: "QR login", Command: "railclerk login"},
			{Description: "Password login with the password in a file", Command: "railclerk login --method password -u me --password-file ~/.12306"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("login", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Validation("login takes no arguments")
			}
			return runLogin(ctx, params, std)
		},
	}
}

func runLogin(ctx context.Context, params loginParams, std streams) error {
	a, err := newApp(ctx, params.GlobalParams, std)
	if err != nil {
		return err
	}
	defer a.Close()

	method := auth.Method(firstNonEmpty(params.Method, a.cfg.Auth.Method))
	options := engineOptions{method: method}
	if method == auth.MethodPassword {
		credentials, err := a.credentials(params.Username, params.PasswordFile)
		if err != nil {
			return err
		}
		defer credentials.Password.Close()
		options.credentials = credentials
	}

	var progress *qrProgress
	if method == auth.MethodQR && isTerminal(std.err) {
		progress = startQRProgress(ctx, std.err)
		write := qrFileSink(a.cfg.Auth.QRImagePath, io.Discard)
		options.qrSink = auth.QRSinkFunc(func(ctx context.Context, image []byte, challenge int) error {
			if err := write.ShowQR(ctx, image, challenge); err != nil {
				return err
			}
			progress.challenge(a.cfg.Auth.QRImagePath, challenge)
			return nil
		})
		options.observer = progress.status
	}

	engine, err := a.engine(options)
	if err != nil {
		return err
	}
	if params.Force {
		err = engine.LoginWith(ctx, method)
		if err != nil && ctx.Err() == nil {
			err = fmt.Errorf("login: %w", err)
		}
	} else {
		err = a.ensureSession(ctx, engine)
	}
	if progress != nil {
		progress.finish(err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(std.out, "session saved (%s backend, %s)\n", a.cfg.Session.Backend, a.cfg.Session.Path)
	return nil
}

// credentials resolves the username and password for password
// login: flags, then config, then a prompt.
func (a *app) credentials(username, passwordFile string) (*auth.Credentials, error) {
	username = firstNonEmpty(username, a.cfg.Account.Username)
	if username == "" {
		return nil, cli.Validation("password login needs a username (--username or account.username)")
	}
	passwordFile = firstNonEmpty(passwordFile, a.cfg.Account.PasswordFile)

	var password *secret.Buffer
	var err error
	switch {
	case passwordFile != "":
		password, err = secret.ReadFile(passwordFile)
	case a.cfg.Account.Password != "":
		password, err = secret.FromBytes([]byte(a.cfg.Account.Password))
	default:
		password, err = a.promptPassword()
	}
	if err != nil {
		return nil, cli.Validation("reading password: %w", err)
	}
	return &auth.Credentials{Username: username, Password: password}, nil
}

func (a *app) promptPassword() (*secret.Buffer, error) {
	file, ok := a.streams.in.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return secret.ReadLine(a.streams.in)
	}
	fmt.Fprint(a.streams.err, "Password: ")
	data, err := term.ReadPassword(int(file.Fd()))
	fmt.Fprintln(a.streams.err)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(data)
	return secret.FromBytes(data)
}

// qrFileSink writes each challenge image to path and tells the user
// where it is.
func qrFileSink(path string, w io.Writer) auth.QRSink {
	return auth.QRSinkFunc(func(ctx context.Context, image []byte, challenge int) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("creating QR image directory: %w", err)
		}
		if err := os.WriteFile(path, image, 0o600); err != nil {
			return fmt.Errorf("writing QR image: %w", err)
		}
		fmt.Fprintf(w, "Scan %s with the 12306 app and confirm the login (code %d).\n", path, challenge)
		return nil
	})
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && cli.IsTerminal(file)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
