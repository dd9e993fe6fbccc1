// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/railclerk/railclerk/lib/clock"
	"github.com/railclerk/railclerk/lib/transport"
)

const (
	pathLoginInit    = "/otn/login/init"
	pathCaptchaImage = "/passport/captcha/captcha-image64"
	pathCaptchaCheck = "/passport/captcha/captcha-check"
	pathLogin        = "/passport/web/login"
)

// errChallengeRejected marks a failure the next captcha may fix.
var errChallengeRejected = errors.New("captcha challenge not passed")

type captchaImageReply struct {
	ResultCode    transport.Code `json:"result_code"`
	ResultMessage string         `json:"result_message"`
	Image         string         `json:"image"`
}

type resultReply struct {
	ResultCode    transport.Code `json:"result_code"`
	ResultMessage string         `json:"result_message"`
}

// isChallengeRejection reports login rejections caused by the captcha
// rather than the credentials.
func isChallengeRejection(message string) bool {
	return strings.Contains(message, "验证码") || strings.Contains(message, "校验失败")
}

func (e *Engine) loginPassword(ctx context.Context) error {
	credentials := e.cfg.Credentials
	if credentials == nil || credentials.Username == "" || credentials.Password == nil {
		return errors.New("auth: password login needs a username and password")
	}
	if e.cfg.Solver == nil {
		return errors.New("auth: password login needs a captcha solver")
	}
	if _, err := e.client.Get(ctx, pathLoginInit, nil, ""); err != nil {
		return err
	}

	for attempt := 1; attempt <= e.cfg.CaptchaRetries; attempt++ {
		err := e.passwordAttempt(ctx, credentials)
		if err == nil {
			return e.exchangeTokens(ctx)
		}
		if !errors.Is(err, errChallengeRejected) {
			return err
		}
		e.logger.Info("captcha round failed", "attempt", attempt, "error", err)
		if attempt < e.cfg.CaptchaRetries {
			if err := clock.Wait(ctx, e.clock, e.cfg.RetryPause); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("auth: captcha not passed after %d attempts", e.cfg.CaptchaRetries)
}

// passwordAttempt runs one captcha round and the credential submit.
// Failures the next captcha might fix wrap errChallengeRejected.
func (e *Engine) passwordAttempt(ctx context.Context, credentials *Credentials) error {
	answer, err := e.CaptchaRound(ctx)
	if err != nil {
		return err
	}

	form := url.Values{
		"username": {credentials.Username},
		"password": {credentials.Password.String()},
		"appid":    {"otn"},
		"answer":   {answer},
	}
	response, err := e.client.PostForm(ctx, pathLogin, form, pathLoginInit)
	if err != nil {
		return err
	}
	var reply resultReply
	if err := transport.DecodeJSON(response, &reply); err != nil {
		return err
	}
	if reply.ResultCode == "0" {
		e.logger.Info("credentials accepted", "user", credentials.Username)
		return nil
	}
	rejection := transport.BusinessRejection(pathLogin, string(reply.ResultCode), reply.ResultMessage)
	if isChallengeRejection(reply.ResultMessage) {
		return fmt.Errorf("%w: %w", errChallengeRejected, rejection)
	}
	return rejection
}

// CaptchaRound fetches a login captcha, has the solver answer it and
// the service verify the answer. Rounds that a new captcha might pass
// fail with an error for which IsChallengeRejected is true.
func (e *Engine) CaptchaRound(ctx context.Context) (string, error) {
	if e.cfg.Solver == nil {
		return "", errors.New("auth: no captcha solver configured")
	}
	image, err := e.fetchCaptcha(ctx)
	if err != nil {
		if ctx.Err() != nil || transport.IsProtocol(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: fetching image: %v", errChallengeRejected, err)
	}

	answer, ok, err := e.cfg.Solver.Solve(ctx, image)
	if err != nil {
		return "", fmt.Errorf("auth: solving captcha: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: solver had no answer", errChallengeRejected)
	}

	passed, err := e.checkCaptcha(ctx, answer)
	if err != nil {
		return "", err
	}
	if !passed {
		return "", fmt.Errorf("%w: answer rejected", errChallengeRejected)
	}
	return answer, nil
}

// IsChallengeRejected reports whether err is a captcha round failure
// a fresh captcha might fix.
func IsChallengeRejected(err error) bool { return errors.Is(err, errChallengeRejected) }

func (e *Engine) fetchCaptcha(ctx context.Context) ([]byte, error) {
	query := url.Values{
		"login_site": {"E"},
		"module":     {"login"},
		"rand":       {"sjrand"},
		"_":          {strconv.FormatInt(e.clock.Now().UnixMilli(), 10)},
	}
	response, err := e.client.Get(ctx, pathCaptchaImage, query, pathLoginInit)
	if err != nil {
		return nil, err
	}
	var reply captchaImageReply
	if err := transport.DecodeJSON(response, &reply); err != nil {
		return nil, err
	}
	if reply.ResultCode != "0" || reply.Image == "" {
		return nil, transport.BusinessRejection(pathCaptchaImage, string(reply.ResultCode), reply.ResultMessage)
	}
	image, err := decodeImage(reply.Image)
	if err != nil {
		return nil, transport.ProtocolViolation(pathCaptchaImage, "decoding image: %v", err)
	}
	return image, nil
}

func (e *Engine) checkCaptcha(ctx context.Context, answer string) (bool, error) {
	form := url.Values{"answer": {answer}, "rand": {"sjrand"}, "login_site": {"E"}}
	response, err := e.client.PostForm(ctx, pathCaptchaCheck, form, pathLoginInit)
	if err != nil {
		return false, err
	}
	var reply resultReply
	if err := transport.DecodeJSON(response, &reply); err != nil {
		return false, err
	}
	if reply.ResultCode != "4" {
		e.logger.Debug("captcha answer rejected", "code", string(reply.ResultCode), "message", reply.ResultMessage)
		return false, nil
	}
	return true, nil
}
