// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/railclerk/railclerk/lib/clock"
	"github.com/railclerk/railclerk/lib/transport"
)

const (
	pathCreateQR = "/passport/web/create-qr64"
	pathCheckQR  = "/passport/web/checkqr"
)

// QRStatus is the confirmation state of one QR challenge.
type QRStatus int

const (
	QRPending QRStatus = iota
	QRScanned
	QRConfirmed
	QRExpired
	QRError
)

func (s QRStatus) String() string {
	switch s {
	case QRPending:
		return "pending"
	case QRScanned:
		return "scanned"
	case QRConfirmed:
		return "confirmed"
	case QRExpired:
		return "expired"
	default:
		return "error"
	}
}

func parseQRStatus(code transport.Code) QRStatus {
	switch code {
	case "0":
		return QRPending
	case "1":
		return QRScanned
	case "2":
		return QRConfirmed
	case "3":
		return QRExpired
	default:
		return QRError
	}
}

// QRSink presents a challenge image to the user. challenge counts
// from 1 and grows each time an expired code is replaced.
type QRSink interface {
	ShowQR(ctx context.Context, image []byte, challenge int) error
}

// QRSinkFunc adapts a function to QRSink.
type QRSinkFunc func(ctx context.Context, image []byte, challenge int) error

// ShowQR calls f.
func (f QRSinkFunc) ShowQR(ctx context.Context, image []byte, challenge int) error {
	return f(ctx, image, challenge)
}

// ErrQRTimeout is returned when no challenge was confirmed in time and
// the final probe found no session either.
var ErrQRTimeout = errors.New("auth: QR login timed out")

type qrChallenge struct {
	ResultCode    transport.Code `json:"result_code"`
	ResultMessage string         `json:"result_message"`
	Image         string         `json:"image"`
	UUID          string         `json:"uuid"`
}

type qrCheck struct {
	ResultCode    transport.Code `json:"result_code"`
	ResultMessage string         `json:"result_message"`
}

func (e *Engine) loginQR(ctx context.Context) error {
	deadline := e.clock.Now().Add(e.cfg.QRTimeout)
	for challenge := 1; challenge <= e.cfg.QRMaxChallenges; challenge++ {
		confirmed, err := e.pollChallenge(ctx, challenge, deadline)
		if err != nil {
			return err
		}
		if confirmed {
			return e.exchangeTokens(ctx)
		}
		if !e.clock.Now().Before(deadline) {
			return e.finalProbe(ctx)
		}
		e.logger.Info("QR code expired; requesting a new one", "challenge", challenge)
	}
	return fmt.Errorf("auth: no QR code confirmed after %d challenges", e.cfg.QRMaxChallenges)
}

// pollChallenge requests one challenge and polls it. It returns true
// when confirmed and false when the code expired or the deadline
// passed; the caller tells the two apart by the clock.
func (e *Engine) pollChallenge(ctx context.Context, challenge int, deadline time.Time) (bool, error) {
	created, err := e.createQR(ctx)
	if err != nil {
		return false, err
	}
	if e.cfg.QRSink != nil {
		if err := e.cfg.QRSink.ShowQR(ctx, created.image, challenge); err != nil {
			return false, fmt.Errorf("auth: presenting QR code: %w", err)
		}
	}
	e.logger.Info("QR code issued", "challenge", challenge, "uuid", transport.Redact(created.uuid))

	last := QRStatus(-1)
	for {
		status, err := e.checkQR(ctx, created.uuid)
		switch {
		case err != nil && ctx.Err() != nil:
			return false, ctx.Err()
		case err != nil:
			// The status channel is flaky; the next poll decides.
			e.logger.Warn("QR status check failed", "error", err)
		case status != last:
			last = status
			e.logger.Info("QR status", "status", status.String(), "challenge", challenge)
			if e.cfg.Observer != nil {
				e.cfg.Observer(status)
			}
		}
		if err == nil {
			switch status {
			case QRConfirmed:
				return true, nil
			case QRExpired:
				return false, nil
			case QRError:
				return false, transport.BusinessRejection(pathCheckQR, "", "QR confirmation failed")
			}
		}

		remaining := deadline.Sub(e.clock.Now())
		if remaining <= 0 {
			return false, nil
		}
		if err := clock.Wait(ctx, e.clock, min(e.cfg.QRPollInterval, remaining)); err != nil {
			return false, err
		}
	}
}

// finalProbe runs after the QR deadline: the status endpoint can lag
// behind the session, so a confirmed scan may already have logged in.
func (e *Engine) finalProbe(ctx context.Context) error {
	e.logger.Info("QR login deadline reached; probing session once more")
	ok, err := e.ProbeAPI(ctx)
	if err != nil {
		e.logger.Warn("final probe failed", "error", err)
	}
	if !ok {
		return ErrQRTimeout
	}
	return nil
}

type createdQR struct {
	uuid  string
	image []byte
}

func (e *Engine) createQR(ctx context.Context) (*createdQR, error) {
	response, err := e.client.PostForm(ctx, pathCreateQR, url.Values{"appid": {"otn"}}, "")
	if err != nil {
		return nil, err
	}
	var reply qrChallenge
	if err := transport.DecodeJSON(response, &reply); err != nil {
		return nil, err
	}
	if reply.ResultCode != "0" {
		return nil, transport.BusinessRejection(pathCreateQR, string(reply.ResultCode), reply.ResultMessage)
	}
	if reply.UUID == "" || reply.Image == "" {
		return nil, transport.ProtocolViolation(pathCreateQR, "challenge without uuid or image")
	}
	image, err := decodeImage(reply.Image)
	if err != nil {
		return nil, transport.ProtocolViolation(pathCreateQR, "decoding image: %v", err)
	}
	return &createdQR{uuid: reply.UUID, image: image}, nil
}

func (e *Engine) checkQR(ctx context.Context, uuid string) (QRStatus, error) {
	response, err := e.client.PostForm(ctx, pathCheckQR, url.Values{"uuid": {uuid}, "appid": {"otn"}}, "")
	if err != nil {
		return QRError, err
	}
	var reply qrCheck
	if err := transport.DecodeJSON(response, &reply); err != nil {
		return QRError, err
	}
	return parseQRStatus(reply.ResultCode), nil
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(encoded string) ([]byte, error) {
	if _, payload, ok := strings.Cut(encoded, "base64,"); ok {
		encoded = payload
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
}
