// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"net/url"

	"github.com/railclerk/railclerk/lib/transport"
)

const (
	pathUamtk          = "/passport/web/auth/uamtk"
	pathUamAuthClient  = "/otn/uamauthclient"
	refererPassportWeb = "/otn/passport?redirect=/otn/login/userLogin"
)

type uamtkReply struct {
	ResultCode    transport.Code `json:"result_code"`
	ResultMessage string         `json:"result_message"`
	NewAppTK      string         `json:"newapptk"`
}

type authClientReply struct {
	ResultCode    transport.Code `json:"result_code"`
	ResultMessage string         `json:"result_message"`
	Username      string         `json:"username"`
}

// exchangeTokens trades the passport ticket for an application token
// and authorizes the client with it. Order calls fail without it.
func (e *Engine) exchangeTokens(ctx context.Context) error {
	response, err := e.client.PostForm(ctx, pathUamtk, url.Values{"appid": {"otn"}}, refererPassportWeb)
	if err != nil {
		return err
	}
	var ticket uamtkReply
	if err := transport.DecodeJSON(response, &ticket); err != nil {
		return err
	}
	if ticket.ResultCode != "0" {
		return transport.BusinessRejection(pathUamtk, string(ticket.ResultCode), ticket.ResultMessage)
	}
	if ticket.NewAppTK == "" {
		return transport.ProtocolViolation(pathUamtk, "reply carries no newapptk")
	}
	e.logger.Debug("exchange ticket issued", "newapptk", transport.Redact(ticket.NewAppTK))

	response, err = e.client.PostForm(ctx, pathUamAuthClient, url.Values{"tk": {ticket.NewAppTK}}, refererPassportWeb)
	if err != nil {
		return err
	}
	var authorized authClientReply
	if err := transport.DecodeJSON(response, &authorized); err != nil {
		return err
	}
	if authorized.ResultCode != "0" {
		return transport.BusinessRejection(pathUamAuthClient, string(authorized.ResultCode), authorized.ResultMessage)
	}
	e.logger.Info("client authorized", "user", authorized.Username)
	return nil
}
