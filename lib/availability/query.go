// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package availability queries remaining tickets and narrows the
// result to bookable offers.
package availability

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/railclerk/railclerk/lib/transport"
)

const (
	pathQueryZ   = "/otn/leftTicket/queryZ"
	pathQueryG   = "/otn/leftTicket/queryG"
	refererQuery = "/otn/leftTicket/init"
	purposeAdult = "ADULT"
)

// Query runs availability queries over an authenticated client.
type Query struct {
	client *transport.Client
	logger *slog.Logger
}

// NewQuery returns a Query. A nil logger means slog.Default().
func NewQuery(client *transport.Client, logger *slog.Logger) *Query {
	if logger == nil {
		logger = slog.Default()
	}
	return &Query{client: client, logger: logger}
}

type queryReply struct {
	Status     bool   `json:"status"`
	HTTPStatus int    `json:"httpstatus"`
	CURL       string `json:"c_url"`
	Data       struct {
		Result []string          `json:"result"`
		Map    map[string]string `json:"map"`
	} `json:"data"`
	Messages []string `json:"messages"`
}

// Offers returns the trains on date (YYYY-MM-DD) from one station
// telecode to another, in the service's order. An empty reply is an
// empty slice, not an error. Records too short to parse are logged
// and skipped.
func (q *Query) Offers(ctx context.Context, date, from, to string) ([]Offer, error) {
	params := url.Values{
		"leftTicketDTO.train_date":   {date},
		"leftTicketDTO.from_station": {from},
		"leftTicketDTO.to_station":   {to},
		"purpose_codes":              {purposeAdult},
	}

	response, err := q.client.Do(ctx, transport.Request{
		Path:       pathQueryZ,
		Query:      params,
		Referer:    refererQuery,
		NoRedirect: true,
	})
	if err != nil {
		return nil, err
	}
	if response.Redirected() {
		location := response.Location()
		if location != "" && !strings.Contains(location, "queryG") {
			if strings.Contains(location, "login") {
				return nil, transport.AuthExpired(pathQueryZ, "query redirected to login")
			}
			return nil, transport.TransportError(pathQueryZ, response.StatusCode, nil)
		}
		q.logger.Debug("query endpoint switched by redirect", "location", location)
		return q.fetch(ctx, pathQueryG, params)
	}

	reply, err := decodeReply(response)
	if err != nil {
		return nil, err
	}
	if !reply.Status && reply.CURL != "" {
		alternate := "/otn/" + strings.TrimLeft(reply.CURL, "/")
		q.logger.Debug("query endpoint switched by hint", "c_url", reply.CURL)
		return q.fetch(ctx, alternate, params)
	}
	return q.offers(reply), nil
}

// fetch queries an alternate endpoint. The switch happens at most
// once, so hints in its reply are not followed.
func (q *Query) fetch(ctx context.Context, path string, params url.Values) ([]Offer, error) {
	response, err := q.client.Do(ctx, transport.Request{Path: path, Query: params, Referer: refererQuery})
	if err != nil {
		return nil, err
	}
	reply, err := decodeReply(response)
	if err != nil {
		return nil, err
	}
	return q.offers(reply), nil
}

func decodeReply(response *transport.Response) (*queryReply, error) {
	var reply queryReply
	if err := transport.DecodeJSON(response, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (q *Query) offers(reply *queryReply) []Offer {
	if reply.HTTPStatus != http.StatusOK || len(reply.Data.Result) == 0 {
		if len(reply.Messages) > 0 {
			q.logger.Info("query returned no trains", "messages", reply.Messages)
		}
		return []Offer{}
	}
	offers := make([]Offer, 0, len(reply.Data.Result))
	for index, record := range reply.Data.Result {
		offer, err := ParseRecord(record, index)
		if err != nil {
			q.logger.Warn("skipping unparseable record", "error", err)
			continue
		}
		offers = append(offers, offer.withStationNames(reply.Data.Map))
	}
	return offers
}
