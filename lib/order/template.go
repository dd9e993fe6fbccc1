// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package order

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// RequestTemplate parameterizes the getQueueCount call: where it goes,
// which headers it carries, and which form fields it sends. It is
// chosen when the pipeline is built and never changes during a run.
type RequestTemplate struct {
	// Source names where the template came from, for display.
	Source string

	// Path is resolved against the service origin. Captured absolute
	// URLs keep only their path and query.
	Path string

	Header http.Header

	// Fields, when non-nil, are replayed with per-run values filled
	// in. A nil map means the form is built from the session.
	Fields url.Values
}

// StaticQueueTemplate builds the form from the order session alone.
func StaticQueueTemplate() *RequestTemplate {
	return &RequestTemplate{
		Source: "static",
		Path:   pathQueueCount,
		Header: defaultQueueHeader(http.Header{}),
	}
}

// capturedRequest is one entry of a captured network log.
type capturedRequest struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	PostData string            `json:"post_data"`
}

// droppedHeaders are request headers a replay must not copy: the jar,
// the client, and the transport own them.
var droppedHeaders = map[string]bool{
	"Cookie":          true,
	"Content-Length":  true,
	"Host":            true,
	"Connection":      true,
	"Accept-Encoding": true,
}

// LoadCapturedTemplate reads a captured network log (a JSON array of
// {url, headers, post_data}, comments allowed) and builds a template
// from its first getQueueCount request.
func LoadCapturedTemplate(path string) (*RequestTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network log: %w", err)
	}
	return ParseCapturedTemplate(data, path)
}

// ParseCapturedTemplate is LoadCapturedTemplate on bytes.
func ParseCapturedTemplate(data []byte, source string) (*RequestTemplate, error) {
	var entries []capturedRequest
	if err := json.Unmarshal(jsonc.ToJSON(data), &entries); err != nil {
		return nil, fmt.Errorf("parsing network log %s: %w", source, err)
	}
	for _, entry := range entries {
		if !strings.Contains(entry.URL, "getQueueCount") {
			continue
		}
		target, err := url.Parse(entry.URL)
		if err != nil {
			return nil, fmt.Errorf("network log %s: bad getQueueCount url: %w", source, err)
		}
		path := target.EscapedPath()
		if target.RawQuery != "" {
			path += "?" + target.RawQuery
		}

		header := http.Header{}
		for name, value := range entry.Headers {
			canonical := http.CanonicalHeaderKey(name)
			if strings.HasPrefix(name, ":") || droppedHeaders[canonical] {
				continue
			}
			header.Set(canonical, value)
		}

		template := &RequestTemplate{Source: source, Path: path, Header: defaultQueueHeader(header)}
		if entry.PostData != "" {
			fields, err := url.ParseQuery(entry.PostData)
			if err != nil {
				return nil, fmt.Errorf("network log %s: bad getQueueCount body: %w", source, err)
			}
			template.Fields = fields
		}
		return template, nil
	}
	return nil, fmt.Errorf("network log %s has no getQueueCount request", source)
}

func defaultQueueHeader(header http.Header) http.Header {
	defaults := map[string]string{
		"Content-Type":     "application/x-www-form-urlencoded; charset=UTF-8",
		"X-Requested-With": "XMLHttpRequest",
	}
	for name, value := range defaults {
		if header.Get(name) == "" {
			header.Set(name, value)
		}
	}
	return header
}

// Form builds the request body for session.
func (t *RequestTemplate) Form(session *OrderSession) url.Values {
	if t.Fields == nil {
		return staticQueueForm(session)
	}
	form := url.Values{}
	for name, values := range t.Fields {
		if len(values) > 0 {
			// Duplicated fields replay their last value.
			form.Set(name, values[len(values)-1])
		}
	}
	form.Set("REPEAT_SUBMIT_TOKEN", session.RepeatToken)
	if form.Get("train_date") == "" {
		form.Set("train_date", session.trainDate())
	}
	if form.Get("seatType") == "" {
		form.Set("seatType", session.Class.SeatCode())
	}
	return form
}

// Referer is the captured referer, or the confirmation page.
func (t *RequestTemplate) Referer() string {
	if referer := t.Header.Get("Referer"); referer != "" {
		return referer
	}
	return pathInitDc
}

func staticQueueForm(session *OrderSession) url.Values {
	info := session.info()
	return url.Values{
		"train_date":          {session.trainDate()},
		"train_no":            {firstNonEmpty(info.Request.TrainNo, session.Offer.TrainNo)},
		"stationTrainCode":    {firstNonEmpty(info.Request.StationTrainCode, session.Offer.TrainCode)},
		"seatType":            {session.Class.SeatCode()},
		"fromStationTelecode": {firstNonEmpty(info.Request.FromStation, session.Offer.From)},
		"toStationTelecode":   {firstNonEmpty(info.Request.ToStation, session.Offer.To)},
		"leftTicket":          {info.LeftTicketStr},
		"purpose_codes":       {firstNonEmpty(info.PurposeCodes, "00")},
		"train_location":      {info.TrainLocation},
		"_json_att":           {""},
		"REPEAT_SUBMIT_TOKEN": {session.RepeatToken},
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
