// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the single logical HTTP client shared by login,
// availability queries, the order pipeline, and the keepalive. It
// carries session artifacts in a cookie jar, applies browser-like
// default headers, bounds every call with a timeout, and classifies
// failures into the [Kind] taxonomy.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/railclerk/railclerk/lib/netutil"
)

// DefaultUserAgent is a desktop Chrome user agent. The service serves
// reduced pages to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultReferer is the referer sent when a request does not name one.
const DefaultReferer = "/otn/login/init"

// Config configures a Client.
type Config struct {
	// BaseURL is the service origin, e.g. "https://kyfw.12306.cn".
	BaseURL string

	// Timeout bounds each call. Defaults to 10s.
	Timeout time.Duration

	InsecureSkipVerify bool
	UserAgent          string

	// Transport overrides the round tripper. Tests leave it nil.
	Transport http.RoundTripper

	Logger *slog.Logger
}

// Client talks to the booking service. It is safe for concurrent use
// by the booking flow and the keepalive.
type Client struct {
	base    *url.URL
	http    *http.Client
	jar     *artifactJar
	timeout time.Duration
	agent   string
	logger  *slog.Logger
}

// Request describes one call.
type Request struct {
	Method string

	// Path is resolved against BaseURL. An absolute URL is used as is.
	Path string

	Query url.Values

	// Form, when non-nil, is sent urlencoded as the request body.
	Form url.Values

	// Referer is a path or absolute URL. Empty means DefaultReferer.
	Referer string

	// Header entries replace the defaults of the same name.
	Header http.Header

	// NoRedirect returns 3xx responses to the caller instead of
	// following them.
	NoRedirect bool
}

// Response is a fully read, decoded response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// URL is the final request URL after any redirects.
	URL *url.URL

	// Endpoint is the request path without query, for error labels.
	Endpoint string
}

// Location returns the redirect target header, if any.
func (r *Response) Location() string { return r.Header.Get("Location") }

// Redirected reports a 3xx status.
func (r *Response) Redirected() bool { return r.StatusCode >= 300 && r.StatusCode < 400 }

// BouncedToLogin reports whether the service sent the caller to a login
// page instead of answering: a redirect whose Location is a login page,
// or a followed redirect that ended on one.
func (r *Response) BouncedToLogin() bool {
	if r.Redirected() {
		return IsLoginPath(r.Location())
	}
	return r.URL != nil && r.URL.Path != r.Endpoint && IsLoginPath(r.URL.Path)
}

// IsLoginPath reports whether target, a path or URL, points at a login
// or passport page. An unparsable target counts as one.
func IsLoginPath(target string) bool {
	parsed, err := url.Parse(target)
	if err != nil {
		return true
	}
	path := strings.ToLower(parsed.Path)
	return strings.Contains(path, "login") || strings.Contains(path, "passport")
}

type noRedirectKey struct{}

// New creates a Client with an empty artifact jar.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport: BaseURL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("transport: invalid BaseURL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	roundTripper := cfg.Transport
	if roundTripper == nil {
		roundTripper = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	jar, err := newArtifactJar(base)
	if err != nil {
		return nil, err
	}
	client := &Client{
		base:    base,
		jar:     jar,
		timeout: timeout,
		agent:   agent,
		logger:  logger,
	}
	client.http = &http.Client{
		Transport: roundTripper,
		Jar:       jar,
		CheckRedirect: func(request *http.Request, via []*http.Request) error {
			if request.Context().Value(noRedirectKey{}) != nil {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		},
	}
	return client, nil
}

// BaseURL returns a copy of the service origin.
func (c *Client) BaseURL() *url.URL {
	copied := *c.base
	return &copied
}

// Resolve turns a path into an absolute URL on the service origin.
func (c *Client) Resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values, referer string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Referer: referer})
}

// PostForm issues a urlencoded POST.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, referer string) (*Response, error) {
	if form == nil {
		form = url.Values{}
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Form: form, Referer: referer})
}

// Do performs request. It returns a KindTransport *Error only when no
// usable response arrived; HTTP status handling is left to callers
// and to DecodeJSON.
func (c *Client) Do(ctx context.Context, request Request) (*Response, error) {
	target, err := url.Parse(c.Resolve(request.Path))
	if err != nil {
		return nil, TransportError(request.Path, 0, fmt.Errorf("invalid path: %w", err))
	}
	if len(request.Query) > 0 {
		target.RawQuery = request.Query.Encode()
	}
	endpoint := target.Path

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if request.NoRedirect {
		ctx = context.WithValue(ctx, noRedirectKey{}, true)
	}

	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if request.Form != nil {
		body = strings.NewReader(request.Form.Encode())
	}
	httpRequest, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, TransportError(endpoint, 0, err)
	}
	c.applyHeaders(httpRequest, request)

	started := time.Now()
	httpResponse, err := c.http.Do(httpRequest)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "endpoint", endpoint, "error", err)
		return nil, TransportError(endpoint, 0, err)
	}
	defer httpResponse.Body.Close()

	data, err := netutil.ReadResponse(httpResponse)
	if err != nil {
		return nil, TransportError(endpoint, httpResponse.StatusCode, err)
	}
	c.logger.Debug("request",
		"method", method,
		"endpoint", endpoint,
		"status", httpResponse.StatusCode,
		"bytes", len(data),
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return &Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       data,
		URL:        httpResponse.Request.URL,
		Endpoint:   endpoint,
	}, nil
}

func (c *Client) applyHeaders(httpRequest *http.Request, request Request) {
	header := httpRequest.Header
	header.Set("User-Agent", c.agent)
	header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	header.Set("Accept-Encoding", "gzip, deflate, zstd")
	header.Set("X-Requested-With", "XMLHttpRequest")
	referer := request.Referer
	if referer == "" {
		referer = DefaultReferer
	}
	header.Set("Referer", c.Resolve(referer))
	if request.Form != nil {
		header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		header.Set("Origin", c.base.Scheme+"://"+c.base.Host)
	}
	for name, values := range request.Header {
		header.Del(name)
		for _, value := range values {
			header.Add(name, value)
		}
	}
}

// DecodeJSON checks that response is a 2xx JSON document and decodes
// it into v. Anything else is a KindTransport error, flagged as
// throttled when the service's abuse controls answered.
func DecodeJSON(response *Response, v any) error {
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		remoteErr := TransportError(response.Endpoint, response.StatusCode,
			fmt.Errorf("unexpected status: %s", netutil.Snippet(response.Body, 200)))
		remoteErr.Throttled = throttled(response)
		return remoteErr
	}
	trimmed := bytes.TrimSpace(response.Body)
	if err := json.Unmarshal(trimmed, v); err != nil {
		remoteErr := TransportError(response.Endpoint, response.StatusCode,
			fmt.Errorf("response is not JSON: %w: %s", err, netutil.Snippet(trimmed, 200)))
		remoteErr.Throttled = throttled(response)
		return remoteErr
	}
	return nil
}

func throttled(response *Response) bool {
	switch response.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return bytes.Contains(response.Body, []byte("网络繁忙"))
}
