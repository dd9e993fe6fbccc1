// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil reads HTTP response bodies with a size bound and
// undoes Content-Encoding. The booking client sets Accept-Encoding
// itself to look like a browser, which turns off net/http's
// transparent gzip handling, so decoding happens here.
package netutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// MaxResponseSize bounds a single response body. Confirmation pages
// are the largest responses the service sends and stay well under it.
const MaxResponseSize int64 = 32 << 20

// ReadResponse reads and decodes the body of response. The body is not
// closed.
func ReadResponse(response *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(response.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return Decode(raw, response.Header.Get("Content-Encoding"))
}

// Decode reverses a Content-Encoding value. Unknown or identity
// encodings return data unchanged.
func Decode(data []byte, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	switch encoding {
	case "", "identity":
		return data, nil
	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer reader.Close()
		return readBounded(reader, "gzip")
	case "deflate":
		// Servers disagree on whether deflate carries a zlib header.
		if reader, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer reader.Close()
			return readBounded(reader, "deflate")
		}
		reader := flate.NewReader(bytes.NewReader(data))
		defer reader.Close()
		return readBounded(reader, "deflate")
	case "zstd":
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer decoder.Close()
		return readBounded(decoder, "zstd")
	default:
		return data, nil
	}
}

func readBounded(reader io.Reader, name string) ([]byte, error) {
	decoded, err := io.ReadAll(io.LimitReader(reader, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return decoded, nil
}

// Snippet returns at most n bytes of body as a string for error
// messages.
func Snippet(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
