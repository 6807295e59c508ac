// Package transport talks to SPARQL endpoints and normalizes their responses
// into decoded CSV bytes.
package transport

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Header names understood by the decoder and the fetcher.
const (
	HeaderContentEncoding = "Content-Encoding"
	HeaderMaxRows         = "X-SPARQL-MaxRows"
)

// Client executes one query and returns the raw response. The caller owns the
// response and must hand it to Decode, which releases it.
type Client interface {
	Execute(ctx context.Context, queryText string) (*Response, error)
}

// Response is a raw endpoint response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Encoding returns the lower-cased content encoding, or "" for identity.
func (r *Response) Encoding() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderContentEncoding)))
}

// MaxRows returns the server-advertised row ceiling, or 0 when the server
// does not advertise one (or advertises something unparseable).
func (r *Response) MaxRows() int {
	if r == nil || r.Header == nil {
		return 0
	}
	v := strings.TrimSpace(r.Header.Get(HeaderMaxRows))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, queryText string) (*Response, error)

// Execute calls f.
func (f ClientFunc) Execute(ctx context.Context, queryText string) (*Response, error) {
	return f(ctx, queryText)
}
