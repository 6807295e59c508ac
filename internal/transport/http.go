package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	geoerrors "github.com/dservsys/geolimes/internal/errors"
)

// acceptEncoding lists every encoding Decode understands. Setting it
// explicitly also stops net/http from transparently gunzipping, so the
// decoder always sees the encoding the server chose.
const acceptEncoding = "gzip, deflate, zstd, snappy"

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// Endpoint is the SPARQL endpoint URL.
	Endpoint string
	// Timeout bounds a single request including reading headers.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts for retryable faults.
	MaxRetries int
	// UserAgent is sent with every request.
	UserAgent string
	// Logger receives retry events.
	Logger *zap.Logger
}

// HTTPClient executes SPARQL queries over the SPARQL 1.1 protocol and asks
// for CSV results.
type HTTPClient struct {
	client     *http.Client
	endpoint   string
	userAgent  string
	maxRetries int
	backoff    func(attempt int) time.Duration
	logger     *zap.Logger
}

// NewHTTPClient creates a client for one endpoint.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeMissingParameter, "endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, geoerrors.NewConfigurationError(geoerrors.CodeInvalidParameter,
			fmt.Sprintf("invalid endpoint %q: %v", cfg.Endpoint, err))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = cfg.Timeout

	return &HTTPClient{
		client:     client,
		endpoint:   cfg.Endpoint,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		backoff:    exponentialBackoff,
		logger:     cfg.Logger,
	}, nil
}

// WithHTTPClient replaces the underlying http.Client (tests, custom TLS).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.client = client
	return c
}

// Execute sends queryText to the endpoint. Non-2xx responses are classified
// into transport faults; retryable faults are retried with backoff.
func (c *HTTPClient) Execute(ctx context.Context, queryText string) (*Response, error) {
	var resp *Response
	err := c.retryWithBackoff(ctx, func() error {
		var execErr error
		resp, execErr = c.do(ctx, queryText)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, queryText string) (*Response, error) {
	form := url.Values{}
	form.Set("query", queryText)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, geoerrors.NewTransportError(geoerrors.CodeProtocolFault, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/csv")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, geoerrors.NewTransportError(geoerrors.CodeProtocolFault,
			fmt.Sprintf("request to %s failed", c.endpoint), err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, classifyStatus(httpResp.StatusCode, c.endpoint, strings.TrimSpace(string(snippet)))
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       httpResp.Body,
	}, nil
}

// classifyStatus maps an HTTP status onto the transport fault taxonomy.
func classifyStatus(status int, endpoint, body string) error {
	msg := fmt.Sprintf("endpoint %s returned %d", endpoint, status)
	if body != "" {
		msg += ": " + body
	}

	var code string
	switch {
	case status == http.StatusNotFound:
		code = geoerrors.CodeEndpointNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = geoerrors.CodeUnauthorized
	case status == http.StatusBadRequest:
		code = geoerrors.CodeQueryBadFormed
	case status >= 500:
		code = geoerrors.CodeEndpointInternal
	default:
		code = geoerrors.CodeProtocolFault
	}
	return geoerrors.NewTransportError(code, msg, nil)
}

// retryWithBackoff executes the operation with exponential backoff retry.
func (c *HTTPClient) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		// Don't retry faults that will fail the same way again
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) ||
			!geoerrors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < c.maxRetries {
			backoff := c.backoff(attempt)
			c.logger.Warn("retrying endpoint request",
				zap.String("endpoint", c.endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
}
