// Package http implements the transport layer: it performs exactly one
// network call per invocation, encodes and decodes JSON, and normalizes
// failures into relay.APIError values. Retry lives a layer above.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/meridian-io/relay/pkg/relay"
)

const defaultTimeout = 30 * time.Second

// Request describes a single HTTP call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    interface{}
	Headers map[string]string
}

// Response is the raw result of a call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client performs HTTP requests against a base URL. The underlying
// retryablehttp client is configured for a single attempt; bounded retry is
// the retry policy's responsibility so each Do issues exactly one call.
type Client struct {
	baseURL   string
	inner     *retryablehttp.Client
	logger    relay.Logger
	debug     bool
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for debug request/response logging.
func WithLogger(logger relay.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTimeout sets the per-call timeout. A timed-out call is classified as a
// timeout failure, which the retry policy treats as retryable.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.inner.HTTPClient.Timeout = timeout
	}
}

// NewClient creates a transport client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	inner := retryablehttp.NewClient()
	inner.RetryMax = 0
	inner.Logger = nil
	inner.HTTPClient.Timeout = defaultTimeout

	client := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		inner:     inner,
		userAgent: "relay-client/1.0",
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Do executes the request. Non-2xx responses return both the raw response and
// an *relay.APIError classified from the status; transport-level failures
// return a network or timeout error with no response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader

	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, relay.NewAPIError(relay.ErrorKindUnknown, 0, "encoding request body", err)
		}

		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, relay.NewAPIError(relay.ErrorKindUnknown, 0, "building request", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    fullURL,
		})
	}

	httpResp, err := c.inner.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, relay.NewAPIError(relay.ErrorKindNetwork, 0, "reading response body", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"method":      req.Method,
			"url":         fullURL,
			"status_code": resp.StatusCode,
		})
	}

	if resp.StatusCode >= 400 {
		return resp, relay.ErrorFromStatus(resp.StatusCode, relay.ParseErrorBody(body))
	}

	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// classifyTransportError maps a transport failure to the error taxonomy.
// Deadline expiry and net timeouts become timeout errors; everything else
// (connection refused, DNS, TLS) is a network error.
func classifyTransportError(ctx context.Context, err error) *relay.APIError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return relay.NewAPIError(relay.ErrorKindTimeout, 0, "request timed out", err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return relay.NewAPIError(relay.ErrorKindTimeout, 0, "request timed out", err)
	}

	return relay.NewAPIError(relay.ErrorKindNetwork, 0, fmt.Sprintf("request failed: %v", err), err)
}
