/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 the ewebrtc-go-sdk authors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package ewebrtcsdk provides the core REST signaling transport for the
// Enhanced WebRTC SDK. Domain packages (phone, eventchannel) express their
// requests as named Operations and interpret the classified results; no
// call or session state lives here.
package ewebrtcsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Logger is the interface for SDK logging. Any logger that implements Printf
// (such as the standard library's *log.Logger) can be used.
type Logger interface {
	Printf(format string, v ...any)
}

// Client is the signaling transport client. It owns the base URL, the access
// token, and the HTTP client shared by all SDK components.
type Client struct {
	// HTTP client used to communicate with the signaling server
	httpClient *http.Client

	// Base URL for signaling requests
	BaseURL *url.URL

	// Access token for signaling authentication
	accessToken string

	// Configuration for the client
	Config *Config

	// Logger for SDK operations
	logger Logger
}

// Config holds the configuration for the signaling client
type Config struct {
	// BaseURL is the base URL of the signaling server API
	BaseURL string

	// Timeout for signaling requests
	Timeout time.Duration

	// Default headers to include in signaling requests
	DefaultHeaders map[string]string

	// Custom HTTP client to use instead of the default one.
	// If nil, a default client will be created with the specified Timeout.
	HttpClient *http.Client

	// MaxRetries is the maximum number of retries for transient errors
	// (429, 502, 503, 504). Set to 0 to disable retries. Default: 3.
	// Named call-control operations (Do) never retry; retries apply only
	// to RequestWithRetry, used for idempotent requests such as the
	// session keep-alive.
	MaxRetries int

	// RetryBaseDelay is the initial delay between retries. Default: 1s.
	// Subsequent retries use exponential backoff (delay * 2^attempt).
	RetryBaseDelay time.Duration

	// Logger is the logger for SDK operations. If nil, the standard
	// library's default logger (log.Default()) is used.
	Logger Logger
}

// DefaultConfig returns a default configuration for the signaling client
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.ewebrtc.example.com/RTC/v1",
		Timeout:        30 * time.Second,
		DefaultHeaders: make(map[string]string),
		HttpClient:     nil,
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
	}
}

// NewClient creates a new signaling client with the given access token and
// optional configuration
func NewClient(accessToken string, config *Config) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	if config == nil {
		config = DefaultConfig()
	}

	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		httpClient:  httpClient,
		BaseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
		Config:      config,
	}, nil
}

// GetAccessToken returns the access token used for signaling authentication
func (c *Client) GetAccessToken() string {
	return c.accessToken
}

// GetHTTPClient returns the HTTP client used for signaling requests
func (c *Client) GetHTTPClient() *http.Client {
	return c.httpClient
}

// GetLogger returns the logger used by the SDK.
func (c *Client) GetLogger() Logger {
	return c.logger
}

// ---- Named operations ----

// Operation describes one named signaling request. The Name tags every error
// produced while performing the operation, so callers never need to inspect
// raw transport status codes.
type Operation struct {
	// Name identifies the operation (e.g. "send-offer", "hold").
	Name string

	// Method is the HTTP method.
	Method string

	// Path is relative to the client's BaseURL.
	Path string

	// Params are optional query parameters.
	Params url.Values

	// Headers are optional per-operation headers.
	Headers map[string]string

	// Body, when non-nil, is JSON-encoded as the request body.
	Body interface{}

	// WantStatus is the expected success status. A 2xx response with a
	// different status is classified as a ProtocolError. Zero accepts
	// any 2xx.
	WantStatus int
}

// Result carries the outcome of a successfully performed operation.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Location returns the last path segment of the response's Location header,
// or an empty string if the header is absent. The signaling server identifies
// created resources this way.
func (r *Result) Location() string {
	loc := r.Headers.Get("Location")
	if loc == "" {
		return ""
	}
	for i := len(loc) - 1; i >= 0; i-- {
		if loc[i] == '/' {
			return loc[i+1:]
		}
	}
	return loc
}

// Decode unmarshals the result body into v.
func (r *Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Do performs a named operation exactly once and classifies the outcome.
// Transport failures become NetworkError or TimeoutError, HTTP-level failures
// become the matching APIError sub-type, and a 2xx response that does not
// match WantStatus becomes a ProtocolError. Every returned error is tagged
// with op.Name.
func (c *Client) Do(ctx context.Context, op Operation) (*Result, error) {
	u, err := url.Parse(c.BaseURL.String() + "/" + op.Path)
	if err != nil {
		return nil, NewProtocolError(op.Name, fmt.Sprintf("invalid operation path: %v", err), err)
	}
	if op.Params != nil {
		u.RawQuery = op.Params.Encode()
	}

	var bodyReader io.Reader
	if op.Body != nil {
		bodyBytes, err := json.Marshal(op.Body)
		if err != nil {
			return nil, NewProtocolError(op.Name, fmt.Sprintf("encoding request body: %v", err), err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, u.String(), bodyReader)
	if err != nil {
		return nil, NewProtocolError(op.Name, fmt.Sprintf("building request: %v", err), err)
	}

	c.setHeaders(req)
	for k, v := range op.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(op.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(op.Name, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := NewAPIError(resp, body)
		tagOperation(apiErr, op.Name)
		return nil, apiErr
	}

	if op.WantStatus != 0 && resp.StatusCode != op.WantStatus {
		return nil, NewProtocolError(op.Name,
			fmt.Sprintf("unexpected status %d (want %d)", resp.StatusCode, op.WantStatus), nil)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// classifyTransportError maps an HTTP client error to the error taxonomy.
func classifyTransportError(opName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(opName, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(opName, err)
	}
	return NewNetworkError(opName, err)
}

// setHeaders sets the standard signaling headers on a request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("trackingid", fmt.Sprintf("ewebrtc-go-sdk_%s", uuid.New().String()))
	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}
}

// ---- Plain requests (with retry) ----

// RequestWithContext performs a plain HTTP request with the given context,
// without the named-operation classification of Do. Transport failures are
// still mapped to NetworkError or TimeoutError; HTTP-level failures come back
// as the raw response for the caller to interpret.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestWithContext(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL.String() + "/" + path)
	if err != nil {
		return nil, err
	}

	if params != nil {
		u.RawQuery = params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(method+" "+path, err)
	}
	return resp, nil
}

// RequestWithRetry performs an HTTP request with automatic retry for transient
// errors. It retries on HTTP 429 (respecting the Retry-After header) and
// transient server errors (502, 503, 504) using exponential backoff.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestWithRetry(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 1 * time.Second
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = c.RequestWithContext(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		delay := retryDelay(resp, baseDelay, attempt)

		// Close the response body before retrying
		resp.Body.Close()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return resp, err
}

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// retryDelay calculates the delay before the next retry attempt.
// For 429 responses, it respects the Retry-After header if present.
// Otherwise, it uses exponential backoff: baseDelay * 2^attempt.
func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return baseDelay * (1 << uint(attempt))
}
