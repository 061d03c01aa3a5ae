package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds each individual request end to end.
const DefaultTimeout = 30 * time.Second

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type RequestOptions struct {
	ExtraHeaders map[string]string
}

// RawResponse is a completed HTTP exchange, kept raw so callers decide how to
// interpret status and body.
type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

func (r *RawResponse) Header(name string) string {
	if r == nil {
		return ""
	}
	return r.Headers.Get(name)
}

// TransportError reports a request that never produced a usable HTTP
// response: connection refusals, DNS failures, timeouts, truncated bodies.
type TransportError struct {
	Op      string
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Timeout {
		return fmt.Sprintf("%s %s: request timeout: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// Do sends one request and returns the raw exchange. Any completed response
// comes back as a value no matter its status code; errors are always
// *TransportError.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts RequestOptions) (*RawResponse, error) {
	fullURL := c.baseURL + path

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Op: "encode", URL: fullURL, Err: err}
		}
		payload = encoded
	}

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, &TransportError{Op: "build", URL: fullURL, Err: err}
	}
	if len(payload) > 0 {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for name, value := range opts.ExtraHeaders {
		request.Header.Set(name, value)
	}

	start := time.Now()
	response, err := c.client.Do(request)
	if err != nil {
		return nil, &TransportError{Op: "send", URL: fullURL, Timeout: isTimeout(err), Err: err}
	}
	defer response.Body.Close()

	bodyBytes, readErr := io.ReadAll(response.Body)
	raw := &RawResponse{
		StatusCode: response.StatusCode,
		Headers:    response.Header.Clone(),
		Body:       bodyBytes,
		Duration:   time.Since(start),
	}
	if readErr != nil {
		return raw, &TransportError{Op: "read", URL: fullURL, Timeout: isTimeout(readErr), Err: readErr}
	}
	return raw, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
