// Package transport provides the blocking GET/POST capability used by every upstream client.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// BasicAuth holds optional HTTP basic-auth credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Response is the status and body of a completed request.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Doer performs GET and POST requests. Errors are reserved for network-level failures;
// any HTTP status is returned as a Response.
type Doer interface {
	Get(ctx context.Context, url string, auth *BasicAuth) (*Response, error)
	Post(ctx context.Context, url string, contentType string, body []byte, auth *BasicAuth) (*Response, error)
}

// Client is the net/http implementation of Doer.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get fetches url, accepting JSON.
func (c *Client) Get(ctx context.Context, url string, auth *BasicAuth) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, auth)
}

// Post sends body to url with the given content type.
func (c *Client) Post(ctx context.Context, url string, contentType string, body []byte, auth *BasicAuth) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	return c.do(req, auth)
}

func (c *Client) do(req *http.Request, auth *BasicAuth) (*Response, error) {
	if auth != nil && (auth.Username != "" || auth.Password != "") {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}
