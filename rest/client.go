// Package rest is the HTTP transport collaborator for the Pals REST API.
// It wraps verb helpers around a shared http.Client and maps response
// statuses onto the palserr taxonomy. Retry and rate-limit policy are the
// caller's concern; this layer only surfaces typed errors.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pals-labs/gopals/auth"
	"github.com/pals-labs/gopals/palserr"
	"go.uber.org/zap"
)

const maxErrorBody = 2048

// Client issues authenticated JSON requests against the REST API.
type Client struct {
	httpc *http.Client
	base  string
	creds auth.Source
	log   *zap.Logger
}

// NewClient creates a REST client for the given base URL. httpc may be nil,
// in which case a default client with a 30s timeout is used.
func NewClient(baseURL string, creds auth.Source, httpc *http.Client, logger *zap.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpc: httpc,
		base:  strings.TrimRight(baseURL, "/"),
		creds: creds,
		log:   logger,
	}
}

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT request with a JSON body and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	creds, err := c.creds.Credentials()
	if err != nil {
		return &palserr.AuthenticationError{Reason: "rest request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	if creds.SessionID != "" {
		req.Header.Set("X-Session-ID", creds.SessionID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return c.statusError(resp, path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response, path string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return &palserr.AuthenticationError{Reason: "rest " + path}
	case http.StatusTooManyRequests:
		return &palserr.RateLimitError{RetryAfter: retryAfter(resp)}
	default:
		c.log.Debug("rest error response",
			zap.Int("status", resp.StatusCode),
			zap.String("path", path))
		return &palserr.APIError{
			Status: resp.StatusCode,
			Path:   path,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(raw); err == nil {
		return time.Until(t)
	}
	return 0
}
