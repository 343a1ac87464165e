// Package backend submits validated forms to the REST backend that owns
// persistence. The core never talks to the backend on its own; callers
// submit only after a complete validation pass succeeded.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrRejected is returned when the backend answers with a 4xx status.
var ErrRejected = errors.New("submission rejected by backend")

// ErrUnavailable is returned when every attempt failed with a transport
// error or a 5xx status.
var ErrUnavailable = errors.New("backend unavailable")

// Receipt describes an accepted submission.
type Receipt struct {
	StatusCode     int    `json:"statusCode"`
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
	Attempts       int    `json:"attempts"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithRetryDelays sets the waits between attempts; len(delays)+1 attempts
// are made in total.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(cl *Client) { cl.retryDelays = delays }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client posts JSON documents to the backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: []time.Duration{500 * time.Millisecond, 2 * time.Second},
		logger:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit POSTs payload to path with the caller's bearer token and the
// given idempotency key, retrying transport errors and 5xx responses with
// the same key.
func (c *Client) Submit(ctx context.Context, path, token, idempotencyKey string, payload any) (*Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var lastErr error
	for attempt := 1; attempt <= len(c.retryDelays)+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelays[attempt-2]):
			}
		}
		receipt, retry, err := c.post(ctx, url, token, idempotencyKey, body)
		if err == nil {
			receipt.Attempts = attempt
			c.logger.Info().
				Str("url", url).
				Str("idempotency_key", idempotencyKey).
				Int("status", receipt.StatusCode).
				Int("attempts", attempt).
				Msg("form submitted to backend")
			return receipt, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("backend submission failed, retrying")
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) post(ctx context.Context, url, token, key string, body []byte) (*Receipt, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	// Read at most 4KB of response body.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		receipt := &Receipt{StatusCode: resp.StatusCode, IdempotencyKey: key}
		var created struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(respBody, &created) == nil {
			receipt.ID = created.ID
		}
		return receipt, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil, false, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
}
