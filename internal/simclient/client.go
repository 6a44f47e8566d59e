// Package simclient provides the client for the remote crop simulation
// service.
//
// A simulation runs a full-season crop model and can take minutes, so every
// attempt is bounded by its own timeout and failed attempts are retried with
// exponential backoff. Rate limits (429) and server errors (5xx) honor the
// service's Retry-After header.
//
// # Usage
//
//	client := simclient.NewClient(simclient.Config{
//	    Endpoint:   "http://localhost:8001/api-proxy",
//	    MaxRetries: 3,
//	})
//
//	resp, err := client.Simulate(ctx, req)
package simclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/explant/explant/internal/telemetry"
)

const (
	DefaultTimeout        = 120 * time.Second
	DefaultMaxRetries     = 3
	DefaultBaseRetryDelay = 600 * time.Millisecond
	MinBaseRetryDelay     = 100 * time.Millisecond
)

// Config holds configuration for the simulation client.
type Config struct {
	// Endpoint is the full URL requests are POSTed to.
	Endpoint string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds a single attempt. Defaults to 2 minutes if zero.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retries; negative values are treated as zero.
	MaxRetries int

	// BaseRetryDelay is the backoff before the first retry; it doubles on
	// every following one. Defaults to 600ms if zero, never below 100ms.
	BaseRetryDelay time.Duration

	// HTTPClient allows injecting a custom HTTP client (useful for testing).
	HTTPClient *http.Client

	// Sink receives one event per attempt, delay and outcome.
	Sink telemetry.Sink
}

// DefaultConfig returns the stock settings for endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		BaseRetryDelay: DefaultBaseRetryDelay,
	}
}

// Client is a simulation service client.
type Client struct {
	config Config
	http   *http.Client
	sink   telemetry.Sink

	mu        sync.RWMutex
	authToken string
}

// Normalize returns cfg with defaults and floors applied, as NewClient
// uses it.
func (cfg Config) Normalize() Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if cfg.BaseRetryDelay < MinBaseRetryDelay {
		cfg.BaseRetryDelay = MinBaseRetryDelay
	}
	return cfg
}

// WorstCase is how long Simulate can take when every attempt times out and
// no Retry-After hint stretches the backoff.
func (cfg Config) WorstCase() time.Duration {
	cfg = cfg.Normalize()
	total := cfg.Timeout * time.Duration(cfg.MaxRetries+1)
	for i := range cfg.MaxRetries {
		total += cfg.BaseRetryDelay << i
	}
	return total
}

// NewClient creates a client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg = cfg.Normalize()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No client-wide timeout: each attempt carries its own deadline.
		httpClient = &http.Client{}
	}
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}

	return &Client{
		config: cfg,
		http:   httpClient,
		sink:   sink,
	}
}

// SetAuthToken sets the bearer token sent with every request (thread-safe).
// An empty token disables the Authorization header.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = strings.TrimSpace(token)
}

// AuthToken returns the current bearer token (thread-safe).
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// Endpoint returns the configured endpoint.
func (c *Client) Endpoint() string { return c.config.Endpoint }

// MaxAttempts is the total number of attempts a call may make.
func (c *Client) MaxAttempts() int { return c.config.MaxRetries + 1 }

// Simulate sends req and returns the decoded reply. After retries are
// exhausted it fails with *TimeoutError, *HTTPError or *NetworkError. A
// reply that is valid JSON of the wrong structure fails at once with
// *ShapeError. If ctx itself is canceled the loop stops and ctx's error is
// returned.
func (c *Client) Simulate(ctx context.Context, req SimulationRequest) (*SimulationResponse, error) {
	if c.config.Endpoint == "" {
		err := &NetworkError{Err: ErrNoEndpoint}
		c.emit(ctx, telemetry.Event{Kind: telemetry.KindFailure, Class: err.Class(), Message: err.Error()})
		return nil, err
	}

	body, err := req.Wire()
	if err != nil {
		return nil, fmt.Errorf("simclient: marshal request: %w", err)
	}

	maxAttempts := c.MaxAttempts()
	attempt := 0
	var hint time.Duration
	var lastClass string

	backoff := retry.WithMaxRetries(uint64(c.config.MaxRetries), retry.BackoffFunc(func() (time.Duration, bool) {
		delay := c.retryDelay(attempt-1, hint)
		c.emit(ctx, telemetry.Event{
			Kind:        telemetry.KindRetry,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			DelayMs:     delay.Milliseconds(),
			Class:       lastClass,
			Message:     fmt.Sprintf("retrying (%d/%d)", attempt, c.config.MaxRetries),
		})
		return delay, false
	}))

	var out *SimulationResponse
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		index := attempt
		attempt++
		hint = 0

		resp, err := c.doAttempt(ctx, body, index, maxAttempts)
		if err == nil {
			out = resp
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var shapeErr *ShapeError
		if errors.As(err, &shapeErr) {
			return err
		}
		lastClass = telemetry.ClassOf(err)
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if !httpErr.IsRetryable() {
				return err
			}
			if httpErr.IsRateLimited() {
				lastClass = ClassRateLimited
			}
			hint = httpErr.RetryAfter
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.emit(ctx, telemetry.Event{
			Kind:        telemetry.KindFailure,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Class:       telemetry.ClassOf(err),
			Message:     err.Error(),
		})
		return nil, err
	}

	c.emit(ctx, telemetry.Event{
		Kind:        telemetry.KindSuccess,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Message:     fmt.Sprintf("soil=%t growth=%t", out.Soil != nil, out.HasGrowth),
	})
	return out, nil
}

// doAttempt runs one attempt under its own deadline and classifies the
// outcome.
func (c *Client) doAttempt(ctx context.Context, body []byte, index, maxAttempts int) (*SimulationResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.emit(ctx, telemetry.Event{Kind: telemetry.KindAttempt, Attempt: index + 1, MaxAttempts: maxAttempts})

	start := time.Now()
	resp, status, err := c.doRequest(attemptCtx, body)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Timeout: c.config.Timeout, Attempt: index + 1}
	}

	ev := telemetry.Event{
		Kind:        telemetry.KindResponse,
		Attempt:     index + 1,
		MaxAttempts: maxAttempts,
		Status:      status,
		ElapsedMs:   elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Class = telemetry.ClassOf(err)
		ev.Message = err.Error()
	}
	c.emit(ctx, ev)

	return resp, err
}

// doRequest sends a single POST and decodes the reply. The returned status
// is zero when no response was received.
func (c *Client) doRequest(ctx context.Context, body []byte) (*SimulationResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &NetworkError{Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if token := c.AuthToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if !json.Valid(respBody) {
		return nil, resp.StatusCode, &NetworkError{Err: errors.New("response body is not valid JSON")}
	}
	var out SimulationResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		var shapeErr *ShapeError
		if errors.As(err, &shapeErr) {
			return nil, resp.StatusCode, shapeErr
		}
		return nil, resp.StatusCode, &ShapeError{Reason: "unexpected structure", Err: err}
	}
	return &out, resp.StatusCode, nil
}

// retryDelay is the wait after the failed attempt with the given index.
// A positive server hint wins over exponential backoff.
func (c *Client) retryDelay(index int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	if index < 0 {
		index = 0
	}
	return c.config.BaseRetryDelay << uint(index)
}

// parseRetryAfter reads a Retry-After value in seconds. HTTP dates and
// non-positive values yield zero.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 || secs > 24*60*60 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func (c *Client) emit(ctx context.Context, ev telemetry.Event) {
	telemetry.Emit(ctx, telemetry.Safe(c.sink), ev)
}
