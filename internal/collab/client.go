// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/feedtuner/internal/metrics"
)

// ClientConfig configures one collaborator HTTP client.
type ClientConfig struct {
	// BaseURL is the collaborator endpoint root.
	BaseURL string `koanf:"base_url" json:"base_url"`

	// APIKey is sent as a bearer token when non-empty.
	APIKey string `koanf:"api_key" json:"api_key"`

	// Timeout bounds a single request.
	// Default: 10s
	Timeout time.Duration `koanf:"timeout" json:"timeout"`

	// MaxRetries caps backoff retries on rate limiting before the
	// error escalates to unavailable.
	// Default: 3
	MaxRetries int `koanf:"max_retries" json:"max_retries"`

	// RateLimit is the outbound request rate in requests per second.
	// Zero or negative disables limiting.
	// Default: 5
	RateLimit float64 `koanf:"rate_limit" json:"rate_limit"`

	// Burst is the rate limiter burst size.
	// Default: 5
	Burst int `koanf:"burst" json:"burst"`
}

// DefaultClientConfig returns client defaults (BaseURL must be set by
// the caller).
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RateLimit:  5,
		Burst:      5,
	}
}

// Validate checks client configuration.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	return nil
}

// client is the shared HTTP transport for collaborator calls: outbound
// rate limiting, a circuit breaker per collaborator, and exponential
// backoff on rate-limit responses.
type client struct {
	name    string
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
}

func newClient(name string, cfg ClientConfig, logger zerolog.Logger) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = cfg.Burst
		if burst < 1 {
			burst = 1
		}
	}

	l := logger.With().Str("component", "collab").Str("collaborator", name).Logger()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
			l.Warn().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
		},
	}

	return &client{
		name:    name,
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:  l,
	}
}

// call POSTs payload to path and decodes the JSON response into out.
// Rate-limit responses are retried with exponential backoff up to
// MaxRetries, then escalate to ErrUnavailable. All returned errors wrap
// one of the package sentinels.
func (c *client) call(ctx context.Context, path string, payload, out any) error {
	start := time.Now()
	err := c.doCall(ctx, path, payload, out)
	metrics.ObserveCollaborator(c.name, Outcome(err), start)
	return err
}

func (c *client) doCall(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrUnavailable, err)
	}

	var respBody []byte
	operation := func() error {
		respBody, err = c.breaker.Execute(func() ([]byte, error) {
			return c.post(ctx, path, body)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRateLimited) {
			return err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}
		return backoff.Permanent(err)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(err, ErrRateLimited) {
			// Retries exhausted.
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrMalformed, c.name, err)
	}
	return nil
}

// post performs one HTTP request and classifies transport-level
// failures.
func (c *client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
