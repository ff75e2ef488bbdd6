// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

/*
client.go - Upstream Source Client

Fetches elements for a bounding box from a rotating list of upstream
endpoints:
  - exponential backoff with jitter up to a fixed attempt ceiling, skipping
    to the next endpoint on each attempt
  - per-endpoint circuit breaker so a consistently failing mirror is skipped
    without burning attempts
  - HTTP 429/502/503/504 treated as retryable overload
  - a "changed since" filter rejected with HTTP 400 triggers one immediate
    unfiltered re-fetch of the same bbox (completeness over saved bandwidth)
  - exhausting all retries returns an empty slice and logs a warning; callers
    must treat empty as "no data obtained", not "confirmed empty area"
*/
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/placemirror/placemirror/internal/logging"
	"github.com/placemirror/placemirror/internal/metrics"
	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/transform"
)

// errFilterRejected signals that an endpoint rejected the changed-since
// clause; the caller falls back to an unfiltered query for the same bbox.
var errFilterRejected = errors.New("changed-since filter rejected by endpoint")

// Config holds the source client tunables.
type Config struct {
	// Endpoints is the rotation list of upstream query URLs.
	Endpoints []string

	// Timeout bounds each HTTP call; this is what bounds worst-case
	// per-tile latency.
	Timeout time.Duration

	// MaxAttempts is the retry ceiling per fetch.
	MaxAttempts int

	// BackoffBase and BackoffMax shape the exponential backoff between
	// attempts (jitter is applied on top).
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// UserAgent identifies the mirror to upstream operators.
	UserAgent string
}

// envelope is the upstream JSON response shell.
type envelope struct {
	Elements []models.RawElement `json:"elements"`
}

// Client fetches raw elements from the upstream source. Safe for concurrent
// use from multiple tile workers.
type Client struct {
	cfg      Config
	http     *http.Client
	filters  []transform.TagFilter
	breakers []*gobreaker.CircuitBreaker[[]models.RawElement]
	cursor   atomic.Uint64
}

// NewClient creates a source client with one circuit breaker per endpoint.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "placemirror/1.0"
	}

	breakers := make([]*gobreaker.CircuitBreaker[[]models.RawElement], len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		breakers[i] = gobreaker.NewCircuitBreaker[[]models.RawElement](gobreaker.Settings{
			Name:    ep,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A watermark rejection is endpoint policy, not an outage; a
			// healthy endpoint that rejects the changed-since clause must
			// stay in rotation.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errFilterRejected)
			},
		})
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		filters:  transform.QueryFilters(),
		breakers: breakers,
	}
}

// Fetch returns the elements inside bbox, optionally restricted to elements
// changed since the given watermark. Never returns an error: retry
// exhaustion yields an empty slice and a warning.
func (c *Client) Fetch(ctx context.Context, bbox models.BBox, changedSince *time.Time) []models.RawElement {
	query := BuildQuery(c.filters, bbox, changedSince)

	elements, err := c.fetchWithRetry(ctx, query)
	if errors.Is(err, errFilterRejected) && changedSince != nil {
		// The endpoint cannot evaluate the watermark clause. Re-fetch the
		// whole bbox rather than silently missing updates.
		metrics.FilterFallbacks.Inc()
		logging.Debug().Msg("changed-since filter rejected, falling back to unfiltered query")
		elements, err = c.fetchWithRetry(ctx, BuildQuery(c.filters, bbox, nil))
	}
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("failed").Inc()
		logging.Warn().Err(err).
			Int("attempts", c.cfg.MaxAttempts).
			Msg("upstream fetch exhausted all retries, treating as no data")
		return nil
	}
	return elements
}

// fetchWithRetry runs the query with backoff and jitter, rotating endpoints
// on every attempt.
func (c *Client) fetchWithRetry(ctx context.Context, query string) ([]models.RawElement, error) {
	var elements []models.RawElement

	op := func() error {
		idx := c.nextEndpoint()
		els, err := c.breakers[idx].Execute(func() ([]models.RawElement, error) {
			return c.fetchOnce(ctx, c.cfg.Endpoints[idx], query)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// Breaker is shedding this endpoint; rotate to the next one.
				return err
			}
			return err
		}
		elements = els
		metrics.FetchAttempts.WithLabelValues("ok").Inc()
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffBase
	bo.MaxInterval = c.cfg.BackoffMax
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return elements, nil
}

// fetchOnce performs a single form-encoded POST against one endpoint.
func (c *Client) fetchOnce(ctx context.Context, endpoint, query string) ([]models.RawElement, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request for %s: %w", endpoint, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		// Network errors and timeouts are retryable on the next endpoint.
		metrics.FetchAttempts.WithLabelValues("retryable").Inc()
		return nil, fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, fmt.Errorf("decode response from %s: %w", endpoint, err)
		}
		return env.Elements, nil

	case http.StatusBadRequest:
		// Only meaningful when the query carried a changed-since clause;
		// Fetch decides whether to fall back.
		metrics.FetchAttempts.WithLabelValues("rejected_filter").Inc()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, backoff.Permanent(errFilterRejected)

	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		metrics.FetchAttempts.WithLabelValues("retryable").Inc()
		return nil, fmt.Errorf("endpoint %s overloaded: status %d", endpoint, resp.StatusCode)

	default:
		return nil, backoff.Permanent(fmt.Errorf("endpoint %s: unexpected status %d", endpoint, resp.StatusCode))
	}
}

// nextEndpoint advances the rotation cursor.
func (c *Client) nextEndpoint() int {
	return int((c.cursor.Add(1) - 1) % uint64(len(c.cfg.Endpoints)))
}
