// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

/*
client.go - Commerce Admin API Client

HTTP client for the upstream commerce platform's admin API, used by the
backfill manager for paginated historical order queries.

Resilience:
  - Circuit breaker: opens after consecutive failures, 60s open period
  - Client-side rate limiting (token bucket, configurable rps)
  - HTTP 429 handling with exponential backoff honoring Retry-After
  - Context support on every request

Transient failures are surfaced to the caller as errors; the backfill job
manager marks the job failed rather than retrying within the same run.
*/

//nolint:staticcheck // File documentation, not package doc
package commerce

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/attriflow/attriflow/internal/metrics"
)

// maxErrorBodySize caps how much of an error response body is read back for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// OrderLister is the slice of the admin API the backfill manager consumes.
type OrderLister interface {
	// ListOrders returns one page of orders created inside [start, end).
	// pageInfo is the cursor from the previous page, "" for the first page.
	ListOrders(ctx context.Context, start, end time.Time, pageInfo string) (*OrdersPage, error)
}

// Resolver lazily resolves an admin API client for a shop. Resolution can
// fail (e.g. missing or revoked credentials); callers tolerate that by
// leaving the work for a later sweep or a manual trigger.
type Resolver func(ctx context.Context, shop string) (OrderLister, error)

// Config holds client construction parameters.
type Config struct {
	// BaseURL is the shop's admin API root, e.g. https://shop.example/admin/api/2026-01.
	BaseURL string

	// AccessToken is sent as the X-Admin-Access-Token header.
	AccessToken string

	// PageSize is the per-page order limit. Default 250 (the API maximum).
	PageSize int

	// RequestsPerSecond is the client-side rate limit. Default 2.
	RequestsPerSecond float64

	// Timeout is the per-request HTTP timeout. Default 30s.
	Timeout time.Duration
}

// Client is a resilient admin API client. Safe for concurrent use.
type Client struct {
	baseURL        string
	accessToken    string
	pageSize       int
	client         *http.Client
	limiter        *rate.Limiter
	breaker        *gobreaker.CircuitBreaker[*OrdersPage]
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewClient creates an admin API client for one shop.
func NewClient(cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*OrdersPage](gobreaker.Settings{
		Name:    "commerce-admin-api",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Client{
		baseURL:        cfg.BaseURL,
		accessToken:    cfg.AccessToken,
		pageSize:       cfg.PageSize,
		client:         &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker:        breaker,
		maxRetries:     5,
		retryBaseDelay: time.Second,
	}
}

// ListOrders implements OrderLister.
func (c *Client) ListOrders(ctx context.Context, start, end time.Time, pageInfo string) (*OrdersPage, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprint(c.pageSize))
	if pageInfo != "" {
		// Cursor requests must not repeat filter parameters.
		params.Set("page_info", pageInfo)
	} else {
		params.Set("created_at_min", start.UTC().Format(time.RFC3339))
		params.Set("created_at_max", end.UTC().Format(time.RFC3339))
		params.Set("status", "any")
	}

	reqURL := fmt.Sprintf("%s/orders.json?%s", c.baseURL, params.Encode())

	page, err := c.breaker.Execute(func() (*OrdersPage, error) {
		return c.fetchPage(ctx, reqURL)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.UpstreamRequestsTotal.WithLabelValues("breaker_open").Inc()
			return nil, fmt.Errorf("admin API circuit breaker open: %w", err)
		}
		return nil, err
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("ok").Inc()
	return page, nil
}

// fetchPage performs one rate-limited request with 429 backoff.
func (c *Client) fetchPage(ctx context.Context, reqURL string) (*OrdersPage, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("X-Admin-Access-Token", c.accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("admin API request failed: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var page OrdersPage
			err := json.NewDecoder(resp.Body).Decode(&page)
			closeBody(resp)
			if err != nil {
				return nil, fmt.Errorf("failed to decode orders page: %w", err)
			}
			return &page, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			metrics.UpstreamRequestsTotal.WithLabelValues("rate_limited").Inc()
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if parsed, err := time.ParseDuration(retryAfter + "s"); err == nil {
					delay = parsed
				}
			}
			closeBody(resp)
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("admin API rate limit persisted after %d retries", c.maxRetries)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			metrics.UpstreamRequestsTotal.WithLabelValues("http_error").Inc()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			closeBody(resp)
			return nil, fmt.Errorf("admin API returned status %d: %s", resp.StatusCode, string(body))
		}
	}
	return nil, fmt.Errorf("admin API request retries exhausted")
}

func closeBody(resp *http.Response) {
	_ = resp.Body.Close()
}
