// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package commerce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:           srv.URL,
		AccessToken:       "test-token",
		RequestsPerSecond: 1000,
	})
	c.retryBaseDelay = time.Millisecond
	return c
}

func TestListOrders_FirstPageCarriesRangeFilters(t *testing.T) {
	var gotQuery map[string][]string
	var gotToken string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotToken = r.Header.Get("X-Admin-Access-Token")
		_ = json.NewEncoder(w).Encode(OrdersPage{
			Orders:       []RawOrder{{ID: "1001", TotalPrice: "42.50", Currency: "USD"}},
			NextPageInfo: "cursor-2",
		})
	})

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.ListOrders(context.Background(), start, end, "")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("access token header = %q", gotToken)
	}
	if got := gotQuery["created_at_min"]; len(got) != 1 || got[0] != "2026-05-01T00:00:00Z" {
		t.Errorf("created_at_min = %v", got)
	}
	if len(page.Orders) != 1 || page.Orders[0].ID != "1001" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.NextPageInfo != "cursor-2" {
		t.Errorf("next cursor = %q", page.NextPageInfo)
	}
}

func TestListOrders_CursorPageOmitsFilters(t *testing.T) {
	var gotQuery map[string][]string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_ = json.NewEncoder(w).Encode(OrdersPage{})
	})

	if _, err := c.ListOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), "cursor-2"); err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if got := gotQuery["page_info"]; len(got) != 1 || got[0] != "cursor-2" {
		t.Errorf("page_info = %v", got)
	}
	if _, ok := gotQuery["created_at_min"]; ok {
		t.Error("cursor request must not repeat created_at_min")
	}
}

func TestListOrders_RetriesRateLimit(t *testing.T) {
	var calls int
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(OrdersPage{Orders: []RawOrder{{ID: "1"}}})
	})

	page, err := c.ListOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), "")
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(page.Orders) != 1 {
		t.Errorf("orders = %d, want 1", len(page.Orders))
	}
}

func TestListOrders_ServerErrorSurfaces(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	if _, err := c.ListOrders(context.Background(), time.Now().Add(-time.Hour), time.Now(), ""); err == nil {
		t.Fatal("expected error for HTTP 502")
	}
}

func TestListOrders_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.ListOrders(ctx, time.Now().Add(-time.Hour), time.Now(), ""); err == nil {
			t.Fatal("expected failure")
		}
	}
	// Breaker is now open; the request must fail fast without hitting the
	// server.
	_, err := c.ListOrders(ctx, time.Now().Add(-time.Hour), time.Now(), "")
	if err == nil {
		t.Fatal("expected breaker-open error")
	}
}

func TestRawOrder_TotalCents(t *testing.T) {
	tests := []struct {
		price string
		want  int64
	}{
		{"123.45", 12345},
		{"0.99", 99},
		{"100", 10000},
		{"100.5", 10050},
		{"", 0},
		{"not-a-price", 0},
	}
	for _, tt := range tests {
		o := RawOrder{TotalPrice: tt.price}
		if got := o.TotalCents(); got != tt.want {
			t.Errorf("TotalCents(%q) = %d, want %d", tt.price, got, tt.want)
		}
	}
}

func TestRawOrder_TagList(t *testing.T) {
	o := RawOrder{Tags: "vip, ai-attributed ,  "}
	got := o.TagList()
	if len(got) != 2 || got[0] != "vip" || got[1] != "ai-attributed" {
		t.Errorf("TagList = %v", got)
	}
	if (&RawOrder{}).TagList() != nil {
		t.Error("empty tags should yield nil")
	}
}
