// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package commerce

import (
	"strconv"
	"strings"
	"time"
)

// RawOrder is one order as returned by the commerce platform's admin API.
type RawOrder struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	TotalPrice    string    `json:"total_price"` // decimal string, e.g. "123.45"
	Currency      string    `json:"currency"`
	ReferringSite string    `json:"referring_site"`
	LandingSite   string    `json:"landing_site"`
	SourceName    string    `json:"source_name"`
	Tags          string    `json:"tags"` // comma-separated
	Customer      *struct {
		ID string `json:"id"`
	} `json:"customer"`
}

// TotalCents converts the decimal price string to integer cents. Unparsable
// prices yield 0; upstream money strings always carry two decimals.
func (o *RawOrder) TotalCents() int64 {
	s := strings.TrimSpace(o.TotalPrice)
	if s == "" {
		return 0
	}
	whole, frac, _ := strings.Cut(s, ".")
	cents, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	cents *= 100
	if len(frac) > 0 {
		if len(frac) > 2 {
			frac = frac[:2]
		}
		for len(frac) < 2 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0
		}
		if cents < 0 {
			cents -= f
		} else {
			cents += f
		}
	}
	return cents
}

// TagList splits the comma-separated tag string.
func (o *RawOrder) TagList() []string {
	if strings.TrimSpace(o.Tags) == "" {
		return nil
	}
	parts := strings.Split(o.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// CustomerID returns the customer id or "" for guest checkouts.
func (o *RawOrder) CustomerID() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.ID
}

// OrdersPage is one page of a cursor-paginated order listing. An empty
// NextPageInfo means the listing is exhausted.
type OrdersPage struct {
	Orders       []RawOrder `json:"orders"`
	NextPageInfo string     `json:"next_page_info"`
}
