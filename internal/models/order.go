// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package models

import "time"

// Channel identifies the classified traffic source of an order.
// The zero value means "not classified".
type Channel string

// Known AI assistant channels. Rule sets may introduce additional custom
// channel labels; these constants cover the built-in default rules.
const (
	ChannelChatGPT    Channel = "chatgpt"
	ChannelPerplexity Channel = "perplexity"
	ChannelClaude     Channel = "claude"
	ChannelGemini     Channel = "gemini"
	ChannelCopilot    Channel = "copilot"
	ChannelYouChat    Channel = "you"
	ChannelPhind      Channel = "phind"
	ChannelPoe        Channel = "poe"
	ChannelBingChat   Channel = "bing_chat"
	ChannelGoogleAI   Channel = "google_ai"

	// ChannelOtherAI labels traffic that is recognizably assistant-originated
	// (e.g. a utm_medium keyword) without identifying a specific assistant.
	ChannelOtherAI Channel = "other_ai"

	// ChannelNone is used in custom rules to explicitly exclude a domain or
	// UTM value from AI attribution. An order matching a ChannelNone rule is
	// left unclassified and the heuristic is suppressed for that domain.
	ChannelNone Channel = "none"
)

// Order is a locally persisted e-commerce order enriched with attribution.
//
// Invariant: AISource is non-nil if and only if Detection is non-empty.
// Signals is provenance for the dashboard evidence chain and is never
// re-parsed to make classification decisions.
type Order struct {
	Shop        string    `json:"shop" db:"shop"`
	ExternalID  string    `json:"external_id" db:"external_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	TotalCents  int64     `json:"total_cents" db:"total_cents"`
	Currency    string    `json:"currency" db:"currency"`
	AISource    *Channel  `json:"ai_source,omitempty" db:"ai_source"`
	Detection   string    `json:"detection" db:"detection"`
	Signals     []string  `json:"signals" db:"signals"`
	Referrer    string    `json:"referrer" db:"referrer"`
	LandingPage string    `json:"landing_page" db:"landing_page"`
	UTMSource   string    `json:"utm_source" db:"utm_source"`
	UTMMedium   string    `json:"utm_medium" db:"utm_medium"`
	SourceName  string    `json:"source_name" db:"source_name"`
	CustomerID  string    `json:"customer_id" db:"customer_id"`
	NewCustomer bool      `json:"new_customer" db:"new_customer"`
	Tags        []string  `json:"tags" db:"tags"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Customer is the minimal customer record retained for attribution and
// retention accounting. Orders reference customers by external id.
type Customer struct {
	Shop       string    `json:"shop" db:"shop"`
	ExternalID string    `json:"external_id" db:"external_id"`
	FirstSeen  time.Time `json:"first_seen" db:"first_seen"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// CheckoutSession is a short-lived auxiliary record created by checkout
// webhooks and used for funnel reporting. Purged by retention alongside
// orders; may carry personal data (email) and must not outlive the cutoff.
type CheckoutSession struct {
	Shop      string    `json:"shop" db:"shop"`
	Token     string    `json:"token" db:"token"`
	Email     string    `json:"email,omitempty" db:"email"`
	Referrer  string    `json:"referrer" db:"referrer"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
