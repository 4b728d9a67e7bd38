// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/attribution"
	"github.com/attriflow/attriflow/internal/commerce"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/metrics"
	"github.com/attriflow/attriflow/internal/models"
	"github.com/attriflow/attriflow/internal/pipeline"
)

// Webhook topics the processor handles.
const (
	TopicOrdersCreate    = "orders/create"
	TopicOrdersUpdated   = "orders/updated"
	TopicCheckoutsCreate = "checkouts/create"
)

// OrderStore is the persistence surface the webhook processor needs.
// *database.DB implements it.
type OrderStore interface {
	UpsertOrder(ctx context.Context, o *models.Order) error
	CustomerKnown(ctx context.Context, shop, customerID string) (bool, error)
	UpsertCustomer(ctx context.Context, shop, customerID string) error
	InsertCheckoutSession(ctx context.Context, cs *models.CheckoutSession) error
}

// RuleLoader yields the shop's attribution rule set. *settings.Manager
// implements it.
type RuleLoader interface {
	Load(ctx context.Context, shop string) (*models.RuleSet, error)
}

// ActivityMarker records pipeline activity timestamps and status chips.
// *pipeline.Store implements it.
type ActivityMarker interface {
	MarkActivity(ctx context.Context, shop string, u pipeline.ActivityUpdate) error
	UpdateStatuses(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error
}

// checkoutPayload is the slice of a checkouts/create webhook body we keep.
type checkoutPayload struct {
	Token         string    `json:"token"`
	Email         string    `json:"email"`
	ReferringSite string    `json:"referring_site"`
	CreatedAt     time.Time `json:"created_at"`
}

// Processor decodes webhook payloads, classifies orders and persists the
// results. One processor serves every shop; the shop comes from the job.
type Processor struct {
	store      OrderStore
	rules      RuleLoader
	activity   ActivityMarker
	classifier *attribution.Classifier
}

// NewProcessor creates a webhook processor.
func NewProcessor(store OrderStore, rules RuleLoader, activity ActivityMarker) *Processor {
	return &Processor{
		store:      store,
		rules:      rules,
		activity:   activity,
		classifier: attribution.NewClassifier(),
	}
}

// Register binds the processor's handlers onto the queue. orders/create and
// orders/updated share a handler; the order upsert makes redelivery and
// update replays converge on the same row.
func (p *Processor) Register(q *Queue) {
	q.Register(TopicOrdersCreate, p.HandleOrder)
	q.Register(TopicOrdersUpdated, p.HandleOrder)
	q.Register(TopicCheckoutsCreate, p.HandleCheckout)
}

// HandleOrder ingests one order webhook: filter, classify, persist.
func (p *Processor) HandleOrder(ctx context.Context, job Job) error {
	var raw commerce.RawOrder
	if err := json.Unmarshal(job.Payload, &raw); err != nil {
		return fmt.Errorf("failed to decode order payload: %w", err)
	}
	if raw.ID == "" {
		return fmt.Errorf("order payload has no id")
	}

	if !Ingestible(raw.SourceName) {
		logging.Debug().Str("shop", job.Shop).Str("order_id", raw.ID).
			Str("source_name", raw.SourceName).Msg("skipping non-storefront order")
		return nil
	}

	order, err := p.BuildOrder(ctx, job.Shop, &raw)
	if err != nil {
		return err
	}
	if err := p.store.UpsertOrder(ctx, order); err != nil {
		return err
	}
	if order.CustomerID != "" {
		if err := p.store.UpsertCustomer(ctx, job.Shop, order.CustomerID); err != nil {
			logging.Warn().Err(err).Str("shop", job.Shop).Str("order_id", raw.ID).
				Msg("customer upsert failed")
		}
	}

	p.markWebhookActivity(ctx, job.Shop)
	return nil
}

// BuildOrder classifies the raw order and maps it to the persistence model.
// The new-customer flag is computed before the customer row is upserted, so
// the order that introduces a customer is the one flagged.
func (p *Processor) BuildOrder(ctx context.Context, shop string, raw *commerce.RawOrder) (*models.Order, error) {
	rules, err := p.rules.Load(ctx, shop)
	if err != nil {
		// Default rules still classify the big assistants; better than
		// dropping the order.
		logging.Warn().Err(err).Str("shop", shop).
			Msg("rule set load failed, classifying with defaults")
		rules = attribution.DefaultRuleSet(shop)
	}

	utmSource, utmMedium := attribution.ExtractUTM(raw.LandingSite, raw.ReferringSite)
	result := p.classifier.Classify(attribution.Input{
		Referrer:    raw.ReferringSite,
		LandingPage: raw.LandingSite,
		SourceName:  raw.SourceName,
		UTMSource:   utmSource,
		UTMMedium:   utmMedium,
		Tags:        raw.TagList(),
	}, rules)

	channelLabel := ""
	if result.AISource != nil {
		channelLabel = string(*result.AISource)
	}
	metrics.ClassificationsTotal.WithLabelValues(channelLabel).Inc()

	newCustomer := false
	if customerID := raw.CustomerID(); customerID != "" {
		known, err := p.store.CustomerKnown(ctx, shop, customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to check customer history: %w", err)
		}
		newCustomer = !known
	}

	return &models.Order{
		Shop:        shop,
		ExternalID:  raw.ID,
		CreatedAt:   raw.CreatedAt,
		TotalCents:  raw.TotalCents(),
		Currency:    raw.Currency,
		AISource:    result.AISource,
		Detection:   result.Detection,
		Signals:     result.Signals,
		Referrer:    raw.ReferringSite,
		LandingPage: raw.LandingSite,
		UTMSource:   utmSource,
		UTMMedium:   utmMedium,
		SourceName:  raw.SourceName,
		CustomerID:  raw.CustomerID(),
		NewCustomer: newCustomer,
		Tags:        raw.TagList(),
	}, nil
}

// HandleCheckout records a checkout funnel event.
func (p *Processor) HandleCheckout(ctx context.Context, job Job) error {
	var payload checkoutPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode checkout payload: %w", err)
	}
	if payload.Token == "" {
		return fmt.Errorf("checkout payload has no token")
	}
	if payload.CreatedAt.IsZero() {
		payload.CreatedAt = job.EnqueuedAt
	}

	err := p.store.InsertCheckoutSession(ctx, &models.CheckoutSession{
		Shop:      job.Shop,
		Token:     payload.Token,
		Email:     payload.Email,
		Referrer:  payload.ReferringSite,
		CreatedAt: payload.CreatedAt,
	})
	if err != nil {
		return err
	}

	p.markWebhookActivity(ctx, job.Shop)
	return nil
}

// markWebhookActivity advances the shop's last-webhook timestamp and its
// dashboard chip.
func (p *Processor) markWebhookActivity(ctx context.Context, shop string) {
	now := time.Now().UTC()
	if err := p.activity.MarkActivity(ctx, shop, pipeline.ActivityUpdate{LastWebhookAt: &now}); err != nil {
		logging.Warn().Err(err).Str("shop", shop).Msg("pipeline activity update failed")
	}

	chip := models.StatusChip{
		Title:  "Webhooks",
		Status: models.ChipHealthy,
		Detail: "last event processed " + now.Format(time.RFC3339),
	}
	if err := p.activity.UpdateStatuses(ctx, shop, func(chips []models.StatusChip) []models.StatusChip {
		return pipeline.SetChip(chips, chip)
	}); err != nil {
		logging.Warn().Err(err).Str("shop", shop).Msg("pipeline status update failed")
	}
}

// Ingestible reports whether an order from this source belongs in the
// attribution dataset. Point-of-sale and draft orders have no web traffic
// signals, so storing them would only dilute the stats.
func Ingestible(sourceName string) bool {
	switch strings.ToLower(strings.TrimSpace(sourceName)) {
	case "pos", "draft", "draft_order":
		return false
	}
	return true
}
