// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/attribution"
	"github.com/attriflow/attriflow/internal/models"
	"github.com/attriflow/attriflow/internal/pipeline"
)

type fakeOrderStore struct {
	orders    map[string]*models.Order
	customers map[string]bool
	checkouts []models.CheckoutSession
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders:    make(map[string]*models.Order),
		customers: make(map[string]bool),
	}
}

func (f *fakeOrderStore) UpsertOrder(_ context.Context, o *models.Order) error {
	cp := *o
	f.orders[o.ExternalID] = &cp
	return nil
}

func (f *fakeOrderStore) CustomerKnown(_ context.Context, _, customerID string) (bool, error) {
	return f.customers[customerID], nil
}

func (f *fakeOrderStore) UpsertCustomer(_ context.Context, _, customerID string) error {
	if customerID != "" {
		f.customers[customerID] = true
	}
	return nil
}

func (f *fakeOrderStore) InsertCheckoutSession(_ context.Context, cs *models.CheckoutSession) error {
	f.checkouts = append(f.checkouts, *cs)
	return nil
}

type fakeRules struct{}

func (fakeRules) Load(_ context.Context, shop string) (*models.RuleSet, error) {
	return attribution.DefaultRuleSet(shop), nil
}

type fakeActivity struct {
	updates []pipeline.ActivityUpdate
	chips   []models.StatusChip
}

func (f *fakeActivity) MarkActivity(_ context.Context, _ string, u pipeline.ActivityUpdate) error {
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeActivity) UpdateStatuses(_ context.Context, _ string, fn func([]models.StatusChip) []models.StatusChip) error {
	f.chips = fn(f.chips)
	return nil
}

func chipByTitle(chips []models.StatusChip, title string) *models.StatusChip {
	for i := range chips {
		if chips[i].Title == title {
			return &chips[i]
		}
	}
	return nil
}

func orderJob(t *testing.T, payload any) Job {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Job{
		ID:         "job-1",
		Shop:       "shop.example",
		Topic:      TopicOrdersCreate,
		EnqueuedAt: time.Now().UTC(),
		Payload:    data,
	}
}

func TestHandleOrder_ClassifiesAndPersists(t *testing.T) {
	store := newFakeOrderStore()
	activity := &fakeActivity{}
	p := NewProcessor(store, fakeRules{}, activity)

	job := orderJob(t, map[string]any{
		"id":             "1001",
		"created_at":     "2026-08-01T12:00:00Z",
		"total_price":    "99.95",
		"currency":       "USD",
		"referring_site": "https://chatgpt.com/some/thread",
		"source_name":    "web",
		"customer":       map[string]string{"id": "c-1"},
	})
	if err := p.HandleOrder(context.Background(), job); err != nil {
		t.Fatalf("HandleOrder: %v", err)
	}

	order := store.orders["1001"]
	if order == nil {
		t.Fatal("order was not persisted")
	}
	if order.AISource == nil || *order.AISource != models.ChannelChatGPT {
		t.Errorf("AISource = %v, want chatgpt", order.AISource)
	}
	if order.Detection == "" || len(order.Signals) == 0 {
		t.Errorf("classified order missing evidence: detection=%q signals=%v", order.Detection, order.Signals)
	}
	if order.TotalCents != 9995 {
		t.Errorf("TotalCents = %d, want 9995", order.TotalCents)
	}
	if !order.NewCustomer {
		t.Error("first sighting of c-1 should set NewCustomer")
	}
	if !store.customers["c-1"] {
		t.Error("customer row was not upserted")
	}
	if len(activity.updates) != 1 || activity.updates[0].LastWebhookAt == nil {
		t.Errorf("activity updates = %+v, want one LastWebhookAt", activity.updates)
	}
	chip := chipByTitle(activity.chips, "Webhooks")
	if chip == nil || chip.Status != models.ChipHealthy {
		t.Errorf("webhook chip = %+v, want healthy", chip)
	}
}

func TestHandleOrder_ReturningCustomerIsNotNew(t *testing.T) {
	store := newFakeOrderStore()
	store.customers["c-1"] = true
	p := NewProcessor(store, fakeRules{}, &fakeActivity{})

	job := orderJob(t, map[string]any{
		"id":       "1002",
		"customer": map[string]string{"id": "c-1"},
	})
	if err := p.HandleOrder(context.Background(), job); err != nil {
		t.Fatalf("HandleOrder: %v", err)
	}
	if store.orders["1002"].NewCustomer {
		t.Error("known customer must not be flagged new")
	}
}

func TestHandleOrder_SkipsNonStorefrontSources(t *testing.T) {
	store := newFakeOrderStore()
	activity := &fakeActivity{}
	p := NewProcessor(store, fakeRules{}, activity)

	for _, source := range []string{"pos", "POS", "draft", "draft_order"} {
		job := orderJob(t, map[string]any{"id": "2001", "source_name": source})
		if err := p.HandleOrder(context.Background(), job); err != nil {
			t.Fatalf("HandleOrder(%s): %v", source, err)
		}
	}
	if len(store.orders) != 0 {
		t.Errorf("filtered orders were persisted: %v", store.orders)
	}
	if len(activity.updates) != 0 {
		t.Error("filtered orders must not advance webhook activity")
	}
}

func TestHandleOrder_UnclassifiedOrderStillPersisted(t *testing.T) {
	store := newFakeOrderStore()
	p := NewProcessor(store, fakeRules{}, &fakeActivity{})

	job := orderJob(t, map[string]any{
		"id":             "3001",
		"referring_site": "https://news.example.com/article",
	})
	if err := p.HandleOrder(context.Background(), job); err != nil {
		t.Fatalf("HandleOrder: %v", err)
	}

	order := store.orders["3001"]
	if order == nil {
		t.Fatal("unclassified order must still be stored")
	}
	if order.AISource != nil || order.Detection != "" || len(order.Signals) != 0 {
		t.Errorf("order should be unclassified: %+v", order)
	}
}

func TestHandleOrder_RejectsUndecodablePayload(t *testing.T) {
	p := NewProcessor(newFakeOrderStore(), fakeRules{}, &fakeActivity{})
	job := Job{ID: "job-x", Shop: "shop.example", Topic: TopicOrdersCreate, Payload: json.RawMessage(`{`)}
	if err := p.HandleOrder(context.Background(), job); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestHandleCheckout_RecordsSession(t *testing.T) {
	store := newFakeOrderStore()
	p := NewProcessor(store, fakeRules{}, &fakeActivity{})

	payload, _ := json.Marshal(map[string]string{
		"token":          "tok-1",
		"email":          "buyer@example.com",
		"referring_site": "https://perplexity.ai/search",
		"created_at":     "2026-08-01T12:00:00Z",
	})
	job := Job{ID: "job-2", Shop: "shop.example", Topic: TopicCheckoutsCreate, Payload: payload}
	if err := p.HandleCheckout(context.Background(), job); err != nil {
		t.Fatalf("HandleCheckout: %v", err)
	}

	if len(store.checkouts) != 1 {
		t.Fatalf("checkouts = %d, want 1", len(store.checkouts))
	}
	cs := store.checkouts[0]
	if cs.Token != "tok-1" || cs.Shop != "shop.example" {
		t.Errorf("session = %+v", cs)
	}
}

func TestHandleCheckout_MissingTokenFails(t *testing.T) {
	p := NewProcessor(newFakeOrderStore(), fakeRules{}, &fakeActivity{})
	job := Job{ID: "job-3", Shop: "shop.example", Topic: TopicCheckoutsCreate, Payload: json.RawMessage(`{}`)}
	if err := p.HandleCheckout(context.Background(), job); err == nil {
		t.Fatal("expected error for missing token")
	}
}
