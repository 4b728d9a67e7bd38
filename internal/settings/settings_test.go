// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package settings

import (
	"context"
	"testing"

	"github.com/attriflow/attriflow/internal/attribution"
	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/models"
)

type fakeRuleStore struct {
	sets  map[string]*models.RuleSet
	saves int
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{sets: make(map[string]*models.RuleSet)}
}

func (f *fakeRuleStore) GetRuleSet(_ context.Context, shop string) (*models.RuleSet, error) {
	rs, ok := f.sets[shop]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rs
	return &cp, nil
}

func (f *fakeRuleStore) SaveRuleSet(_ context.Context, rs *models.RuleSet) error {
	f.saves++
	cp := *rs
	f.sets[rs.Shop] = &cp
	return nil
}

func (f *fakeRuleStore) DeleteRuleSet(_ context.Context, shop string) error {
	delete(f.sets, shop)
	return nil
}

func TestLoad_MaterializesDefaultsOnFirstRead(t *testing.T) {
	store := newFakeRuleStore()
	mgr := NewManager(store)

	rs, err := mgr.Load(context.Background(), "shop.example")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rs.DomainRules) != len(attribution.DefaultDomainRules()) {
		t.Errorf("domain rules = %d, want default set", len(rs.DomainRules))
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1 (materialization)", store.saves)
	}

	// Second read must not re-save.
	if _, err := mgr.Load(context.Background(), "shop.example"); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if store.saves != 1 {
		t.Errorf("saves after second load = %d, want 1", store.saves)
	}
}

func TestUpdate_StampsCustomAndKeepsDefaults(t *testing.T) {
	store := newFakeRuleStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rs, err := mgr.Update(ctx, "shop.example",
		[]models.DomainRule{{Domain: "assistant.example", Channel: "custom_ai"}},
		[]models.UTMSourceRule{{Value: "assistant", Channel: "custom_ai"}},
		nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	customs := rs.CustomDomainRules()
	if len(customs) != 1 || customs[0].Source != models.RuleSourceCustom {
		t.Fatalf("custom domain rules = %+v, want one custom-stamped rule", customs)
	}
	if len(rs.DomainRules) != len(attribution.DefaultDomainRules())+1 {
		t.Errorf("defaults were not preserved: %d rules", len(rs.DomainRules))
	}
	if len(rs.MediumKeywords) != len(attribution.DefaultMediumKeywords()) {
		t.Errorf("nil keywords should leave the stored list untouched")
	}
}

func TestUpdate_ReplacesPreviousCustomRules(t *testing.T) {
	store := newFakeRuleStore()
	mgr := NewManager(store)
	ctx := context.Background()

	if _, err := mgr.Update(ctx, "shop.example",
		[]models.DomainRule{{Domain: "old.example", Channel: "old"}}, nil, nil); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	rs, err := mgr.Update(ctx, "shop.example",
		[]models.DomainRule{{Domain: "new.example", Channel: "new"}}, nil, nil)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}

	customs := rs.CustomDomainRules()
	if len(customs) != 1 || customs[0].Domain != "new.example" {
		t.Errorf("custom rules = %+v, want only new.example", customs)
	}
}

func TestReset_DropsCustomRules(t *testing.T) {
	store := newFakeRuleStore()
	mgr := NewManager(store)
	ctx := context.Background()

	if _, err := mgr.Update(ctx, "shop.example",
		[]models.DomainRule{{Domain: "assistant.example", Channel: "custom_ai"}}, nil,
		[]string{"custom_keyword"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rs, err := mgr.Reset(ctx, "shop.example")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(rs.CustomDomainRules()) != 0 {
		t.Errorf("custom rules survived reset: %+v", rs.CustomDomainRules())
	}
	if len(rs.DomainRules) != len(attribution.DefaultDomainRules()) {
		t.Errorf("reset set has %d domain rules, want default set", len(rs.DomainRules))
	}
	if len(rs.MediumKeywords) != len(attribution.DefaultMediumKeywords()) {
		t.Error("keyword override survived reset")
	}
}

func TestUpgradeDefaults_PreservesCustomRules(t *testing.T) {
	store := newFakeRuleStore()
	mgr := NewManager(store)
	ctx := context.Background()

	if _, err := mgr.Update(ctx, "shop.example",
		[]models.DomainRule{{Domain: "assistant.example", Channel: "custom_ai"}}, nil, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rs, err := mgr.UpgradeDefaults(ctx, "shop.example")
	if err != nil {
		t.Fatalf("UpgradeDefaults: %v", err)
	}
	if len(rs.CustomDomainRules()) != 1 {
		t.Errorf("custom rule lost in upgrade: %+v", rs.DomainRules)
	}
	if len(rs.DomainRules) != len(attribution.DefaultDomainRules())+1 {
		t.Errorf("upgraded set has %d domain rules", len(rs.DomainRules))
	}
}
