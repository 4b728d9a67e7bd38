// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package validation

import "testing"

type ruleInput struct {
	Domain  string `validate:"required,rule_domain"`
	Channel string `validate:"required,channel_slug"`
}

func TestValidateStruct_Valid(t *testing.T) {
	in := ruleInput{Domain: "assistant.example.com", Channel: "custom_ai"}
	if verr := ValidateStruct(&in); verr != nil {
		t.Fatalf("unexpected validation error: %v", verr)
	}
}

func TestValidateStruct_RuleDomain(t *testing.T) {
	bad := []string{
		"https://assistant.example.com",
		"assistant.example.com/path",
		"assistant.example.com:8080",
		"localhost",
		"",
	}
	for _, domain := range bad {
		in := ruleInput{Domain: domain, Channel: "custom_ai"}
		if verr := ValidateStruct(&in); verr == nil {
			t.Errorf("domain %q should fail validation", domain)
		}
	}
}

func TestValidateStruct_ChannelSlug(t *testing.T) {
	bad := []string{"Custom AI", "9lives", "chat-gpt", "UPPER", ""}
	for _, channel := range bad {
		in := ruleInput{Domain: "assistant.example.com", Channel: channel}
		if verr := ValidateStruct(&in); verr == nil {
			t.Errorf("channel %q should fail validation", channel)
		}
	}
}

func TestValidateStruct_CollectsAllFields(t *testing.T) {
	in := ruleInput{}
	verr := ValidateStruct(&in)
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if len(verr.Fields) != 2 {
		t.Errorf("fields = %d, want 2", len(verr.Fields))
	}
	if verr.Error() == "" {
		t.Error("combined message should not be empty")
	}
}
