// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package attribution

import "github.com/attriflow/attriflow/internal/models"

// DefaultDomainRules returns the built-in AI assistant referrer domains.
// Order matters: within the domain tier the first matching rule wins.
func DefaultDomainRules() []models.DomainRule {
	return []models.DomainRule{
		{Domain: "chatgpt.com", Channel: models.ChannelChatGPT, Source: models.RuleSourceDefault},
		{Domain: "chat.openai.com", Channel: models.ChannelChatGPT, Source: models.RuleSourceDefault},
		{Domain: "perplexity.ai", Channel: models.ChannelPerplexity, Source: models.RuleSourceDefault},
		{Domain: "claude.ai", Channel: models.ChannelClaude, Source: models.RuleSourceDefault},
		{Domain: "gemini.google.com", Channel: models.ChannelGemini, Source: models.RuleSourceDefault},
		{Domain: "copilot.microsoft.com", Channel: models.ChannelCopilot, Source: models.RuleSourceDefault},
		{Domain: "you.com", Channel: models.ChannelYouChat, Source: models.RuleSourceDefault},
		{Domain: "phind.com", Channel: models.ChannelPhind, Source: models.RuleSourceDefault},
		{Domain: "poe.com", Channel: models.ChannelPoe, Source: models.RuleSourceDefault},
	}
}

// DefaultUTMSourceRules returns the built-in utm_source values AI assistants
// attach to outbound links.
func DefaultUTMSourceRules() []models.UTMSourceRule {
	return []models.UTMSourceRule{
		{Value: "chatgpt.com", Channel: models.ChannelChatGPT, Source: models.RuleSourceDefault},
		{Value: "openai", Channel: models.ChannelChatGPT, Source: models.RuleSourceDefault},
		{Value: "perplexity", Channel: models.ChannelPerplexity, Source: models.RuleSourceDefault},
		{Value: "claude.ai", Channel: models.ChannelClaude, Source: models.RuleSourceDefault},
		{Value: "gemini", Channel: models.ChannelGemini, Source: models.RuleSourceDefault},
		{Value: "copilot", Channel: models.ChannelCopilot, Source: models.RuleSourceDefault},
	}
}

// DefaultMediumKeywords returns the utm_medium substrings that indicate
// assistant-originated traffic when no stronger rule fires.
func DefaultMediumKeywords() []string {
	return []string{"ai_assistant", "llm", "chat_referral"}
}

// DefaultRuleSet assembles the built-in rule set for a shop.
func DefaultRuleSet(shop string) *models.RuleSet {
	return &models.RuleSet{
		Shop:           shop,
		DomainRules:    DefaultDomainRules(),
		UTMSourceRules: DefaultUTMSourceRules(),
		MediumKeywords: DefaultMediumKeywords(),
	}
}
