// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field constraints and normalizes soft mistakes.
// Hard misconfiguration (unroutable port, empty DSN) fails startup; values
// that merely degrade behavior are clamped with the clamp reported through
// the returned config itself.
func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Retention.validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if err := c.Backfill.validate(); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if err := c.Scheduler.validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	for i, shop := range c.Shops {
		if err := shop.validate(); err != nil {
			return fmt.Errorf("shops[%d]: %w", i, err)
		}
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", s.Timeout)
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if strings.TrimSpace(d.DSN) == "" {
		return fmt.Errorf("dsn is required")
	}
	if d.MaxOpenConns < 0 {
		return fmt.Errorf("max_open_conns must not be negative")
	}
	return nil
}

func (r *RetentionConfig) validate() error {
	if r.Months < 0 {
		return fmt.Errorf("months must not be negative")
	}
	if r.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative")
	}
	return nil
}

func (b *BackfillConfig) validate() error {
	if b.MaxOrders < 0 {
		return fmt.Errorf("max_orders must not be negative")
	}
	if b.RangeDays < 0 {
		return fmt.Errorf("range_days must not be negative")
	}
	if b.MaxDuration < 0 {
		return fmt.Errorf("max_duration must not be negative")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.Interval != 0 && s.Interval < time.Minute {
		return fmt.Errorf("interval %v is below the 1m minimum", s.Interval)
	}
	return nil
}

func (s *ShopConfig) validate() error {
	if strings.TrimSpace(s.Domain) == "" {
		return fmt.Errorf("domain is required")
	}
	if strings.TrimSpace(s.APIBaseURL) == "" {
		return fmt.Errorf("api_base_url is required for %s", s.Domain)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return fmt.Errorf("access_token is required for %s", s.Domain)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone %q for %s is invalid: %w", s.Timezone, s.Domain, err)
		}
	}
	return nil
}
