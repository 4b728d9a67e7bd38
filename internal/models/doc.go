// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package models defines the persisted entities shared across Attriflow
// components: orders, customers, attribution rule sets, webhook and backfill
// jobs, checkout sessions and per-shop pipeline state.
//
// Structs carry both json tags (API responses) and db tags (column mapping).
// No methods here perform I/O; the database package owns persistence.
package models
