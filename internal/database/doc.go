// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package database implements the PostgreSQL persistence layer: schema
// bootstrap, connection pooling, entity CRUD, batched deletes for retention,
// and the advisory-lock primitive used for cross-instance coordination.
//
// Error classing matters more than usual here: callers distinguish
// missing-relation errors (rolling schema deploys degrade to a soft no-op),
// serialization conflicts (bounded retry), and connection loss. See errors.go.
package database
