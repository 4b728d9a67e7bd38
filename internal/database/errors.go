// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package database

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// ErrNotFound is returned by lookups that find no row.
var ErrNotFound = errors.New("database: not found")

// IsMissingRelation reports whether err means a table or column does not
// exist yet. Rolling schema deploys make this a routine condition: callers
// treat it as soft absence (empty result, no-op delete), never as a failure.
func IsMissingRelation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 42P01 undefined_table, 42703 undefined_column
		return pqErr.Code == "42P01" || pqErr.Code == "42703"
	}
	return false
}

// IsSerializationFailure reports whether err is a transactional conflict
// that is safe to retry (serialization failure or deadlock).
func IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// IsConnectionError reports whether err indicates connection loss rather
// than a query-level problem.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "driver: bad connection") ||
		strings.Contains(msg, "sql: database is closed")
}
