// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// QuotaNamespaceSize contains a record from the `quota_namespace_sizes` table.
type QuotaNamespaceSize struct {
	NamespaceID int64 `db:"namespace_id"`
	QuotaSize
}

// QuotaRepositorySize contains a record from the `quota_repository_sizes` table.
type QuotaRepositorySize struct {
	RepositoryID int64 `db:"repo_id"`
	QuotaSize
}

// QuotaSize holds the fields that both size tables have in common.
type QuotaSize struct {
	SizeBytes        int64  `db:"size_bytes"`
	BackfillStartMs  *int64 `db:"backfill_start_ms"`
	BackfillComplete bool   `db:"backfill_complete"`
}

// AcceptsIncrementalWrites returns whether incremental size updates may be
// applied to this row at the given time. Until a backfill has started, the
// row will be recomputed in full later, so increments would be counted twice.
func (s QuotaSize) AcceptsIncrementalWrites(now time.Time) bool {
	return s.BackfillStartMs != nil && *s.BackfillStartMs <= now.UnixMilli()
}
