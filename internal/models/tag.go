// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"
)

// Tag contains a record from the `tags` table.
//
// Tags are versioned: retargeting or deleting a tag ends the lifetime of its
// current row instead of removing it. Timestamps are in epoch milliseconds.
type Tag struct {
	ID              int64  `db:"id"`
	RepositoryID    int64  `db:"repo_id"`
	ManifestID      int64  `db:"manifest_id"`
	Name            string `db:"name"`
	Hidden          bool   `db:"hidden"`
	LifetimeStartMs int64  `db:"lifetime_start_ms"`
	LifetimeEndMs   *int64 `db:"lifetime_end_ms"`
}

// IsAliveAt returns whether the tag's lifetime covers the given point in time.
func (t Tag) IsAliveAt(now time.Time) bool {
	return t.LifetimeEndMs == nil || *t.LifetimeEndMs > now.UnixMilli()
}
