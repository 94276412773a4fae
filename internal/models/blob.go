// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/opencontainers/go-digest"
)

// Blob contains a record from the `blobs` table.
//
// Blobs are global. Repositories reference them only through `manifest_blobs`.
// SizeBytes is nil for legacy layers that were pushed without a compressed
// size. Quota accounting counts those as 0 bytes.
type Blob struct {
	ID        int64         `db:"id"`
	Digest    digest.Digest `db:"digest"`
	SizeBytes *int64        `db:"size_bytes"`
}
