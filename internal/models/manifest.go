// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"github.com/opencontainers/go-digest"
)

// Manifest contains a record from the `manifests` table.
type Manifest struct {
	ID           int64         `db:"id"`
	RepositoryID int64         `db:"repo_id"`
	Digest       digest.Digest `db:"digest"`
	MediaType    string        `db:"media_type"`
}

// ManifestBlob contains a record from the `manifest_blobs` table.
type ManifestBlob struct {
	ID           int64 `db:"id"`
	RepositoryID int64 `db:"repo_id"`
	ManifestID   int64 `db:"manifest_id"`
	BlobID       int64 `db:"blob_id"`
}

// ManifestChild contains a record from the `manifest_children` table.
//
// The parent is an image list, the child is one of its per-platform manifests.
type ManifestChild struct {
	ID               int64 `db:"id"`
	RepositoryID     int64 `db:"repo_id"`
	ParentManifestID int64 `db:"parent_manifest_id"`
	ChildManifestID  int64 `db:"child_manifest_id"`
}
