// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

// Repository contains a record from the `repos` table.
type Repository struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	Name        string `db:"name"`
	IsDeleting  bool   `db:"is_deleting"`
}
