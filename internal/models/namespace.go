// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

// Namespace contains a record from the `namespaces` table.
//
// A namespace is the organization that owns repositories. Autoprune policies
// and quota totals are scoped to it.
type Namespace struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	IsEnabled  bool   `db:"is_enabled"`
	IsDeleting bool   `db:"is_deleting"`
}

// IsActive returns whether the registry-wide autoprune sweep applies to this namespace.
func (n Namespace) IsActive() bool {
	return n.IsEnabled && !n.IsDeleting
}
