// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package models

// NamespaceAutoPrunePolicy contains a record from the `namespace_autoprune_policies` table.
//
// PolicyJSON is parsed with regwarden.ParseAutoPrunePolicy.
type NamespaceAutoPrunePolicy struct {
	ID          int64  `db:"id"`
	UUID        string `db:"uuid"`
	NamespaceID int64  `db:"namespace_id"`
	PolicyJSON  string `db:"policy_json"`
}

// RepositoryAutoPrunePolicy contains a record from the `repository_autoprune_policies` table.
type RepositoryAutoPrunePolicy struct {
	ID           int64  `db:"id"`
	UUID         string `db:"uuid"`
	NamespaceID  int64  `db:"namespace_id"`
	RepositoryID int64  `db:"repo_id"`
	PolicyJSON   string `db:"policy_json"`
}

// AutoPruneTaskStatus contains a record from the `autoprune_tasks` table.
type AutoPruneTaskStatus struct {
	ID          int64  `db:"id"`
	NamespaceID int64  `db:"namespace_id"`
	LastRanMs   *int64 `db:"last_ran_ms"`
	Status      string `db:"status"`
}

// Values for AutoPruneTaskStatus.Status. After a run, the status is either
// AutoPruneTaskSucceeded or starts with AutoPruneTaskFailedPrefix.
const (
	AutoPruneTaskQueued       = "queued"
	AutoPruneTaskInProgress   = "in_progress"
	AutoPruneTaskSucceeded    = "success"
	AutoPruneTaskFailedPrefix = "failure: "
)
