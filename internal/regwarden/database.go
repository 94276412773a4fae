// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"database/sql"
	"net/url"

	"github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/easypg"

	"github.com/sapcc/regwarden/internal/models"
)

// SQLMigrations must be public because it's also used by tests.
var SQLMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE namespaces (
			id          BIGSERIAL NOT NULL PRIMARY KEY,
			name        TEXT      NOT NULL UNIQUE,
			is_enabled  BOOLEAN   NOT NULL DEFAULT TRUE,
			is_deleting BOOLEAN   NOT NULL DEFAULT FALSE
		);

		CREATE TABLE repos (
			id           BIGSERIAL NOT NULL PRIMARY KEY,
			namespace_id BIGINT    NOT NULL REFERENCES namespaces ON DELETE CASCADE,
			name         TEXT      NOT NULL,
			is_deleting  BOOLEAN   NOT NULL DEFAULT FALSE,
			UNIQUE (namespace_id, name)
		);

		CREATE TABLE blobs (
			id         BIGSERIAL NOT NULL PRIMARY KEY,
			digest     TEXT      NOT NULL UNIQUE,
			size_bytes BIGINT    DEFAULT NULL
		);

		CREATE TABLE manifests (
			id         BIGSERIAL NOT NULL PRIMARY KEY,
			repo_id    BIGINT    NOT NULL REFERENCES repos ON DELETE CASCADE,
			digest     TEXT      NOT NULL,
			media_type TEXT      NOT NULL DEFAULT '',
			UNIQUE (repo_id, digest)
		);

		CREATE TABLE manifest_blobs (
			id          BIGSERIAL NOT NULL PRIMARY KEY,
			repo_id     BIGINT    NOT NULL REFERENCES repos ON DELETE CASCADE,
			manifest_id BIGINT    NOT NULL REFERENCES manifests ON DELETE CASCADE,
			blob_id     BIGINT    NOT NULL REFERENCES blobs ON DELETE RESTRICT,
			UNIQUE (manifest_id, blob_id)
		);
		CREATE INDEX manifest_blobs_blob_id_idx ON manifest_blobs (blob_id);

		CREATE TABLE manifest_children (
			id                 BIGSERIAL NOT NULL PRIMARY KEY,
			repo_id            BIGINT    NOT NULL REFERENCES repos ON DELETE CASCADE,
			parent_manifest_id BIGINT    NOT NULL REFERENCES manifests ON DELETE CASCADE,
			child_manifest_id  BIGINT    NOT NULL REFERENCES manifests ON DELETE CASCADE,
			UNIQUE (parent_manifest_id, child_manifest_id)
		);
		CREATE INDEX manifest_children_child_idx ON manifest_children (child_manifest_id);

		CREATE TABLE tags (
			id                BIGSERIAL NOT NULL PRIMARY KEY,
			repo_id           BIGINT    NOT NULL REFERENCES repos ON DELETE CASCADE,
			manifest_id       BIGINT    NOT NULL REFERENCES manifests ON DELETE CASCADE,
			name              TEXT      NOT NULL,
			hidden            BOOLEAN   NOT NULL DEFAULT FALSE,
			lifetime_start_ms BIGINT    NOT NULL,
			lifetime_end_ms   BIGINT    DEFAULT NULL
		);
		CREATE UNIQUE INDEX tags_alive_name_idx ON tags (repo_id, name) WHERE lifetime_end_ms IS NULL;
		CREATE INDEX tags_manifest_id_idx ON tags (manifest_id);

		CREATE TABLE quota_namespace_sizes (
			namespace_id      BIGINT  NOT NULL PRIMARY KEY REFERENCES namespaces ON DELETE CASCADE,
			size_bytes        BIGINT  NOT NULL DEFAULT 0,
			backfill_start_ms BIGINT  DEFAULT NULL,
			backfill_complete BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE quota_repository_sizes (
			repo_id           BIGINT  NOT NULL PRIMARY KEY REFERENCES repos ON DELETE CASCADE,
			size_bytes        BIGINT  NOT NULL DEFAULT 0,
			backfill_start_ms BIGINT  DEFAULT NULL,
			backfill_complete BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE namespace_autoprune_policies (
			id           BIGSERIAL NOT NULL PRIMARY KEY,
			uuid         TEXT      NOT NULL UNIQUE,
			namespace_id BIGINT    NOT NULL REFERENCES namespaces ON DELETE CASCADE,
			policy_json  TEXT      NOT NULL
		);

		CREATE TABLE autoprune_tasks (
			id           BIGSERIAL NOT NULL PRIMARY KEY,
			namespace_id BIGINT    NOT NULL UNIQUE REFERENCES namespaces ON DELETE CASCADE,
			last_ran_ms  BIGINT    DEFAULT NULL,
			status       TEXT      NOT NULL DEFAULT 'queued'
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE autoprune_tasks;
		DROP TABLE namespace_autoprune_policies;
		DROP TABLE quota_repository_sizes;
		DROP TABLE quota_namespace_sizes;
		DROP TABLE tags;
		DROP TABLE manifest_children;
		DROP TABLE manifest_blobs;
		DROP TABLE manifests;
		DROP TABLE blobs;
		DROP TABLE repos;
		DROP TABLE namespaces;
	`,
	"002_add_repository_autoprune_policies.up.sql": `
		CREATE TABLE repository_autoprune_policies (
			id           BIGSERIAL NOT NULL PRIMARY KEY,
			uuid         TEXT      NOT NULL UNIQUE,
			namespace_id BIGINT    NOT NULL REFERENCES namespaces ON DELETE CASCADE,
			repo_id      BIGINT    NOT NULL REFERENCES repos ON DELETE CASCADE,
			policy_json  TEXT      NOT NULL
		);
	`,
	"002_add_repository_autoprune_policies.down.sql": `
		DROP TABLE repository_autoprune_policies;
	`,
	"003_add_unique_autoprune_policy_scopes.up.sql": `
		ALTER TABLE namespace_autoprune_policies
			ADD CONSTRAINT namespace_autoprune_policies_namespace_id_key UNIQUE (namespace_id);
		ALTER TABLE repository_autoprune_policies
			ADD CONSTRAINT repository_autoprune_policies_repo_id_key UNIQUE (repo_id);
	`,
	"003_add_unique_autoprune_policy_scopes.down.sql": `
		ALTER TABLE namespace_autoprune_policies DROP CONSTRAINT namespace_autoprune_policies_namespace_id_key;
		ALTER TABLE repository_autoprune_policies DROP CONSTRAINT repository_autoprune_policies_repo_id_key;
	`,
}

// DB adds convenience functions on top of gorp.DbMap.
type DB struct {
	gorp.DbMap
}

// InitDB connects to the Postgres database.
func InitDB(dbURL url.URL) (*DB, error) {
	db, err := easypg.Connect(dbURL, easypg.Configuration{
		Migrations: SQLMigrations,
	})
	if err != nil {
		return nil, err
	}
	return WrapDB(db), nil
}

// WrapDB builds a DB around an existing connection. This is used by InitDB
// and by tests, which connect through easypg.ConnectForTest.
func WrapDB(db *sql.DB) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: db, Dialect: gorp.PostgresDialect{}}}
	initModels(&result.DbMap)
	return result
}

func initModels(db *gorp.DbMap) {
	db.AddTableWithName(models.Namespace{}, "namespaces").SetKeys(true, "id")
	db.AddTableWithName(models.Repository{}, "repos").SetKeys(true, "id")
	db.AddTableWithName(models.Blob{}, "blobs").SetKeys(true, "id")
	db.AddTableWithName(models.Manifest{}, "manifests").SetKeys(true, "id")
	db.AddTableWithName(models.ManifestBlob{}, "manifest_blobs").SetKeys(true, "id")
	db.AddTableWithName(models.ManifestChild{}, "manifest_children").SetKeys(true, "id")
	db.AddTableWithName(models.Tag{}, "tags").SetKeys(true, "id")
	db.AddTableWithName(models.QuotaNamespaceSize{}, "quota_namespace_sizes").SetKeys(false, "namespace_id")
	db.AddTableWithName(models.QuotaRepositorySize{}, "quota_repository_sizes").SetKeys(false, "repo_id")
	db.AddTableWithName(models.NamespaceAutoPrunePolicy{}, "namespace_autoprune_policies").SetKeys(true, "id")
	db.AddTableWithName(models.RepositoryAutoPrunePolicy{}, "repository_autoprune_policies").SetKeys(true, "id")
	db.AddTableWithName(models.AutoPruneTaskStatus{}, "autoprune_tasks").SetKeys(true, "id")
}
