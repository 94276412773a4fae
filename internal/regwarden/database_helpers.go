// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"database/sql"
	"errors"
	"time"

	"github.com/go-gorp/gorp/v3"
	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/models"
)

// findOne wraps db.SelectOne(), but returns None instead of sql.ErrNoRows.
func findOne[T any](db gorp.SqlExecutor, query string, args ...any) (Option[T], error) {
	var result T
	err := db.SelectOne(&result, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return None[T](), nil
	}
	if err != nil {
		return None[T](), err
	}
	return Some(result), nil
}

// FindNamespaceByName returns None if no namespace exists with this name.
func FindNamespaceByName(db gorp.SqlExecutor, name string) (Option[models.Namespace], error) {
	return findOne[models.Namespace](db, `SELECT * FROM namespaces WHERE name = $1`, name)
}

// FindNamespace returns None if no namespace exists with this ID.
func FindNamespace(db gorp.SqlExecutor, id int64) (Option[models.Namespace], error) {
	return findOne[models.Namespace](db, `SELECT * FROM namespaces WHERE id = $1`, id)
}

// FindRepository returns None if the namespace does not contain a repository with this name.
func FindRepository(db gorp.SqlExecutor, namespace models.Namespace, name string) (Option[models.Repository], error) {
	return findOne[models.Repository](db, `SELECT * FROM repos WHERE namespace_id = $1 AND name = $2`, namespace.ID, name)
}

// FindRepositoryByID returns None if no repository exists with this ID.
func FindRepositoryByID(db gorp.SqlExecutor, id int64) (Option[models.Repository], error) {
	return findOne[models.Repository](db, `SELECT * FROM repos WHERE id = $1`, id)
}

var aliveTagGetQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM tags
	 WHERE repo_id = $1 AND name = $2 AND NOT hidden
	   AND (lifetime_end_ms IS NULL OR lifetime_end_ms > $3)
	 ORDER BY lifetime_start_ms DESC, id DESC
	 LIMIT 1
`)

// FindAliveTag returns the visible tag with this name that is alive at the given time.
// Hidden tags are never returned.
func FindAliveTag(db gorp.SqlExecutor, repo models.Repository, name string, now time.Time) (Option[models.Tag], error) {
	return findOne[models.Tag](db, aliveTagGetQuery, repo.ID, name, now.UnixMilli())
}
