// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwardenv1

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/respondwith"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/regwarden"
)

// NamespaceQuota is the API representation of the storage consumed by a
// namespace. Sizes are null while they are not known authoritatively.
type NamespaceQuota struct {
	Namespace    string            `json:"namespace"`
	SizeBytes    *int64            `json:"size_bytes"`
	Repositories []RepositoryQuota `json:"repositories"`
}

// RepositoryQuota appears in type NamespaceQuota.
type RepositoryQuota struct {
	Name      string `json:"name"`
	SizeBytes *int64 `json:"size_bytes"`
}

var repositoryQuotaQuery = sqlext.SimplifyWhitespace(`
	SELECT r.name, s.size_bytes, s.backfill_complete
	  FROM repos r
	  LEFT OUTER JOIN quota_repository_sizes s ON s.repo_id = r.id
	 WHERE r.namespace_id = $1 AND NOT r.is_deleting
	 ORDER BY r.name
`)

func (a *API) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	httpapi.IdentifyEndpoint(r, "/regwarden/v1/namespaces/:namespace/quota")
	namespaceName := mux.Vars(r)["namespace"]
	maybeNamespace, err := regwarden.FindNamespaceByName(a.db, namespaceName)
	if respondWithError(w, err) {
		return
	}
	namespace, ok := maybeNamespace.Unpack()
	if !ok {
		respondWithError(w, regwarden.UnknownNamespaceError{Name: namespaceName})
		return
	}

	result := NamespaceQuota{
		Namespace:    namespace.Name,
		Repositories: []RepositoryQuota{},
	}
	size, err := a.processor.GetNamespaceSize(namespace.ID)
	if respondWithError(w, err) {
		return
	}
	if s, ok := size.Unpack(); ok && s.BackfillComplete {
		result.SizeBytes = &s.SizeBytes
	}

	err = sqlext.ForeachRow(a.db, repositoryQuotaQuery, []any{namespace.ID}, func(rows *sql.Rows) error {
		var (
			repo      RepositoryQuota
			sizeBytes sql.NullInt64
			complete  sql.NullBool
		)
		err := rows.Scan(&repo.Name, &sizeBytes, &complete)
		if err != nil {
			return err
		}
		if sizeBytes.Valid && complete.Bool {
			repo.SizeBytes = &sizeBytes.Int64
		}
		result.Repositories = append(result.Repositories, repo)
		return nil
	})
	if respondWithError(w, err) {
		return
	}
	respondwith.JSON(w, http.StatusOK, result)
}
