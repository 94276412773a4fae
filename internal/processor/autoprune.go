// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-gorp/gorp/v3"
	"github.com/lib/pq"
	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/errext"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/regwarden"
)

// NamespacePolicy is a parsed namespace_autoprune_policies row.
type NamespacePolicy struct {
	UUID        string
	NamespaceID int64
	Policy      regwarden.AutoPrunePolicy
}

// RepositoryPolicy is a parsed repository_autoprune_policies row.
type RepositoryPolicy struct {
	UUID         string
	NamespaceID  int64
	RepositoryID int64
	Policy       regwarden.AutoPrunePolicy
}

func parseNamespacePolicies(rows []models.NamespaceAutoPrunePolicy) ([]NamespacePolicy, error) {
	result := make([]NamespacePolicy, len(rows))
	for idx, row := range rows {
		policy, err := regwarden.ParseAutoPrunePolicy(row.PolicyJSON)
		if err != nil {
			return nil, fmt.Errorf("in namespace policy %s: %w", row.UUID, err)
		}
		result[idx] = NamespacePolicy{row.UUID, row.NamespaceID, policy}
	}
	return result, nil
}

func parseRepositoryPolicies(rows []models.RepositoryAutoPrunePolicy) ([]RepositoryPolicy, error) {
	result := make([]RepositoryPolicy, len(rows))
	for idx, row := range rows {
		policy, err := regwarden.ParseAutoPrunePolicy(row.PolicyJSON)
		if err != nil {
			return nil, fmt.Errorf("in repository policy %s: %w", row.UUID, err)
		}
		result[idx] = RepositoryPolicy{row.UUID, row.NamespaceID, row.RepositoryID, policy}
	}
	return result, nil
}

func findNamespace(db gorp.SqlExecutor, name string) (models.Namespace, error) {
	namespace, err := regwarden.FindNamespaceByName(db, name)
	if err != nil {
		return models.Namespace{}, err
	}
	result, ok := namespace.Unpack()
	if !ok {
		return models.Namespace{}, regwarden.UnknownNamespaceError{Name: name}
	}
	return result, nil
}

func findRepository(db gorp.SqlExecutor, namespace models.Namespace, name string) (models.Repository, error) {
	repo, err := regwarden.FindRepository(db, namespace, name)
	if err != nil {
		return models.Repository{}, err
	}
	result, ok := repo.Unpack()
	if !ok {
		return models.Repository{}, regwarden.UnknownRepositoryError{NamespaceName: namespace.Name, RepositoryName: name}
	}
	return result, nil
}

// CreateAutoPruneTaskIfMissing queues an autoprune task for the namespace
// unless it already has one.
func CreateAutoPruneTaskIfMissing(db gorp.SqlExecutor, namespaceID int64) error {
	_, err := db.Exec(
		`INSERT INTO autoprune_tasks (namespace_id, status) VALUES ($1, $2) ON CONFLICT (namespace_id) DO NOTHING`,
		namespaceID, models.AutoPruneTaskQueued,
	)
	return err
}

// DeleteAutoPruneTaskIfUnused deletes the namespace's autoprune task if no
// policy of any kind remains for it. Returns whether the task was deleted.
func DeleteAutoPruneTaskIfUnused(db gorp.SqlExecutor, namespaceID int64) (bool, error) {
	result, err := db.Exec(`
		DELETE FROM autoprune_tasks WHERE namespace_id = $1
		   AND NOT EXISTS (SELECT 1 FROM namespace_autoprune_policies WHERE namespace_id = $1)
		   AND NOT EXISTS (SELECT 1 FROM repository_autoprune_policies WHERE namespace_id = $1)
	`, namespaceID)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	return rowsAffected > 0, err
}

// isUniqueViolation recognizes inserts that lost a race against a concurrent
// insert for the same scope. The constraint names are set in migration 003.
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := errext.As[*pq.Error](err)
	return ok && pqErr.Code == "23505" && pqErr.Constraint == constraint
}

////////////////////////////////////////////////////////////////////////////////
// namespace policies

// CreateNamespaceAutoPrunePolicy creates the autoprune policy of the given
// namespace and returns its UUID. If createTask is true, an autoprune task is
// queued for the namespace.
func (p *Processor) CreateNamespaceAutoPrunePolicy(actx AuditContext, namespaceName string, policy regwarden.AutoPrunePolicy, createTask bool) (string, error) {
	err := policy.Validate()
	if err != nil {
		return "", err
	}
	policyJSON, err := policy.Serialize()
	if err != nil {
		return "", err
	}

	row := models.NamespaceAutoPrunePolicy{
		PolicyJSON: policyJSON,
	}
	err = p.insideTransaction(func(tx *gorp.Transaction) error {
		namespace, err := findNamespace(tx, namespaceName)
		if err != nil {
			return err
		}
		row.NamespaceID = namespace.ID

		count, err := tx.SelectInt(`SELECT COUNT(*) FROM namespace_autoprune_policies WHERE namespace_id = $1`, namespace.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return regwarden.ErrPolicyAlreadyExists
		}

		row.UUID = p.generateUUID()
		err = tx.Insert(&row)
		if isUniqueViolation(err, "namespace_autoprune_policies_namespace_id_key") {
			return regwarden.ErrPolicyAlreadyExists
		}
		if err != nil {
			return err
		}
		if createTask {
			return CreateAutoPruneTaskIfMissing(tx, namespace.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	p.recordAuditEvent(actx, cadf.CreateAction, AuditNamespacePolicy{
		NamespaceName: namespaceName,
		UUID:          row.UUID,
		Policy:        policy,
	})
	return row.UUID, nil
}

// GetNamespaceAutoPrunePolicies lists the autoprune policies of the given namespace.
func (p *Processor) GetNamespaceAutoPrunePolicies(namespaceName string) ([]NamespacePolicy, error) {
	namespace, err := findNamespace(p.db, namespaceName)
	if err != nil {
		return nil, err
	}
	return p.GetNamespaceAutoPrunePoliciesByID(namespace.ID)
}

// GetNamespaceAutoPrunePoliciesByID is like GetNamespaceAutoPrunePolicies,
// but identifies the namespace by ID.
func (p *Processor) GetNamespaceAutoPrunePoliciesByID(namespaceID int64) ([]NamespacePolicy, error) {
	var rows []models.NamespaceAutoPrunePolicy
	_, err := p.db.Select(&rows, `SELECT * FROM namespace_autoprune_policies WHERE namespace_id = $1 ORDER BY id`, namespaceID)
	if err != nil {
		return nil, err
	}
	return parseNamespacePolicies(rows)
}

// GetNamespaceAutoPrunePolicy returns regwarden.ErrPolicyNotFound if the
// namespace does not have a policy with this UUID.
func (p *Processor) GetNamespaceAutoPrunePolicy(namespaceName, uuid string) (NamespacePolicy, error) {
	namespace, err := findNamespace(p.db, namespaceName)
	if err != nil {
		return NamespacePolicy{}, err
	}
	var rows []models.NamespaceAutoPrunePolicy
	_, err = p.db.Select(&rows, `SELECT * FROM namespace_autoprune_policies WHERE namespace_id = $1 AND uuid = $2`, namespace.ID, uuid)
	if err != nil {
		return NamespacePolicy{}, err
	}
	if len(rows) == 0 {
		return NamespacePolicy{}, regwarden.ErrPolicyNotFound
	}
	policies, err := parseNamespacePolicies(rows)
	if err != nil {
		return NamespacePolicy{}, err
	}
	return policies[0], nil
}

// UpdateNamespaceAutoPrunePolicy replaces the body of an existing namespace policy.
func (p *Processor) UpdateNamespaceAutoPrunePolicy(actx AuditContext, namespaceName, uuid string, policy regwarden.AutoPrunePolicy) error {
	err := policy.Validate()
	if err != nil {
		return err
	}
	policyJSON, err := policy.Serialize()
	if err != nil {
		return err
	}
	namespace, err := findNamespace(p.db, namespaceName)
	if err != nil {
		return err
	}

	result, err := p.db.Exec(
		`UPDATE namespace_autoprune_policies SET policy_json = $3 WHERE namespace_id = $1 AND uuid = $2`,
		namespace.ID, uuid, policyJSON,
	)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return regwarden.ErrPolicyNotFound
	}
	p.recordAuditEvent(actx, cadf.UpdateAction, AuditNamespacePolicy{
		NamespaceName: namespaceName,
		UUID:          uuid,
		Policy:        policy,
	})
	return nil
}

// DeleteNamespaceAutoPrunePolicy deletes a namespace policy. If this was the
// last policy of the namespace, its autoprune task is deleted as well.
func (p *Processor) DeleteNamespaceAutoPrunePolicy(actx AuditContext, namespaceName, uuid string) error {
	var policyJSON string
	err := p.insideTransaction(func(tx *gorp.Transaction) error {
		namespace, err := findNamespace(tx, namespaceName)
		if err != nil {
			return err
		}
		err = tx.QueryRow(
			`DELETE FROM namespace_autoprune_policies WHERE namespace_id = $1 AND uuid = $2 RETURNING policy_json`,
			namespace.ID, uuid,
		).Scan(&policyJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return regwarden.ErrPolicyNotFound
		}
		if err != nil {
			return err
		}
		_, err = DeleteAutoPruneTaskIfUnused(tx, namespace.ID)
		return err
	})
	if err != nil {
		return err
	}
	policy, err := regwarden.ParseAutoPrunePolicy(policyJSON)
	if err != nil {
		return err
	}
	p.recordAuditEvent(actx, cadf.DeleteAction, AuditNamespacePolicy{
		NamespaceName: namespaceName,
		UUID:          uuid,
		Policy:        policy,
	})
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// repository policies

// CreateRepositoryAutoPrunePolicy creates the autoprune policy of the given
// repository, queues an autoprune task for its namespace, and returns the
// policy's UUID.
func (p *Processor) CreateRepositoryAutoPrunePolicy(actx AuditContext, namespaceName, repoName string, policy regwarden.AutoPrunePolicy) (string, error) {
	err := policy.Validate()
	if err != nil {
		return "", err
	}
	policyJSON, err := policy.Serialize()
	if err != nil {
		return "", err
	}

	row := models.RepositoryAutoPrunePolicy{
		PolicyJSON: policyJSON,
	}
	err = p.insideTransaction(func(tx *gorp.Transaction) error {
		namespace, err := findNamespace(tx, namespaceName)
		if err != nil {
			return err
		}
		repo, err := findRepository(tx, namespace, repoName)
		if err != nil {
			return err
		}
		row.NamespaceID = namespace.ID
		row.RepositoryID = repo.ID

		count, err := tx.SelectInt(`SELECT COUNT(*) FROM repository_autoprune_policies WHERE repo_id = $1`, repo.ID)
		if err != nil {
			return err
		}
		if count > 0 {
			return regwarden.ErrRepositoryPolicyAlreadyExists
		}

		row.UUID = p.generateUUID()
		err = tx.Insert(&row)
		if isUniqueViolation(err, "repository_autoprune_policies_repo_id_key") {
			return regwarden.ErrRepositoryPolicyAlreadyExists
		}
		if err != nil {
			return err
		}
		return CreateAutoPruneTaskIfMissing(tx, namespace.ID)
	})
	if err != nil {
		return "", err
	}
	p.recordAuditEvent(actx, cadf.CreateAction, AuditRepositoryPolicy{
		NamespaceName:  namespaceName,
		RepositoryName: repoName,
		UUID:           row.UUID,
		Policy:         policy,
	})
	return row.UUID, nil
}

// GetRepositoryAutoPrunePolicies lists the autoprune policies of the given repository.
func (p *Processor) GetRepositoryAutoPrunePolicies(namespaceName, repoName string) ([]RepositoryPolicy, error) {
	namespace, err := findNamespace(p.db, namespaceName)
	if err != nil {
		return nil, err
	}
	repo, err := findRepository(p.db, namespace, repoName)
	if err != nil {
		return nil, err
	}
	var rows []models.RepositoryAutoPrunePolicy
	_, err = p.db.Select(&rows, `SELECT * FROM repository_autoprune_policies WHERE repo_id = $1 ORDER BY id`, repo.ID)
	if err != nil {
		return nil, err
	}
	return parseRepositoryPolicies(rows)
}

// GetRepositoryAutoPrunePoliciesByNamespaceID lists the repository policies
// of all repositories in the given namespace.
func (p *Processor) GetRepositoryAutoPrunePoliciesByNamespaceID(namespaceID int64) ([]RepositoryPolicy, error) {
	var rows []models.RepositoryAutoPrunePolicy
	_, err := p.db.Select(&rows, `SELECT * FROM repository_autoprune_policies WHERE namespace_id = $1 ORDER BY id`, namespaceID)
	if err != nil {
		return nil, err
	}
	return parseRepositoryPolicies(rows)
}

// DeleteRepositoryAutoPrunePolicy deletes a repository policy. If this was the
// last policy in the namespace, its autoprune task is deleted as well.
func (p *Processor) DeleteRepositoryAutoPrunePolicy(actx AuditContext, namespaceName, repoName, uuid string) error {
	var policyJSON string
	err := p.insideTransaction(func(tx *gorp.Transaction) error {
		namespace, err := findNamespace(tx, namespaceName)
		if err != nil {
			return err
		}
		repo, err := findRepository(tx, namespace, repoName)
		if err != nil {
			return err
		}
		err = tx.QueryRow(
			`DELETE FROM repository_autoprune_policies WHERE repo_id = $1 AND uuid = $2 RETURNING policy_json`,
			repo.ID, uuid,
		).Scan(&policyJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return regwarden.ErrPolicyNotFound
		}
		if err != nil {
			return err
		}
		_, err = DeleteAutoPruneTaskIfUnused(tx, namespace.ID)
		return err
	})
	if err != nil {
		return err
	}
	policy, err := regwarden.ParseAutoPrunePolicy(policyJSON)
	if err != nil {
		return err
	}
	p.recordAuditEvent(actx, cadf.DeleteAction, AuditRepositoryPolicy{
		NamespaceName:  namespaceName,
		RepositoryName: repoName,
		UUID:           uuid,
		Policy:         policy,
	})
	return nil
}
