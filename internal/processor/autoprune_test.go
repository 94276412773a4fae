// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor_test

import (
	"testing"

	"github.com/lib/pq"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/errext"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
	"github.com/sapcc/regwarden/internal/test"
)

func mustParsePolicy(t *testing.T, policyJSON string) regwarden.AutoPrunePolicy {
	t.Helper()
	return must.ReturnT(regwarden.ParseAutoPrunePolicy(policyJSON))(t)
}

func countTasks(t *testing.T, s test.Setup) int64 {
	t.Helper()
	return must.ReturnT(s.DB.SelectInt(`SELECT COUNT(*) FROM autoprune_tasks`))(t)
}

func TestNamespaceAutoPrunePolicyLifecycle(t *testing.T) {
	s := test.NewSetup(t)
	ns := s.CreateNamespace(t, "test1")
	s.CreateNamespace(t, "test2")
	keepTen := mustParsePolicy(t, `{"method":"number_of_tags","value":10}`)
	maxWeek := mustParsePolicy(t, `{"method":"creation_date","value":"7d"}`)

	// error cases on creation
	_, err := s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "unknown", keepTen, true)
	assert.DeepEqual(t, "error", err, error(regwarden.UnknownNamespaceError{Name: "unknown"}))
	_, err = s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":0}`), true)
	if _, ok := errext.As[regwarden.InvalidPolicyError](err); !ok {
		t.Errorf("expected InvalidPolicyError, but got %v", err)
	}
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(0))

	uuid := must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", keepTen, true))(t)
	assert.DeepEqual(t, "uuid", uuid, "00000000-0000-0000-0000-000000000001")
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(1))
	status := must.ReturnT(s.DB.SelectStr(`SELECT status FROM autoprune_tasks WHERE namespace_id = $1`, ns.ID))(t)
	assert.DeepEqual(t, "task status", status, "queued")

	_, err = s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", maxWeek, true)
	assert.DeepEqual(t, "error", err, regwarden.ErrPolicyAlreadyExists)

	// without create_task, the policy stays dormant until a task is requested for its namespace
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test2", maxWeek, false))(t)
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(1))

	policies := must.ReturnT(s.Processor.GetNamespaceAutoPrunePolicies("test1"))(t)
	assert.DeepEqual(t, "policies", policies, []processor.NamespacePolicy{{UUID: uuid, NamespaceID: ns.ID, Policy: keepTen}})

	must.SucceedT(t, s.Processor.UpdateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", uuid, maxWeek))
	policy := must.ReturnT(s.Processor.GetNamespaceAutoPrunePolicy("test1", uuid))(t)
	assert.DeepEqual(t, "policy", policy.Policy, maxWeek)

	// policies of other namespaces are not visible
	_, err = s.Processor.GetNamespaceAutoPrunePolicy("test2", uuid)
	assert.DeepEqual(t, "error", err, regwarden.ErrPolicyNotFound)
	err = s.Processor.UpdateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test2", uuid, keepTen)
	assert.DeepEqual(t, "error", err, regwarden.ErrPolicyNotFound)
	err = s.Processor.DeleteNamespaceAutoPrunePolicy(processor.AuditContext{}, "test2", uuid)
	assert.DeepEqual(t, "error", err, regwarden.ErrPolicyNotFound)

	// deleting the last policy also deletes the task
	must.SucceedT(t, s.Processor.DeleteNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", uuid))
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(0))
	assert.DeepEqual(t, "number of policies", len(must.ReturnT(s.Processor.GetNamespaceAutoPrunePolicies("test1"))(t)), 0)
}

func TestRepositoryAutoPrunePolicyLifecycle(t *testing.T) {
	s := test.NewSetup(t)
	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	keepTen := mustParsePolicy(t, `{"method":"number_of_tags","value":10}`)

	_, err := s.Processor.CreateRepositoryAutoPrunePolicy(processor.AuditContext{}, "test1", "bar", keepTen)
	assert.DeepEqual(t, "error", err, error(regwarden.UnknownRepositoryError{NamespaceName: "test1", RepositoryName: "bar"}))

	nsUUID := must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", keepTen, true))(t)
	repoUUID := must.ReturnT(s.Processor.CreateRepositoryAutoPrunePolicy(processor.AuditContext{}, "test1", "foo", keepTen))(t)
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(1))
	_, err = s.Processor.CreateRepositoryAutoPrunePolicy(processor.AuditContext{}, "test1", "foo", keepTen)
	assert.DeepEqual(t, "error", err, regwarden.ErrRepositoryPolicyAlreadyExists)

	policies := must.ReturnT(s.Processor.GetRepositoryAutoPrunePoliciesByNamespaceID(ns.ID))(t)
	assert.DeepEqual(t, "policies", policies, []processor.RepositoryPolicy{{UUID: repoUUID, NamespaceID: ns.ID, RepositoryID: repo.ID, Policy: keepTen}})
	policies = must.ReturnT(s.Processor.GetRepositoryAutoPrunePolicies("test1", "foo"))(t)
	assert.DeepEqual(t, "number of policies", len(policies), 1)

	// the task survives as long as any policy remains
	must.SucceedT(t, s.Processor.DeleteNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", nsUUID))
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(1))
	must.SucceedT(t, s.Processor.DeleteRepositoryAutoPrunePolicy(processor.AuditContext{}, "test1", "foo", repoUUID))
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(0))
}

func TestAutoPrunePolicyScopesAreUnique(t *testing.T) {
	s := test.NewSetup(t)
	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	keepTen := mustParsePolicy(t, `{"method":"number_of_tags","value":10}`)
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", keepTen, true))(t)
	must.ReturnT(s.Processor.CreateRepositoryAutoPrunePolicy(processor.AuditContext{}, "test1", "foo", keepTen))(t)

	// writers that skip the existence check are still stopped by the database
	expectUniqueViolation := func(err error, constraint string) {
		t.Helper()
		pqErr, ok := errext.As[*pq.Error](err)
		if !ok || pqErr.Code != "23505" || pqErr.Constraint != constraint {
			t.Errorf("expected violation of %s, but got %v", constraint, err)
		}
	}
	_, err := s.DB.Exec(
		`INSERT INTO namespace_autoprune_policies (uuid, namespace_id, policy_json) VALUES ($1, $2, $3)`,
		"00000000-0000-0000-0000-000000000099", ns.ID, `{"method":"number_of_tags","value":5}`,
	)
	expectUniqueViolation(err, "namespace_autoprune_policies_namespace_id_key")
	_, err = s.DB.Exec(
		`INSERT INTO repository_autoprune_policies (uuid, namespace_id, repo_id, policy_json) VALUES ($1, $2, $3, $4)`,
		"00000000-0000-0000-0000-000000000098", ns.ID, repo.ID, `{"method":"number_of_tags","value":5}`,
	)
	expectUniqueViolation(err, "repository_autoprune_policies_repo_id_key")
}

func TestDeleteAutoPruneTaskIfUnused(t *testing.T) {
	s := test.NewSetup(t)
	ns := s.CreateNamespace(t, "test1")
	keepTen := mustParsePolicy(t, `{"method":"number_of_tags","value":10}`)
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", keepTen, true))(t)

	// a task that still has a policy is kept
	deleted := must.ReturnT(processor.DeleteAutoPruneTaskIfUnused(s.DB, ns.ID))(t)
	assert.DeepEqual(t, "deleted", deleted, false)
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(1))

	must.ReturnT(s.DB.Exec(`DELETE FROM namespace_autoprune_policies WHERE namespace_id = $1`, ns.ID))(t)
	deleted = must.ReturnT(processor.DeleteAutoPruneTaskIfUnused(s.DB, ns.ID))(t)
	assert.DeepEqual(t, "deleted", deleted, true)
	assert.DeepEqual(t, "number of tasks", countTasks(t, s), int64(0))
}
