// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"fmt"
	"testing"
	"time"

	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/test"
)

func TestAutoPruneByNumberOfTags(t *testing.T) {
	j, s := setup(t)
	j.cfg.AutoPrune.FetchTagsPageLimit = 1 // exercise paging
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	for idx := 1; idx <= 12; idx++ {
		createTags(t, s, repo, 100, fmt.Sprintf("tag%02d", idx))
		s.Clock.StepBy(1 * time.Minute)
	}
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":10}`), true))(t)

	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))

	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{
		"tag03", "tag04", "tag05", "tag06", "tag07", "tag08", "tag09", "tag10", "tag11", "tag12",
	})
	task := getTask(t, s, ns)
	assert.DeepEqual(t, "task status", task.Status, models.AutoPruneTaskSucceeded)
	assert.DeepEqual(t, "task last run", task.LastRanMs, Some(s.Clock.Now().UnixMilli()).AsPointer())
}

func TestAutoPruneByCreationDate(t *testing.T) {
	j, s := setup(t, test.WithQuotaManagement)
	s.Clock.StepBy(20 * 24 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	createTags(t, s, repo, 100, "old")
	s.Clock.StepBy(5 * 24 * time.Hour)
	createTags(t, s, repo, 200, "recent")
	s.Clock.StepBy(5 * 24 * time.Hour)
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), Some[int64](300))

	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"creation_date","value":"7d"}`), true))(t)
	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))

	// deletions by autoprune are accounted like any other tag deletion
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"recent"})
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), Some[int64](200))
	assert.DeepEqual(t, "repo size", s.RepositoryBytes(t, repo), Some[int64](200))
}

func TestAutoPruneRepositoryPolicies(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	foo := s.CreateRepository(t, ns, "foo")
	bar := s.CreateRepository(t, ns, "bar")
	for _, name := range []string{"a", "b", "c"} {
		createTags(t, s, foo, 100, name)
		createTags(t, s, bar, 100, name)
		s.Clock.StepBy(1 * time.Minute)
	}
	must.ReturnT(s.Processor.CreateRepositoryAutoPrunePolicy(processor.AuditContext{}, "test1", "foo", mustParsePolicy(t, `{"method":"number_of_tags","value":1}`)))(t)

	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))

	assert.DeepEqual(t, "alive tags in foo", aliveTagNames(t, s, foo), []string{"c"})
	assert.DeepEqual(t, "alive tags in bar", aliveTagNames(t, s, bar), []string{"a", "b", "c"})
}

func TestAutoPruneTaskMinimumInterval(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	createTags(t, s, repo, 100, "a")
	s.Clock.StepBy(1 * time.Minute)
	createTags(t, s, repo, 100, "b")
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":1}`), true))(t)

	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"b"})

	// the task ran recently, so it is not eligible yet
	s.Clock.StepBy(1 * time.Minute)
	createTags(t, s, repo, 100, "c")
	s.Clock.StepBy(30 * time.Minute)
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"b", "c"})

	s.Clock.StepBy(31 * time.Minute)
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"c"})
}

func TestAutoPruneTaskOrdering(t *testing.T) {
	j, s := setup(t)
	j.cfg.AutoPrune.BatchSize = 1
	s.Clock.StepBy(1 * time.Hour)
	ranLongAgo := s.Clock.Now().UnixMilli()

	ns1 := s.CreateNamespace(t, "test1")
	ns2 := s.CreateNamespace(t, "test2")
	policy := mustParsePolicy(t, `{"method":"number_of_tags","value":1}`)
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", policy, true))(t)
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test2", policy, true))(t)
	_, err := s.DB.Exec(`UPDATE autoprune_tasks SET last_ran_ms = $2, status = $3 WHERE namespace_id = $1`,
		ns1.ID, ranLongAgo, models.AutoPruneTaskSucceeded)
	must.SucceedT(t, err)
	s.Clock.StepBy(2 * time.Hour)

	// tasks that never ran take priority
	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "last run of task 1", getTask(t, s, ns1).LastRanMs, &ranLongAgo)
	assert.DeepEqual(t, "last run of task 2", getTask(t, s, ns2).LastRanMs, Some(s.Clock.Now().UnixMilli()).AsPointer())

	s.Clock.StepBy(1 * time.Minute)
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "last run of task 1", getTask(t, s, ns1).LastRanMs, Some(s.Clock.Now().UnixMilli()).AsPointer())
}

func TestAutoPruneTaskClaimIsExclusive(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	must.SucceedT(t, processor.CreateAutoPruneTaskIfMissing(s.DB, ns.ID))
	task := getTask(t, s, ns)

	ok := must.ReturnT(j.claimAutoPruneTask(task, s.Clock.Now()))(t)
	assert.DeepEqual(t, "first claim succeeded", ok, true)
	// a second janitor with the same snapshot of the task loses the race
	ok = must.ReturnT(j.claimAutoPruneTask(task, s.Clock.Now()))(t)
	assert.DeepEqual(t, "second claim succeeded", ok, false)

	task = getTask(t, s, ns)
	assert.DeepEqual(t, "task status", task.Status, models.AutoPruneTaskInProgress)
}

func TestAutoPruneTaskWithoutPoliciesIsDeleted(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	must.SucceedT(t, processor.CreateAutoPruneTaskIfMissing(s.DB, ns.ID))
	assert.DeepEqual(t, "task count", countTasks(t, s), int64(1))

	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "task count", countTasks(t, s), int64(0))
}

func TestAutoPruneTaskSurvivesConcurrentPolicyCreation(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	must.SucceedT(t, processor.CreateAutoPruneTaskIfMissing(s.DB, ns.ID))
	task := getTask(t, s, ns)

	// the janitor saw no policies, but a policy arrives before it deletes the task
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":1}`), true))(t)
	deleted := must.ReturnT(j.deleteAutoPruneTaskIfUnused(task))(t)
	assert.DeepEqual(t, "task deleted", deleted, false)
	assert.DeepEqual(t, "task count", countTasks(t, s), int64(1))
}

func TestAutoPruneTaskRecordsCompletionTime(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	createTags(t, s, repo, 100, "a", "b", "c")
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":1}`), true))(t)

	// time passes while the task is running
	startedAt := s.Clock.Now()
	j.OverrideTimeNow(func() time.Time {
		s.Clock.StepBy(1 * time.Second)
		return s.Clock.Now()
	})
	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))

	task := getTask(t, s, ns)
	assert.DeepEqual(t, "task status", task.Status, models.AutoPruneTaskSucceeded)
	if !s.Clock.Now().After(startedAt.Add(1 * time.Second)) {
		t.Fatal("expected the clock to advance during the task run")
	}
	assert.DeepEqual(t, "task last run", task.LastRanMs, Some(s.Clock.Now().UnixMilli()).AsPointer())
}

func TestAutoPruneWithSharedBlobs(t *testing.T) {
	j, s := setup(t, test.WithQuotaManagement)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	shared := s.CreateBlob(t, "shared", 1000)
	for idx, name := range []string{"old", "middle", "new"} {
		own := s.CreateBlob(t, "own/"+name, int64(10*(idx+1)))
		s.CreateTag(t, repo, name, s.CreateManifest(t, repo, shared, own))
		s.Clock.StepBy(1 * time.Minute)
	}
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), Some[int64](1060))
	assert.DeepEqual(t, "repo size", s.RepositoryBytes(t, repo), Some[int64](1060))

	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":1}`), true))(t)
	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))

	// the shared blob is still referenced by "new", so only the blobs of "old" and "middle" are subtracted
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"new"})
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), Some[int64](1030))
	assert.DeepEqual(t, "repo size", s.RepositoryBytes(t, repo), Some[int64](1030))
}

func TestAutoPruneTaskFailure(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	createTags(t, s, repo, 100, "a", "b")

	// the API would reject this policy, so it needs to be put into the DB directly
	_, err := s.DB.Exec(`INSERT INTO namespace_autoprune_policies (uuid, namespace_id, policy_json) VALUES ($1, $2, $3)`,
		"00000000-0000-0000-0000-000000000099", ns.ID, `{"method":"number_of_tags","value":0}`)
	must.SucceedT(t, err)
	must.SucceedT(t, processor.CreateAutoPruneTaskIfMissing(s.DB, ns.ID))

	// the failure is recorded on the task, not reported by the job
	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "task status", getTask(t, s, ns).Status,
		"failure: invalid autoprune policy: value for number_of_tags must be a positive integer, but got 0")
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"a", "b"})
}

func TestAutoPruneSkipsInactiveNamespaces(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	repo := s.CreateRepository(t, ns, "foo")
	createTags(t, s, repo, 100, "a", "b")
	must.ReturnT(s.Processor.CreateNamespaceAutoPrunePolicy(processor.AuditContext{}, "test1", mustParsePolicy(t, `{"method":"number_of_tags","value":1}`), true))(t)
	_, err := s.DB.Exec(`UPDATE namespaces SET is_enabled = FALSE WHERE id = $1`, ns.ID)
	must.SucceedT(t, err)

	job := j.AutoPruneJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "alive tags", aliveTagNames(t, s, repo), []string{"a", "b"})
	assert.DeepEqual(t, "task status", getTask(t, s, ns).Status, models.AutoPruneTaskQueued)
}
