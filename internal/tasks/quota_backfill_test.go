// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/must"
)

func TestQuotaBackfillJob(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	foo := s.CreateRepository(t, ns, "foo")
	bar := s.CreateRepository(t, ns, "bar")
	createTags(t, s, foo, 100, "a")
	createTags(t, s, foo, 200, "b")
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), None[int64]())

	expectNothingToDo := func() {
		t.Helper()
		err := j.QuotaBackfillJob(newRegistry()).ProcessOne(s.Ctx)
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("expected sql.ErrNoRows, but got %v", err)
		}
	}

	job := j.QuotaBackfillJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), Some[int64](300))
	assert.DeepEqual(t, "size of repo foo", s.RepositoryBytes(t, foo), Some[int64](300))
	assert.DeepEqual(t, "size of repo bar", s.RepositoryBytes(t, bar), Some[int64](0))
	expectNothingToDo()

	// without quota management, tag deletion invalidates the sizes
	s.Clock.StepBy(1 * time.Minute)
	must.ReturnT(s.Processor.DeleteTag(foo, "a"))(t)
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "namespace size", s.NamespaceBytes(t, ns), Some[int64](200))
	assert.DeepEqual(t, "size of repo foo", s.RepositoryBytes(t, foo), Some[int64](200))
	expectNothingToDo()

	// a backfill that was started, but never finished, is picked up again once it is stale
	_, err := s.DB.Exec(`UPDATE quota_repository_sizes SET backfill_complete = FALSE, backfill_start_ms = $2 WHERE repo_id = $1`,
		bar.ID, s.Clock.Now().UnixMilli())
	must.SucceedT(t, err)
	s.Clock.StepBy(30 * time.Minute)
	expectNothingToDo()
	s.Clock.StepBy(31 * time.Minute)
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	expectNothingToDo()
}

func TestQuotaBackfillJobSkipsDeletedRepositories(t *testing.T) {
	j, s := setup(t)
	s.Clock.StepBy(1 * time.Hour)

	ns := s.CreateNamespace(t, "test1")
	foo := s.CreateRepository(t, ns, "foo")
	createTags(t, s, foo, 100, "a")
	_, err := s.DB.Exec(`UPDATE repos SET is_deleting = TRUE WHERE id = $1`, foo.ID)
	must.SucceedT(t, err)

	job := j.QuotaBackfillJob(newRegistry())
	must.SucceedT(t, job.ProcessOne(s.Ctx))
	assert.DeepEqual(t, "size of repo foo", s.RepositoryBytes(t, foo), None[int64]())

	err = job.ProcessOne(s.Ctx)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, but got %v", err)
	}
}
