// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

var autopruneTaskSelectQuery = sqlext.SimplifyWhitespace(`
	SELECT t.* FROM autoprune_tasks t
	  JOIN namespaces n ON n.id = t.namespace_id
	 WHERE n.is_enabled AND NOT n.is_deleting
	   AND (t.last_ran_ms IS NULL OR t.last_ran_ms < $1)
	-- tasks that never ran first, then sorted by last run
	 ORDER BY t.last_ran_ms IS NULL DESC, t.last_ran_ms ASC, t.id ASC
	 LIMIT $2
`)

// Only succeeds if no other janitor has touched the task since we read it.
var autopruneTaskClaimQuery = sqlext.SimplifyWhitespace(`
	UPDATE autoprune_tasks SET status = $4, last_ran_ms = $5
	 WHERE id = $1 AND status = $2 AND last_ran_ms IS NOT DISTINCT FROM $3
`)

var autopruneTaskFinishQuery = sqlext.SimplifyWhitespace(`
	UPDATE autoprune_tasks SET status = $2, last_ran_ms = $3 WHERE id = $1
`)

// AutoPruneJob is a job. Each run claims a batch of autoprune tasks that have
// not run within the configured minimum interval, and executes the autoprune
// policies of the respective namespaces.
func (j *Janitor) AutoPruneJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "autoprune",
			CounterOpts: prometheus.CounterOpts{
				Name: "regwarden_autoprune_batches",
				Help: "Counter for batches of autoprune tasks processed by this janitor.",
			},
		},
		Interval:     j.cfg.AutoPrune.PollPeriod,
		InitialDelay: j.addJitter(j.cfg.AutoPrune.PollPeriod) / 10,
		Task: func(ctx context.Context, _ prometheus.Labels) error {
			return j.processAutoPruneBatch(ctx)
		},
	}).Setup(registerer)
}

func (j *Janitor) processAutoPruneBatch(ctx context.Context) error {
	now := j.timeNow()
	var tasks []models.AutoPruneTaskStatus
	_, err := j.db.Select(&tasks, autopruneTaskSelectQuery,
		now.Add(-j.cfg.AutoPrune.TaskRunMinimumInterval).UnixMilli(), j.cfg.AutoPrune.BatchSize)
	if err != nil {
		return fmt.Errorf("cannot select autoprune tasks: %w", err)
	}

	for _, task := range tasks {
		claimed, err := j.claimAutoPruneTask(task, now)
		if err != nil {
			return err
		}
		if !claimed {
			logg.Debug("autoprune task for namespace %d was claimed by someone else", task.NamespaceID)
			continue
		}

		deleted, err := j.processAutoPruneTask(ctx, task)
		if deleted {
			if err != nil {
				return fmt.Errorf("cannot delete autoprune task %d: %w", task.ID, err)
			}
			continue
		}
		status := models.AutoPruneTaskSucceeded
		if err != nil {
			logg.Error("autoprune task for namespace %d failed: %s", task.NamespaceID, err.Error())
			status = models.AutoPruneTaskFailedPrefix + err.Error()
		}
		_, err = j.db.Exec(autopruneTaskFinishQuery, task.ID, status, j.timeNow().UnixMilli())
		if err != nil {
			return fmt.Errorf("cannot record result of autoprune task %d: %w", task.ID, err)
		}
	}
	return nil
}

// Returns false if a concurrent janitor claimed the task first.
func (j *Janitor) claimAutoPruneTask(task models.AutoPruneTaskStatus, now time.Time) (bool, error) {
	result, err := j.db.Exec(autopruneTaskClaimQuery,
		task.ID, task.Status, task.LastRanMs, models.AutoPruneTaskInProgress, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("cannot claim autoprune task %d: %w", task.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	return rowsAffected > 0, err
}

// Returns true if the task was deleted because its namespace does not have
// any policies anymore. In that case, a non-nil error means that the deletion failed.
func (j *Janitor) processAutoPruneTask(ctx context.Context, task models.AutoPruneTaskStatus) (deleted bool, err error) {
	p := j.processor()
	policies, err := p.GetNamespaceAutoPrunePoliciesByID(task.NamespaceID)
	if err != nil {
		return false, err
	}
	repoPolicies, err := p.GetRepositoryAutoPrunePoliciesByNamespaceID(task.NamespaceID)
	if err != nil {
		return false, err
	}
	if len(policies) == 0 && len(repoPolicies) == 0 {
		return j.deleteAutoPruneTaskIfUnused(task)
	}

	namespace, ok, err := j.findNamespace(task.NamespaceID)
	if err != nil || !ok {
		return false, err
	}
	nsPolicies := make([]regwarden.AutoPrunePolicy, len(policies))
	for idx, policy := range policies {
		nsPolicies[idx] = policy.Policy
	}
	return false, j.executeNamespacePolicies(ctx, namespace, nsPolicies, true)
}

// A policy may have been created since the caller looked, so the deletion
// re-checks for policies in the same statement.
func (j *Janitor) deleteAutoPruneTaskIfUnused(task models.AutoPruneTaskStatus) (deleted bool, err error) {
	deleted, err = processor.DeleteAutoPruneTaskIfUnused(j.db, task.NamespaceID)
	if err != nil {
		return true, err
	}
	if deleted {
		logg.Info("deleted autoprune task for namespace %d because it does not have any autoprune policies", task.NamespaceID)
	}
	return deleted, nil
}

func (j *Janitor) findNamespace(id int64) (models.Namespace, bool, error) {
	namespace, err := regwarden.FindNamespace(j.db, id)
	if err != nil {
		return models.Namespace{}, false, err
	}
	result, ok := namespace.Unpack()
	return result, ok, nil
}
