// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/regwarden"
)

const registryWideAutoPruneNamespacePageSize = 50

// Namespaces with their own policies are handled by AutoPruneJob instead.
var registryWideAutoPruneNamespaceQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM namespaces n
	 WHERE n.is_enabled AND NOT n.is_deleting AND n.id > $1
	   AND NOT EXISTS (SELECT 1 FROM namespace_autoprune_policies p WHERE p.namespace_id = n.id)
	 ORDER BY n.id ASC
	 LIMIT $2
`)

// RegistryWideAutoPruneJob is a job. Each run applies the configured default
// namespace policy to all active namespaces that do not have their own
// autoprune policies.
func (j *Janitor) RegistryWideAutoPruneJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "registry-wide autoprune",
			CounterOpts: prometheus.CounterOpts{
				Name: "regwarden_registry_wide_autoprune_runs",
				Help: "Counter for sweeps of the default autoprune policy over all namespaces.",
			},
		},
		Interval:     j.cfg.AutoPrune.DefaultPolicyPollPeriod,
		InitialDelay: j.addJitter(j.cfg.AutoPrune.DefaultPolicyPollPeriod) / 10,
		Task: func(ctx context.Context, _ prometheus.Labels) error {
			return j.sweepDefaultPolicy(ctx)
		},
	}).Setup(registerer)
}

func (j *Janitor) sweepDefaultPolicy(ctx context.Context) error {
	policy, ok := j.cfg.AutoPrune.DefaultNamespacePolicy.Unpack()
	if !ok {
		return nil
	}
	err := policy.Validate()
	if err != nil {
		logg.Error("skipping registry-wide autoprune because the default policy is invalid: %s", err.Error())
		return nil
	}

	var lastNamespaceID int64
	for {
		var namespaces []models.Namespace
		_, err := j.db.Select(&namespaces, registryWideAutoPruneNamespaceQuery, lastNamespaceID, registryWideAutoPruneNamespacePageSize)
		if err != nil {
			return fmt.Errorf("cannot list namespaces: %w", err)
		}
		if len(namespaces) == 0 {
			return nil
		}

		for _, namespace := range namespaces {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := j.applyDefaultPolicy(ctx, namespace, policy)
			if err != nil {
				logg.Error("registry-wide autoprune failed for namespace %q: %s", namespace.Name, err.Error())
			}
		}
		lastNamespaceID = namespaces[len(namespaces)-1].ID
	}
}

func (j *Janitor) applyDefaultPolicy(ctx context.Context, namespace models.Namespace, policy regwarden.AutoPrunePolicy) error {
	key := regwarden.RegistryWideAutoPruneLockKey(namespace.ID)
	lock, err := j.ld.TryAcquire(ctx, key, j.cfg.AutoPrune.DefaultPolicyTimeout)
	if err != nil {
		return err
	}
	handle, ok := lock.Unpack()
	if !ok {
		logg.Debug("skipping registry-wide autoprune for namespace %q: lock is held by someone else", namespace.Name)
		return nil
	}
	defer func() {
		err := j.ld.Release(ctx, handle)
		if err != nil {
			logg.Error("cannot release lock %s: %s", key, err.Error())
		}
	}()

	return j.executeNamespacePolicies(ctx, namespace, []regwarden.AutoPrunePolicy{policy}, false)
}
