// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/sqlext"
)

// A size row is fine if it is complete or if its backfill started after $1.
// Missing rows, unstarted rows and abandoned rows need a backfill.
var quotaBackfillDiscoverQuery = sqlext.SimplifyWhitespace(`
	SELECT n.id FROM namespaces n
	 WHERE NOT n.is_deleting AND (
	   NOT EXISTS (
	     SELECT 1 FROM quota_namespace_sizes s
	      WHERE s.namespace_id = n.id AND (s.backfill_complete OR s.backfill_start_ms >= $1)
	   ) OR EXISTS (
	     SELECT 1 FROM repos r
	      WHERE r.namespace_id = n.id AND NOT r.is_deleting AND NOT EXISTS (
	        SELECT 1 FROM quota_repository_sizes s
	         WHERE s.repo_id = r.id AND (s.backfill_complete OR s.backfill_start_ms >= $1)
	      )
	   )
	 )
	 ORDER BY n.id ASC
	 LIMIT 1
`)

// QuotaBackfillJob is a job. Each task recomputes the storage sizes of one
// namespace and its repositories whose size rows are missing, not yet
// backfilled, or whose backfill was abandoned.
func (j *Janitor) QuotaBackfillJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.ProducerConsumerJob[int64]{
		Metadata: jobloop.JobMetadata{
			ReadableName: "quota backfill",
			CounterOpts: prometheus.CounterOpts{
				Name: "regwarden_quota_backfills",
				Help: "Counter for namespaces whose storage sizes were backfilled.",
			},
		},
		DiscoverTask: func(_ context.Context, _ prometheus.Labels) (namespaceID int64, err error) {
			staleBefore := j.timeNow().Add(-j.cfg.QuotaBackfillStaleAfter).UnixMilli()
			err = j.db.QueryRow(quotaBackfillDiscoverQuery, staleBefore).Scan(&namespaceID)
			return namespaceID, err
		},
		ProcessTask: func(_ context.Context, namespaceID int64, _ prometheus.Labels) error {
			return j.processor().RunBackfill(namespaceID)
		},
	}).Setup(registerer)
}
