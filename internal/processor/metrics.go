// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import "github.com/prometheus/client_golang/prometheus"

var (
	// QuotaBackfillCounter is a prometheus.CounterVec.
	QuotaBackfillCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwarden_quota_backfills_finished",
			Help: "Counter for backfills of size rows that ran to the end. The result is \"discarded\" if the row was reset while the backfill was running.",
		},
		[]string{"table", "result"},
	)
	// SkippedSizeUpdateCounter is a prometheus.CounterVec.
	SkippedSizeUpdateCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwarden_quota_skipped_size_updates",
			Help: "Counter for incremental size updates that were not applied because the size row is waiting for a backfill.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(QuotaBackfillCounter)
	prometheus.MustRegister(SkippedSizeUpdateCounter)
}
