// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapcc/regwarden/internal/regwarden"
)

var autopruneDeletedTagsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "regwarden_autoprune_deleted_tags",
		Help: "Counter for tags deleted by autoprune policies.",
	},
	[]string{"method"},
)

func init() {
	prometheus.MustRegister(autopruneDeletedTagsCounter)

	// make sure that the timeseries exist before the first deletion
	for _, method := range []regwarden.AutoPruneMethod{regwarden.PruneByNumberOfTags, regwarden.PruneByCreationDate} {
		autopruneDeletedTagsCounter.WithLabelValues(string(method)).Add(0)
	}
}
