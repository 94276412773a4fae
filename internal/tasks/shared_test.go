// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/regwarden"
	"github.com/sapcc/regwarden/internal/test"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func setup(t *testing.T, opts ...test.SetupOption) (*Janitor, test.Setup) {
	t.Helper()
	s := test.NewSetup(t, opts...)
	j := NewJanitor(s.Config, s.DB, s.LockDriver).OverrideTimeNow(s.Clock.Now).DisableJitter()
	return j, s
}

func mustParsePolicy(t *testing.T, policyJSON string) regwarden.AutoPrunePolicy {
	t.Helper()
	return must.ReturnT(regwarden.ParseAutoPrunePolicy(policyJSON))(t)
}

// Creates one manifest per tag, each with its own blob of the given size.
func createTags(t *testing.T, s test.Setup, repo models.Repository, sizeBytes int64, names ...string) {
	t.Helper()
	for _, name := range names {
		blob := s.CreateBlob(t, fmt.Sprintf("%d/%s", repo.ID, name), sizeBytes)
		s.CreateTag(t, repo, name, s.CreateManifest(t, repo, blob))
	}
}

func aliveTagNames(t *testing.T, s test.Setup, repo models.Repository) []string {
	t.Helper()
	var names []string
	_, err := s.DB.Select(&names, `SELECT name FROM tags WHERE repo_id = $1 AND NOT hidden AND lifetime_end_ms IS NULL ORDER BY name`, repo.ID)
	must.SucceedT(t, err)
	return names
}

func getTask(t *testing.T, s test.Setup, namespace models.Namespace) models.AutoPruneTaskStatus {
	t.Helper()
	var task models.AutoPruneTaskStatus
	must.SucceedT(t, s.DB.SelectOne(&task, `SELECT * FROM autoprune_tasks WHERE namespace_id = $1`, namespace.ID))
	return task
}

func countTasks(t *testing.T, s test.Setup) int64 {
	t.Helper()
	return must.ReturnT(s.DB.SelectInt(`SELECT COUNT(*) FROM autoprune_tasks`))(t)
}

func newRegistry() prometheus.Registerer {
	return prometheus.NewRegistry()
}
