// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"

	// register the lock drivers
	_ "github.com/sapcc/regwarden/internal/drivers/redis"
	_ "github.com/sapcc/regwarden/internal/drivers/trivial"
	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

type setupParams struct {
	QuotaManagement bool
	DefaultPolicy   *regwarden.AutoPrunePolicy
	WithRedisLock   bool
}

// SetupOption is an option that can be given to NewSetup().
type SetupOption func(*setupParams)

// WithQuotaManagement is a SetupOption that enables incremental size updates.
func WithQuotaManagement(params *setupParams) {
	params.QuotaManagement = true
}

// WithRedisLock is a SetupOption that uses the redis lock driver (backed by
// miniredis) instead of the trivial lock driver.
func WithRedisLock(params *setupParams) {
	params.WithRedisLock = true
}

// WithDefaultNamespacePolicy is a SetupOption that configures the
// registry-wide default autoprune policy.
func WithDefaultNamespacePolicy(policyJSON string) SetupOption {
	return func(params *setupParams) {
		policy := must.Return(regwarden.ParseAutoPrunePolicy(policyJSON))
		params.DefaultPolicy = &policy
	}
}

// Setup contains all the pieces that are needed for most tests.
type Setup struct {
	// fields that are always set
	Config     regwarden.Configuration
	DB         *regwarden.DB
	Clock      *Clock
	LockDriver regwarden.LockDriver
	Processor  *processor.Processor
	Auditor    *Auditor
	Ctx        context.Context //nolint:containedctx // only used in tests
	// fields that are only set if the respective SetupOption is given
	MiniRedis *miniredis.Miniredis
}

// NewSetup prepares most or all pieces of regwarden for a test.
func NewSetup(t *testing.T, opts ...SetupOption) Setup {
	t.Helper()
	logg.ShowDebug = osext.GetenvBool("REGWARDEN_DEBUG")
	var params setupParams
	for _, option := range opts {
		option(&params)
	}

	s := Setup{
		Clock:   NewClock(),
		Auditor: &Auditor{},
		Ctx:     context.Background(),
	}

	// all other tables are cleared by ON DELETE CASCADE
	dbConn := easypg.ConnectForTest(t, easypg.Configuration{Migrations: regwarden.SQLMigrations},
		easypg.ClearTables("namespaces", "blobs"),
		easypg.ResetPrimaryKeys(
			"namespaces", "repos", "blobs", "manifests", "manifest_blobs", "manifest_children", "tags",
			"namespace_autoprune_policies", "repository_autoprune_policies", "autoprune_tasks",
		),
	)
	s.DB = regwarden.WrapDB(dbConn)

	s.Config = regwarden.Configuration{
		QuotaManagementEnabled:  params.QuotaManagement,
		QuotaBackfillStaleAfter: 1 * time.Hour,
		AutoPrune:               regwarden.DefaultAutoPruneConfiguration(),
	}
	if params.DefaultPolicy != nil {
		s.Config.AutoPrune.DefaultNamespacePolicy = Some(*params.DefaultPolicy)
	}

	lockConfig := `{"type":"trivial"}`
	if params.WithRedisLock {
		s.MiniRedis = miniredis.RunT(t)
		s.Clock.MiniRedis = s.MiniRedis
		t.Setenv("REGWARDEN_LOCK_REDIS_HOSTNAME", s.MiniRedis.Host())
		t.Setenv("REGWARDEN_LOCK_REDIS_PORT", s.MiniRedis.Port())
		lockConfig = `{"type":"redis"}`
	}
	s.LockDriver = must.ReturnT(regwarden.NewLockDriver(s.Ctx, lockConfig, s.Config))(t)

	s.Processor = processor.New(s.Config, s.DB, s.Auditor).
		OverrideTimeNow(s.Clock.Now).
		OverrideGenerateUUID(GenerateExampleUUID())

	return s
}
