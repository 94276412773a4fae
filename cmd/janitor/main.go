// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package janitorcmd

import (
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/sapcc/regwarden/internal/regwarden"
	"github.com/sapcc/regwarden/internal/tasks"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Run the regwarden-janitor server component.",
		Long:  "Run the regwarden-janitor server component. Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	regwarden.SetTaskName("janitor")

	cfg := regwarden.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	_, dbName := regwarden.GetDatabaseURLFromEnvironment()
	db := must.Return(regwarden.InitDB(cfg.DatabaseURL))
	prometheus.MustRegister(sqlstats.NewStatsCollector(dbName, db.Db))
	ld := must.Return(regwarden.NewLockDriver(ctx, osext.GetenvOrDefault("REGWARDEN_DRIVER_LOCK", `{"type":"trivial"}`), cfg))

	// start task loops
	janitor := tasks.NewJanitor(cfg, db, ld)
	go janitor.AutoPruneJob(prometheus.DefaultRegisterer).Run(ctx)
	if cfg.AutoPrune.DefaultNamespacePolicy.IsSome() {
		go janitor.RegistryWideAutoPruneJob(prometheus.DefaultRegisterer).Run(ctx)
	} else {
		logg.Info("registry-wide autoprune is disabled because REGWARDEN_DEFAULT_NAMESPACE_AUTOPRUNE_POLICY is not set")
	}
	if cfg.QuotaManagementEnabled {
		go janitor.QuotaBackfillJob(prometheus.DefaultRegisterer).Run(ctx)
	}

	// start HTTP server for Prometheus metrics and health check
	handler := httpapi.Compose(httpapi.HealthCheckAPI{SkipRequestLog: true})
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())
	listenAddress := osext.GetenvOrDefault("REGWARDEN_JANITOR_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, listenAddress, mux))
}
