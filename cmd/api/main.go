// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package apicmd

import (
	"net/http"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/spf13/cobra"

	"github.com/sapcc/regwarden/internal/api/regwardenv1"
	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

// AddCommandTo mounts this command into the command hierarchy.
func AddCommandTo(parent *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Run the regwarden-api server component.",
		Long:  "Run the regwarden-api server component. Configuration is read from environment variables as described in README.md.",
		Args:  cobra.NoArgs,
		Run:   run,
	}
	parent.AddCommand(cmd)
}

func run(cmd *cobra.Command, args []string) {
	_, _ = cmd, args

	regwarden.SetTaskName("api")

	cfg := regwarden.ParseConfiguration()
	ctx := httpext.ContextWithSIGINT(cmd.Context(), 10*time.Second)

	_, dbName := regwarden.GetDatabaseURLFromEnvironment()
	db := must.Return(regwarden.InitDB(cfg.DatabaseURL))
	prometheus.MustRegister(sqlstats.NewStatsCollector(dbName, db.Db))

	auditor := must.Return(audittools.NewAuditor(ctx, audittools.AuditorOpts{
		EnvPrefix: "REGWARDEN_AUDIT_RABBITMQ",
		Observer: audittools.Observer{
			TypeURI: "service/docker-registry",
			Name:    bininfo.Component(),
			ID:      must.Return(uuid.NewV4()).String(),
		},
		Registry: prometheus.DefaultRegisterer,
	}))

	// wire up HTTP handlers
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"HEAD", "GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "User-Agent", "Authorization"},
	})
	handler := httpapi.Compose(
		regwardenv1.NewAPI(db, processor.New(cfg, db, auditor)),
		httpapi.HealthCheckAPI{
			SkipRequestLog: true,
			Check: func() error {
				return db.Db.PingContext(ctx)
			},
		},
		httpapi.WithGlobalMiddleware(corsMiddleware.Handler),
	)
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	// start HTTP server
	apiListenAddress := osext.GetenvOrDefault("REGWARDEN_API_LISTEN_ADDRESS", ":8080")
	must.Succeed(httpext.ListenAndServeContext(ctx, apiListenAddress, mux))
}
