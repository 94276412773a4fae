// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	. "github.com/majewsky/gg/option"
	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
	"github.com/sapcc/go-bits/pluggable"
)

// Configuration contains all configuration values that are not specific to a
// certain driver.
type Configuration struct {
	DatabaseURL url.URL
	// If false, tag creation and deletion reset the backfill state of the
	// affected size rows instead of updating them incrementally.
	QuotaManagementEnabled bool
	// An in-progress backfill that has not completed after this long is
	// considered abandoned and will be restarted.
	QuotaBackfillStaleAfter time.Duration
	AutoPrune               AutoPruneConfiguration
}

// AutoPruneConfiguration contains the tunables of the autoprune jobs.
type AutoPruneConfiguration struct {
	PollPeriod                 time.Duration
	DefaultPolicyPollPeriod    time.Duration
	BatchSize                  uint64
	TaskRunMinimumInterval     time.Duration
	FetchTagsPageLimit         uint64
	FetchRepositoriesPageLimit uint64
	// Also used as TTL for the per-namespace lock of the registry-wide sweep.
	DefaultPolicyTimeout time.Duration
	// If None, the registry-wide sweep is disabled.
	DefaultNamespacePolicy Option[AutoPrunePolicy]
}

// DefaultAutoPruneConfiguration returns the AutoPruneConfiguration that is
// used when no environment variables override it.
func DefaultAutoPruneConfiguration() AutoPruneConfiguration {
	return AutoPruneConfiguration{
		PollPeriod:                 30 * time.Second,
		DefaultPolicyPollPeriod:    24 * time.Hour,
		BatchSize:                  10,
		TaskRunMinimumInterval:     60 * time.Minute,
		FetchTagsPageLimit:         100,
		FetchRepositoriesPageLimit: 50,
		DefaultPolicyTimeout:       1 * time.Hour,
		DefaultNamespacePolicy:     None[AutoPrunePolicy](),
	}
}

// GetDatabaseURLFromEnvironment reads the REGWARDEN_DB_* environment variables.
func GetDatabaseURLFromEnvironment() (dbURL url.URL, dbName string) {
	dbName = osext.GetenvOrDefault("REGWARDEN_DB_NAME", "regwarden")
	return must.Return(easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("REGWARDEN_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("REGWARDEN_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("REGWARDEN_DB_USERNAME", "postgres"),
		Password:          os.Getenv("REGWARDEN_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("REGWARDEN_DB_CONNECTION_OPTIONS"),
		DatabaseName:      dbName,
	})), dbName
}

// ParseConfiguration obtains a regwarden.Configuration instance from the
// corresponding environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	logg.Debug("parsing configuration...")

	dbURL, _ := GetDatabaseURLFromEnvironment()
	cfg := Configuration{
		DatabaseURL:             dbURL,
		QuotaManagementEnabled:  osext.GetenvBool("REGWARDEN_QUOTA_MANAGEMENT"),
		QuotaBackfillStaleAfter: mustGetenvDuration("REGWARDEN_QUOTA_BACKFILL_STALE_AFTER", 1*time.Hour),
		AutoPrune:               DefaultAutoPruneConfiguration(),
	}

	ap := &cfg.AutoPrune
	ap.PollPeriod = mustGetenvDuration("REGWARDEN_AUTOPRUNE_POLL_PERIOD", ap.PollPeriod)
	ap.DefaultPolicyPollPeriod = mustGetenvDuration("REGWARDEN_AUTOPRUNE_DEFAULT_POLICY_POLL_PERIOD", ap.DefaultPolicyPollPeriod)
	ap.BatchSize = mustGetenvUint("REGWARDEN_AUTOPRUNE_BATCH_SIZE", ap.BatchSize)
	ap.TaskRunMinimumInterval = mustGetenvDuration("REGWARDEN_AUTOPRUNE_TASK_RUN_MINIMUM_INTERVAL", ap.TaskRunMinimumInterval)
	ap.FetchTagsPageLimit = mustGetenvUint("REGWARDEN_AUTOPRUNE_FETCH_TAGS_PAGE_LIMIT", ap.FetchTagsPageLimit)
	ap.FetchRepositoriesPageLimit = mustGetenvUint("REGWARDEN_AUTOPRUNE_FETCH_REPOSITORIES_PAGE_LIMIT", ap.FetchRepositoriesPageLimit)
	ap.DefaultPolicyTimeout = mustGetenvDuration("REGWARDEN_AUTOPRUNE_DEFAULT_POLICY_TIMEOUT", ap.DefaultPolicyTimeout)

	if ap.TaskRunMinimumInterval < 30*time.Minute {
		logg.Info("REGWARDEN_AUTOPRUNE_TASK_RUN_MINIMUM_INTERVAL is %s, which is below the recommended minimum of 30m", ap.TaskRunMinimumInterval)
	}
	if ap.BatchSize == 0 || ap.FetchTagsPageLimit == 0 || ap.FetchRepositoriesPageLimit == 0 {
		logg.Fatal("REGWARDEN_AUTOPRUNE_BATCH_SIZE and the REGWARDEN_AUTOPRUNE_FETCH_*_PAGE_LIMIT variables must be positive")
	}

	// an invalid default policy is not fatal here; the sweep reports it on each run
	policyJSON := os.Getenv("REGWARDEN_DEFAULT_NAMESPACE_AUTOPRUNE_POLICY")
	if policyJSON != "" {
		policy, err := ParseAutoPrunePolicy(policyJSON)
		if err != nil {
			logg.Fatal("malformed REGWARDEN_DEFAULT_NAMESPACE_AUTOPRUNE_POLICY: %s", err.Error())
		}
		ap.DefaultNamespacePolicy = Some(policy)
	}

	return cfg
}

// Like time.ParseDuration, but with a default value and fatal error handling.
func mustGetenvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		// also accept the day/week notation that policies use
		var d2 Duration
		d2, err = ParseDuration(val)
		d = time.Duration(d2)
	}
	if err != nil || d <= 0 {
		logg.Fatal("invalid value for %s: %q", key, val)
	}
	return d
}

func mustGetenvUint(key string, defaultValue uint64) uint64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		logg.Fatal("invalid value for %s: %q", key, val)
	}
	return n
}

// GetRedisOptions returns a redis.Options by getting the required parameters
// from environment variables:
//
//	REDIS_PASSWORD, REDIS_HOSTNAME, REDIS_PORT, and REDIS_DB_NUM.
//
// The environment variable keys are prefixed with the provided prefix.
func GetRedisOptions(prefix string) (*redis.Options, error) {
	pass := os.Getenv(prefix + "_PASSWORD")
	host := osext.GetenvOrDefault(prefix+"_HOSTNAME", "localhost")
	port := osext.GetenvOrDefault(prefix+"_PORT", "6379")
	dbNum := osext.GetenvOrDefault(prefix+"_DB_NUM", "0")
	db, err := strconv.Atoi(dbNum)
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %q", prefix+"_DB_NUM", dbNum)
	}

	return &redis.Options{
		Network:    "tcp",
		Password:   pass,
		Addr:       net.JoinHostPort(host, port),
		ClientName: bininfo.Component(),
		DB:         db,
	}, nil
}

// newDriver parses a config JSON as found in a REGWARDEN_DRIVER_* variable,
// initializes the respective driver, and unmarshals config parameters into it.
func newDriver[P pluggable.Plugin](driverType string, registry pluggable.Registry[P], configJSON string, init func(P) error) (P, error) {
	var zero P // for error returns

	var cfg struct {
		PluginTypeID string          `json:"type"`
		Params       json.RawMessage `json:"params"`
	}
	err := UnmarshalJSONStrict([]byte(configJSON), &cfg)
	if err != nil {
		return zero, fmt.Errorf("cannot unmarshal %s config %q: %w", driverType, configJSON, err)
	}
	if len(cfg.Params) == 0 {
		// configJSON was just a type, e.g. `{"type":"trivial"}`
		cfg.Params = json.RawMessage("{}")
	}
	logg.Debug("initializing %s %q", driverType, configJSON)

	driver, ok := registry.TryInstantiate(cfg.PluginTypeID).Unpack()
	if !ok {
		return zero, fmt.Errorf("no such %s: %q", driverType, cfg.PluginTypeID)
	}
	err = json.Unmarshal([]byte(cfg.Params), driver)
	if err != nil {
		return zero, fmt.Errorf("cannot unmarshal params for %s %q: %w", driverType, cfg.PluginTypeID, err)
	}
	err = init(driver)
	if err != nil {
		return zero, fmt.Errorf("could not initialize %s %q: %w", driverType, cfg.PluginTypeID, err)
	}
	return driver, nil
}

// UnmarshalJSONStrict is like json.Unmarshal, but rejects unknown fields.
func UnmarshalJSONStrict(buf []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// SetTaskName records which server component is running, for logs and for
// the client name that is reported to Redis.
func SetTaskName(taskName string) {
	bininfo.SetTaskName(taskName)
	logg.Info("starting %s %s", bininfo.Component(), bininfo.VersionOr("rolling"))
}
