// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"fmt"
	"time"

	. "github.com/majewsky/gg/option"
	"github.com/redis/go-redis/v9"
	"github.com/sapcc/go-bits/osext"

	"github.com/sapcc/regwarden/internal/regwarden"
)

type lockDriver struct {
	// configuration
	EnvPrefix string `json:"env_prefix"`
	KeyPrefix string `json:"key_prefix"`

	// state
	rc *redis.Client `json:"-"`
}

func init() {
	regwarden.LockDriverRegistry.Add(func() regwarden.LockDriver { return &lockDriver{} })
}

// PluginTypeID implements the regwarden.LockDriver interface.
func (d *lockDriver) PluginTypeID() string { return "redis" }

// Init implements the regwarden.LockDriver interface.
func (d *lockDriver) Init(ctx context.Context, cfg regwarden.Configuration) error {
	// apply defaults
	if d.EnvPrefix == "" {
		d.EnvPrefix = "REGWARDEN_LOCK_REDIS"
	}
	if d.KeyPrefix == "" {
		d.KeyPrefix = "regwarden"
	}

	// connect to Redis
	_, err := osext.NeedGetenv(d.EnvPrefix + "_HOSTNAME") // do not rely on the default implied by regwarden.GetRedisOptions()
	if err != nil {
		return err
	}
	opts, err := regwarden.GetRedisOptions(d.EnvPrefix)
	if err != nil {
		return fmt.Errorf("cannot parse lock Redis URL: %s", err.Error())
	}
	d.rc = redis.NewClient(opts)
	return d.rc.Ping(ctx).Err()
}

func (d *lockDriver) redisKey(key string) string {
	return fmt.Sprintf("%s-lock-%s", d.KeyPrefix, key)
}

const (
	checkAndClearScript = `
		local v = redis.call('GET', KEYS[1])
		if v == ARGV[1] then
			redis.call('DEL', KEYS[1])
			return 1
		end
		return 0
	`
)

// TryAcquire implements the regwarden.LockDriver interface.
func (d *lockDriver) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Option[regwarden.LockHandle], error) {
	token, err := regwarden.NewLockToken()
	if err != nil {
		return None[regwarden.LockHandle](), err
	}
	ok, err := d.rc.SetNX(ctx, d.redisKey(key), token, ttl).Result()
	if err != nil {
		return None[regwarden.LockHandle](), fmt.Errorf("cannot acquire lock %q: %w", key, err)
	}
	if !ok {
		return None[regwarden.LockHandle](), nil
	}
	return Some(regwarden.LockHandle{Key: key, Token: token}), nil
}

// Release implements the regwarden.LockDriver interface.
func (d *lockDriver) Release(ctx context.Context, handle regwarden.LockHandle) error {
	// only delete the key if it still holds our token; if it expired and
	// someone else took over, that new holder must not be affected
	err := d.rc.Eval(ctx, checkAndClearScript, []string{d.redisKey(handle.Key)}, handle.Token).Err()
	if err != nil {
		return fmt.Errorf("cannot release lock %q: %w", handle.Key, err)
	}
	return nil
}
