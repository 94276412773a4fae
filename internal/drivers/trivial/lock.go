// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package trivial

import (
	"context"
	"sync"
	"time"

	. "github.com/majewsky/gg/option"

	"github.com/sapcc/regwarden/internal/regwarden"
)

// lockDriver only serializes lock holders within the current process. It is
// suitable for deployments with a single janitor.
type lockDriver struct {
	mutex   sync.Mutex
	holders map[string]lockHolder
	timeNow func() time.Time
}

type lockHolder struct {
	Token     string
	ExpiresAt time.Time
}

func init() {
	regwarden.LockDriverRegistry.Add(func() regwarden.LockDriver { return &lockDriver{} })
}

// PluginTypeID implements the regwarden.LockDriver interface.
func (d *lockDriver) PluginTypeID() string { return "trivial" }

// Init implements the regwarden.LockDriver interface.
func (d *lockDriver) Init(ctx context.Context, cfg regwarden.Configuration) error {
	d.holders = make(map[string]lockHolder)
	d.timeNow = time.Now
	return nil
}

// TryAcquire implements the regwarden.LockDriver interface.
func (d *lockDriver) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Option[regwarden.LockHandle], error) {
	token, err := regwarden.NewLockToken()
	if err != nil {
		return None[regwarden.LockHandle](), err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	now := d.timeNow()
	holder, exists := d.holders[key]
	if exists && holder.ExpiresAt.After(now) {
		return None[regwarden.LockHandle](), nil
	}
	d.holders[key] = lockHolder{Token: token, ExpiresAt: now.Add(ttl)}
	return Some(regwarden.LockHandle{Key: key, Token: token}), nil
}

// Release implements the regwarden.LockDriver interface.
func (d *lockDriver) Release(ctx context.Context, handle regwarden.LockHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.holders[handle.Key].Token == handle.Token {
		delete(d.holders, handle.Key)
	}
	return nil
}
