// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package regwarden

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/pluggable"
)

// LockDriver is a pluggable interface for a mutual-exclusion primitive that is
// shared between all janitor processes. Locks are identified by string keys
// and expire after a TTL, so that a crashed holder cannot block others forever.
type LockDriver interface {
	pluggable.Plugin
	// Init is called before any other interface methods, and allows the plugin to
	// perform first-time initialization.
	Init(ctx context.Context, cfg Configuration) error

	// TryAcquire attempts to take the lock with the given key. If the lock is
	// held by someone else, None is returned without an error.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Option[LockHandle], error)
	// Release gives up a lock that was obtained from TryAcquire. Releasing a
	// lock that has expired (and possibly been taken by someone else since) is
	// not an error and does not affect the new holder.
	Release(ctx context.Context, handle LockHandle) error
}

// LockHandle identifies a lock acquisition. The Token distinguishes this
// acquisition from any later acquisition of the same key.
type LockHandle struct {
	Key   string
	Token string
}

// NewLockToken generates a random token for a LockHandle.
func NewLockToken() (string, error) {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("could not generate lock token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// LockDriverRegistry is a pluggable.Registry for LockDriver implementations.
var LockDriverRegistry pluggable.Registry[LockDriver]

// NewLockDriver creates a new LockDriver using one of the plugins registered
// with LockDriverRegistry.
//
// The supplied config must be a JSON string like `{"type":"redis","params":{"env_prefix":"..."}}`.
func NewLockDriver(ctx context.Context, configJSON string, cfg Configuration) (LockDriver, error) {
	return newDriver("lock driver", LockDriverRegistry, configJSON, func(ld LockDriver) error {
		return ld.Init(ctx, cfg)
	})
}

// RegistryWideAutoPruneLockKey returns the lock key that serializes the
// registry-wide autoprune sweep for one namespace.
func RegistryWideAutoPruneLockKey(namespaceID int64) string {
	return fmt.Sprintf("REGISTRY_WIDE_AUTOPRUNE_%d", namespaceID)
}
