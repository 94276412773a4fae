// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"math/rand"
	"time"

	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

// Janitor contains the toolbox of the regwarden-janitor process.
type Janitor struct {
	cfg regwarden.Configuration
	db  *regwarden.DB
	ld  regwarden.LockDriver

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow   func() time.Time
	addJitter func(time.Duration) time.Duration
}

// NewJanitor creates a new Janitor.
func NewJanitor(cfg regwarden.Configuration, db *regwarden.DB, ld regwarden.LockDriver) *Janitor {
	return &Janitor{cfg, db, ld, time.Now, addJitter}
}

// OverrideTimeNow replaces time.Now with a test double.
func (j *Janitor) OverrideTimeNow(timeNow func() time.Time) *Janitor {
	j.timeNow = timeNow
	return j
}

// DisableJitter replaces addJitter with a no-op for this Janitor.
func (j *Janitor) DisableJitter() *Janitor {
	j.addJitter = func(d time.Duration) time.Duration { return d }
	return j
}

// addJitter returns a random duration within +/- 10% of the requested value.
// This can be used to even out the load on a scheduled job over time, by
// spreading jobs that would normally be scheduled right next to each other out
// over time without corrupting the individual schedules too much.
func addJitter(duration time.Duration) time.Duration {
	//nolint:gosec // This is not crypto-relevant, so math/rand is okay.
	r := rand.Float64() // NOTE: 0 <= r < 1
	return time.Duration(float64(duration) * (0.9 + 0.2*r))
}

func (j *Janitor) processor() *processor.Processor {
	return processor.New(j.cfg, j.db, nil).OverrideTimeNow(j.timeNow)
}
