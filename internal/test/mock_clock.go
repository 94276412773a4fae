// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sapcc/go-bits/mock"
)

// Clock is a deterministic clock for unit tests. It starts at the Unix epoch
// and only advances when Clock.StepBy() is called. If a MiniRedis is attached,
// key expiry follows this clock.
type Clock struct {
	*mock.Clock
	MiniRedis *miniredis.Miniredis
}

// NewClock creates a new Clock.
func NewClock() *Clock {
	return &Clock{Clock: mock.NewClock()}
}

// StepBy advances the clock by the given duration.
func (c *Clock) StepBy(d time.Duration) {
	c.Clock.StepBy(d)
	if c.MiniRedis != nil {
		c.MiniRedis.SetTime(c.Now())
		c.MiniRedis.FastForward(d)
	}
}
