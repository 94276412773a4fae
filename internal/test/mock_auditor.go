// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"testing"

	"github.com/sapcc/go-api-declarations/cadf"
	"github.com/sapcc/go-bits/assert"
	"github.com/sapcc/go-bits/audittools"
)

// AuditEvent is the part of an audittools.Event that tests are interested in.
type AuditEvent struct {
	Action     cadf.Action
	ReasonCode int
	Target     cadf.Resource
}

// Auditor is a test recorder that satisfies the audittools.Auditor interface.
type Auditor struct {
	events []AuditEvent
}

// Record implements the audittools.Auditor interface.
func (a *Auditor) Record(event audittools.Event) {
	a.events = append(a.events, AuditEvent{
		Action:     event.Action,
		ReasonCode: event.ReasonCode,
		Target:     event.Target.Render(),
	})
}

// ExpectEvents checks that the recorded events are equivalent to the supplied expectation.
func (a *Auditor) ExpectEvents(t *testing.T, expectedEvents ...AuditEvent) {
	t.Helper()
	if len(expectedEvents) == 0 {
		expectedEvents = nil
	}
	assert.DeepEqual(t, "audit events", a.events, expectedEvents)

	// reset state for next test
	a.events = nil
}

// IgnoreEventsUntilNow clears the list of recorded events, so that the next
// ExpectEvents() will only cover events generated after this point.
func (a *Auditor) IgnoreEventsUntilNow() {
	a.events = nil
}
