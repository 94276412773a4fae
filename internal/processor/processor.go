// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/gofrs/uuid/v5"
	"github.com/sapcc/go-bits/audittools"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/regwarden"
)

// Processor is a higher-level interface wrapping regwarden.DB. It abstracts DB
// accesses into high-level interactions and keeps the quota size rows in
// lockstep with changes to tags.
type Processor struct {
	cfg     regwarden.Configuration
	db      *regwarden.DB
	auditor audittools.Auditor

	// non-pure functions that can be replaced by deterministic doubles for unit tests
	timeNow      func() time.Time
	generateUUID func() string
}

// New creates a new Processor. The auditor may be nil for processors that
// never receive an AuditContext with a UserInfo.
func New(cfg regwarden.Configuration, db *regwarden.DB, auditor audittools.Auditor) *Processor {
	return &Processor{cfg, db, auditor, time.Now, generateUUID}
}

// OverrideTimeNow replaces time.Now with a test double.
func (p *Processor) OverrideTimeNow(timeNow func() time.Time) *Processor {
	p.timeNow = timeNow
	return p
}

// OverrideGenerateUUID replaces the UUID generator for policies with a test double.
func (p *Processor) OverrideGenerateUUID(generateUUID func() string) *Processor {
	p.generateUUID = generateUUID
	return p
}

func generateUUID() string {
	return must.Return(uuid.NewV4()).String()
}

// Executes the action callback within a database transaction. If the action
// callback returns success (i.e. a nil error), the transaction will be
// committed. If it returns an error or panics, the transaction will be rolled
// back.
func (p *Processor) insideTransaction(action func(*gorp.Transaction) error) error {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer sqlext.RollbackUnlessCommitted(tx)

	err = action(tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}
