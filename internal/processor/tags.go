// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"fmt"
	"time"

	"github.com/go-gorp/gorp/v3"
	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/regwarden"
)

// CreateTag points the tag with the given name at the given manifest. If a
// tag with this name is currently alive, it is ended first. The repository
// and namespace sizes are updated accordingly.
func (p *Processor) CreateTag(repo models.Repository, name string, manifestID int64) (models.Tag, error) {
	var tag models.Tag
	err := p.insideTransaction(func(tx *gorp.Transaction) error {
		now := p.timeNow()
		existing, err := regwarden.FindAliveTag(tx, repo, name, now)
		if err != nil {
			return err
		}
		if oldTag, ok := existing.Unpack(); ok {
			_, err := p.deleteTag(tx, repo, oldTag, now)
			if err != nil {
				return err
			}
		}

		tag = models.Tag{
			RepositoryID:    repo.ID,
			ManifestID:      manifestID,
			Name:            name,
			LifetimeStartMs: now.UnixMilli(),
		}
		err = tx.Insert(&tag)
		if err != nil {
			return fmt.Errorf("cannot insert tag %q into repo %d: %w", name, repo.ID, err)
		}

		if !p.cfg.QuotaManagementEnabled {
			return p.ResetBackfill(tx, repo)
		}
		blobSizes, err := GetBlobSizesForManifest(tx, manifestID)
		if err != nil {
			return err
		}
		return p.AddBlobSizes(tx, repo, tag.ID, blobSizes)
	})
	return tag, err
}

// DeleteTag ends the lifetime of the tag with the given name, and subtracts
// the storage that only this tag kept alive from the repository and namespace
// sizes. Returns None if no such tag is alive.
func (p *Processor) DeleteTag(repo models.Repository, name string) (Option[models.Tag], error) {
	result := None[models.Tag]()
	err := p.insideTransaction(func(tx *gorp.Transaction) error {
		now := p.timeNow()
		existing, err := regwarden.FindAliveTag(tx, repo, name, now)
		if err != nil {
			return err
		}
		tag, ok := existing.Unpack()
		if !ok {
			return nil
		}
		result, err = p.deleteTag(tx, repo, tag, now)
		return err
	})
	return result, err
}

// Returns None if a concurrent process deleted the tag first.
func (p *Processor) deleteTag(tx *gorp.Transaction, repo models.Repository, tag models.Tag, now time.Time) (Option[models.Tag], error) {
	// collect sizes before ending the tag, while the manifest is certainly still referenced
	blobSizes, err := GetBlobSizesForManifest(tx, tag.ManifestID)
	if err != nil {
		return None[models.Tag](), err
	}

	nowMs := now.UnixMilli()
	result, err := tx.Exec(
		`UPDATE tags SET lifetime_end_ms = $2 WHERE id = $1 AND (lifetime_end_ms IS NULL OR lifetime_end_ms > $2)`,
		tag.ID, nowMs,
	)
	if err != nil {
		return None[models.Tag](), fmt.Errorf("cannot end tag %d: %w", tag.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return None[models.Tag](), err
	}
	if rowsAffected == 0 {
		return None[models.Tag](), nil
	}
	tag.LifetimeEndMs = &nowMs
	logg.Debug("deleted tag %q (ID %d) in repo %d", tag.Name, tag.ID, repo.ID)

	if p.cfg.QuotaManagementEnabled {
		err = p.SubtractBlobSizes(tx, repo, tag.ID, blobSizes)
	} else {
		err = p.ResetBackfill(tx, repo)
	}
	if err != nil {
		return None[models.Tag](), err
	}
	return Some(tag), nil
}
