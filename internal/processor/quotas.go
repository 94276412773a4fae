// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package processor

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/lib/pq"
	. "github.com/majewsky/gg/option"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/models"
)

// QuotaOperation is the direction of an incremental size update.
type QuotaOperation int64

const (
	// QuotaAdd is used when a tag is created.
	QuotaAdd QuotaOperation = 1
	// QuotaSubtract is used when a tag is deleted.
	QuotaSubtract QuotaOperation = -1
)

// String implements the fmt.Stringer interface.
func (op QuotaOperation) String() string {
	if op == QuotaAdd {
		return "add"
	}
	return "subtract"
}

// liveBlobRefsQuery renders a query for the IDs of all blobs that are
// referenced by a live tag in the given scope. The scope expression is
// compared against $1. The tag with ID $2 is treated as dead. $3 is the
// current time in milliseconds.
//
// A blob reference counts as live if either the manifest has no parent tag and
// its own tag is visible and alive, or the manifest is a child of a list whose
// tag is visible and alive. Child manifests always carry a hidden tag of their
// own, so the inner join on tags does not drop them.
func liveBlobRefsQuery(scope string) string {
	return sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT mb.blob_id
		  FROM manifest_blobs mb
		  JOIN repos r ON r.id = mb.repo_id
		  JOIN tags t ON t.manifest_id = mb.manifest_id
		  LEFT OUTER JOIN manifest_children mc ON mc.child_manifest_id = mb.manifest_id
		  LEFT OUTER JOIN tags pt ON pt.manifest_id = mc.parent_manifest_id
		 WHERE %s = $1 AND (
		   (pt.id IS NULL AND NOT t.hidden AND t.id <> $2
		     AND (t.lifetime_end_ms IS NULL OR t.lifetime_end_ms > $3))
		   OR
		   (pt.id IS NOT NULL AND NOT pt.hidden AND pt.id <> $2
		     AND (pt.lifetime_end_ms IS NULL OR pt.lifetime_end_ms > $3))
		 )
	`, scope))
}

// sizeTable describes one of the two tables holding quota sizes.
type sizeTable struct {
	TableName   string
	OwnerColumn string
	// scope expressions for the liveness query (table alias mb) and the tag query (table alias t)
	BlobScope string
	TagScope  string
}

var (
	namespaceSizes = sizeTable{
		TableName:   "quota_namespace_sizes",
		OwnerColumn: "namespace_id",
		BlobScope:   "r.namespace_id",
		TagScope:    "r.namespace_id",
	}
	repositorySizes = sizeTable{
		TableName:   "quota_repository_sizes",
		OwnerColumn: "repo_id",
		BlobScope:   "mb.repo_id",
		TagScope:    "t.repo_id",
	}
)

func (t sizeTable) render(query string) string {
	return sqlext.SimplifyWhitespace(fmt.Sprintf(query, t.TableName, t.OwnerColumn))
}

// Returns the blob IDs among `blobIDs` that are live in this scope.
func (t sizeTable) liveBlobIDs(db gorp.SqlExecutor, ownerID, excludedTagID int64, now time.Time, blobIDs []int64) (map[int64]bool, error) {
	query := fmt.Sprintf(`SELECT DISTINCT blob_id FROM (%s AND mb.blob_id = ANY($4)) live`, liveBlobRefsQuery(t.BlobScope))
	result := make(map[int64]bool, len(blobIDs))
	err := sqlext.ForeachRow(db, query, []any{ownerID, excludedTagID, now.UnixMilli(), pq.Array(blobIDs)}, func(rows *sql.Rows) error {
		var blobID int64
		err := rows.Scan(&blobID)
		result[blobID] = true
		return err
	})
	return result, err
}

func (t sizeTable) hasOtherLiveTags(db gorp.SqlExecutor, ownerID, excludedTagID int64, now time.Time) (bool, error) {
	query := sqlext.SimplifyWhitespace(fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM tags t JOIN repos r ON r.id = t.repo_id
			 WHERE %s = $1 AND t.id <> $2 AND NOT t.hidden
			   AND (t.lifetime_end_ms IS NULL OR t.lifetime_end_ms > $3)
		)
	`, t.TagScope))
	var exists bool
	err := db.QueryRow(query, ownerID, excludedTagID, now.UnixMilli()).Scan(&exists)
	return exists, err
}

func (t sizeTable) find(db gorp.SqlExecutor, ownerID int64) (Option[models.QuotaSize], error) {
	var size models.QuotaSize
	query := t.render(`SELECT size_bytes, backfill_start_ms, backfill_complete FROM %[1]s WHERE %[2]s = $1`)
	err := db.QueryRow(query, ownerID).Scan(&size.SizeBytes, &size.BackfillStartMs, &size.BackfillComplete)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return None[models.QuotaSize](), nil
	case err != nil:
		return None[models.QuotaSize](), err
	default:
		return Some(size), nil
	}
}

// The backfill gate is repeated in the WHERE clause, so that a reset
// between our read and this write turns the write into a no-op.
func (t sizeTable) increment(db gorp.SqlExecutor, ownerID, delta int64, now time.Time) error {
	if delta == 0 {
		return nil
	}
	_, err := db.Exec(t.render(`
		UPDATE %[1]s SET size_bytes = size_bytes + $2
		 WHERE %[2]s = $1 AND backfill_start_ms IS NOT NULL AND backfill_start_ms <= $3
	`), ownerID, delta, now.UnixMilli())
	return err
}

// applyDelta implements the write gating for incremental size updates.
func (t sizeTable) applyDelta(db gorp.SqlExecutor, ownerID, delta int64, op QuotaOperation, tagID int64, now time.Time) error {
	row, err := t.find(db, ownerID)
	if err != nil {
		return err
	}
	if size, exists := row.Unpack(); exists {
		if !size.AcceptsIncrementalWrites(now) {
			logg.Debug("skipping %s of %d bytes on %s %d: backfill has not started", op, delta, t.TableName, ownerID)
			SkippedSizeUpdateCounter.WithLabelValues(t.TableName).Inc()
			return nil
		}
		return t.increment(db, ownerID, delta, now)
	}

	// without a row, the scope is untracked and a subtraction has nothing to correct
	if op == QuotaSubtract {
		return nil
	}

	// if this tag is the only one in scope, its size is the complete total
	// and the row can start out as authoritative; otherwise we leave it to the backfill
	hasOthers, err := t.hasOtherLiveTags(db, ownerID, tagID, now)
	if err != nil || hasOthers {
		return err
	}
	result, err := db.Exec(t.render(`
		INSERT INTO %[1]s (%[2]s, size_bytes, backfill_start_ms, backfill_complete)
		VALUES ($1, $2, 0, TRUE) ON CONFLICT DO NOTHING
	`), ownerID, delta)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// a concurrent writer created the row first
		return t.increment(db, ownerID, delta, now)
	}
	return nil
}

// UpdateSizes applies the size change caused by creating (QuotaAdd) or
// deleting (QuotaSubtract) the tag with the given ID to the size rows of the
// repository and its namespace. The blob sizes are those of the tag's manifest
// and its child manifests, as returned by GetBlobSizesForManifest.
//
// A blob only changes the namespace total if no other live tag in the
// namespace references it, and only changes the repository total if no other
// live tag in the repository references it.
func (p *Processor) UpdateSizes(db gorp.SqlExecutor, repo models.Repository, tagID int64, blobSizes map[int64]Option[int64], op QuotaOperation) error {
	now := p.timeNow()

	blobIDs := make([]int64, 0, len(blobSizes))
	for blobID := range blobSizes {
		blobIDs = append(blobIDs, blobID)
	}
	liveInNamespace, err := namespaceSizes.liveBlobIDs(db, repo.NamespaceID, tagID, now, blobIDs)
	if err != nil {
		return fmt.Errorf("cannot check blob liveness in namespace %d: %w", repo.NamespaceID, err)
	}
	liveInRepo, err := repositorySizes.liveBlobIDs(db, repo.ID, tagID, now, blobIDs)
	if err != nil {
		return fmt.Errorf("cannot check blob liveness in repo %d: %w", repo.ID, err)
	}

	var namespaceDelta, repoDelta int64
	for blobID, size := range blobSizes {
		bytes := size.UnwrapOr(0)
		switch {
		case !liveInNamespace[blobID]:
			namespaceDelta += bytes
			repoDelta += bytes
		case !liveInRepo[blobID]:
			repoDelta += bytes
		}
	}

	err = namespaceSizes.applyDelta(db, repo.NamespaceID, int64(op)*namespaceDelta, op, tagID, now)
	if err != nil {
		return fmt.Errorf("cannot update size of namespace %d: %w", repo.NamespaceID, err)
	}
	err = repositorySizes.applyDelta(db, repo.ID, int64(op)*repoDelta, op, tagID, now)
	if err != nil {
		return fmt.Errorf("cannot update size of repo %d: %w", repo.ID, err)
	}
	return nil
}

// AddBlobSizes is UpdateSizes with QuotaAdd.
func (p *Processor) AddBlobSizes(db gorp.SqlExecutor, repo models.Repository, tagID int64, blobSizes map[int64]Option[int64]) error {
	return p.UpdateSizes(db, repo, tagID, blobSizes, QuotaAdd)
}

// SubtractBlobSizes is UpdateSizes with QuotaSubtract.
func (p *Processor) SubtractBlobSizes(db gorp.SqlExecutor, repo models.Repository, tagID int64, blobSizes map[int64]Option[int64]) error {
	return p.UpdateSizes(db, repo, tagID, blobSizes, QuotaSubtract)
}

var blobSizesForManifestQuery = sqlext.SimplifyWhitespace(`
	SELECT DISTINCT b.id, b.size_bytes
	  FROM blobs b
	  JOIN manifest_blobs mb ON mb.blob_id = b.id
	 WHERE mb.manifest_id = $1
	    OR mb.manifest_id IN (SELECT child_manifest_id FROM manifest_children WHERE parent_manifest_id = $1)
`)

// GetBlobSizesForManifest returns the sizes of all blobs referenced by the
// given manifest or by one of its child manifests. Blobs without a known size
// map to None.
func GetBlobSizesForManifest(db gorp.SqlExecutor, manifestID int64) (map[int64]Option[int64], error) {
	result := make(map[int64]Option[int64])
	err := sqlext.ForeachRow(db, blobSizesForManifestQuery, []any{manifestID}, func(rows *sql.Rows) error {
		var (
			blobID int64
			size   Option[int64]
		)
		err := rows.Scan(&blobID, &size)
		result[blobID] = size
		return err
	})
	return result, err
}

////////////////////////////////////////////////////////////////////////////////
// backfill

// Claims a row that is absent, not yet backfilled or abandoned by a previous
// backfill. A start time in the future (from a writer with a skewed clock)
// also counts as abandoned.
func (t sizeTable) claimQuery() string {
	return t.render(`
		INSERT INTO %[1]s (%[2]s, size_bytes, backfill_start_ms, backfill_complete)
		VALUES ($1, 0, $2, FALSE)
		ON CONFLICT (%[2]s) DO UPDATE
		   SET size_bytes = 0, backfill_start_ms = EXCLUDED.backfill_start_ms, backfill_complete = FALSE
		 WHERE NOT %[1]s.backfill_complete
		   AND (%[1]s.backfill_start_ms IS NULL OR %[1]s.backfill_start_ms < $3 OR %[1]s.backfill_start_ms > $2)
	`)
}

func (t sizeTable) totalQuery() string {
	return sqlext.SimplifyWhitespace(fmt.Sprintf(
		`SELECT COALESCE(SUM(size_bytes), 0)::BIGINT FROM blobs WHERE id IN (%s)`,
		liveBlobRefsQuery(t.BlobScope),
	))
}

func (t sizeTable) completeQuery() string {
	return t.render(`
		UPDATE %[1]s SET size_bytes = $2, backfill_complete = TRUE
		 WHERE %[2]s = $1 AND backfill_start_ms = $3 AND NOT backfill_complete
	`)
}

// Runs the backfill state machine for a single size row. Losing the claim is not an error.
func (p *Processor) backfillOne(t sizeTable, ownerID int64) error {
	now := p.timeNow()
	startMs := now.UnixMilli()
	staleBeforeMs := now.Add(-p.cfg.QuotaBackfillStaleAfter).UnixMilli()

	result, err := p.db.Exec(t.claimQuery(), ownerID, startMs, staleBeforeMs)
	if err != nil {
		return fmt.Errorf("cannot claim backfill of %s %d: %w", t.TableName, ownerID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return nil
	}

	// no tag is excluded from the total (tag IDs start at 1)
	total, err := p.db.SelectInt(t.totalQuery(), ownerID, 0, startMs)
	if err != nil {
		return fmt.Errorf("cannot compute total for %s %d: %w", t.TableName, ownerID, err)
	}

	result, err = p.db.Exec(t.completeQuery(), ownerID, total, startMs)
	if err != nil {
		return fmt.Errorf("cannot complete backfill of %s %d: %w", t.TableName, ownerID, err)
	}
	rowsAffected, err = result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		logg.Info("backfill of %s %d was reset while it was running; discarding total of %d bytes", t.TableName, ownerID, total)
		QuotaBackfillCounter.WithLabelValues(t.TableName, "discarded").Inc()
	} else {
		logg.Debug("backfilled %s %d with %d bytes", t.TableName, ownerID, total)
		QuotaBackfillCounter.WithLabelValues(t.TableName, "completed").Inc()
	}
	return nil
}

// RunBackfill computes the authoritative size of the namespace and of each
// of its repositories, for all size rows that are missing, not yet backfilled,
// or abandoned by an earlier backfill. It is safe to call repeatedly and
// concurrently.
func (p *Processor) RunBackfill(namespaceID int64) error {
	err := p.backfillOne(namespaceSizes, namespaceID)
	if err != nil {
		return err
	}

	var repoIDs []int64
	_, err = p.db.Select(&repoIDs, `SELECT id FROM repos WHERE namespace_id = $1 AND NOT is_deleting ORDER BY id`, namespaceID)
	if err != nil {
		return err
	}
	for _, repoID := range repoIDs {
		err := p.backfillOne(repositorySizes, repoID)
		if err != nil {
			return err
		}
	}
	return nil
}

// ResetBackfill puts the size rows of the repository and of its namespace
// back into the "not backfilled" state. Until the next backfill, incremental
// writes to these rows are ignored.
func (p *Processor) ResetBackfill(db gorp.SqlExecutor, repo models.Repository) error {
	_, err := db.Exec(repositorySizes.render(`
		UPDATE %[1]s SET backfill_start_ms = NULL, backfill_complete = FALSE WHERE %[2]s = $1
	`), repo.ID)
	if err != nil {
		return err
	}
	return p.ResetNamespaceBackfill(db, repo.NamespaceID)
}

// ResetNamespaceBackfill is like ResetBackfill, but only touches the namespace's row.
func (p *Processor) ResetNamespaceBackfill(db gorp.SqlExecutor, namespaceID int64) error {
	_, err := db.Exec(namespaceSizes.render(`
		UPDATE %[1]s SET backfill_start_ms = NULL, backfill_complete = FALSE WHERE %[2]s = $1
	`), namespaceID)
	return err
}

// GetNamespaceSize returns None if the namespace's size is not tracked.
func (p *Processor) GetNamespaceSize(namespaceID int64) (Option[models.QuotaSize], error) {
	return namespaceSizes.find(p.db, namespaceID)
}

// GetRepositorySize returns None if the repository's size is not tracked.
func (p *Processor) GetRepositorySize(repoID int64) (Option[models.QuotaSize], error) {
	return repositorySizes.find(p.db, repoID)
}
