// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"fmt"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/sapcc/regwarden/internal/models"
	"github.com/sapcc/regwarden/internal/processor"
	"github.com/sapcc/regwarden/internal/regwarden"
)

var autopruneRepoPageQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM repos
	 WHERE namespace_id = $1 AND NOT is_deleting AND id > $2
	 ORDER BY id ASC
	 LIMIT $3
`)

// Visible tags that are alive at $2, newest first.
var autopruneSurplusTagsQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM tags
	 WHERE repo_id = $1 AND NOT hidden AND (lifetime_end_ms IS NULL OR lifetime_end_ms > $2)
	 ORDER BY lifetime_start_ms DESC, id DESC
	OFFSET $3 LIMIT $4
`)

var autopruneExpiredTagsQuery = sqlext.SimplifyWhitespace(`
	SELECT * FROM tags
	 WHERE repo_id = $1 AND NOT hidden AND (lifetime_end_ms IS NULL OR lifetime_end_ms > $2)
	   AND lifetime_start_ms < $3
	 ORDER BY lifetime_start_ms ASC, id ASC
	 LIMIT $4
`)

// Applies the given policies to every repository in the namespace. If
// includeRepoPolicies is set, the repository policies of each repository are
// applied as well.
func (j *Janitor) executeNamespacePolicies(ctx context.Context, namespace models.Namespace, policies []regwarden.AutoPrunePolicy, includeRepoPolicies bool) error {
	p := j.processor()

	// validate everything upfront, so that we do not execute half of a broken configuration
	for _, policy := range policies {
		err := policy.Validate()
		if err != nil {
			return err
		}
	}
	repoPolicies := make(map[int64][]regwarden.AutoPrunePolicy)
	if includeRepoPolicies {
		rows, err := p.GetRepositoryAutoPrunePoliciesByNamespaceID(namespace.ID)
		if err != nil {
			return err
		}
		for _, rp := range rows {
			err := rp.Policy.Validate()
			if err != nil {
				return err
			}
			repoPolicies[rp.RepositoryID] = append(repoPolicies[rp.RepositoryID], rp.Policy)
		}
	}

	var lastRepoID int64
	for {
		var repos []models.Repository
		_, err := j.db.Select(&repos, autopruneRepoPageQuery, namespace.ID, lastRepoID, j.cfg.AutoPrune.FetchRepositoriesPageLimit)
		if err != nil {
			return fmt.Errorf("cannot list repos in namespace %q: %w", namespace.Name, err)
		}
		if len(repos) == 0 {
			return nil
		}

		for _, repo := range repos {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, policy := range policies {
				err := j.pruneRepository(p, namespace, repo, policy)
				if err != nil {
					return err
				}
			}
			for _, policy := range repoPolicies[repo.ID] {
				err := j.pruneRepository(p, namespace, repo, policy)
				if err != nil {
					return err
				}
			}
		}
		lastRepoID = repos[len(repos)-1].ID
	}
}

func (j *Janitor) pruneRepository(p *processor.Processor, namespace models.Namespace, repo models.Repository, policy regwarden.AutoPrunePolicy) error {
	var (
		deleted int
		err     error
	)
	switch policy.Method {
	case regwarden.PruneByNumberOfTags:
		deleted, err = j.pruneByNumberOfTags(p, repo, policy)
	case regwarden.PruneByCreationDate:
		deleted, err = j.pruneByCreationDate(p, repo, policy)
	default:
		err = fmt.Errorf("unsupported autoprune method: %q", policy.Method)
	}
	if err != nil {
		return fmt.Errorf("while pruning %s/%s by %s: %w", namespace.Name, repo.Name, policy.Method, err)
	}
	if deleted > 0 {
		logg.Info("autoprune deleted %d tags in %s/%s by %s", deleted, namespace.Name, repo.Name, policy.Method)
	}
	return nil
}

func (j *Janitor) pruneByNumberOfTags(p *processor.Processor, repo models.Repository, policy regwarden.AutoPrunePolicy) (int, error) {
	keep, err := policy.TagCount()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for {
		var tags []models.Tag
		_, err := j.db.Select(&tags, autopruneSurplusTagsQuery,
			repo.ID, j.timeNow().UnixMilli(), keep, j.cfg.AutoPrune.FetchTagsPageLimit)
		if err != nil {
			return deleted, fmt.Errorf("cannot list tags: %w", err)
		}
		if len(tags) == 0 {
			return deleted, nil
		}
		deletedInPage, err := j.deleteTags(p, repo, tags, policy.Method)
		deleted += deletedInPage
		if err != nil || deletedInPage == 0 {
			return deleted, err
		}
	}
}

func (j *Janitor) pruneByCreationDate(p *processor.Processor, repo models.Repository, policy regwarden.AutoPrunePolicy) (int, error) {
	maxAge, err := policy.MaxAge()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for {
		now := j.timeNow()
		var tags []models.Tag
		_, err := j.db.Select(&tags, autopruneExpiredTagsQuery,
			repo.ID, now.UnixMilli(), now.Add(-maxAge).UnixMilli(), j.cfg.AutoPrune.FetchTagsPageLimit)
		if err != nil {
			return deleted, fmt.Errorf("cannot list tags: %w", err)
		}
		if len(tags) == 0 {
			return deleted, nil
		}
		deletedInPage, err := j.deleteTags(p, repo, tags, policy.Method)
		deleted += deletedInPage
		if err != nil || deletedInPage == 0 {
			return deleted, err
		}
	}
}

// Returns how many of the tags were actually deleted by us.
func (j *Janitor) deleteTags(p *processor.Processor, repo models.Repository, tags []models.Tag, method regwarden.AutoPruneMethod) (int, error) {
	deleted := 0
	for _, tag := range tags {
		result, err := p.DeleteTag(repo, tag.Name)
		if err != nil {
			return deleted, fmt.Errorf("cannot delete tag %q: %w", tag.Name, err)
		}
		if result.IsSome() {
			deleted++
			autopruneDeletedTagsCounter.WithLabelValues(string(method)).Inc()
		}
	}
	return deleted, nil
}
