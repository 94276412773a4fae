// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"fmt"
	"sync/atomic"
	"testing"

	. "github.com/majewsky/gg/option"
	"github.com/opencontainers/go-digest"
	"github.com/sapcc/go-bits/must"

	"github.com/sapcc/regwarden/internal/models"
)

// Manifest digests are derived from this counter, so that repeated fixtures are distinct.
var manifestCounter atomic.Int64

// CreateNamespace inserts an active namespace.
func (s Setup) CreateNamespace(t *testing.T, name string) models.Namespace {
	t.Helper()
	namespace := models.Namespace{Name: name, IsEnabled: true}
	must.SucceedT(t, s.DB.Insert(&namespace))
	return namespace
}

// CreateRepository inserts a repository into the given namespace.
func (s Setup) CreateRepository(t *testing.T, namespace models.Namespace, name string) models.Repository {
	t.Helper()
	repo := models.Repository{NamespaceID: namespace.ID, Name: name}
	must.SucceedT(t, s.DB.Insert(&repo))
	return repo
}

// CreateBlob inserts a blob of the given size. The digest is derived from the seed.
func (s Setup) CreateBlob(t *testing.T, seed string, sizeBytes int64) models.Blob {
	t.Helper()
	blob := models.Blob{Digest: digest.Canonical.FromString(seed), SizeBytes: &sizeBytes}
	must.SucceedT(t, s.DB.Insert(&blob))
	return blob
}

// CreateBlobWithoutSize inserts a blob whose size is unknown, like a legacy
// layer that was pushed without its compressed size.
func (s Setup) CreateBlobWithoutSize(t *testing.T, seed string) models.Blob {
	t.Helper()
	blob := models.Blob{Digest: digest.Canonical.FromString(seed)}
	must.SucceedT(t, s.DB.Insert(&blob))
	return blob
}

// CreateManifest inserts an image manifest referencing the given blobs.
func (s Setup) CreateManifest(t *testing.T, repo models.Repository, blobs ...models.Blob) models.Manifest {
	t.Helper()
	manifest := models.Manifest{
		RepositoryID: repo.ID,
		Digest:       digest.Canonical.FromString(fmt.Sprintf("manifest-%d", manifestCounter.Add(1))),
		MediaType:    "application/vnd.oci.image.manifest.v1+json",
	}
	must.SucceedT(t, s.DB.Insert(&manifest))
	for _, blob := range blobs {
		must.SucceedT(t, s.DB.Insert(&models.ManifestBlob{
			RepositoryID: repo.ID,
			ManifestID:   manifest.ID,
			BlobID:       blob.ID,
		}))
	}
	return manifest
}

// CreateManifestList inserts an image index referencing the given manifests.
// Each child manifest receives a hidden tag (unless it has one already), the
// same way that a push of a multi-arch image does.
func (s Setup) CreateManifestList(t *testing.T, repo models.Repository, children ...models.Manifest) models.Manifest {
	t.Helper()
	list := models.Manifest{
		RepositoryID: repo.ID,
		Digest:       digest.Canonical.FromString(fmt.Sprintf("manifest-list-%d", manifestCounter.Add(1))),
		MediaType:    "application/vnd.oci.image.index.v1+json",
	}
	must.SucceedT(t, s.DB.Insert(&list))

	for _, child := range children {
		must.SucceedT(t, s.DB.Insert(&models.ManifestChild{
			RepositoryID:     repo.ID,
			ParentManifestID: list.ID,
			ChildManifestID:  child.ID,
		}))
		count := must.ReturnT(s.DB.SelectInt(
			`SELECT COUNT(*) FROM tags WHERE manifest_id = $1 AND hidden`, child.ID))(t)
		if count == 0 {
			must.SucceedT(t, s.DB.Insert(&models.Tag{
				RepositoryID:    repo.ID,
				ManifestID:      child.ID,
				Name:            "$hidden-" + child.Digest.Encoded(),
				Hidden:          true,
				LifetimeStartMs: s.Clock.Now().UnixMilli(),
			}))
		}
	}
	return list
}

// CreateTag tags the given manifest through the same code path that is used
// in production, so that size rows are updated accordingly.
func (s Setup) CreateTag(t *testing.T, repo models.Repository, name string, manifest models.Manifest) models.Tag {
	t.Helper()
	return must.ReturnT(s.Processor.CreateTag(repo, name, manifest.ID))(t)
}

// NamespaceBytes returns the size recorded for the namespace, or None if its size is untracked.
func (s Setup) NamespaceBytes(t *testing.T, namespace models.Namespace) Option[int64] {
	t.Helper()
	return bytesOf(must.ReturnT(s.Processor.GetNamespaceSize(namespace.ID))(t))
}

// RepositoryBytes returns the size recorded for the repository, or None if its size is untracked.
func (s Setup) RepositoryBytes(t *testing.T, repo models.Repository) Option[int64] {
	t.Helper()
	return bytesOf(must.ReturnT(s.Processor.GetRepositorySize(repo.ID))(t))
}

func bytesOf(size Option[models.QuotaSize]) Option[int64] {
	if s, ok := size.Unpack(); ok {
		return Some(s.SizeBytes)
	}
	return None[int64]()
}
