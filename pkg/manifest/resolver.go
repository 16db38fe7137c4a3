// Package manifest computes delta-update manifests: the set of packed
// files a client must fetch to move from its held version to the
// latest published one, deduplicated across intermediate versions by
// newest wins.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/cache"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/metrics"
)

// File is one manifest entry. Field names are part of the wire format
// consumed by game clients.
type File struct {
	UrlPath      string `json:"UrlPath"`
	LocalPath    string `json:"LocalPath"`
	Filename     string `json:"Filename"`
	Extension    string `json:"Extension"`
	PackedSize   int64  `json:"PackedSize"`
	OriginalSize int64  `json:"OriginalSize"`
	CRC32        string `json:"CRC32"`
}

// Manifest is the resolver's reply. Files is unordered; callers treat
// it as a set.
type Manifest struct {
	Version string `json:"version"`
	Files   []File `json:"files"`
}

// Catalog is the slice of the catalog store the resolver reads.
type Catalog interface {
	VersionsAfter(ctx context.Context, major, minor, revision int32) ([]catalog.Version, error)
	FilesForVersions(ctx context.Context, versionIDs []primitive.ObjectID, categories []catalog.Category) ([]catalog.UpdateFile, error)
}

// Cache memoizes serialized manifests.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte) error
}

// Resolver computes manifests from the catalog through the cache.
type Resolver struct {
	store Catalog
	cache Cache
}

// NewResolver wires the resolver to its collaborators.
func NewResolver(store Catalog, c Cache) *Resolver {
	return &Resolver{store: store, cache: c}
}

// Resolve computes the manifest for a client holding (major, minor,
// revision) on the given OS and texture format. An up-to-date client
// gets its own version back with an empty file list.
func (r *Resolver) Resolve(ctx context.Context, major, minor, revision int32, os, texture int) (*Manifest, error) {
	if !ValidOS(os) {
		return nil, apperr.Validation("os: must be in [0, %d]", osCount-1)
	}
	if !ValidTexture(texture) {
		return nil, apperr.Validation("texture: must be in [0, %d]", textureCount-1)
	}

	versions, err := r.store.VersionsAfter(ctx, major, minor, revision)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return &Manifest{
			Version: fmt.Sprintf("%d.%d.%d", major, minor, revision),
			Files:   []File{},
		}, nil
	}

	source := &versions[0]
	target := &versions[len(versions)-1]
	key := cache.Key(source.Semantic(), target.Semantic(), os, texture)
	if data, ok := r.cache.Get(ctx, key); ok {
		var m Manifest
		if err := json.Unmarshal(data, &m); err == nil {
			metrics.ManifestCacheHits.WithLabelValues("hit").Inc()
			return &m, nil
		}
		logger.Warn("discarding undecodable cached manifest", "component", "manifest", "key", key)
	}
	metrics.ManifestCacheHits.WithLabelValues("miss").Inc()

	m, err := r.compute(ctx, versions, target, os, texture)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Internal("marshal manifest: %v", err)
	}
	if err := r.cache.Set(ctx, key, data); err != nil {
		logger.Warn("manifest not cached", "component", "manifest", "key", key, "error", err)
	}
	return m, nil
}

func (r *Resolver) compute(ctx context.Context, versions []catalog.Version, target *catalog.Version, os, texture int) (*Manifest, error) {
	ids := make([]primitive.ObjectID, 0, len(versions))
	createdAt := make(map[primitive.ObjectID]int, len(versions))
	for i, v := range versions {
		ids = append(ids, v.ID)
		// versions arrive in ascending created_at order, so the index
		// doubles as the recency rank.
		createdAt[v.ID] = i
	}

	files, err := r.store.FilesForVersions(ctx, ids, relevantCategories(os, texture))
	if err != nil {
		return nil, err
	}

	// Newest wins per logical path: a later version's copy of the same
	// local_path supersedes every earlier one.
	newest := map[string]catalog.UpdateFile{}
	for _, f := range files {
		prev, ok := newest[f.LocalPath]
		if !ok || createdAt[f.VersionID] > createdAt[prev.VersionID] {
			newest[f.LocalPath] = f
		}
	}

	out := make([]File, 0, len(newest))
	for _, f := range newest {
		out = append(out, File{
			UrlPath:      strings.ToUpper(f.VersionID.Hex()),
			LocalPath:    f.LocalPath,
			Filename:     f.FileName,
			Extension:    f.Extension,
			PackedSize:   f.PackedSize,
			OriginalSize: f.FileSize,
			CRC32:        f.CRC32,
		})
	}
	return &Manifest{Version: target.Semantic(), Files: out}, nil
}
