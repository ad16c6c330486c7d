// Package staging implements the folder staging engine: it uploads a
// logical source into a fresh remote workspace and, for CachedStage,
// reuses a content-addressed zip keyed by source fingerprint.
package staging

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/cybergis/compute-supervisor/internal/globus"
	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/metrics"
	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/google/uuid"
)

// Source is the sum type accepted by Stage/CachedStage: Local, Git,
// Globus, or Empty.
type Source interface {
	// Fingerprint identifies the source for the content-addressed cache.
	// Empty sources never participate in caching and need not implement
	// a meaningful fingerprint.
	Fingerprint() string
	// StageInto uploads the source directly into dstPath on sh's remote
	// host, used by the uncached path and by cache rebuilds.
	StageInto(ctx context.Context, sh shell.Session, dstPath string) error
}

// UpstreamTimestamper is implemented by sources with an authoritative
// upstream modification time (only GitSource today); the cache uses it
// to decide staleness.
type UpstreamTimestamper interface {
	UpstreamUpdatedAt(ctx context.Context) (time.Time, error)
}

// Engine stages sources into remote workspaces, with optional caching.
type Engine struct {
	store  store.Store
	globus globus.Client
	locks  *fingerprintLocks
}

// New builds a staging Engine.
func New(st store.Store, gc globus.Client) *Engine {
	return &Engine{store: st, globus: gc, locks: newFingerprintLocks()}
}

// NewGlobusSource builds a GlobusSource bound to this engine's Globus
// client, so callers never need to thread the client through themselves.
func (e *Engine) NewGlobusSource(source globus.Endpoint, pollInterval time.Duration) GlobusSource {
	return GlobusSource{Client: e.globus, Source: source, PollInterval: pollInterval}
}

// Stage uploads source into a fresh workspace on hpc with no caching:
// zip locally (Local/Git), upload, unzip remotely, delete the local
// zip; Globus transfers directly remote-to-remote.
func (e *Engine) Stage(ctx context.Context, sh shell.Session, source Source, hpc types.HPCConfig, userID, jobID string) (*types.Folder, error) {
	id := uuid.NewString()
	dst := path.Join(hpc.RootPath, id)

	if err := sh.Mkdir(ctx, dst, true); err != nil {
		return nil, fmt.Errorf("staging: create workspace %s: %w", dst, err)
	}
	if err := source.StageInto(ctx, sh, dst); err != nil {
		return nil, fmt.Errorf("staging: stage into %s: %w", dst, err)
	}

	folder := &types.Folder{
		ID:      id,
		HPC:     hpc.Name,
		UserID:  userID,
		HPCPath: dst,
	}
	if err := e.store.CreateFolder(folder); err != nil {
		return nil, fmt.Errorf("staging: persist folder %s: %w", id, err)
	}
	return folder, nil
}

// CachedStage stages source via the content-addressed cache at
// `<hpc.root_path>/cache/<fingerprint>.zip`, rebuilding it when absent or
// stale, then unzips it into a fresh per-job workspace.
func (e *Engine) CachedStage(ctx context.Context, sh shell.Session, source Source, hpc types.HPCConfig, userID, jobID string) (*types.Folder, error) {
	fingerprint := source.Fingerprint()
	cachePath := path.Join(hpc.RootPath, "cache", fingerprint+".zip")

	unlock := e.locks.lock(hpc.Name, fingerprint)
	defer unlock()

	cache, err := e.store.GetCache(hpc.Name, cachePath)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("staging: lookup cache %s: %w", cachePath, err)
	}

	needsRebuild := cache == nil
	if !needsRebuild {
		if ts, ok := source.(UpstreamTimestamper); ok {
			upstream, err := ts.UpstreamUpdatedAt(ctx)
			if err != nil {
				return nil, fmt.Errorf("staging: query upstream timestamp: %w", err)
			}
			if cache.UpdatedAt.Before(upstream) {
				needsRebuild = true
				if delErr := e.invalidate(ctx, sh, hpc.Name, cachePath); delErr != nil {
					log.WithComponent("staging").Warn().Err(delErr).Msg("failed to delete stale cache entry, rebuilding anyway")
				}
			}
		}
		// Local and Globus sources have no upstream timestamp:
		// always miss would be the conservative choice, but an existing
		// cache row with no rebuild trigger is reused as-is — only Git
		// sources carry an authoritative staleness signal.
	}

	if needsRebuild {
		metrics.CacheMisses.WithLabelValues(hpc.Name).Inc()
		if err := e.rebuildCache(ctx, sh, source, hpc, cachePath); err != nil {
			return nil, err
		}
	} else {
		metrics.CacheHits.WithLabelValues(hpc.Name).Inc()
	}

	id := uuid.NewString()
	dst := path.Join(hpc.RootPath, id)
	if err := sh.Unzip(ctx, cachePath, dst); err != nil {
		return nil, fmt.Errorf("staging: unzip cache %s into %s: %w", cachePath, dst, err)
	}

	folder := &types.Folder{
		ID:      id,
		HPC:     hpc.Name,
		UserID:  userID,
		HPCPath: dst,
	}
	if err := e.store.CreateFolder(folder); err != nil {
		return nil, fmt.Errorf("staging: persist folder %s: %w", id, err)
	}
	return folder, nil
}

// rebuildCache materializes source into a scratch directory next to
// cachePath, zips it into cachePath, and registers a Cache row. Staging
// into a directory first (rather than uploading straight to cachePath)
// lets every source kind share one StageInto contract — "a directory
// appears at dstPath" — regardless of whether the cache representation
// is a zip. Registration is best-effort: a write failure still
// leaves the workspace usable, it just won't be reused next time.
func (e *Engine) rebuildCache(ctx context.Context, sh shell.Session, source Source, hpc types.HPCConfig, cachePath string) error {
	scratch := cachePath + ".build"
	if err := sh.Mkdir(ctx, path.Dir(cachePath), true); err != nil {
		return fmt.Errorf("staging: create cache dir: %w", err)
	}
	if err := source.StageInto(ctx, sh, scratch); err != nil {
		return fmt.Errorf("staging: rebuild cache %s: %w", cachePath, err)
	}
	if err := sh.Zip(ctx, scratch, cachePath); err != nil {
		return fmt.Errorf("staging: zip cache %s: %w", cachePath, err)
	}
	if err := sh.Rm(ctx, scratch); err != nil {
		log.WithComponent("staging").Warn().Err(err).Str("scratch_path", scratch).Msg("failed to remove cache build scratch directory")
	}

	now := time.Now()
	cache := &types.Cache{HPC: hpc.Name, HPCPath: cachePath, CreatedAt: now, UpdatedAt: now}
	if err := e.store.UpsertCache(cache); err != nil {
		log.WithComponent("staging").Warn().Err(err).Str("cache_path", cachePath).Msg("cache registration failed, workspace still usable but will not be reused")
	}
	return nil
}

func (e *Engine) invalidate(ctx context.Context, sh shell.Session, hpc, cachePath string) error {
	if err := sh.Rm(ctx, cachePath); err != nil {
		return fmt.Errorf("staging: remove stale cache zip %s: %w", cachePath, err)
	}
	return e.store.DeleteCache(hpc, cachePath)
}
