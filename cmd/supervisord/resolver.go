package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cybergis/compute-supervisor/internal/config"
	"github.com/cybergis/compute-supervisor/internal/maintainer"
	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// configResolver implements scheduler.Resolver by reading a job's
// source descriptors out of its Param map and the static cluster
// configuration. This is the one piece of per-variant business logic
// the HTTP submission boundary would normally own; a minimal,
// concrete implementation lives here so `supervisord run` is a
// complete, runnable program rather than one wired to an interface
// with no implementation anywhere in the tree.
type configResolver struct {
	cfg   *config.Config
	store store.Store
}

// Resolve builds a job's staging sources and, for community
// contribution jobs, its Git/manifest/container/kernel dependencies,
// from job.Param. Recognized keys:
//
//	executable_path   local path for a "plain" job's executable folder
//	data_path         optional local path for a "plain" job's data folder
//	git_id            registered Git entity id for a "community_contribution" job
//	manifest          JSON-encoded types.ExecutableManifest
//	data_path         optional local path for a "community_contribution" job's data folder
func (r *configResolver) Resolve(ctx context.Context, job *types.Job, hpc types.HPCConfig) (maintainer.Deps, error) {
	switch job.Maintainer {
	case "plain":
		return r.resolvePlain(job)
	case "community_contribution":
		return r.resolveCommunity(job, hpc)
	default:
		return maintainer.Deps{}, fmt.Errorf("resolver: unknown maintainer variant %q", job.Maintainer)
	}
}

func (r *configResolver) resolvePlain(job *types.Job) (maintainer.Deps, error) {
	execPath := job.Param["executable_path"]
	if execPath == "" {
		return maintainer.Deps{}, fmt.Errorf("resolver: plain job %s missing executable_path param", job.ID)
	}

	deps := maintainer.Deps{ExecutableSource: staging.LocalSource{Path: execPath}}
	if dataPath := job.Param["data_path"]; dataPath != "" {
		deps.DataSource = staging.LocalSource{Path: dataPath}
	}
	return deps, nil
}

func (r *configResolver) resolveCommunity(job *types.Job, hpc types.HPCConfig) (maintainer.Deps, error) {
	gitID := job.Param["git_id"]
	if gitID == "" {
		return maintainer.Deps{}, fmt.Errorf("resolver: community job %s missing git_id param", job.ID)
	}
	git, err := r.store.GetGit(gitID)
	if err != nil {
		return maintainer.Deps{}, fmt.Errorf("resolver: load git entity %s: %w", gitID, err)
	}

	var manifest types.ExecutableManifest
	if raw := job.Param["manifest"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
			return maintainer.Deps{}, fmt.Errorf("resolver: parse manifest for job %s: %w", job.ID, err)
		}
	}

	container, ok := r.cfg.Containers[hpc.Name]
	if !ok {
		return maintainer.Deps{}, fmt.Errorf("resolver: no container config for cluster %q", hpc.Name)
	}
	kernel := r.cfg.Kernels[hpc.Name]

	deps := maintainer.Deps{
		Git:       git,
		Manifest:  &manifest,
		Container: container,
		Kernel:    kernel,
	}
	if dataPath := job.Param["data_path"]; dataPath != "" {
		deps.DataSource = staging.LocalSource{Path: dataPath}
	}
	return deps, nil
}
