package maintainer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/types"
)

func init() {
	Register("community_contribution", newCommunity)
}

// community is the Git-sourced, Singularity-wrapped variant: the
// executable folder is cached per registered Git repository and rebuilt
// when the repository has a newer commit, and the submission script
// runs the manifest's execution stage inside a container.
type community struct {
	*base
	git        *types.Git
	manifest   *types.ExecutableManifest
	container  types.ContainerConfig
	kernel     types.KernelConfig
	dataSource staging.Source
}

func newCommunity(deps Deps) (Maintainer, error) {
	if deps.Job == nil {
		return nil, fmt.Errorf("maintainer: community_contribution variant requires a job")
	}
	if deps.Git == nil {
		return nil, fmt.Errorf("maintainer: community_contribution variant requires a Git source")
	}
	if deps.Manifest == nil {
		return nil, fmt.Errorf("maintainer: community_contribution variant requires an executable manifest")
	}
	b := newBase(deps)
	b.defaultResultFile = deps.Manifest.DefaultResultFile
	return &community{
		base:       b,
		git:        deps.Git,
		manifest:   deps.Manifest,
		container:  deps.Container,
		kernel:     deps.Kernel,
		dataSource: deps.DataSource,
	}, nil
}

func (c *community) Init(ctx context.Context) error {
	if c.IsInit() {
		return nil
	}

	handle, err := c.pool.Acquire(ctx, c.job.ID, c.hpc, c.cred)
	if err != nil {
		return fmt.Errorf("maintainer: acquire shell for init: %w", err)
	}
	defer handle.Release()

	source := staging.GitSource{Git: *c.git}
	execFolder, err := c.stageCached(ctx, handle, source)
	if err != nil {
		c.failInit(ctx, fmt.Errorf("stage cached executable folder: %w", err))
		return err
	}
	c.job.RemoteExecutableFolderID = execFolder.ID
	c.events.EmitEvent(ctx, c.job, types.EventSlurmUploadExecutable, "executable folder staged from cache")

	var dataFolder *types.Folder
	if c.dataSource != nil {
		dataFolder, err = c.stageDirect(ctx, handle, c.dataSource)
		if err != nil {
			c.failInit(ctx, fmt.Errorf("stage data folder: %w", err))
			return err
		}
		c.job.RemoteDataFolderID = dataFolder.ID
		c.events.EmitEvent(ctx, c.job, types.EventSlurmUploadData, "data folder staged")
	}

	resultFolder, err := c.createResultFolder(ctx, handle)
	if err != nil {
		c.failInit(ctx, fmt.Errorf("create result folder: %w", err))
		return err
	}
	c.job.RemoteResultFolderID = resultFolder.ID
	c.events.EmitEvent(ctx, c.job, types.EventSlurmCreateResult, "result folder created")

	script := buildCommunityScript(c.job, c.manifest, c.container, c.kernel, execFolder, dataFolder, resultFolder)
	if err := c.submitScript(ctx, handle, resultFolder, script); err != nil {
		c.failInit(ctx, err)
		return err
	}

	c.markInitialized(ctx)
	return nil
}

// buildCommunityScript renders an sbatch script that runs the
// manifest's pre-stage on the bare host, the execution stage inside a
// Singularity container (optionally CVMFS-bound), and the post-stage
// back on the host.
func buildCommunityScript(job *types.Job, manifest *types.ExecutableManifest, container types.ContainerConfig, kernel types.KernelConfig, execFolder, dataFolder, resultFolder *types.Folder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", job.ID)
	fmt.Fprintf(&b, "#SBATCH --output=%s/job-%%j.out\n", resultFolder.HPCPath)
	fmt.Fprintf(&b, "#SBATCH --error=%s/job-%%j.err\n", resultFolder.HPCPath)
	writeSlurmDirectives(&b, job.Slurm)

	for _, line := range kernel.InitLines {
		fmt.Fprintf(&b, "%s\n", line)
	}
	for k, v := range job.Env {
		fmt.Fprintf(&b, "export %s=%q\n", k, v)
	}
	fmt.Fprintf(&b, "export SUPERVISOR_EXECUTABLE_DIR=%s\n", execFolder.HPCPath)
	if dataFolder != nil {
		fmt.Fprintf(&b, "export SUPERVISOR_DATA_DIR=%s\n", dataFolder.HPCPath)
	}
	fmt.Fprintf(&b, "export SUPERVISOR_RESULT_DIR=%s\n", resultFolder.HPCPath)
	fmt.Fprintf(&b, "cd %s\n", execFolder.HPCPath)

	for _, line := range manifest.PreStage {
		fmt.Fprintf(&b, "%s\n", line)
	}

	singularityBin := container.SingularityBin
	if singularityBin == "" {
		singularityBin = "singularity"
	}
	bindFlags := ""
	if manifest.CVMFSMode {
		bindFlags = "--bind /cvmfs:/cvmfs"
	}
	execCmd := strings.Join(manifest.ExecutionStage, " && ")
	fmt.Fprintf(&b, "%s exec %s %s bash -c %q\n", singularityBin, bindFlags, container.Image, execCmd)

	for _, line := range manifest.PostStage {
		fmt.Fprintf(&b, "%s\n", line)
	}
	return b.String()
}
