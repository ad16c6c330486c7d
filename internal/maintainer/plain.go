package maintainer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/types"
)

func init() {
	Register("plain", newPlain)
}

// plain is the bare-Slurm variant: it submits the job's command
// unwrapped, with no container or manifest involved.
type plain struct {
	*base
	execSource staging.Source
	dataSource staging.Source
}

func newPlain(deps Deps) (Maintainer, error) {
	if deps.Job == nil {
		return nil, fmt.Errorf("maintainer: plain variant requires a job")
	}
	if deps.ExecutableSource == nil {
		return nil, fmt.Errorf("maintainer: plain variant requires an executable source")
	}
	return &plain{
		base:       newBase(deps),
		execSource: deps.ExecutableSource,
		dataSource: deps.DataSource,
	}, nil
}

func (p *plain) Init(ctx context.Context) error {
	if p.IsInit() {
		return nil
	}

	handle, err := p.pool.Acquire(ctx, p.job.ID, p.hpc, p.cred)
	if err != nil {
		return fmt.Errorf("maintainer: acquire shell for init: %w", err)
	}
	defer handle.Release()

	execFolder, err := p.stageDirect(ctx, handle, p.execSource)
	if err != nil {
		p.failInit(ctx, fmt.Errorf("stage executable folder: %w", err))
		return err
	}
	p.job.RemoteExecutableFolderID = execFolder.ID
	p.events.EmitEvent(ctx, p.job, types.EventSlurmUploadExecutable, "executable folder staged")

	var dataFolder *types.Folder
	if p.dataSource != nil {
		dataFolder, err = p.stageDirect(ctx, handle, p.dataSource)
		if err != nil {
			p.failInit(ctx, fmt.Errorf("stage data folder: %w", err))
			return err
		}
		p.job.RemoteDataFolderID = dataFolder.ID
		p.events.EmitEvent(ctx, p.job, types.EventSlurmUploadData, "data folder staged")
	}

	resultFolder, err := p.createResultFolder(ctx, handle)
	if err != nil {
		p.failInit(ctx, fmt.Errorf("create result folder: %w", err))
		return err
	}
	p.job.RemoteResultFolderID = resultFolder.ID
	p.events.EmitEvent(ctx, p.job, types.EventSlurmCreateResult, "result folder created")

	script := buildPlainScript(p.job, execFolder, dataFolder, resultFolder)
	if err := p.submitScript(ctx, handle, resultFolder, script); err != nil {
		p.failInit(ctx, err)
		return err
	}

	p.markInitialized(ctx)
	return nil
}

// buildPlainScript renders an sbatch script running the executable
// folder's `run.sh` with no container wrap.
func buildPlainScript(job *types.Job, execFolder, dataFolder, resultFolder *types.Folder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", job.ID)
	fmt.Fprintf(&b, "#SBATCH --output=%s/job-%%j.out\n", resultFolder.HPCPath)
	fmt.Fprintf(&b, "#SBATCH --error=%s/job-%%j.err\n", resultFolder.HPCPath)
	writeSlurmDirectives(&b, job.Slurm)

	for k, v := range job.Env {
		fmt.Fprintf(&b, "export %s=%q\n", k, v)
	}
	fmt.Fprintf(&b, "export SUPERVISOR_EXECUTABLE_DIR=%s\n", execFolder.HPCPath)
	if dataFolder != nil {
		fmt.Fprintf(&b, "export SUPERVISOR_DATA_DIR=%s\n", dataFolder.HPCPath)
	}
	fmt.Fprintf(&b, "export SUPERVISOR_RESULT_DIR=%s\n", resultFolder.HPCPath)

	fmt.Fprintf(&b, "cd %s\n", execFolder.HPCPath)
	fmt.Fprintf(&b, "bash run.sh\n")
	return b.String()
}

// writeSlurmDirectives emits one #SBATCH line per job.Slurm entry the
// job declared (nodes, cpus, walltime, ...), already validated against
// the cluster's ceiling before the job ever reached the queue.
func writeSlurmDirectives(b *strings.Builder, slurm map[string]string) {
	for k, v := range slurm {
		fmt.Fprintf(b, "#SBATCH --%s=%s\n", k, v)
	}
}
