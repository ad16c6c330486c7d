// Package maintenance runs periodic housekeeping tasks that the core
// admission loop does not itself schedule — currently a credential
// expiry sweep, a safety net alongside the scheduler's own
// terminal-job teardown (internal/scheduler's release step deletes a
// job's credential directly when the job ends; this sweep catches
// anything that teardown missed, e.g. a process restart between a
// job ending and its credential being deleted). Added because expired
// credentials deserve an explicit sweep rather than relying on Redis
// TTL expiry alone to ever notice. Grounded on
// arkeep-io-arkeep/server/internal/scheduler's gocron.Scheduler wrapper
// (same NewScheduler/Start/Shutdown shape), generalized from
// cron-expression jobs to a fixed-interval sweep.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/go-co-op/gocron/v2"
)

// CredentialDeleter is the subset of secretstore.Store the sweep needs.
type CredentialDeleter interface {
	Delete(ctx context.Context, id string) error
}

// Sweeper wraps a gocron scheduler running the supervisor's background
// maintenance jobs.
type Sweeper struct {
	cron gocron.Scheduler
}

// New builds a Sweeper. Call Start to begin running jobs.
func New() (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("maintenance: create gocron scheduler: %w", err)
	}
	return &Sweeper{cron: s}, nil
}

// RegisterCredentialSweep schedules a fixed-interval sweep that deletes
// credentials belonging to jobs which ended more than grace ago but
// whose credential somehow outlived them — a credential must not
// exist after its job is terminal.
func (s *Sweeper) RegisterCredentialSweep(interval time.Duration, st store.Store, secrets CredentialDeleter, hpcNames []string, grace time.Duration) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			sweepCredentials(st, secrets, hpcNames, grace)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("maintenance: schedule credential sweep: %w", err)
	}
	return nil
}

// Start begins running registered jobs.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop shuts the sweeper down, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("maintenance: shutdown: %w", err)
	}
	return nil
}

func sweepCredentials(st store.Store, secrets CredentialDeleter, hpcNames []string, grace time.Duration) {
	logger := log.WithComponent("maintenance")
	ctx := context.Background()
	cutoff := time.Now().Add(-grace)

	for _, hpc := range hpcNames {
		jobs, err := st.ListJobsByHPC(hpc)
		if err != nil {
			logger.Warn().Err(err).Str("hpc", hpc).Msg("credential sweep: failed to list jobs")
			continue
		}
		for _, job := range jobs {
			if shouldSweep(job, cutoff) {
				if err := secrets.Delete(ctx, job.CredentialID); err != nil {
					logger.Warn().Err(err).Str("job_id", job.ID).Msg("credential sweep: delete failed")
				}
			}
		}
	}
}

func shouldSweep(job *types.Job, cutoff time.Time) bool {
	return job.CredentialID != "" && job.FinishedAt != nil && job.FinishedAt.Before(cutoff)
}
