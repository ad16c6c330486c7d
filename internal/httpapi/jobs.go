package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/scheduler"
	"github.com/cybergis/compute-supervisor/internal/slurmconfig"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JobHandler exposes the scheduler's job lifecycle operations over
// HTTP: submit, cancel, and status/event/log inspection.
type JobHandler struct {
	store store.Store
	sched *scheduler.Scheduler
	hpcs  map[string]types.HPCConfig
}

// NewJobHandler builds a JobHandler.
func NewJobHandler(st store.Store, sched *scheduler.Scheduler, hpcs map[string]types.HPCConfig) *JobHandler {
	return &JobHandler{store: st, sched: sched, hpcs: hpcs}
}

// submitJobRequest is the wire shape for POST /jobs: cluster,
// maintainer variant, an optional pre-registered credential, the
// maintainer-specific resolution parameters, the job's environment,
// and the requested Slurm resources.
type submitJobRequest struct {
	HPC          string            `json:"hpc"`
	Maintainer   string            `json:"maintainer"`
	CredentialID string            `json:"credential_id,omitempty"`
	Param        map[string]string `json:"param,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Slurm        map[string]string `json:"slurm,omitempty"`
}

type jobResponse struct {
	ID            string  `json:"id"`
	HPC           string  `json:"hpc"`
	Maintainer    string  `json:"maintainer"`
	QueuedAt      *string `json:"queued_at,omitempty"`
	InitializedAt *string `json:"initialized_at,omitempty"`
	FinishedAt    *string `json:"finished_at,omitempty"`
	IsFailed      bool    `json:"is_failed"`
}

func toJobResponse(job *types.Job) jobResponse {
	return jobResponse{
		ID:            job.ID,
		HPC:           job.HPC,
		Maintainer:    job.Maintainer,
		QueuedAt:      formatTime(job.QueuedAt),
		InitializedAt: formatTime(job.InitializedAt),
		FinishedAt:    formatTime(job.FinishedAt),
		IsFailed:      job.IsFailed,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// Submit handles POST /api/v1/jobs: validates the requested Slurm
// resources against the cluster's ceiling, then creates a job row and
// pushes it onto its cluster's admission queue.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.HPC == "" || req.Maintainer == "" {
		errBadRequest(w, "hpc and maintainer are required")
		return
	}

	hpc, found := h.hpcs[req.HPC]
	if !found {
		errBadRequest(w, "unknown cluster")
		return
	}

	requested, err := slurmconfig.FromParams(req.Slurm)
	if err != nil {
		errBadRequest(w, err.Error())
		return
	}
	ceiling, err := slurmconfig.Ceiling(hpc.SlurmInputRules, hpc.SlurmGlobalCap)
	if err != nil {
		log.WithComponent("httpapi").Error().Err(err).Str("hpc", req.HPC).Msg("invalid cluster slurm ceiling")
		errInternal(w)
		return
	}
	if err := slurmconfig.Validate(requested, ceiling); err != nil {
		errBadRequest(w, err.Error())
		return
	}

	job := &types.Job{
		ID:           uuid.NewString(),
		HPC:          req.HPC,
		Maintainer:   req.Maintainer,
		CredentialID: req.CredentialID,
		Param:        req.Param,
		Env:          req.Env,
		Slurm:        req.Slurm,
	}
	if err := h.store.CreateJob(job); err != nil {
		log.WithComponent("httpapi").Error().Err(err).Msg("failed to create job")
		errInternal(w)
		return
	}
	if err := h.sched.PushJobToQueue(r.Context(), job); err != nil {
		log.WithComponent("httpapi").Error().Err(err).Str("job_id", job.ID).Msg("failed to queue job")
		errInternal(w)
		return
	}
	accepted(w, toJobResponse(job))
}

// Get handles GET /api/v1/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.store.GetJob(id)
	if errors.Is(err, store.ErrNotFound) {
		errNotFound(w)
		return
	}
	if err != nil {
		log.WithComponent("httpapi").Error().Err(err).Str("job_id", id).Msg("failed to load job")
		errInternal(w)
		return
	}
	ok(w, toJobResponse(job))
}

// Cancel handles POST /api/v1/jobs/{id}/cancel: requests cancellation
// of a running job; a no-op if the job is still queued.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := h.sched.CancelJob(id)
	if job == nil {
		errNotFound(w)
		return
	}
	ok(w, toJobResponse(job))
}

type eventResponse struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Events handles GET /api/v1/jobs/{id}/events.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := h.store.ListEventsByJob(id)
	if err != nil {
		log.WithComponent("httpapi").Error().Err(err).Str("job_id", id).Msg("failed to load events")
		errInternal(w)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{Type: string(e.Type), Message: e.Message, CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339)})
	}
	ok(w, out)
}

type logResponse struct {
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// Logs handles GET /api/v1/jobs/{id}/logs.
func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := h.store.ListLogsByJob(id)
	if err != nil {
		log.WithComponent("httpapi").Error().Err(err).Str("job_id", id).Msg("failed to load logs")
		errInternal(w)
		return
	}
	out := make([]logResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, logResponse{Message: l.Message, CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339)})
	}
	ok(w, out)
}
