// Package events implements the Event/Log Emitter: best-effort
// persistence of a job's lifecycle events and log lines, plus the
// timestamp/flag side effects tied to three event types.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/metrics"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
)

// ringSize bounds the in-memory recent-event ring the HTTP boundary
// inspects; it is not a durability mechanism, the relational store is.
const ringSize = 256

// Emitter persists job events/logs and maintains a small in-memory ring
// of recent events for cheap inspection without a store round-trip.
type Emitter struct {
	store store.Store

	mu   sync.Mutex
	ring []types.Event
	head int
}

// New builds an Emitter backed by st.
func New(st store.Store) *Emitter {
	return &Emitter{store: st, ring: make([]types.Event, 0, ringSize)}
}

// EmitEvent persists a lifecycle event for job and applies the
// documented side effects: JOB_INIT sets InitializedAt, JOB_ENDED sets
// FinishedAt, JOB_FAILED sets FinishedAt and IsFailed. Persistence is
// best-effort: failures are logged, never returned — an observability
// failure must not abort the maintainer.
func (e *Emitter) EmitEvent(ctx context.Context, job *types.Job, eventType types.EventType, message string) {
	now := time.Now()
	switch eventType {
	case types.EventJobInit:
		job.InitializedAt = &now
	case types.EventJobEnded:
		job.FinishedAt = &now
	case types.EventJobFailed:
		job.FinishedAt = &now
		job.IsFailed = true
	}

	metrics.MaintainerEventsTotal.WithLabelValues(string(eventType)).Inc()

	event := types.Event{JobID: job.ID, Type: eventType, Message: message, CreatedAt: now}
	if err := e.store.CreateEvent(&event); err != nil {
		log.WithComponent("events").Warn().Err(err).Str("job_id", job.ID).Str("event_type", string(eventType)).Msg("failed to persist event")
	}
	e.push(event)

	if err := e.store.UpdateJob(job); err != nil {
		log.WithComponent("events").Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist job side effects for event")
	}
}

// EmitLog persists a log line for jobID, truncating per types.NewLog.
func (e *Emitter) EmitLog(ctx context.Context, jobID, message string) {
	entry := types.NewLog(jobID, message)
	if err := e.store.CreateLog(&entry); err != nil {
		log.WithComponent("events").Warn().Err(err).Str("job_id", jobID).Msg("failed to persist log line")
	}
}

// Recent returns up to ringSize most-recently emitted events, oldest
// first, for the HTTP boundary's status inspection.
func (e *Emitter) Recent() []types.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ring) < ringSize {
		out := make([]types.Event, len(e.ring))
		copy(out, e.ring)
		return out
	}
	out := make([]types.Event, 0, ringSize)
	out = append(out, e.ring[e.head:]...)
	out = append(out, e.ring[:e.head]...)
	return out
}

func (e *Emitter) push(event types.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ring) < ringSize {
		e.ring = append(e.ring, event)
		return
	}
	e.ring[e.head] = event
	e.head = (e.head + 1) % ringSize
}
