// Package store defines the relational repository the core calls via
// simple CRUD; it holds no scheduling policy.
package store

import (
	"errors"

	"github.com/cybergis/compute-supervisor/internal/types"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

// Store is the CRUD surface the Supervisor's components depend on.
type Store interface {
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	UpdateJob(job *types.Job) error
	ListJobsByHPC(hpc string) ([]*types.Job, error)

	CreateFolder(folder *types.Folder) error
	GetFolder(id string) (*types.Folder, error)
	DeleteFolder(id string) error

	GetCache(hpc, hpcPath string) (*types.Cache, error)
	UpsertCache(cache *types.Cache) error
	DeleteCache(hpc, hpcPath string) error

	CreateEvent(event *types.Event) error
	ListEventsByJob(jobID string) ([]*types.Event, error)

	CreateLog(log *types.Log) error
	ListLogsByJob(jobID string) ([]*types.Log, error)

	GetGit(id string) (*types.Git, error)
	UpdateGit(git *types.Git) error

	Close() error
}
