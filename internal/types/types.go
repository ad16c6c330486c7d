// Package types defines the data model shared across the supervisor:
// jobs, folders, cache entries, credentials, events and logs.
package types

import "time"

// Job is the unit of work accepted from the notebook/HTTP layer and driven
// to completion by a Maintainer.
type Job struct {
	ID           string `gorm:"primaryKey" json:"id"`
	UserID       string `json:"userId"`
	HPC          string `json:"hpc"`
	Maintainer   string `json:"maintainer"`
	CredentialID string `json:"credentialId,omitempty"`

	Param map[string]string `gorm:"serializer:json" json:"param"`
	Env   map[string]string `gorm:"serializer:json" json:"env"`
	Slurm map[string]string `gorm:"serializer:json" json:"slurm"`

	LocalExecutableFolderID  string `json:"localExecutableFolderId,omitempty"`
	LocalDataFolderID        string `json:"localDataFolderId,omitempty"`
	RemoteDataFolderID       string `json:"remoteDataFolderId,omitempty"`
	RemoteExecutableFolderID string `json:"remoteExecutableFolderId,omitempty"`
	RemoteResultFolderID     string `json:"remoteResultFolderId,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	QueuedAt      *time.Time `json:"queuedAt,omitempty"`
	InitializedAt *time.Time `json:"initializedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	IsFailed      bool       `json:"isFailed"`

	Nodes       int     `json:"nodes"`
	CPUs        int     `json:"cpus"`
	CPUTime     float64 `json:"cpuTime"`
	Memory      int64   `json:"memory"`
	MemoryUsage int64   `json:"memoryUsage"`
	Walltime    float64 `json:"walltime"`
}

// IsQueued reports whether the job has been admitted into a cluster queue.
func (j *Job) IsQueued() bool { return j.QueuedAt != nil }

// IsEnded reports whether the job reached a terminal state.
func (j *Job) IsEnded() bool { return j.FinishedAt != nil }

// Folder is a remote workspace descriptor created by the staging engine.
type Folder struct {
	ID         string `gorm:"primaryKey" json:"id"`
	HPC        string `json:"hpc"`
	UserID     string `json:"userId"`
	HPCPath    string `json:"hpcPath"`
	GlobusPath string `json:"globusPath,omitempty"`
	DeletedAt  *time.Time `json:"-"`
}

// Cache is a content-addressed record of a staged source.
type Cache struct {
	HPC       string    `gorm:"primaryKey" json:"hpc"`
	HPCPath   string    `gorm:"primaryKey" json:"hpcPath"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Credential is an ephemeral {user, password} record keyed by an opaque id.
type Credential struct {
	ID       string `json:"id"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// EventType enumerates the lifecycle events a Maintainer emits.
type EventType string

const (
	EventJobQueued           EventType = "JOB_QUEUED"
	EventJobRegistered       EventType = "JOB_REGISTERED"
	EventJobInit             EventType = "JOB_INIT"
	EventJobInitError        EventType = "JOB_INIT_ERROR"
	EventJobRetry            EventType = "JOB_RETRY"
	EventJobFailed            EventType = "JOB_FAILED"
	EventJobEnded            EventType = "JOB_ENDED"
	EventSlurmUploadExecutable EventType = "SLURM_UPLOAD_EXECUTABLE"
	EventSlurmUploadData      EventType = "SLURM_UPLOAD_DATA"
	EventSlurmCreateResult    EventType = "SLURM_CREATE_RESULT"
)

// Event is an append-only lifecycle record for a job.
type Event struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID     string    `json:"jobId"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// maxLogMessageLength is the truncation point for Log.Message.
const maxLogMessageLength = 500

const truncationSuffix = "... (truncated)"

// Log is an append-only log line for a job, truncated to 500 characters.
type Log struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID     string    `json:"jobId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewLog builds a Log record, truncating an overlong message.
func NewLog(jobID, message string) Log {
	if len(message) > maxLogMessageLength {
		message = message[:maxLogMessageLength-len(truncationSuffix)] + truncationSuffix
	}
	return Log{JobID: jobID, Message: message, CreatedAt: time.Now()}
}

// Git is a registered repository a Git folder source clones from.
type Git struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	HPC             string    `json:"hpc"`
	URL             string    `json:"url"`
	Ref             string    `json:"ref"`
	LastCommitTime  time.Time `json:"lastCommitTime"`
	LocalMirrorPath string    `json:"localMirrorPath"`
}

// ExecutableManifest describes a Git-sourced job's container wrap and
// staged command sequence.
type ExecutableManifest struct {
	Container         string   `json:"container"`
	CVMFSMode         bool     `json:"cvmfsMode"`
	PreStage          []string `json:"preStage"`
	ExecutionStage    []string `json:"executionStage"`
	PostStage         []string `json:"postStage"`
	DefaultResultFile string   `json:"defaultResultFile"`
}
