package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/bidharvest/internal/models"
)

// ErrNotFound is returned by storage lookups for missing entities
var ErrNotFound = errors.New("not found")

// SourceStorage persists acquisition source configuration
type SourceStorage interface {
	SaveSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	DeleteSource(ctx context.Context, id string) error
}

// CredentialStorage persists encrypted source credentials
type CredentialStorage interface {
	SaveCredential(ctx context.Context, credential *models.Credential) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
}

// JobStorage persists job state
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
}

// JobListOptions filters ListJobs
type JobListOptions struct {
	SourceID string
	Status   models.JobStatus
	Limit    int
}

// RecordStorage persists canonical records
type RecordStorage interface {
	CreateRecord(ctx context.Context, record *models.CanonicalRecord) error
	ListRecordsByJob(ctx context.Context, jobID string) ([]*models.CanonicalRecord, error)
	CountRecordsBySource(ctx context.Context, sourceID string) (int, error)
}

// LogStorage persists job log entries
type LogStorage interface {
	AppendLog(ctx context.Context, entry *models.LogEntry) error
	GetLogs(ctx context.Context, jobID string, limit int) ([]*models.LogEntry, error)
	GetLogsByLevel(ctx context.Context, jobID string, level models.LogLevel, limit int) ([]*models.LogEntry, error)
}

// StorageManager groups the stores that share one database
type StorageManager interface {
	SourceStorage() SourceStorage
	CredentialStorage() CredentialStorage
	JobStorage() JobStorage
	RecordStorage() RecordStorage
	LogStorage() LogStorage
	Close() error
}
