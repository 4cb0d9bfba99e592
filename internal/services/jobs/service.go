// -----------------------------------------------------------------------
// Job Service - control plane for submitting, inspecting and cancelling jobs
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
	"github.com/ternarybob/bidharvest/internal/queue"
)

var (
	// ErrSourceInactive is returned when submitting against a disabled source
	ErrSourceInactive = errors.New("source is not active")
	// ErrAlreadyStarted is returned when cancelling a job a worker has claimed
	ErrAlreadyStarted = errors.New("job has already started and cannot be cancelled")
	// ErrNotCancellable is returned when cancelling a job that already finished
	ErrNotCancellable = errors.New("job is not queued")
)

// Queue is the subset of the durable queue the control plane needs
type Queue interface {
	Enqueue(ctx context.Context, msg queue.Message) error
	Remove(ctx context.Context, jobID string) error
	State(ctx context.Context, jobID string) (queue.State, error)
}

// Status combines the persisted job with the queue's view of it
type Status struct {
	Job *models.Job
	// QueueState is empty once the queue no longer retains the job
	QueueState queue.State
}

// Service provides high-level job management operations
type Service struct {
	jobs    interfaces.JobStorage
	sources interfaces.SourceStorage
	queue   Queue
	jobLog  interfaces.JobLogger
	logger  arbor.ILogger

	// submitMu makes the live check, the record write and the enqueue one step, so a
	// concurrent submit of the same id cannot overwrite a job a worker already holds
	submitMu sync.Mutex
}

// NewService creates a new job service
func NewService(jobs interfaces.JobStorage, sources interfaces.SourceStorage, q Queue, jobLog interfaces.JobLogger, logger arbor.ILogger) *Service {
	return &Service{
		jobs:    jobs,
		sources: sources,
		queue:   q,
		jobLog:  jobLog,
		logger:  logger,
	}
}

// SubmitNew creates a job under a fresh id and enqueues it
func (s *Service) SubmitNew(ctx context.Context, sourceID string, trigger models.TriggerType) (*models.Job, error) {
	return s.Submit(ctx, uuid.New().String(), sourceID, trigger)
}

// Submit persists a PENDING job and enqueues it with the job id as idempotency key.
// Submitting an id that is still queued, running or awaiting retry returns the
// existing job and creates no new work.
func (s *Service) Submit(ctx context.Context, jobID, sourceID string, trigger models.TriggerType) (*models.Job, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.isLive(ctx, jobID) {
		return s.jobs.GetJob(ctx, jobID)
	}

	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", sourceID, err)
	}
	if !source.Active {
		return nil, fmt.Errorf("%w: %s", ErrSourceInactive, sourceID)
	}

	job := models.NewJob(jobID, sourceID, trigger)
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	err = s.queue.Enqueue(ctx, queue.Message{JobID: jobID, SourceID: sourceID, Trigger: trigger})
	if errors.Is(err, queue.ErrDuplicate) {
		return s.jobs.GetJob(ctx, jobID)
	}
	if err != nil && s.isLive(ctx, jobID) {
		// The queue holds the id despite the error; the job will still run
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Enqueue reported an error but the job is queued")
		return s.jobs.GetJob(ctx, jobID)
	}
	if err != nil {
		job.MarkFailed(fmt.Sprintf("enqueue failed: %v", err), 0)
		if saveErr := s.jobs.SaveJob(ctx, job); saveErr != nil {
			s.logger.Warn().Err(saveErr).Str("job_id", jobID).Msg("Failed to record enqueue failure")
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.jobLog.Log(ctx, jobID, models.LogLevelInfo, "Job submitted", map[string]interface{}{
		"source_id": sourceID,
		"trigger":   string(trigger),
	})
	s.logger.Info().
		Str("job_id", jobID).
		Str("source_id", sourceID).
		Str("trigger", string(trigger)).
		Msg("Job created and enqueued successfully")

	return job, nil
}

func (s *Service) isLive(ctx context.Context, jobID string) bool {
	state, err := s.queue.State(ctx, jobID)
	if err == nil && state.IsLive() {
		s.logger.Debug().Str("job_id", jobID).Str("queue_state", string(state)).Msg("Job already live, ignoring duplicate submit")
		return true
	}
	return false
}

// Status returns the persisted job plus its queue state while the queue still knows it
func (s *Service) Status(ctx context.Context, jobID string) (*Status, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status := &Status{Job: job}

	state, err := s.queue.State(ctx, jobID)
	switch {
	case err == nil:
		status.QueueState = state
	case errors.Is(err, queue.ErrUnknownJob):
	default:
		return nil, fmt.Errorf("failed to read queue state: %w", err)
	}
	return status, nil
}

// Cancel withdraws a job no worker has started and records it FAILED
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch err := s.queue.Remove(ctx, jobID); {
	case errors.Is(err, queue.ErrNotRemovable):
		return ErrAlreadyStarted
	case errors.Is(err, queue.ErrUnknownJob):
		return ErrNotCancellable
	case err != nil:
		return fmt.Errorf("failed to remove job from queue: %w", err)
	}

	job.MarkFailed(models.CancelledBeforeStart, job.ErrorCount)
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job cancelled: %w", err)
	}

	s.jobLog.Log(ctx, jobID, models.LogLevelInfo, "Job cancelled before start", nil)
	s.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	return nil
}

// Recent lists jobs newest first
func (s *Service) Recent(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.jobs.ListJobs(ctx, opts)
}
