// Package worker runs one queued acquisition job end to end: the engine run, then
// normalization and persistence of whatever it collected.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/engine"
	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
	"github.com/ternarybob/bidharvest/internal/normalizer"
	"github.com/ternarybob/bidharvest/internal/queue"
)

// Acquirer runs the acquisition for one source
type Acquirer interface {
	Run(ctx context.Context, source *models.Source, jobID string) (*engine.Result, error)
}

// Runner is the queue handler. It owns every job state transition after submission.
type Runner struct {
	jobs     interfaces.JobStorage
	sources  interfaces.SourceStorage
	records  interfaces.RecordStorage
	acquirer Acquirer
	jobLog   interfaces.JobLogger
	logger   arbor.ILogger
}

// NewRunner creates a new job runner
func NewRunner(storage interfaces.StorageManager, acquirer Acquirer, jobLog interfaces.JobLogger, logger arbor.ILogger) *Runner {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Runner{
		jobs:     storage.JobStorage(),
		sources:  storage.SourceStorage(),
		records:  storage.RecordStorage(),
		acquirer: acquirer,
		jobLog:   jobLog,
		logger:   logger,
	}
}

// Handler adapts the runner to the worker pool
func (r *Runner) Handler() queue.Handler {
	return r.RunJob
}

// Abandon records FAILED for a job the queue gave up on after a worker died mid-run.
// Jobs that already reached a terminal state are left alone.
func (r *Runner) Abandon(ctx context.Context, h queue.HistoryEntry) {
	job, err := r.jobs.GetJob(ctx, h.JobID)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", h.JobID).Msg("Failed to load abandoned job")
		return
	}
	if job.IsTerminal() {
		return
	}

	job.MarkFailed(h.LastError, job.ErrorCount)
	if err := r.jobs.SaveJob(ctx, job); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark abandoned job failed")
		return
	}
	r.jobLog.Log(ctx, job.ID, models.LogLevelError, "Job abandoned", map[string]interface{}{
		"error":    h.LastError,
		"attempts": h.Attempts,
	})
	r.logger.Warn().Str("job_id", job.ID).Int("attempts", h.Attempts).Msg("Job abandoned by queue")
}

// RunJob executes one delivery. A returned error means the attempt failed and the job
// has already been persisted as FAILED; the queue decides whether to retry.
func (r *Runner) RunJob(ctx context.Context, delivery *queue.Delivery) error {
	job, err := r.jobs.GetJob(ctx, delivery.JobID)
	if errors.Is(err, interfaces.ErrNotFound) {
		r.logger.Warn().Str("job_id", delivery.JobID).Msg("Job record missing, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", delivery.JobID, err)
	}

	switch {
	case job.IsCancelled():
		r.logger.Info().Str("job_id", job.ID).Msg("Job was cancelled, skipping")
		return nil
	case job.Status == models.JobStatusCompleted:
		r.logger.Info().Str("job_id", job.ID).Msg("Job already completed, skipping")
		return nil
	}

	job.MarkStarted()
	if err := r.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	r.jobLog.Log(ctx, job.ID, models.LogLevelInfo, "Job started", map[string]interface{}{
		"source_id": job.SourceID,
		"attempt":   job.Attempt,
		"trigger":   string(job.Trigger),
	})

	start := time.Now()
	found, added, errorCount, err := r.acquire(ctx, job)
	if err != nil {
		return r.fail(ctx, job, err, errorCount)
	}

	job.MarkCompleted(found, added, errorCount)
	if err := r.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	r.jobLog.Log(ctx, job.ID, models.LogLevelInfo, "Job completed", map[string]interface{}{
		"records_found": found,
		"records_added": added,
		"error_count":   errorCount,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	return nil
}

// acquire runs the engine and persists the canonical records it yields
func (r *Runner) acquire(ctx context.Context, job *models.Job) (found, added, errorCount int, err error) {
	source, err := r.sources.GetSource(ctx, job.SourceID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to load source %s: %w", job.SourceID, err)
	}

	result, err := r.acquirer.Run(ctx, source, job.ID)
	if err != nil {
		return 0, 0, 1, err
	}

	found = len(result.Records)
	errorCount = result.ErrorCount
	norm := normalizer.New(source.FieldMapping)

	for _, raw := range result.Records {
		record := norm.Normalize(raw)
		if !normalizer.Validate(record) {
			r.jobLog.Log(ctx, job.ID, models.LogLevelWarn, "Dropped record without title or identifier", map[string]interface{}{
				"title":      raw.Title,
				"detail_url": raw.DetailURL,
			})
			continue
		}

		record.SourceID = source.ID
		record.JobID = job.ID
		if err := r.records.CreateRecord(context.WithoutCancel(ctx), record); err != nil {
			errorCount++
			r.jobLog.Log(ctx, job.ID, models.LogLevelError, "Failed to save record", map[string]interface{}{
				"title": record.Title,
				"error": err.Error(),
			})
			continue
		}
		added++
	}

	return found, added, errorCount, nil
}

// fail persists FAILED before handing the error back to the queue
func (r *Runner) fail(ctx context.Context, job *models.Job, cause error, errorCount int) error {
	job.MarkFailed(cause.Error(), errorCount)
	if err := r.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
	}
	r.jobLog.Log(context.WithoutCancel(ctx), job.ID, models.LogLevelError, "Job failed", map[string]interface{}{
		"error":   cause.Error(),
		"attempt": job.Attempt,
	})
	return cause
}
