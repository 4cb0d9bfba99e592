// Package logs records job-scoped log entries for acquisition runs.
package logs

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
)

// Service persists job log entries and mirrors them to the process logger.
// Persistence failures are logged and swallowed so they never affect a run.
type Service struct {
	storage interfaces.LogStorage
	logger  arbor.ILogger
	now     func() time.Time
}

// NewService creates a job log service
func NewService(storage interfaces.LogStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Log appends one entry for jobID
func (s *Service) Log(ctx context.Context, jobID string, level models.LogLevel, message string, metadata map[string]interface{}) {
	s.mirror(jobID, level, message)

	if s.storage == nil || jobID == "" {
		return
	}
	entry := &models.LogEntry{
		JobID:     jobID,
		Timestamp: s.now(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	}
	// A cancelled run still gets its closing entries
	if err := s.storage.AppendLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to save job log entry")
	}
}

func (s *Service) mirror(jobID string, level models.LogLevel, message string) {
	switch level {
	case models.LogLevelError:
		s.logger.Error().Str("job_id", jobID).Msg(message)
	case models.LogLevelWarn:
		s.logger.Warn().Str("job_id", jobID).Msg(message)
	case models.LogLevelDebug:
		s.logger.Debug().Str("job_id", jobID).Msg(message)
	default:
		s.logger.Info().Str("job_id", jobID).Msg(message)
	}
}

// GetLogs returns the newest entries for a job, newest first
func (s *Service) GetLogs(ctx context.Context, jobID string, limit int) ([]*models.LogEntry, error) {
	return s.storage.GetLogs(ctx, jobID, limit)
}

// GetLogsByLevel returns entries at or above level, newest first
func (s *Service) GetLogsByLevel(ctx context.Context, jobID string, level models.LogLevel, limit int) ([]*models.LogEntry, error) {
	return s.storage.GetLogsByLevel(ctx, jobID, level, limit)
}
