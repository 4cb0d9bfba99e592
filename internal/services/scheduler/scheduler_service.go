package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
)

// Submitter creates and enqueues a job for a source
type Submitter interface {
	SubmitNew(ctx context.Context, sourceID string, trigger models.TriggerType) (*models.Job, error)
}

// entry represents a registered source schedule with metadata
type entry struct {
	sourceID  string
	schedule  string
	cronID    cron.EntryID
	lastRun   *time.Time
	lastJobID string
	lastError string
}

// EntryInfo is a snapshot of one registered schedule
type EntryInfo struct {
	SourceID  string
	Schedule  string
	NextRun   time.Time
	LastRun   *time.Time
	LastJobID string
	LastError string
}

// Service submits SCHEDULED jobs for every active source that carries a cron schedule
type Service struct {
	sources   interfaces.SourceStorage
	submitter Submitter
	cron      *cron.Cron
	logger    arbor.ILogger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

// NewService creates a new scheduler service
func NewService(sources interfaces.SourceStorage, submitter Submitter, logger arbor.ILogger) *Service {
	return &Service{
		sources:   sources,
		submitter: submitter,
		cron:      cron.New(),
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Start registers source schedules and begins the cron loop
func (s *Service) Start(ctx context.Context) error {
	if s.IsRunning() {
		return fmt.Errorf("scheduler already running")
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("entries", len(s.entries)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler, waiting for in-flight triggers to return
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reload replaces every registered schedule with the current source set.
// Sources with an unparseable schedule are skipped with a warning.
func (s *Service) Reload(ctx context.Context) error {
	sources, err := s.sources.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		s.cron.Remove(e.cronID)
		delete(s.entries, id)
	}

	for _, source := range sources {
		if !source.Active || source.Schedule == "" {
			continue
		}
		sourceID := source.ID
		cronID, err := s.cron.AddFunc(source.Schedule, func() {
			s.trigger(sourceID)
		})
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("source_id", sourceID).
				Str("schedule", source.Schedule).
				Msg("Skipping source with invalid schedule")
			continue
		}
		s.entries[sourceID] = &entry{sourceID: sourceID, schedule: source.Schedule, cronID: cronID}

		s.logger.Debug().
			Str("source_id", sourceID).
			Str("schedule", source.Schedule).
			Msg("Source schedule registered")
	}
	return nil
}

// Entries returns the registered schedules
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		infos = append(infos, EntryInfo{
			SourceID:  e.sourceID,
			Schedule:  e.schedule,
			NextRun:   s.cron.Entry(e.cronID).Next,
			LastRun:   e.lastRun,
			LastJobID: e.lastJobID,
			LastError: e.lastError,
		})
	}
	return infos
}

// TriggerNow submits a scheduled-type job for sourceID immediately
func (s *Service) TriggerNow(sourceID string) {
	common.SafeGo(s.logger, "scheduler-trigger", func() {
		s.trigger(sourceID)
	})
}

// trigger submits one SCHEDULED job and records the outcome on the entry
func (s *Service) trigger(sourceID string) {
	job, err := s.submitter.SubmitNew(context.Background(), sourceID, models.TriggerScheduled)
	now := time.Now()

	s.mu.Lock()
	if e, ok := s.entries[sourceID]; ok {
		e.lastRun = &now
		e.lastError = ""
		if err != nil {
			e.lastError = err.Error()
		} else {
			e.lastJobID = job.ID
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("source_id", sourceID).Msg("Scheduled submit failed")
		return
	}
	s.logger.Info().
		Str("source_id", sourceID).
		Str("job_id", job.ID).
		Msg("Scheduled job submitted")
}
