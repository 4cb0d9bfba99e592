package badger

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
)

// logSequence keeps log keys unique even within the same nanosecond
var logSequence uint64

// levelRank orders levels for at-or-above filtering
var levelRank = map[models.LogLevel]int{
	models.LogLevelDebug: 0,
	models.LogLevelInfo:  1,
	models.LogLevelWarn:  2,
	models.LogLevelError: 3,
}

// LogStorage implements the LogStorage interface for Badger
type LogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLogStorage creates a new LogStorage instance
func NewLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LogStorage {
	return &LogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LogStorage) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("log entry job ID is required")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	seq := atomic.AddUint64(&logSequence, 1)
	now := time.Now().UnixNano()
	key := fmt.Sprintf("%s_%d_%d", entry.JobID, now, seq)
	entry.Sequence = fmt.Sprintf("%019d_%010d", now, seq)

	if err := s.db.Store().Insert(key, entry); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// GetLogs returns the newest limit entries for a job, newest first
func (s *LogStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]*models.LogEntry, error) {
	return s.find(jobID, models.LogLevelDebug, limit)
}

// GetLogsByLevel returns entries at or above level, newest first
func (s *LogStorage) GetLogsByLevel(ctx context.Context, jobID string, level models.LogLevel, limit int) ([]*models.LogEntry, error) {
	if _, ok := levelRank[level]; !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return s.find(jobID, level, limit)
}

func (s *LogStorage) find(jobID string, minLevel models.LogLevel, limit int) ([]*models.LogEntry, error) {
	var entries []models.LogEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	min := levelRank[minLevel]
	result := make([]*models.LogEntry, 0, len(entries))
	for i := range entries {
		if levelRank[entries[i].Level] >= min {
			result = append(result, &entries[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Sequence > result[j].Sequence
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
