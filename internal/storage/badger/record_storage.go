package badger

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/bidharvest/internal/interfaces"
	"github.com/ternarybob/bidharvest/internal/models"
)

var recordSequence uint64

// RecordStorage persists canonical records. Records are insert-only.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

// CreateRecord assigns an ID and creation time when missing and inserts the record
func (s *RecordStorage) CreateRecord(ctx context.Context, record *models.CanonicalRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	seq := atomic.AddUint64(&recordSequence, 1)
	record.Sequence = fmt.Sprintf("%019d_%010d", now.UnixNano(), seq)

	if err := s.db.Store().Insert(record.ID, record); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// ListRecordsByJob returns a job's records in insertion order
func (s *RecordStorage) ListRecordsByJob(ctx context.Context, jobID string) ([]*models.CanonicalRecord, error) {
	var records []models.CanonicalRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Sequence < records[j].Sequence
	})
	result := make([]*models.CanonicalRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *RecordStorage) CountRecordsBySource(ctx context.Context, sourceID string) (int, error) {
	count, err := s.db.Store().Count(&models.CanonicalRecord{}, badgerhold.Where("SourceID").Eq(sourceID))
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}
