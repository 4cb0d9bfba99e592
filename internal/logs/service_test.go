package logs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/models"
)

type mockLogStorage struct {
	mock.Mock
}

func (m *mockLogStorage) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockLogStorage) GetLogs(ctx context.Context, jobID string, limit int) ([]*models.LogEntry, error) {
	args := m.Called(ctx, jobID, limit)
	return args.Get(0).([]*models.LogEntry), args.Error(1)
}

func (m *mockLogStorage) GetLogsByLevel(ctx context.Context, jobID string, level models.LogLevel, limit int) ([]*models.LogEntry, error) {
	args := m.Called(ctx, jobID, level, limit)
	return args.Get(0).([]*models.LogEntry), args.Error(1)
}

func TestLog_PersistsEntry(t *testing.T) {
	storage := &mockLogStorage{}
	storage.On("AppendLog", mock.Anything, mock.MatchedBy(func(e *models.LogEntry) bool {
		return e.JobID == "job-1" && e.Level == models.LogLevelWarn && e.Message == "slow page" &&
			e.Metadata["page"] == 2 && !e.Timestamp.IsZero()
	})).Return(nil).Once()

	svc := NewService(storage, arbor.NewNoOpLogger())
	svc.Log(context.Background(), "job-1", models.LogLevelWarn, "slow page", map[string]interface{}{"page": 2})

	storage.AssertExpectations(t)
}

func TestLog_StorageFailureIsSwallowed(t *testing.T) {
	storage := &mockLogStorage{}
	storage.On("AppendLog", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	svc := NewService(storage, arbor.NewNoOpLogger())
	assert.NotPanics(t, func() {
		svc.Log(context.Background(), "job-1", models.LogLevelError, "boom", nil)
	})
	storage.AssertNumberOfCalls(t, "AppendLog", 1)
}

func TestLog_CancelledContextStillPersists(t *testing.T) {
	storage := &mockLogStorage{}
	storage.On("AppendLog", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewService(storage, arbor.NewNoOpLogger()).Log(ctx, "job-1", models.LogLevelInfo, "closing", nil)

	storage.AssertExpectations(t)
}

func TestLog_NoJobIDSkipsStorage(t *testing.T) {
	storage := &mockLogStorage{}
	NewService(storage, arbor.NewNoOpLogger()).Log(context.Background(), "", models.LogLevelInfo, "x", nil)
	storage.AssertNotCalled(t, "AppendLog", mock.Anything, mock.Anything)
}

func TestGetLogsDelegates(t *testing.T) {
	storage := &mockLogStorage{}
	want := []*models.LogEntry{{JobID: "job-1", Message: "m"}}
	storage.On("GetLogs", mock.Anything, "job-1", 10).Return(want, nil)
	storage.On("GetLogsByLevel", mock.Anything, "job-1", models.LogLevelError, 5).Return([]*models.LogEntry{}, nil)

	svc := NewService(storage, arbor.NewNoOpLogger())
	got, err := svc.GetLogs(context.Background(), "job-1", 10)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	errs, err := svc.GetLogsByLevel(context.Background(), "job-1", models.LogLevelError, 5)
	require.NoError(t, err)
	assert.Empty(t, errs)
}
