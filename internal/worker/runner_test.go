package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/browser/browsertest"
	"github.com/ternarybob/bidharvest/internal/common"
	"github.com/ternarybob/bidharvest/internal/engine"
	"github.com/ternarybob/bidharvest/internal/logs"
	"github.com/ternarybob/bidharvest/internal/models"
	"github.com/ternarybob/bidharvest/internal/queue"
	"github.com/ternarybob/bidharvest/internal/storage/badger"
	"github.com/ternarybob/bidharvest/internal/strategy"
)

type fakeAcquirer struct {
	result   *engine.Result
	err      error
	calls    int
	observed models.JobStatus
	jobs     func(id string) *models.Job
}

func (f *fakeAcquirer) Run(ctx context.Context, source *models.Source, jobID string) (*engine.Result, error) {
	f.calls++
	if f.jobs != nil {
		f.observed = f.jobs(jobID).Status
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fixture struct {
	storage *badger.Manager
	logs    *logs.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	m, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()
	require.NoError(t, m.SourceStorage().SaveSource(ctx, &models.Source{
		ID: "county", Name: "County", Active: true,
		ListingURL: "https://bids.example/list", AuthMode: models.AuthModeOpen,
	}))
	return &fixture{storage: m, logs: logs.NewService(m.LogStorage(), logger)}
}

func (f *fixture) submit(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.storage.JobStorage().SaveJob(context.Background(), models.NewJob(id, "county", models.TriggerManual)))
}

func (f *fixture) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := f.storage.JobStorage().GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func delivery(id string, attempt int) *queue.Delivery {
	return &queue.Delivery{Message: queue.Message{JobID: id, SourceID: "county", Trigger: models.TriggerManual}, Attempt: attempt}
}

func TestRunJob_CompletesWithCounts(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "job-1")

	acq := &fakeAcquirer{
		result: &engine.Result{
			Records: []*models.RawRecord{
				{Title: "Road Salt", BidNumber: "B-1", OpenDate: "2024-01-15"},
				{Title: "No identifier"},
			},
			ErrorCount: 1,
			Pages:      1,
		},
		jobs: func(id string) *models.Job { return f.job(t, id) },
	}
	r := NewRunner(f.storage, acq, f.logs, arbor.NewNoOpLogger())

	require.NoError(t, r.RunJob(context.Background(), delivery("job-1", 1)))
	assert.Equal(t, models.JobStatusRunning, acq.observed)

	job := f.job(t, "job-1")
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.RecordsFound)
	assert.Equal(t, 1, job.RecordsAdded)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Equal(t, 1, job.Attempt)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	records, err := f.storage.RecordStorage().ListRecordsByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "county", records[0].SourceID)
	assert.Equal(t, "B-1", records[0].BidNumber)
	require.NotNil(t, records[0].OpenDate)

	warnings, err := f.logs.GetLogsByLevel(context.Background(), "job-1", models.LogLevelWarn, 0)
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
}

func TestRunJob_RunLevelErrorMarksFailedThenRetries(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "job-1")

	acq := &fakeAcquirer{err: &engine.FatalInitError{Err: errors.New("no browser")}}
	r := NewRunner(f.storage, acq, f.logs, arbor.NewNoOpLogger())

	err := r.RunJob(context.Background(), delivery("job-1", 1))
	var fatal *engine.FatalInitError
	require.ErrorAs(t, err, &fatal)

	job := f.job(t, "job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "no browser")
	assert.Equal(t, 1, job.ErrorCount)

	acq.err = nil
	acq.result = &engine.Result{}
	require.NoError(t, r.RunJob(context.Background(), delivery("job-1", 2)))

	job = f.job(t, "job-1")
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempt)
	assert.Empty(t, job.ErrorMessage)
}

func TestRunJob_SkipsCancelledAndMissing(t *testing.T) {
	f := newFixture(t)
	acq := &fakeAcquirer{result: &engine.Result{}}
	r := NewRunner(f.storage, acq, f.logs, arbor.NewNoOpLogger())

	job := models.NewJob("job-1", "county", models.TriggerManual)
	job.MarkFailed(models.CancelledBeforeStart, 0)
	require.NoError(t, f.storage.JobStorage().SaveJob(context.Background(), job))

	require.NoError(t, r.RunJob(context.Background(), delivery("job-1", 1)))
	require.NoError(t, r.RunJob(context.Background(), delivery("ghost", 1)))
	assert.Equal(t, 0, acq.calls)
	assert.Equal(t, models.JobStatusFailed, f.job(t, "job-1").Status)
}

func TestRunJob_UnknownSourceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.storage.JobStorage().SaveJob(context.Background(), models.NewJob("job-1", "nowhere", models.TriggerManual)))
	r := NewRunner(f.storage, &fakeAcquirer{}, f.logs, arbor.NewNoOpLogger())

	require.Error(t, r.RunJob(context.Background(), delivery("job-1", 1)))
	assert.Equal(t, models.JobStatusFailed, f.job(t, "job-1").Status)
}

// One listing page through the real engine and generic strategy; one bid opened today.
func TestRunJob_EndToEndGeneric(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "job-1")

	site := browsertest.Site{
		"https://bids.example/list": `<html><body><table>
<thead><tr><th>Title</th><th>Bid Number</th><th>Open Date</th></tr></thead>
<tbody>
<tr><td><a href="/bids/1">Road Salt</a></td><td>B-1</td><td>01/15/2024</td></tr>
<tr><td><a href="/bids/2">Paper</a></td><td>B-2</td><td>01/10/2024</td></tr>
</tbody></table></body></html>`,
		"https://bids.example/bids/1": `<html><body><p>500 tons of road salt</p></body></html>`,
	}
	launcher := &browsertest.Launcher{Session: browsertest.NewSession(site)}
	cfg := engine.DefaultConfig()
	cfg.RateLimit = time.Millisecond
	cfg.RetryBase = time.Millisecond
	today := time.Date(2024, 1, 15, 14, 0, 0, 0, time.Local)

	eng := engine.NewEngine(launcher, strategy.NewRegistry(), f.storage.CredentialStorage(), nil, f.logs, cfg,
		arbor.NewNoOpLogger(), engine.WithClock(func() time.Time { return today }))
	r := NewRunner(f.storage, eng, f.logs, arbor.NewNoOpLogger())

	require.NoError(t, r.RunJob(context.Background(), delivery("job-1", 1)))

	job := f.job(t, "job-1")
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.RecordsFound)
	assert.Equal(t, 1, job.RecordsAdded)
	assert.Equal(t, 0, job.ErrorCount)

	records, err := f.storage.RecordStorage().ListRecordsByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Road Salt", records[0].Title)
	assert.Contains(t, records[0].Description, "500 tons")
}

func TestAbandon_MarksRunningJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := NewRunner(f.storage, &fakeAcquirer{result: &engine.Result{}}, f.logs, arbor.NewNoOpLogger())

	cfg := queue.NewDefaultConfig()
	cfg.QueueName = "abandon"
	cfg.MaxAttempts = 1
	cfg.VisibilityTimeout = 50 * time.Millisecond
	q, err := queue.NewBadgerManager(f.storage.DB(), cfg)
	require.NoError(t, err)
	q.SetAbandonHandler(r.Abandon)

	f.submit(t, "job-1")
	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-1", SourceID: "county", Trigger: models.TriggerManual}))
	_, err = q.Receive(ctx)
	require.NoError(t, err)

	// The worker marks the job running and then dies
	job := f.job(t, "job-1")
	job.MarkStarted()
	require.NoError(t, f.storage.JobStorage().SaveJob(ctx, job))

	require.Eventually(t, func() bool {
		_, _ = q.Receive(ctx)
		return f.job(t, "job-1").Status == models.JobStatusFailed
	}, 2*time.Second, 20*time.Millisecond)

	job = f.job(t, "job-1")
	assert.Equal(t, "abandoned after 1 attempts", job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)
	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, state)
}

func TestAbandon_LeavesTerminalJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// A nil logger falls back to the shared console logger
	r := NewRunner(f.storage, &fakeAcquirer{}, f.logs, nil)
	require.NotNil(t, r.logger)

	job := models.NewJob("job-1", "county", models.TriggerManual)
	job.MarkStarted()
	job.MarkCompleted(3, 2, 0)
	require.NoError(t, f.storage.JobStorage().SaveJob(ctx, job))

	r.Abandon(ctx, queue.HistoryEntry{
		Message:   queue.Message{JobID: "job-1", SourceID: "county"},
		State:     queue.StateFailed,
		LastError: "abandoned after 3 attempts",
	})
	assert.Equal(t, models.JobStatusCompleted, f.job(t, "job-1").Status)

	// Unknown ids are ignored
	r.Abandon(ctx, queue.HistoryEntry{Message: queue.Message{JobID: "ghost"}})
}
