package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/bidharvest/internal/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestQueue(t *testing.T, mutate func(*Config)) (*BadgerManager, *clock) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.QueueName = "test"
	cfg.VisibilityTimeout = time.Minute
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewBadgerManager(openDB(t), cfg)
	require.NoError(t, err)
	c := &clock{now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
	m.now = c.Now
	return m, c
}

func msg(id string) Message {
	return Message{JobID: id, SourceID: "county", Trigger: models.TriggerManual}
}

func TestEnqueue_IdempotentWhileLive(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, msg("job-1")))
	assert.ErrorIs(t, q.Enqueue(ctx, msg("job-1")), ErrDuplicate)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", d.JobID)
	assert.Equal(t, 1, d.Attempt)
	assert.ErrorIs(t, q.Enqueue(ctx, msg("job-1")), ErrDuplicate)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage, "one unit of work per id")

	require.NoError(t, q.Ack(ctx, "job-1"))
	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	require.NoError(t, q.Enqueue(ctx, msg("job-1")), "terminal ids may be resubmitted")
	state, err = q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, state)
}

func TestReceive_FIFOAndEmpty(t *testing.T) {
	q, c := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, msg(fmt.Sprintf("job-%d", i))))
		c.Advance(time.Millisecond)
	}
	for i := 1; i <= 3; i++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), d.JobID)
	}
}

func TestNack_ExponentialBackoffThenFailed(t *testing.T) {
	q, c := newTestQueue(t, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, msg("job-1")))

	wantWaits := []time.Duration{time.Second, 2 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		d, err := q.Receive(ctx)
		require.NoError(t, err, "attempt %d", attempt)
		assert.Equal(t, attempt, d.Attempt)

		retrying, err := q.Nack(ctx, "job-1", errors.New("portal down"))
		require.NoError(t, err)

		if attempt == 3 {
			assert.False(t, retrying)
			break
		}
		assert.True(t, retrying)
		state, err := q.State(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, StateRetrying, state)

		wait := wantWaits[attempt-1]
		c.Advance(wait - time.Millisecond)
		_, err = q.Receive(ctx)
		assert.ErrorIs(t, err, ErrNoMessage, "not visible before backoff elapses")
		c.Advance(time.Millisecond)
	}

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	failed, err := q.History(ctx, StateFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Equal(t, "portal down", failed[0].LastError)
}

func TestRemove_PreStartOnly(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, msg("queued")))
	require.NoError(t, q.Remove(ctx, "queued"))
	_, err := q.State(ctx, "queued")
	assert.ErrorIs(t, err, ErrUnknownJob)

	require.NoError(t, q.Enqueue(ctx, msg("running")))
	_, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Remove(ctx, "running"), ErrNotRemovable)

	_, err = q.Nack(ctx, "running", errors.New("x"))
	require.NoError(t, err)
	assert.NoError(t, q.Remove(ctx, "running"), "retrying jobs have not restarted yet")

	assert.ErrorIs(t, q.Remove(ctx, "nobody"), ErrUnknownJob)
}

func TestHistoryIsBounded(t *testing.T) {
	q, c := newTestQueue(t, func(cfg *Config) {
		cfg.KeepCompleted = 2
		cfg.KeepFailed = 1
	})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, q.Enqueue(ctx, msg(id)))
		_, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Ack(ctx, id))
		c.Advance(time.Second)
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)

	_, err = q.State(ctx, "job-1")
	assert.ErrorIs(t, err, ErrUnknownJob)

	recent, err := q.History(ctx, StateCompleted, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "job-4", recent[0].JobID)
	assert.Equal(t, "job-3", recent[1].JobID)
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	q, c := newTestQueue(t, func(cfg *Config) { cfg.MaxAttempts = 2 })
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, msg("job-1")))

	_, err := q.Receive(ctx)
	require.NoError(t, err)

	c.Advance(30 * time.Second)
	require.NoError(t, q.Extend(ctx, "job-1", time.Minute))
	c.Advance(45 * time.Second)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage, "heartbeat keeps the claim")

	c.Advance(time.Minute)
	d, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Attempt)

	c.Advance(2 * time.Minute)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
}

func TestEnqueue_ConcurrentSameID(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()

	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Enqueue(ctx, msg("job-1"))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrDuplicate):
				duplicates.Add(1)
			default:
				t.Errorf("unexpected enqueue error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(7), duplicates.Load())
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
}

func TestReceive_ReportsAbandonedJobOnce(t *testing.T) {
	q, c := newTestQueue(t, func(cfg *Config) { cfg.MaxAttempts = 1 })
	ctx := context.Background()

	var abandoned []HistoryEntry
	q.SetAbandonHandler(func(ctx context.Context, h HistoryEntry) {
		abandoned = append(abandoned, h)
	})

	require.NoError(t, q.Enqueue(ctx, msg("job-1")))
	_, err := q.Receive(ctx)
	require.NoError(t, err)

	// Worker died: no Ack, no Nack, no heartbeat
	c.Advance(2 * time.Minute)
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.Len(t, abandoned, 1)
	assert.Equal(t, "job-1", abandoned[0].JobID)
	assert.Equal(t, StateFailed, abandoned[0].State)
	assert.Equal(t, "abandoned after 1 attempts", abandoned[0].LastError)

	state, err := q.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
	assert.Len(t, abandoned, 1)
}

func TestWorkerPool(t *testing.T) {
	db := openDB(t)
	cfg := NewDefaultConfig()
	cfg.QueueName = "pool"
	cfg.Backoff = 10 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	q, err := NewBadgerManager(db, cfg)
	require.NoError(t, err)

	var (
		running, peak int32
		mu            sync.Mutex
		attempts      = map[string]int{}
	)
	handler := func(ctx context.Context, d *Delivery) error {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		attempts[d.JobID]++
		mu.Unlock()

		switch d.JobID {
		case "flaky":
			if d.Attempt == 1 {
				return errors.New("first try fails")
			}
		case "panics":
			panic("boom")
		}
		return nil
	}

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "flaky", "panics"} {
		require.NoError(t, q.Enqueue(ctx, msg(id)))
	}

	pool := NewWorkerPool(q, handler, cfg, arbor.NewNoOpLogger())
	require.NoError(t, pool.Start(ctx))
	assert.Error(t, pool.Start(ctx))

	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Completed == 4 && stats.Failed == 1
	}, 5*time.Second, 10*time.Millisecond)
	pool.Stop()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts["flaky"])
	assert.Equal(t, 3, attempts["panics"])
	assert.Equal(t, 1, attempts["a"])
}
