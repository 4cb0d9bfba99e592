package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(0, time.Second))
	assert.Equal(t, 2*time.Second, Backoff(1, time.Second))
	assert.Equal(t, 8*time.Second, Backoff(3, time.Second))
	assert.Equal(t, DefaultBase, Backoff(0, 0))
	assert.Equal(t, Backoff(maxShift, time.Millisecond), Backoff(100, time.Millisecond))
}

func TestPolicyDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, Base: time.Millisecond}.Do(context.Background(), arbor.NewNoOpLogger(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicyDo_ReturnsLastError(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 2, Base: time.Millisecond}.Do(context.Background(), nil, func(ctx context.Context) error {
		calls++
		return errors.New("always")
	})
	assert.EqualError(t, err, "always")
	assert.Equal(t, 2, calls)
}

func TestPolicyDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{MaxAttempts: 5, Base: time.Hour}.Do(ctx, nil, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
