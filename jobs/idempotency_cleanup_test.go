package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	calls     int
	olderThan time.Duration
}

func (f *fakePurger) Cleanup(_ context.Context, olderThan time.Duration) error {
	f.calls++
	f.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanerPurgesWithRetention(t *testing.T) {
	purger := &fakePurger{}
	cleaner := NewIdempotencyCleaner(purger, 48*time.Hour, nil)

	task, err := NewIdempotencyCleanupTask(time.Date(2026, 1, 20, 3, 15, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, cleaner.Handle(context.Background(), task))
	require.Equal(t, 1, purger.calls)
	require.Equal(t, 48*time.Hour, purger.olderThan)
}

func TestIdempotencyCleanerDefaultsRetention(t *testing.T) {
	purger := &fakePurger{}
	cleaner := NewIdempotencyCleaner(purger, 0, nil)

	task, err := NewIdempotencyCleanupTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, cleaner.Handle(context.Background(), task))
	require.Equal(t, 30*24*time.Hour, purger.olderThan)
}

func TestIdempotencyCleanerSkipsBadPayload(t *testing.T) {
	purger := &fakePurger{}
	cleaner := NewIdempotencyCleaner(purger, time.Hour, nil)

	bad := asynq.NewTask(TaskIdempotencyCleanup, []byte("not json"))
	require.ErrorIs(t, cleaner.Handle(context.Background(), bad), asynq.SkipRetry)
	require.Zero(t, purger.calls)
}
