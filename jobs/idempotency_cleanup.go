package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// KeyPurger removes idempotency keys past their retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleaner purges idempotency keys older than the retention
// window. Keys only guard short-lived retries.
type IdempotencyCleaner struct {
	store     KeyPurger
	retention time.Duration
	logger    *slog.Logger
}

// NewIdempotencyCleaner constructs IdempotencyCleaner.
func NewIdempotencyCleaner(store KeyPurger, retention time.Duration, logger *slog.Logger) *IdempotencyCleaner {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleaner{store: store, retention: retention, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := c.store.Cleanup(ctx, c.retention); err != nil {
		return err
	}
	c.logger.Info("idempotency cleanup finished",
		slog.String("job", TaskIdempotencyCleanup),
		slog.Duration("retention", c.retention))
	return nil
}
