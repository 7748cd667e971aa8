// Package jobs runs the nightly consistency checks over Asynq.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryReconcile recomputes layer sums and compares snapshots.
	TaskInventoryReconcile = "inventory:reconcile"
	// TaskLedgerIntegrity verifies posted entries and account balances.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup purges idempotency keys past retention.
	TaskIdempotencyCleanup = "shared:idempotency-cleanup"
)

// ReconcilePayload carries scheduling metadata for both check tasks.
type ReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewInventoryReconcileTask constructs the inventory reconciliation task.
func NewInventoryReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewLedgerIntegrityTask constructs the ledger integrity task.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
