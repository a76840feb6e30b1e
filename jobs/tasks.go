package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventory-ledger/internal/outbox"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries movement events ahead of maintenance work.
	QueueCritical = "critical"
	// TaskOutboxRelay drains pending outbox rows to the queue.
	TaskOutboxRelay = "ledger:outbox_relay"
	// TaskReconcile compares materialized balances with the ledger.
	TaskReconcile = "ledger:reconcile"
	// TaskMovementPosted is consumed for every relayed posting.
	TaskMovementPosted = outbox.TaskMovementPosted
)

// ReconcilePayload scopes a reconciliation run. A nil tenant reconciles every tenant.
type ReconcilePayload struct {
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	AutoRepair *bool      `json:"auto_repair,omitempty"`
}

// NewReconcileTask constructs a reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, data), nil
}

// NewOutboxRelayTask constructs an outbox relay task.
func NewOutboxRelayTask() *asynq.Task {
	return asynq.NewTask(TaskOutboxRelay, []byte(`{}`))
}
