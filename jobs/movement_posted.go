package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/inventory-ledger/internal/jobs"
	"github.com/odyssey-erp/inventory-ledger/internal/outbox"
)

// MovementReader loads posted movements.
type MovementReader interface {
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error)
}

// MovementPostedJob consumes relayed movement events and records them in the worker log.
type MovementPostedJob struct {
	Movements MovementReader
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes movement-posted tasks. Unknown movements are dropped without retry.
func (j *MovementPostedJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Movements == nil {
		return errors.New("movement posted: handler not configured")
	}
	payload, err := outbox.ParseMovementPosted(t)
	if err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskMovementPosted)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := loggerOrDefault(j.Logger).With(
		slog.String("job", TaskMovementPosted),
		slog.String("tenant_id", payload.TenantID.String()),
		slog.String("movement_id", payload.MovementID.String()))

	movement, err := j.Movements.GetMovement(ctx, payload.TenantID, payload.MovementID)
	if errors.Is(err, inventory.ErrMovementNotFound) {
		logger.Warn("posted movement not found")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("movement posted",
		slog.String("number", movement.Number),
		slog.String("type", string(movement.Type)),
		slog.String("status", string(movement.Status)),
		slog.Int("lines", len(movement.Lines)))
	return nil
}

func (j *MovementPostedJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
