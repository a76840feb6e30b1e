package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/inventory-ledger/internal/jobs"
)

// TaskIdempotencyCleanup prunes finished idempotency keys.
const TaskIdempotencyCleanup = "ledger:idempotency_cleanup"

// IdempotencyPruner deletes terminal idempotency records older than the retention window.
type IdempotencyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes the idempotency table.
type IdempotencyCleanupJob struct {
	Store     IdempotencyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))
}

// Handle processes cleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	retention := j.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if err := j.Store.Cleanup(ctx, retention); err != nil {
		loggerOrDefault(j.Logger).Error("prune idempotency keys", slog.String("job", TaskIdempotencyCleanup), slog.Any("error", err))
		return err
	}
	return nil
}
