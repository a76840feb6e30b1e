package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/inventory-ledger/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// OutboxRelay is the part of *outbox.Relay the job drives.
type OutboxRelay interface {
	RunOnce(ctx context.Context) (int, error)
	Pending(ctx context.Context) (int, error)
}

// OutboxRelayJob drains the movement outbox in batches until it is empty or MaxBatches is hit.
type OutboxRelayJob struct {
	Relay      OutboxRelay
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	MaxBatches int
}

// NewOutboxRelayJob wires dependencies for the relay handler.
func NewOutboxRelayJob(relay OutboxRelay, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxRelayJob {
	return &OutboxRelayJob{Relay: relay, Logger: logger, Metrics: metrics, MaxBatches: 20}
}

// Handle processes outbox relay tasks.
func (j *OutboxRelayJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Relay == nil {
		return errors.New("outbox relay: handler not configured")
	}
	tracker := j.metrics().Track(TaskOutboxRelay)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	total := 0
	for batch := 0; batch < j.maxBatches(); batch++ {
		n, err := j.Relay.RunOnce(ctx)
		if err != nil {
			logger.Error("relay outbox batch", slog.Int("batch", batch), slog.Any("error", err))
			return err
		}
		j.metrics().AddPublished(n)
		total += n
		if n == 0 {
			break
		}
	}
	pending, err := j.Relay.Pending(ctx)
	if err != nil {
		logger.Warn("count outbox backlog", slog.Any("error", err))
	} else {
		j.metrics().SetPending(pending)
	}
	if total > 0 {
		logger.Info("relayed outbox events", slog.Int("published", total), slog.Int("pending", pending))
	}
	return nil
}

func (j *OutboxRelayJob) maxBatches() int {
	if j.MaxBatches <= 0 {
		return 1
	}
	return j.MaxBatches
}

func (j *OutboxRelayJob) logger() *slog.Logger {
	return loggerOrDefault(j.Logger).With(slog.String("job", TaskOutboxRelay))
}

func (j *OutboxRelayJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
