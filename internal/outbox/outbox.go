// Package outbox relays movement-posted events written inside posting transactions to the task queue.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskMovementPosted is the queue task type of a posted movement.
const TaskMovementPosted = "inventory:movement_posted"

// Event is a pending outbox row.
type Event struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	EventType   string
	AggregateID uuid.UUID
	Payload     []byte
	Attempts    int
	CreatedAt   time.Time
}

// MovementPostedPayload is the task payload consumers receive.
type MovementPostedPayload struct {
	EventID    uuid.UUID `json:"event_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	MovementID uuid.UUID `json:"movement_id"`
}

// Tx is the transactional outbox port.
type Tx interface {
	ClaimPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Store abstracts outbox persistence.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	CountPending(ctx context.Context) (int, error)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Config tunes the relay.
type Config struct {
	BatchSize int
	Queue     string
	MaxRetry  int
}

// Relay moves pending outbox rows to asynq.
type Relay struct {
	store    Store
	enqueuer Enqueuer
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewRelay builds a Relay.
func NewRelay(store Store, enqueuer Enqueuer, cfg Config, logger *slog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Queue == "" {
		cfg.Queue = "default"
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, enqueuer: enqueuer, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RunOnce claims one batch and enqueues each event with its outbox id as task id, so a
// batch retried after a crash never duplicates tasks. Rows that fail to enqueue stay pending.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		events, err := tx.ClaimPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		done := make([]uuid.UUID, 0, len(events))
		for _, ev := range events {
			if err := r.publish(ctx, ev); err != nil {
				r.logger.Warn("outbox publish failed",
					slog.String("event_id", ev.ID.String()),
					slog.Int("attempts", ev.Attempts+1),
					slog.Any("error", err))
				if err := tx.MarkFailed(ctx, ev.ID, err.Error()); err != nil {
					return err
				}
				continue
			}
			done = append(done, ev.ID)
		}
		if len(done) == 0 {
			return nil
		}
		published = len(done)
		return tx.MarkPublished(ctx, done, r.now())
	})
	if err != nil {
		return 0, fmt.Errorf("outbox: relay: %w", err)
	}
	return published, nil
}

// Pending reports the backlog.
func (r *Relay) Pending(ctx context.Context) (int, error) {
	return r.store.CountPending(ctx)
}

func (r *Relay) publish(ctx context.Context, ev Event) error {
	task, err := NewMovementPostedTask(ev)
	if err != nil {
		return err
	}
	_, err = r.enqueuer.EnqueueContext(ctx, task,
		asynq.TaskID(ev.ID.String()),
		asynq.Queue(r.cfg.Queue),
		asynq.MaxRetry(r.cfg.MaxRetry))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// NewMovementPostedTask builds the queue task of an outbox event.
func NewMovementPostedTask(ev Event) (*asynq.Task, error) {
	var body struct {
		TenantID   uuid.UUID `json:"tenant_id"`
		MovementID uuid.UUID `json:"movement_id"`
	}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &body); err != nil {
			return nil, fmt.Errorf("outbox: decode event %s: %w", ev.ID, err)
		}
	}
	if body.TenantID == uuid.Nil {
		body.TenantID = ev.TenantID
	}
	if body.MovementID == uuid.Nil {
		body.MovementID = ev.AggregateID
	}
	data, err := json.Marshal(MovementPostedPayload{EventID: ev.ID, TenantID: body.TenantID, MovementID: body.MovementID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMovementPosted, data), nil
}

// ParseMovementPosted decodes a task payload.
func ParseMovementPosted(t *asynq.Task) (MovementPostedPayload, error) {
	var p MovementPostedPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return MovementPostedPayload{}, err
	}
	if p.TenantID == uuid.Nil || p.MovementID == uuid.Nil {
		return MovementPostedPayload{}, errors.New("outbox: movement payload missing ids")
	}
	return p, nil
}
