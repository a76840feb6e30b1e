package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
)

// Repository stores outbox rows in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// CountPending counts unpublished rows.
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_outbox WHERE status='pending'`).Scan(&n)
	return n, err
}

// ClaimPending locks the oldest pending rows, skipping rows held by a concurrent relay.
func (r *txRepo) ClaimPending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, tenant_id, event_type, aggregate_id, payload, attempts, created_at
FROM inventory_outbox WHERE status='pending' ORDER BY created_at, id LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.AggregateID, &ev.Payload, &ev.Attempts, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *txRepo) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_outbox SET status='published', published_at=$2, last_error=NULL
WHERE id = ANY($1)`, ids, at)
	return err
}

func (r *txRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_outbox SET attempts=attempts+1, last_error=$2 WHERE id=$1`, id, reason)
	return err
}
