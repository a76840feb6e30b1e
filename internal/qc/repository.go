package qc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
)

// Repository persists QC events in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *inventory.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, ledger: inventory.NewRepository(pool)}
}

type txRepo struct {
	*inventory.TxRepo
	*sourcedocs.Queries
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepo: inventory.NewTxRepo(tx), Queries: sourcedocs.NewQueries(tx)})
	})
}

// GetMovement returns a posted movement.
func (r *Repository) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return r.ledger.GetMovement(ctx, tenantID, id)
}

const eventColumns = `id, tenant_id, receipt_line_id, disposition, quantity, uom, canonical_qty, canonical_uom,
from_location_id, to_location_id, movement_id, released, COALESCE(reason, ''), COALESCE(actor_id, ''), occurred_at`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	var disposition string
	err := row.Scan(&e.ID, &e.TenantID, &e.ReceiptLineID, &disposition, &e.Quantity, &e.UOM, &e.CanonicalQty, &e.CanonicalUOM,
		&e.FromLocationID, &e.ToLocationID, &e.MovementID, &e.Released, &e.Reason, &e.ActorID, &e.OccurredAt)
	e.Disposition = Disposition(disposition)
	return e, err
}

// GetEventByMovement returns the event that posted movementID.
func (r *Repository) GetEventByMovement(ctx context.Context, tenantID, movementID uuid.UUID) (Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM qc_events WHERE tenant_id=$1 AND movement_id=$2`, tenantID, movementID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, shared.ErrNotFound.With("movement_id", movementID)
	}
	return e, err
}

// ListEvents returns the events of a receipt line.
func (r *Repository) ListEvents(ctx context.Context, tenantID, receiptLineID uuid.UUID) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM qc_events WHERE tenant_id=$1 AND receipt_line_id=$2
ORDER BY occurred_at, id`, tenantID, receiptLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertEvent(ctx context.Context, e Event) error {
	_, err := r.Tx().Exec(ctx, `INSERT INTO qc_events (id, tenant_id, receipt_line_id, disposition, quantity, uom, canonical_qty,
canonical_uom, from_location_id, to_location_id, movement_id, released, reason, actor_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''), $15)`,
		e.ID, e.TenantID, e.ReceiptLineID, string(e.Disposition), e.Quantity, e.UOM, e.CanonicalQty, e.CanonicalUOM,
		e.FromLocationID, e.ToLocationID, e.MovementID, e.Released, e.Reason, e.ActorID, e.OccurredAt)
	return err
}

// DispositionTotals sums the canonical quantities already recorded for the line. The caller
// holds the receipt line row lock.
func (r *txRepo) DispositionTotals(ctx context.Context, tenantID, receiptLineID uuid.UUID) (Totals, error) {
	var t Totals
	err := r.Tx().QueryRow(ctx, `SELECT
    COALESCE(SUM(canonical_qty) FILTER (WHERE NOT released), 0),
    COALESCE(SUM(canonical_qty) FILTER (WHERE disposition = 'hold'), 0),
    COALESCE(SUM(canonical_qty) FILTER (WHERE released), 0)
FROM qc_events WHERE tenant_id=$1 AND receipt_line_id=$2`,
		tenantID, receiptLineID).Scan(&t.Dispositioned, &t.Held, &t.Released)
	return t, err
}
