package adjustments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
)

// Repository persists adjustments in PostgreSQL.
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
	q db.Querier
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepo: inventory.NewTxRepo(tx), q: tx})
	})
}

// GetAdjustment returns an adjustment with its lines.
func (r *Repository) GetAdjustment(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error) {
	return getAdjustment(ctx, r.pool, tenantID, id, false)
}

// GetMovement returns a posted movement.
func (r *Repository) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return r.ledger.GetMovement(ctx, tenantID, id)
}

func getAdjustment(ctx context.Context, q db.Querier, tenantID, id uuid.UUID, forUpdate bool) (Adjustment, error) {
	query := `SELECT id, tenant_id, adjustment_number, status, reason_code, COALESCE(notes, ''), occurred_at, movement_id,
posted_at, canceled_at, COALESCE(created_by, ''), created_at, updated_at
FROM inventory_adjustments WHERE tenant_id=$1 AND id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var adj Adjustment
	var status string
	err := q.QueryRow(ctx, query, tenantID, id).Scan(&adj.ID, &adj.TenantID, &adj.Number, &status, &adj.ReasonCode, &adj.Notes,
		&adj.OccurredAt, &adj.MovementID, &adj.PostedAt, &adj.CanceledAt, &adj.CreatedBy, &adj.CreatedAt, &adj.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrAdjustmentNotFound.With("adjustment_id", id)
	}
	if err != nil {
		return Adjustment{}, err
	}
	adj.Status = Status(status)
	rows, err := q.Query(ctx, `SELECT id, line_no, item_id, location_id, quantity, uom, unit_cost, COALESCE(reason_code, ''), COALESCE(note, '')
FROM inventory_adjustment_lines WHERE tenant_id=$1 AND adjustment_id=$2 ORDER BY line_no`, tenantID, id)
	if err != nil {
		return Adjustment{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ItemID, &l.LocationID, &l.Quantity, &l.UOM, &l.UnitCost, &l.ReasonCode, &l.Note); err != nil {
			return Adjustment{}, err
		}
		adj.Lines = append(adj.Lines, l)
	}
	return adj, rows.Err()
}

func (r *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := r.q.Exec(ctx, `INSERT INTO inventory_adjustments (id, tenant_id, adjustment_number, status, reason_code, notes, occurred_at,
created_by, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`,
		adj.ID, adj.TenantID, adj.Number, string(adj.Status), adj.ReasonCode, adj.Notes, adj.OccurredAt, adj.CreatedBy, adj.CreatedAt, adj.UpdatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range adj.Lines {
		batch.Queue(`INSERT INTO inventory_adjustment_lines (id, tenant_id, adjustment_id, line_no, item_id, location_id, quantity, uom,
unit_cost, reason_code, note) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''))`,
			l.ID, adj.TenantID, adj.ID, l.LineNo, l.ItemID, l.LocationID, l.Quantity, l.UOM, l.UnitCost, l.ReasonCode, l.Note)
	}
	return r.Tx().SendBatch(ctx, batch).Close()
}

func (r *txRepo) GetAdjustmentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error) {
	return getAdjustment(ctx, r.q, tenantID, id, true)
}

func (r *txRepo) MarkAdjustmentPosted(ctx context.Context, tenantID, id, movementID uuid.UUID, at time.Time) error {
	return r.setStatus(ctx, `UPDATE inventory_adjustments SET status=$3, movement_id=$4, posted_at=$5, updated_at=$5
WHERE tenant_id=$1 AND id=$2 AND status='draft'`, tenantID, id, string(StatusPosted), movementID, at)
}

func (r *txRepo) MarkAdjustmentCanceled(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	return r.setStatus(ctx, `UPDATE inventory_adjustments SET status=$3, canceled_at=$4, updated_at=$4
WHERE tenant_id=$1 AND id=$2 AND status='draft'`, tenantID, id, string(StatusCanceled), at)
}

func (r *txRepo) setStatus(ctx context.Context, query string, args ...any) error {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrAdjustmentNotFound.With("adjustment_id", args[1])
	}
	return nil
}
