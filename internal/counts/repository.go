package counts

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

// Repository persists cycle counts in PostgreSQL.
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
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepo: inventory.NewTxRepo(tx)})
	})
}

// GetCount returns a count with its lines.
func (r *Repository) GetCount(ctx context.Context, tenantID, id uuid.UUID) (Count, error) {
	return getCount(ctx, r.pool, tenantID, id, false)
}

// GetMovement returns a posted movement.
func (r *Repository) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return r.ledger.GetMovement(ctx, tenantID, id)
}

func getCount(ctx context.Context, q db.Querier, tenantID, id uuid.UUID, forUpdate bool) (Count, error) {
	query := `SELECT id, tenant_id, count_number, status, counted_at, COALESCE(notes, ''), movement_id, posted_at, canceled_at,
COALESCE(created_by, ''), created_at, updated_at FROM cycle_counts WHERE tenant_id=$1 AND id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var c Count
	var status string
	err := q.QueryRow(ctx, query, tenantID, id).Scan(&c.ID, &c.TenantID, &c.Number, &status, &c.CountedAt, &c.Notes,
		&c.MovementID, &c.PostedAt, &c.CanceledAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Count{}, ErrCountNotFound.With("count_id", id)
	}
	if err != nil {
		return Count{}, err
	}
	c.Status = Status(status)
	rows, err := q.Query(ctx, `SELECT id, line_no, item_id, location_id, counted_qty, uom, unit_cost, COALESCE(reason_code, ''),
system_qty, variance_qty FROM cycle_count_lines WHERE tenant_id=$1 AND count_id=$2 ORDER BY line_no`, tenantID, id)
	if err != nil {
		return Count{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.LineNo, &l.ItemID, &l.LocationID, &l.CountedQty, &l.UOM, &l.UnitCost, &l.ReasonCode,
			&l.SystemQty, &l.VarianceQty); err != nil {
			return Count{}, err
		}
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

func (r *txRepo) InsertCount(ctx context.Context, c Count) error {
	_, err := r.Tx().Exec(ctx, `INSERT INTO cycle_counts (id, tenant_id, count_number, status, counted_at, notes, created_by,
created_at, updated_at) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)`,
		c.ID, c.TenantID, c.Number, string(c.Status), c.CountedAt, c.Notes, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, l := range c.Lines {
		batch.Queue(`INSERT INTO cycle_count_lines (id, tenant_id, count_id, line_no, item_id, location_id, counted_qty, uom, unit_cost,
reason_code) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))`,
			l.ID, c.TenantID, c.ID, l.LineNo, l.ItemID, l.LocationID, l.CountedQty, l.UOM, l.UnitCost, l.ReasonCode)
	}
	return r.Tx().SendBatch(ctx, batch).Close()
}

func (r *txRepo) GetCountForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Count, error) {
	return getCount(ctx, r.Tx(), tenantID, id, true)
}

func (r *txRepo) MarkCountPosted(ctx context.Context, c Count) error {
	tag, err := r.Tx().Exec(ctx, `UPDATE cycle_counts SET status=$3, movement_id=$4, posted_at=$5, updated_at=$5
WHERE tenant_id=$1 AND id=$2 AND status='draft'`, c.TenantID, c.ID, string(StatusPosted), c.MovementID, c.PostedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrCountNotFound.With("count_id", c.ID)
	}
	batch := &pgx.Batch{}
	for _, l := range c.Lines {
		batch.Queue(`UPDATE cycle_count_lines SET system_qty=$3, variance_qty=$4 WHERE tenant_id=$1 AND id=$2`,
			c.TenantID, l.ID, l.SystemQty, l.VarianceQty)
	}
	return r.Tx().SendBatch(ctx, batch).Close()
}

func (r *txRepo) MarkCountCanceled(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	tag, err := r.Tx().Exec(ctx, `UPDATE cycle_counts SET status=$3, canceled_at=$4, updated_at=$4
WHERE tenant_id=$1 AND id=$2 AND status='draft'`, tenantID, id, string(StatusCanceled), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrCountNotFound.With("count_id", id)
	}
	return nil
}
