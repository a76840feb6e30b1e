package transfers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
)

// Repository persists transfers in PostgreSQL.
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

const transferColumns = `id, tenant_id, transfer_number, from_location_id, to_location_id, movement_id, COALESCE(reference, ''),
COALESCE(notes, ''), occurred_at, COALESCE(created_by, ''), created_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	err := row.Scan(&t.ID, &t.TenantID, &t.Number, &t.FromLocationID, &t.ToLocationID, &t.MovementID, &t.Reference,
		&t.Notes, &t.OccurredAt, &t.CreatedBy, &t.CreatedAt)
	return t, err
}

// GetTransfer returns a transfer by id.
func (r *Repository) GetTransfer(ctx context.Context, tenantID, id uuid.UUID) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM inventory_transfers WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound.With("transfer_id", id)
	}
	return t, err
}

// GetTransferByMovement returns the transfer that posted movementID.
func (r *Repository) GetTransferByMovement(ctx context.Context, tenantID, movementID uuid.UUID) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM inventory_transfers WHERE tenant_id=$1 AND movement_id=$2`,
		tenantID, movementID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound.With("movement_id", movementID)
	}
	return t, err
}

// GetMovement returns a posted movement.
func (r *Repository) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return r.ledger.GetMovement(ctx, tenantID, id)
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) error {
	_, err := r.Tx().Exec(ctx, `INSERT INTO inventory_transfers (id, tenant_id, transfer_number, from_location_id, to_location_id,
movement_id, reference, notes, occurred_at, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $11)`,
		t.ID, t.TenantID, t.Number, t.FromLocationID, t.ToLocationID, t.MovementID, t.Reference, t.Notes, t.OccurredAt, t.CreatedBy, t.CreatedAt)
	return err
}
