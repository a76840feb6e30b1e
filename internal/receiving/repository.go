package receiving

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
)

// Repository persists receipt postings in PostgreSQL.
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
