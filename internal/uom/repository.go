package uom

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads UOM reference data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadReference loads the item's canonical unit, its conversions and the global unit table.
func (r *Repository) LoadReference(ctx context.Context, tenantID, itemID uuid.UUID) (Reference, error) {
	ref := Reference{Units: map[string]Unit{}}
	var dimension string
	err := r.pool.QueryRow(ctx, `SELECT id, canonical_uom, uom_dimension FROM items WHERE tenant_id=$1 AND id=$2`, tenantID, itemID).
		Scan(&ref.Item.ItemID, &ref.Item.CanonicalUOM, &dimension)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reference{}, ErrItemNotFound.With("item_id", itemID)
		}
		return Reference{}, fmt.Errorf("uom: load item: %w", err)
	}
	ref.Item.Dimension = Dimension(dimension)

	rows, err := r.pool.Query(ctx, `SELECT from_uom, to_uom, factor FROM uom_conversions WHERE tenant_id=$1 AND item_id=$2 ORDER BY from_uom, to_uom`, tenantID, itemID)
	if err != nil {
		return Reference{}, fmt.Errorf("uom: load conversions: %w", err)
	}
	for rows.Next() {
		var conv Conversion
		if err := rows.Scan(&conv.FromUOM, &conv.ToUOM, &conv.Factor); err != nil {
			rows.Close()
			return Reference{}, err
		}
		ref.Conversions = append(ref.Conversions, conv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Reference{}, err
	}

	units, err := r.pool.Query(ctx, `SELECT code, dimension, to_base FROM uom_units`)
	if err != nil {
		return Reference{}, fmt.Errorf("uom: load units: %w", err)
	}
	defer units.Close()
	for units.Next() {
		var u Unit
		var dim string
		if err := units.Scan(&u.Code, &dim, &u.ToBase); err != nil {
			return Reference{}, err
		}
		u.Code = NormalizeCode(u.Code)
		u.Dimension = Dimension(dim)
		ref.Units[u.Code] = u
	}
	return ref, units.Err()
}
