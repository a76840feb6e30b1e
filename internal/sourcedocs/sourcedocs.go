// Package sourcedocs reads the external documents that trigger inventory movements:
// purchase-order receipt lines and warehouse default locations by role.
package sourcedocs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// LocationRole names a default location category of a warehouse.
type LocationRole string

const (
	RoleQA       LocationRole = "QA"
	RoleHold     LocationRole = "HOLD"
	RoleReject   LocationRole = "REJECT"
	RoleSellable LocationRole = "SELLABLE"
	RoleStaging  LocationRole = "STAGING"
)

// ReceiptStatus is the status of the receipt header owning a line.
type ReceiptStatus string

const (
	ReceiptOpen     ReceiptStatus = "open"
	ReceiptReceived ReceiptStatus = "received"
	ReceiptVoided   ReceiptStatus = "voided"
)

// ReceiptLine is a purchase-order receipt line.
type ReceiptLine struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ReceiptID     uuid.UUID
	ReceiptStatus ReceiptStatus
	WarehouseID   uuid.UUID
	ItemID        uuid.UUID
	LocationID    *uuid.UUID
	Quantity      decimal.Decimal
	UOM           string
	UnitCost      decimal.Decimal
	MovementID    *uuid.UUID
}

// Reader is the transactional source-document port.
type Reader interface {
	GetReceiptLineForUpdate(ctx context.Context, tenantID, lineID uuid.UUID) (ReceiptLine, error)
	DefaultLocation(ctx context.Context, tenantID, warehouseID uuid.UUID, role LocationRole) (uuid.UUID, error)
	MarkReceiptLinePosted(ctx context.Context, tenantID, lineID, movementID, locationID uuid.UUID) error
}

var (
	// ErrReceiptLineNotFound indicates the receipt line is missing for the tenant.
	ErrReceiptLineNotFound = shared.ErrDocumentNotFound.With("document", "receipt_line")
	// ErrLocationRoleMissing indicates the warehouse has no default location for a role.
	ErrLocationRoleMissing = shared.NewError(shared.KindValidation, "LOCATION_ROLE_MISSING", "warehouse has no default location for role")
)

// Queries implements Reader with pgx.
type Queries struct {
	q db.Querier
}

// NewQueries binds Queries to a pool or transaction.
func NewQueries(q db.Querier) *Queries {
	return &Queries{q: q}
}

// GetReceiptLineForUpdate locks the receipt line row.
func (s *Queries) GetReceiptLineForUpdate(ctx context.Context, tenantID, lineID uuid.UUID) (ReceiptLine, error) {
	var l ReceiptLine
	var status string
	err := s.q.QueryRow(ctx, `SELECT rl.id, rl.tenant_id, rl.receipt_id, r.status, r.warehouse_id, rl.item_id, rl.location_id,
rl.quantity, rl.uom, rl.unit_cost, rl.movement_id
FROM purchase_order_receipt_lines rl
JOIN purchase_order_receipts r ON r.id = rl.receipt_id AND r.tenant_id = rl.tenant_id
WHERE rl.tenant_id=$1 AND rl.id=$2
FOR UPDATE OF rl`, tenantID, lineID).
		Scan(&l.ID, &l.TenantID, &l.ReceiptID, &status, &l.WarehouseID, &l.ItemID, &l.LocationID, &l.Quantity, &l.UOM, &l.UnitCost, &l.MovementID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReceiptLine{}, ErrReceiptLineNotFound.With("receipt_line_id", lineID)
		}
		return ReceiptLine{}, fmt.Errorf("sourcedocs: load receipt line: %w", err)
	}
	l.ReceiptStatus = ReceiptStatus(status)
	return l, nil
}

// DefaultLocation resolves the warehouse location assigned to role.
func (s *Queries) DefaultLocation(ctx context.Context, tenantID, warehouseID uuid.UUID, role LocationRole) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.q.QueryRow(ctx, `SELECT location_id FROM warehouse_default_locations
WHERE tenant_id=$1 AND warehouse_id=$2 AND role=$3`, tenantID, warehouseID, string(role)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrLocationRoleMissing.With("warehouse_id", warehouseID).With("role", role)
		}
		return uuid.Nil, err
	}
	return id, nil
}

// MarkReceiptLinePosted records the receive movement and putaway location on the line.
func (s *Queries) MarkReceiptLinePosted(ctx context.Context, tenantID, lineID, movementID, locationID uuid.UUID) error {
	_, err := s.q.Exec(ctx, `UPDATE purchase_order_receipt_lines SET movement_id=$3, location_id=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2`, tenantID, lineID, movementID, locationID)
	return err
}

// ResolveFirst returns the default location of the first role that has one.
func ResolveFirst(ctx context.Context, r Reader, tenantID, warehouseID uuid.UUID, roles ...LocationRole) (uuid.UUID, error) {
	var lastErr error
	for _, role := range roles {
		id, err := r.DefaultLocation(ctx, tenantID, warehouseID, role)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrLocationRoleMissing) {
			return uuid.Nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrLocationRoleMissing.With("warehouse_id", warehouseID)
	}
	return uuid.Nil, lastErr
}
