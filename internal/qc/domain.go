package qc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
)

// Disposition is a quality-control outcome for received stock.
type Disposition string

const (
	DispositionAccept Disposition = "accept"
	DispositionHold   Disposition = "hold"
	DispositionReject Disposition = "reject"
)

// Role returns the default location role that receives stock with this disposition.
func (d Disposition) Role() (sourcedocs.LocationRole, bool) {
	switch d {
	case DispositionAccept:
		return sourcedocs.RoleSellable, true
	case DispositionHold:
		return sourcedocs.RoleHold, true
	case DispositionReject:
		return sourcedocs.RoleReject, true
	}
	return "", false
}

// SourceType marks movements posted from a QC event.
const SourceType = "qc_event"

// Event records one disposition of received stock. MovementID is nil when stock already sat
// in the target location. Released marks an accept or reject of stock previously held.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	ReceiptLineID  uuid.UUID       `json:"receipt_line_id"`
	Disposition    Disposition     `json:"disposition"`
	Quantity       decimal.Decimal `json:"quantity"`
	UOM            string          `json:"uom"`
	CanonicalQty   decimal.Decimal `json:"canonical_qty"`
	CanonicalUOM   string          `json:"canonical_uom"`
	FromLocationID uuid.UUID       `json:"from_location_id"`
	ToLocationID   uuid.UUID       `json:"to_location_id"`
	MovementID     *uuid.UUID      `json:"movement_id,omitempty"`
	Released       bool            `json:"released"`
	Reason         string          `json:"reason,omitempty"`
	ActorID        string          `json:"actor_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// DispositionRequest asks to route part of a receipt line to a disposition location. With
// Release set, held stock of the line is moved from the hold location instead.
type DispositionRequest struct {
	TenantID       uuid.UUID                  `json:"tenant_id" validate:"required"`
	ReceiptLineID  uuid.UUID                  `json:"receipt_line_id" validate:"required"`
	Disposition    Disposition                `json:"disposition" validate:"required,oneof=accept hold reject"`
	Quantity       decimal.Decimal            `json:"quantity"`
	UOM            string                     `json:"uom" validate:"required"`
	Release        bool                       `json:"release,omitempty"`
	Reason         string                     `json:"reason,omitempty" validate:"max=500"`
	Override       *inventory.OverrideRequest `json:"override,omitempty"`
	IdempotencyKey string                     `json:"-"`
	Actor          shared.Actor               `json:"-"`
}

// Result is a recorded disposition.
type Result struct {
	Event    *Event                      `json:"event,omitempty"`
	Movement *inventory.Movement         `json:"movement,omitempty"`
	Override *inventory.OverrideMetadata `json:"override,omitempty"`
	Replayed bool                        `json:"replayed"`
}

// Totals aggregates the canonical quantities recorded against a receipt line.
type Totals struct {
	// Dispositioned counts first dispositions out of the putaway location.
	Dispositioned decimal.Decimal
	Held          decimal.Decimal
	Released      decimal.Decimal
}

// Holding returns the quantity still sitting in the hold location.
func (t Totals) Holding() decimal.Decimal {
	return t.Held.Sub(t.Released)
}

var (
	// ErrQuantityExceeded indicates dispositions would exceed the received or held quantity.
	ErrQuantityExceeded = shared.NewError(shared.KindValidation, "QC_QUANTITY_EXCEEDED", "disposition exceeds received quantity")
	// ErrInvalidRelease indicates a release that does not route held stock to accept or reject.
	ErrInvalidRelease = shared.NewError(shared.KindValidation, "QC_INVALID_RELEASE", "only accept or reject can release held stock")
)
