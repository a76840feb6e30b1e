package transfers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

const (
	// NumberPrefix is the document sequence prefix of transfers.
	NumberPrefix = "TRF"
	// SourceType marks movements posted from a transfer.
	SourceType = "inventory_transfer"
)

// Transfer moves stock and its value between two locations.
type Transfer struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Number         string    `json:"number"`
	FromLocationID uuid.UUID `json:"from_location_id"`
	ToLocationID   uuid.UUID `json:"to_location_id"`
	MovementID     uuid.UUID `json:"movement_id"`
	Reference      string    `json:"reference,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LineInput is one item moved by a transfer.
type LineInput struct {
	ItemID   uuid.UUID       `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	UOM      string          `json:"uom" validate:"required"`
}

// TransferRequest asks to move stock between locations.
type TransferRequest struct {
	TenantID       uuid.UUID                  `json:"tenant_id" validate:"required"`
	FromLocationID uuid.UUID                  `json:"from_location_id" validate:"required"`
	ToLocationID   uuid.UUID                  `json:"to_location_id" validate:"required,nefield=FromLocationID"`
	Reference      string                     `json:"reference,omitempty" validate:"max=128"`
	Notes          string                     `json:"notes,omitempty" validate:"max=2000"`
	OccurredAt     time.Time                  `json:"occurred_at"`
	Lines          []LineInput                `json:"lines" validate:"required,min=1,dive"`
	Override       *inventory.OverrideRequest `json:"override,omitempty"`
	IdempotencyKey string                     `json:"-"`
	Actor          shared.Actor               `json:"-"`
}

// Result is a posted transfer.
type Result struct {
	Transfer Transfer                    `json:"transfer"`
	Movement inventory.Movement          `json:"movement"`
	Override *inventory.OverrideMetadata `json:"override,omitempty"`
	Replayed bool                        `json:"replayed"`
}

// ErrTransferNotFound indicates the transfer does not exist for the tenant.
var ErrTransferNotFound = shared.ErrDocumentNotFound.With("document", SourceType)
