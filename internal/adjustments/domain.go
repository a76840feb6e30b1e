package adjustments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Status is the lifecycle state of an adjustment: draft, then posted or canceled.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPosted   Status = "posted"
	StatusCanceled Status = "canceled"
)

// NumberPrefix is the document sequence prefix of adjustments.
const NumberPrefix = "ADJ"

// SourceType marks movements posted from an adjustment.
const SourceType = "inventory_adjustment"

// Adjustment is a manual stock correction document.
type Adjustment struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	ReasonCode string     `json:"reason_code"`
	Notes      string     `json:"notes,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	MovementID *uuid.UUID `json:"movement_id,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Lines      []Line     `json:"lines"`
}

// Line is one signed quantity delta of an adjustment.
type Line struct {
	ID         uuid.UUID        `json:"id"`
	LineNo     int              `json:"line_no"`
	ItemID     uuid.UUID        `json:"item_id"`
	LocationID uuid.UUID        `json:"location_id"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UOM        string           `json:"uom"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode string           `json:"reason_code,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// LineInput is a draft line.
type LineInput struct {
	ItemID     uuid.UUID        `json:"item_id" validate:"required"`
	LocationID uuid.UUID        `json:"location_id" validate:"required"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UOM        string           `json:"uom" validate:"required"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode string           `json:"reason_code,omitempty"`
	Note       string           `json:"note,omitempty"`
}

// CreateInput creates a draft adjustment.
type CreateInput struct {
	TenantID   uuid.UUID    `json:"-" validate:"required"`
	ReasonCode string       `json:"reason_code" validate:"required,max=64"`
	Notes      string       `json:"notes,omitempty" validate:"max=2000"`
	OccurredAt time.Time    `json:"occurred_at"`
	Lines      []LineInput  `json:"lines" validate:"required,min=1,dive"`
	Actor      shared.Actor `json:"-"`
}

// PostRequest posts a draft adjustment.
type PostRequest struct {
	TenantID       uuid.UUID                  `json:"tenant_id"`
	AdjustmentID   uuid.UUID                  `json:"adjustment_id"`
	Override       *inventory.OverrideRequest `json:"override,omitempty"`
	IdempotencyKey string                     `json:"-"`
	Actor          shared.Actor               `json:"-"`
}

// CancelRequest cancels a draft adjustment.
type CancelRequest struct {
	TenantID     uuid.UUID    `json:"tenant_id"`
	AdjustmentID uuid.UUID    `json:"adjustment_id"`
	Reason       string       `json:"reason"`
	Actor        shared.Actor `json:"-"`
}

// Result is a posted adjustment with its movement.
type Result struct {
	Adjustment Adjustment                  `json:"adjustment"`
	Movement   inventory.Movement          `json:"movement"`
	Override   *inventory.OverrideMetadata `json:"override,omitempty"`
	Replayed   bool                        `json:"replayed"`
}

// ErrAdjustmentNotFound indicates the adjustment does not exist for the tenant.
var ErrAdjustmentNotFound = shared.ErrDocumentNotFound.With("document", "inventory_adjustment")
