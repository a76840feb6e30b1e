package counts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Status is the lifecycle state of a cycle count.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPosted   Status = "posted"
	StatusCanceled Status = "canceled"
)

const (
	// NumberPrefix is the document sequence prefix of cycle counts.
	NumberPrefix = "CNT"
	// SourceType marks movements posted from a cycle count.
	SourceType = "cycle_count"
	// DefaultReasonCode is stamped on variance lines without their own reason.
	DefaultReasonCode = "COUNT_VARIANCE"
)

// Count is a physical stock count document.
type Count struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"tenant_id"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	CountedAt  time.Time  `json:"counted_at"`
	Notes      string     `json:"notes,omitempty"`
	MovementID *uuid.UUID `json:"movement_id,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	CanceledAt *time.Time `json:"canceled_at,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Lines      []Line     `json:"lines"`
}

// Line is one counted (item, location). SystemQty and VarianceQty are canonical and set on posting.
type Line struct {
	ID          uuid.UUID        `json:"id"`
	LineNo      int              `json:"line_no"`
	ItemID      uuid.UUID        `json:"item_id"`
	LocationID  uuid.UUID        `json:"location_id"`
	CountedQty  decimal.Decimal  `json:"counted_qty"`
	UOM         string           `json:"uom"`
	UnitCost    *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode  string           `json:"reason_code,omitempty"`
	SystemQty   *decimal.Decimal `json:"system_qty,omitempty"`
	VarianceQty *decimal.Decimal `json:"variance_qty,omitempty"`
}

// LineInput is a counted line of a draft.
type LineInput struct {
	ItemID     uuid.UUID        `json:"item_id" validate:"required"`
	LocationID uuid.UUID        `json:"location_id" validate:"required"`
	CountedQty decimal.Decimal  `json:"counted_qty"`
	UOM        string           `json:"uom" validate:"required"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode string           `json:"reason_code,omitempty"`
}

// CreateInput creates a draft count.
type CreateInput struct {
	TenantID  uuid.UUID    `json:"-" validate:"required"`
	CountedAt time.Time    `json:"counted_at"`
	Notes     string       `json:"notes,omitempty" validate:"max=2000"`
	Lines     []LineInput  `json:"lines" validate:"required,min=1,dive"`
	Actor     shared.Actor `json:"-"`
}

// PostRequest posts a draft count.
type PostRequest struct {
	TenantID       uuid.UUID                  `json:"tenant_id"`
	CountID        uuid.UUID                  `json:"count_id"`
	Override       *inventory.OverrideRequest `json:"override,omitempty"`
	IdempotencyKey string                     `json:"-"`
	Actor          shared.Actor               `json:"-"`
}

// CancelRequest cancels a draft count.
type CancelRequest struct {
	TenantID uuid.UUID    `json:"tenant_id"`
	CountID  uuid.UUID    `json:"count_id"`
	Reason   string       `json:"reason"`
	Actor    shared.Actor `json:"-"`
}

// Result is a posted count. Movement is nil when every line matched the books.
type Result struct {
	Count    Count                       `json:"count"`
	Movement *inventory.Movement         `json:"movement,omitempty"`
	Override *inventory.OverrideMetadata `json:"override,omitempty"`
	Replayed bool                        `json:"replayed"`
}

var (
	// ErrCountNotFound indicates the count does not exist for the tenant.
	ErrCountNotFound = shared.ErrDocumentNotFound.With("document", SourceType)
	// ErrNegativeCount rejects counted quantities below zero.
	ErrNegativeCount = inventory.ErrInvalidQuantity.With("reason", "counted quantity must be >= 0")
)
