package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

// MovementType enumerates the business events that change on-hand stock.
type MovementType string

const (
	MovementReceive    MovementType = "receive"
	MovementIssue      MovementType = "issue"
	MovementTransfer   MovementType = "transfer"
	MovementAdjustment MovementType = "adjustment"
	MovementCount      MovementType = "count"
	MovementProduction MovementType = "production"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceive, MovementIssue, MovementTransfer, MovementAdjustment, MovementCount, MovementProduction:
		return true
	}
	return false
}

// MovementStatus is the lifecycle state of a movement.
type MovementStatus string

const (
	MovementDraft  MovementStatus = "draft"
	MovementPosted MovementStatus = "posted"
	MovementVoided MovementStatus = "voided"
)

// Movement is one posted business event in the ledger. Lines of a posted movement are immutable.
type Movement struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	Number      string         `json:"number"`
	Type        MovementType   `json:"type"`
	Status      MovementStatus `json:"status"`
	SourceType  string         `json:"source_type,omitempty"`
	SourceID    *uuid.UUID     `json:"source_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	PostedAt    *time.Time     `json:"posted_at,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ExternalRef string         `json:"external_ref,omitempty"`
	ReversalOf  *uuid.UUID     `json:"reversal_of,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Lines       []MovementLine `json:"lines"`
}

// MovementLine is one item/location delta within a movement.
type MovementLine struct {
	ID           uuid.UUID       `json:"id"`
	MovementID   uuid.UUID       `json:"movement_id"`
	LineNo       int             `json:"line_no"`
	ItemID       uuid.UUID       `json:"item_id"`
	LocationID   uuid.UUID       `json:"location_id"`
	EnteredQty   decimal.Decimal `json:"entered_qty"`
	EnteredUOM   string          `json:"entered_uom"`
	CanonicalQty decimal.Decimal `json:"canonical_qty"`
	CanonicalUOM string          `json:"canonical_uom"`
	Dimension    uom.Dimension   `json:"dimension"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ExtendedCost decimal.Decimal `json:"extended_cost"`
	ReasonCode   string          `json:"reason_code,omitempty"`
	Note         string          `json:"note,omitempty"`
}

// Key returns the balance key the line affects.
func (l MovementLine) Key() BalanceKey {
	return BalanceKey{ItemID: l.ItemID, LocationID: l.LocationID, UOM: l.CanonicalUOM}
}

// CostLayer is a FIFO valuation lot for one (item, location).
type CostLayer struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	ItemID       uuid.UUID       `json:"item_id"`
	LocationID   uuid.UUID       `json:"location_id"`
	UOM          string          `json:"uom"`
	OriginalQty  decimal.Decimal `json:"original_qty"`
	RemainingQty decimal.Decimal `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
	Seq          int64           `json:"seq"`
	SourceType   string          `json:"source_type,omitempty"`
	SourceID     *uuid.UUID      `json:"source_id,omitempty"`
	MovementID   uuid.UUID       `json:"movement_id"`
}

// CostLayerConsumption records how much of a layer an outbound line consumed.
type CostLayerConsumption struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	CostLayerID    uuid.UUID       `json:"cost_layer_id"`
	MovementID     uuid.UUID       `json:"movement_id"`
	MovementLineID uuid.UUID       `json:"movement_line_id"`
	Type           string          `json:"consumption_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	ConsumedAt     time.Time       `json:"consumed_at"`
}

// BalanceKey identifies a materialized balance row within a tenant.
type BalanceKey struct {
	ItemID     uuid.UUID `json:"item_id"`
	LocationID uuid.UUID `json:"location_id"`
	UOM        string    `json:"uom"`
}

// LockKey identifies the (item, location) unit of serialization.
type LockKey struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
}

// String renders the key used for advisory locking.
func (k LockKey) String() string {
	return k.ItemID.String() + ":" + k.LocationID.String()
}

// Balance is the materialized on-hand cache for a key.
type Balance struct {
	TenantID   uuid.UUID       `json:"tenant_id"`
	ItemID     uuid.UUID       `json:"item_id"`
	LocationID uuid.UUID       `json:"location_id"`
	UOM        string          `json:"uom"`
	OnHand     decimal.Decimal `json:"on_hand"`
	Reserved   decimal.Decimal `json:"reserved"`
	Allocated  decimal.Decimal `json:"allocated"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Key returns the balance key.
func (b Balance) Key() BalanceKey {
	return BalanceKey{ItemID: b.ItemID, LocationID: b.LocationID, UOM: b.UOM}
}

// Available is on-hand less reserved and allocated quantities.
func (b Balance) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved).Sub(b.Allocated)
}

// LedgerTotal is the ledger-derived on-hand for a key.
type LedgerTotal struct {
	ItemID     uuid.UUID       `json:"item_id"`
	LocationID uuid.UUID       `json:"location_id"`
	UOM        string          `json:"uom"`
	OnHand     decimal.Decimal `json:"on_hand"`
}

// Key returns the balance key.
func (t LedgerTotal) Key() BalanceKey {
	return BalanceKey{ItemID: t.ItemID, LocationID: t.LocationID, UOM: t.UOM}
}

// BalanceFilter narrows balance and ledger reads. TenantID is mandatory.
type BalanceFilter struct {
	TenantID   uuid.UUID
	ItemID     *uuid.UUID
	LocationID *uuid.UUID
	AsOf       *time.Time
	Limit      int
}

// LayerPolicy selects how a posting treats cost layers.
type LayerPolicy string

const (
	// LayerFIFO creates layers for increases and consumes FIFO for decreases.
	LayerFIFO LayerPolicy = "fifo"
	// LayerCarry consumes at the source lines and recreates the consumed slices on the lines
	// that name them through CarryFrom.
	LayerCarry LayerPolicy = "carry"
	// LayerRelocate moves the open layers of each source line to the location of the line
	// naming it through CarryFrom. Cost and FIFO age are kept and no consumption is written.
	LayerRelocate LayerPolicy = "relocate"
)

// Valid reports whether p is a known layer policy.
func (p LayerPolicy) Valid() bool {
	return p == LayerFIFO || p == LayerCarry || p == LayerRelocate
}

// Paired reports whether increasing lines must name their source line through CarryFrom.
func (p LayerPolicy) Paired() bool {
	return p == LayerCarry || p == LayerRelocate
}

// LineRequest is one line of a posting request. Quantity is signed and, like UnitCost, expressed
// in UOM.
type LineRequest struct {
	ItemID     uuid.UUID        `json:"item_id" validate:"required"`
	LocationID uuid.UUID        `json:"location_id" validate:"required"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UOM        string           `json:"uom" validate:"required"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty"`
	ReasonCode string           `json:"reason_code,omitempty"`
	Note       string           `json:"note,omitempty"`
	// CarryFrom names the decreasing line whose layers this line takes over (LayerCarry and
	// LayerRelocate only).
	CarryFrom *int `json:"carry_from,omitempty"`
}

// OverrideRequest asks to admit a negative balance.
type OverrideRequest struct {
	Requested bool   `json:"requested"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// OverrideMetadata is stamped onto a movement posted under a negative-stock override.
type OverrideMetadata struct {
	Requested  bool               `json:"requested"`
	Reason     string             `json:"reason"`
	Reference  string             `json:"reference,omitempty"`
	ActorID    string             `json:"actor_id,omitempty"`
	Shortfalls []shared.Shortfall `json:"shortfalls"`
}

// PostingRequest is the input of Poster.Post.
type PostingRequest struct {
	TenantID       uuid.UUID        `json:"tenant_id" validate:"required"`
	Type           MovementType     `json:"type" validate:"required"`
	Number         string           `json:"number,omitempty"`
	SourceType     string           `json:"source_type,omitempty"`
	SourceID       *uuid.UUID       `json:"source_id,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
	Notes          string           `json:"notes,omitempty"`
	ExternalRef    string           `json:"external_ref,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Lines          []LineRequest    `json:"lines" validate:"required,min=1,dive"`
	Layering       LayerPolicy      `json:"layering,omitempty"`
	Override       *OverrideRequest `json:"override,omitempty"`
	ReversalOf     *uuid.UUID       `json:"reversal_of,omitempty"`
	IdempotencyKey string           `json:"-"`
	Actor          shared.Actor     `json:"-"`
}

// PostingResult is what a posting produced.
type PostingResult struct {
	Movement     Movement               `json:"movement"`
	Consumptions []CostLayerConsumption `json:"consumptions,omitempty"`
	Layers       []CostLayer            `json:"layers,omitempty"`
	Override     *OverrideMetadata      `json:"override,omitempty"`
	Replayed     bool                   `json:"replayed"`
}

// RepairAudit traces one balance overwritten by reconciliation.
type RepairAudit struct {
	ID         uuid.UUID
	RunID      uuid.UUID
	TenantID   uuid.UUID
	Key        BalanceKey
	Before     decimal.Decimal
	After      decimal.Decimal
	Delta      decimal.Decimal
	ActorType  shared.ActorType
	ActorID    string
	RepairedAt time.Time
}

var (
	// ErrInvalidQuantity indicates a zero or otherwise unusable quantity.
	ErrInvalidQuantity = shared.NewError(shared.KindValidation, "INVALID_QUANTITY", "quantity must be non zero")
	// ErrInvalidLayerQuantity indicates a cost layer request with quantity <= 0.
	ErrInvalidLayerQuantity = shared.NewError(shared.KindValidation, "INVALID_LAYER_QUANTITY", "cost layer quantity must be positive")
	// ErrInsufficientCostLayers indicates FIFO layers cannot cover a decrease.
	ErrInsufficientCostLayers = shared.NewError(shared.KindInsufficientResource, "INSUFFICIENT_COST_LAYERS", "cost layers do not cover the requested quantity")
	// ErrInsufficientStock indicates on-hand would go negative without an override.
	ErrInsufficientStock = shared.NewError(shared.KindInsufficientResource, "INSUFFICIENT_STOCK", "insufficient stock")
	// ErrOverrideRequiresReason indicates an override without a reason.
	ErrOverrideRequiresReason = shared.NewError(shared.KindValidation, "NEGATIVE_OVERRIDE_REQUIRES_REASON", "negative stock override requires a reason")
	// ErrOverrideNotAllowed indicates the actor may not override negative stock.
	ErrOverrideNotAllowed = shared.NewError(shared.KindAuthorization, "NEGATIVE_OVERRIDE_NOT_ALLOWED", "actor may not override negative stock")
	// ErrRepairThresholdExceeded indicates too many mismatches for an unattended repair.
	ErrRepairThresholdExceeded = shared.NewError(shared.KindInsufficientResource, "BALANCE_REPAIR_THRESHOLD_EXCEEDED", "mismatch count exceeds the repair ceiling")
	// ErrMovementNotFound indicates the movement does not exist for the tenant.
	ErrMovementNotFound = shared.NewError(shared.KindNotFound, "MOVEMENT_NOT_FOUND", "movement not found")
	// ErrInvalidMovementType indicates an unknown movement type.
	ErrInvalidMovementType = shared.NewError(shared.KindValidation, "INVALID_MOVEMENT_TYPE", "unknown movement type")
	// ErrNoLines indicates a posting without lines.
	ErrNoLines = shared.NewError(shared.KindValidation, "NO_LINES", "posting requires at least one line")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = shared.NewError(shared.KindValidation, "INVALID_UNIT_COST", "unit cost must be >= 0")
)

// ErrBalanceNotFound indicates a missing balance row; callers treat it as zero on-hand.
var ErrBalanceNotFound = shared.NewError(shared.KindNotFound, "BALANCE_NOT_FOUND", "inventory balance not found")
