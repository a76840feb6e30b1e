package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

// Metadata keys stamped onto movements.
const (
	MetaLayering          = "layering"
	MetaOverrideRequested = "override_requested"
	MetaOverrideReason    = "override_reason"
	MetaOverrideReference = "override_reference"
)

// MovementNumberPrefix is the document sequence prefix of movement numbers.
const MovementNumberPrefix = "MV"

// Canonicalizer converts entered quantities to the item's canonical unit.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, tenantID, itemID uuid.UUID, qty decimal.Decimal, code string) (uom.Quantity, error)
}

// PosterConfig tunes the poster.
type PosterConfig struct {
	Policy OverridePolicy
	// ValidateFromLedger makes the stock guard read ledger-derived on-hand instead of the cache.
	ValidateFromLedger bool
	// Clock overrides the posting time source.
	Clock func() time.Time
}

// Poster composes canonicalization, the stock guard, cost layers, the ledger, balances, the
// outbox, audit and idempotency completion inside a transaction owned by the caller.
type Poster struct {
	uom                Canonicalizer
	guard              Guard
	validateFromLedger bool
	now                func() time.Time
}

// NewPoster constructs a Poster.
func NewPoster(canonicalizer Canonicalizer, cfg PosterConfig) *Poster {
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Poster{
		uom:                canonicalizer,
		guard:              NewGuard(cfg.Policy),
		validateFromLedger: cfg.ValidateFromLedger,
		now:                now,
	}
}

// Canonicalize exposes the poster's unit conversion to orchestrators.
func (p *Poster) Canonicalize(ctx context.Context, tenantID, itemID uuid.UUID, qty decimal.Decimal, code string) (uom.Quantity, error) {
	return p.uom.Canonicalize(ctx, tenantID, itemID, qty, code)
}

// Post records req as a posted movement. Any error leaves the transaction to be rolled back.
func (p *Poster) Post(ctx context.Context, tx TxRepository, req PostingRequest) (PostingResult, error) {
	if req.TenantID == uuid.Nil {
		return PostingResult{}, shared.ErrTenantRequired
	}
	if !req.Type.Valid() {
		return PostingResult{}, ErrInvalidMovementType.With("type", req.Type)
	}
	if len(req.Lines) == 0 {
		return PostingResult{}, ErrNoLines
	}
	layering := req.Layering
	if layering == "" {
		layering = LayerFIFO
	}
	if !layering.Valid() {
		return PostingResult{}, shared.ErrValidation.With("layering", layering)
	}
	now := p.now()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	movementID := uuid.New()

	lines, err := p.canonicalLines(ctx, req, movementID)
	if err != nil {
		return PostingResult{}, err
	}
	if layering.Paired() {
		if err := validateCarry(req.Lines, lines); err != nil {
			return PostingResult{}, err
		}
	}

	if err := tx.LockKeys(ctx, req.TenantID, lockKeys(lines)); err != nil {
		return PostingResult{}, err
	}
	demands, err := p.demands(ctx, tx, req.TenantID, lines, now)
	if err != nil {
		return PostingResult{}, err
	}
	override, err := p.guard.Check(demands, req.Override, req.Actor)
	if err != nil {
		return PostingResult{}, err
	}

	number := req.Number
	if number == "" {
		number, err = tx.NextDocumentNumber(ctx, req.TenantID, MovementNumberPrefix)
		if err != nil {
			return PostingResult{}, err
		}
	}
	metadata := make(map[string]any, len(req.Metadata)+4)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[MetaLayering] = string(layering)
	if override != nil {
		metadata[MetaOverrideRequested] = true
		metadata[MetaOverrideReason] = override.Reason
		if override.Reference != "" {
			metadata[MetaOverrideReference] = override.Reference
		}
	}
	movement := Movement{
		ID:          movementID,
		TenantID:    req.TenantID,
		Number:      number,
		Type:        req.Type,
		Status:      MovementPosted,
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		OccurredAt:  occurredAt,
		PostedAt:    &now,
		Notes:       req.Notes,
		Metadata:    metadata,
		ExternalRef: req.ExternalRef,
		ReversalOf:  req.ReversalOf,
		CreatedAt:   now,
	}
	if err := tx.InsertMovement(ctx, movement); err != nil {
		return PostingResult{}, err
	}

	result := PostingResult{Override: override}
	if err := p.applyLayers(ctx, tx, req, movement, lines, layering, override != nil, &result); err != nil {
		return PostingResult{}, err
	}
	if err := tx.InsertMovementLines(ctx, req.TenantID, lines); err != nil {
		return PostingResult{}, err
	}
	for _, line := range lines {
		if _, err := tx.ApplyBalanceDelta(ctx, req.TenantID, line.Key(), line.CanonicalQty, now); err != nil {
			return PostingResult{}, err
		}
	}
	if err := tx.EnqueueMovementPosted(ctx, req.TenantID, movementID); err != nil {
		return PostingResult{}, err
	}
	if err := p.audit(ctx, tx, req, movement, len(lines), override, now); err != nil {
		return PostingResult{}, err
	}
	if req.IdempotencyKey != "" {
		if err := tx.CompleteIdempotency(ctx, req.TenantID, req.IdempotencyKey, shared.IdempotencySucceeded, shared.MovementRef(movementID)); err != nil {
			return PostingResult{}, err
		}
	}
	movement.Lines = lines
	result.Movement = movement
	return result, nil
}

func (p *Poster) canonicalLines(ctx context.Context, req PostingRequest, movementID uuid.UUID) ([]MovementLine, error) {
	lines := make([]MovementLine, len(req.Lines))
	for i, in := range req.Lines {
		lineNo := i + 1
		if in.ItemID == uuid.Nil || in.LocationID == uuid.Nil {
			return nil, shared.ErrValidation.With("line", lineNo).With("reason", "item and location required")
		}
		if in.Quantity.IsZero() {
			return nil, ErrInvalidQuantity.With("line", lineNo)
		}
		if in.UnitCost != nil && in.UnitCost.IsNegative() {
			return nil, ErrInvalidUnitCost.With("line", lineNo)
		}
		q, err := p.uom.Canonicalize(ctx, req.TenantID, in.ItemID, in.Quantity.Abs(), in.UOM)
		if err != nil {
			return nil, err
		}
		canonical := q.CanonicalQty
		if in.Quantity.IsNegative() {
			canonical = canonical.Neg()
		}
		if canonical.IsZero() {
			return nil, ErrInvalidQuantity.With("line", lineNo)
		}
		lines[i] = MovementLine{
			ID:           uuid.New(),
			MovementID:   movementID,
			LineNo:       lineNo,
			ItemID:       in.ItemID,
			LocationID:   in.LocationID,
			EnteredQty:   in.Quantity,
			EnteredUOM:   q.EnteredUOM,
			CanonicalQty: canonical,
			CanonicalUOM: q.CanonicalUOM,
			Dimension:    q.Dimension,
			UnitCost:     decimal.Zero,
			ExtendedCost: decimal.Zero,
			ReasonCode:   in.ReasonCode,
			Note:         in.Note,
		}
	}
	return lines, nil
}

func validateCarry(in []LineRequest, lines []MovementLine) error {
	used := make(map[int]bool)
	for i, line := range lines {
		if line.CanonicalQty.IsNegative() {
			continue
		}
		from := in[i].CarryFrom
		if from == nil || *from < 0 || *from >= len(lines) || used[*from] {
			return shared.ErrValidation.With("line", i+1).With("reason", "carried line must name one unused source line")
		}
		src := lines[*from]
		if !src.CanonicalQty.IsNegative() || src.ItemID != line.ItemID || !src.CanonicalQty.Neg().Equal(line.CanonicalQty) {
			return shared.ErrValidation.With("line", i+1).With("reason", "carried line must mirror its source line")
		}
		used[*from] = true
	}
	return nil
}

func lockKeys(lines []MovementLine) []LockKey {
	keys := make([]LockKey, 0, len(lines))
	for _, line := range lines {
		keys = append(keys, LockKey{ItemID: line.ItemID, LocationID: line.LocationID})
	}
	return SortLockKeys(keys)
}

// SortLockKeys dedupes keys and orders them for deadlock-free acquisition.
func SortLockKeys(keys []LockKey) []LockKey {
	seen := make(map[LockKey]struct{}, len(keys))
	out := make([]LockKey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (p *Poster) demands(ctx context.Context, tx TxRepository, tenantID uuid.UUID, lines []MovementLine, asOf time.Time) ([]Demand, error) {
	requested := make(map[BalanceKey]decimal.Decimal)
	var order []BalanceKey
	for _, line := range lines {
		if !line.CanonicalQty.IsNegative() {
			continue
		}
		key := line.Key()
		if _, ok := requested[key]; !ok {
			order = append(order, key)
		}
		requested[key] = requested[key].Add(line.CanonicalQty.Neg())
	}
	demands := make([]Demand, 0, len(order))
	for _, key := range order {
		available, err := p.available(ctx, tx, tenantID, key, asOf)
		if err != nil {
			return nil, err
		}
		demands = append(demands, Demand{Key: key, Requested: requested[key], Available: available})
	}
	return demands, nil
}

func (p *Poster) available(ctx context.Context, tx TxRepository, tenantID uuid.UUID, key BalanceKey, asOf time.Time) (decimal.Decimal, error) {
	balance, err := tx.GetBalanceForUpdate(ctx, tenantID, key)
	if err != nil && !isBalanceNotFound(err) {
		return decimal.Zero, err
	}
	if p.validateFromLedger {
		onHand, err := tx.LedgerOnHand(ctx, tenantID, key, &asOf)
		if err != nil {
			return decimal.Zero, err
		}
		balance.OnHand = onHand
	}
	return balance.Available(), nil
}

func (p *Poster) applyLayers(ctx context.Context, tx TxRepository, req PostingRequest, movement Movement, lines []MovementLine, layering LayerPolicy, overridden bool, result *PostingResult) error {
	var prefer uuid.UUID
	if req.ReversalOf != nil {
		prefer = *req.ReversalOf
	}
	relocated := make(map[int]bool)
	if layering == LayerRelocate {
		for i := range lines {
			line := &lines[i]
			if line.CanonicalQty.IsNegative() {
				continue
			}
			from := *req.Lines[i].CarryFrom
			res, err := RelocateCostLayers(ctx, tx, RelocateRequest{
				TenantID:         req.TenantID,
				ItemID:           line.ItemID,
				FromLocationID:   lines[from].LocationID,
				ToLocationID:     line.LocationID,
				UOM:              line.CanonicalUOM,
				Quantity:         line.CanonicalQty,
				MovementID:       movement.ID,
				RelocatedAt:      movement.CreatedAt,
				AllowShortfall:   overridden,
				PreferMovementID: prefer,
			})
			if err != nil {
				return err
			}
			line.UnitCost, lines[from].UnitCost = res.UnitCost, res.UnitCost
			line.ExtendedCost, lines[from].ExtendedCost = res.ExtendedCost, res.ExtendedCost.Neg()
			relocated[from] = true
			result.Layers = append(result.Layers, res.Layers...)
		}
	}

	carried := make(map[int]ConsumeResult)
	for i := range lines {
		line := &lines[i]
		if !line.CanonicalQty.IsNegative() || relocated[i] {
			continue
		}
		res, err := ConsumeCostLayers(ctx, tx, ConsumeRequest{
			TenantID:         req.TenantID,
			ItemID:           line.ItemID,
			LocationID:       line.LocationID,
			UOM:              line.CanonicalUOM,
			Quantity:         line.CanonicalQty.Neg(),
			MovementID:       movement.ID,
			MovementLineID:   line.ID,
			Type:             string(req.Type),
			ConsumedAt:       movement.CreatedAt,
			AllowShortfall:   overridden,
			PreferMovementID: prefer,
		})
		if err != nil {
			return err
		}
		line.UnitCost = res.UnitCost
		line.ExtendedCost = res.ExtendedCost.Neg()
		carried[i] = res
		result.Consumptions = append(result.Consumptions, res.Consumptions...)
	}
	if layering == LayerRelocate {
		return nil
	}

	for i := range lines {
		line := &lines[i]
		if line.CanonicalQty.IsNegative() {
			continue
		}
		base := NewLayer{
			TenantID:   req.TenantID,
			ItemID:     line.ItemID,
			LocationID: line.LocationID,
			UOM:        line.CanonicalUOM,
			SourceType: req.SourceType,
			SourceID:   req.SourceID,
			MovementID: movement.ID,
			CreatedAt:  movement.CreatedAt,
		}
		if layering == LayerCarry {
			res := carried[*req.Lines[i].CarryFrom]
			for _, slice := range res.Slices {
				in := base
				in.Quantity, in.UnitCost = slice.Quantity, slice.UnitCost
				layer, err := CreateCostLayer(ctx, tx, in)
				if err != nil {
					return err
				}
				result.Layers = append(result.Layers, layer)
			}
			if res.Uncovered.IsPositive() {
				in := base
				in.Quantity, in.UnitCost = res.Uncovered, decimal.Zero
				layer, err := CreateCostLayer(ctx, tx, in)
				if err != nil {
					return err
				}
				result.Layers = append(result.Layers, layer)
			}
			line.UnitCost = res.UnitCost
			line.ExtendedCost = res.ExtendedCost
			continue
		}
		cost, err := p.inboundCost(ctx, tx, req.TenantID, req.Lines[i], line)
		if err != nil {
			return err
		}
		in := base
		in.Quantity, in.UnitCost = line.CanonicalQty, cost
		layer, err := CreateCostLayer(ctx, tx, in)
		if err != nil {
			return err
		}
		line.UnitCost = cost
		line.ExtendedCost = line.CanonicalQty.Mul(cost)
		result.Layers = append(result.Layers, layer)
	}
	return nil
}

// inboundCost returns the canonical unit cost of an increasing line. Without an explicit cost
// the most recent layer cost of the key is used, else zero. Explicit costs are per entered unit.
func (p *Poster) inboundCost(ctx context.Context, tx TxRepository, tenantID uuid.UUID, in LineRequest, line *MovementLine) (decimal.Decimal, error) {
	if in.UnitCost != nil {
		if line.EnteredQty.Equal(line.CanonicalQty) {
			return *in.UnitCost, nil
		}
		return in.UnitCost.Mul(line.EnteredQty.Abs()).DivRound(line.CanonicalQty.Abs(), 6), nil
	}
	cost, ok, err := tx.LatestLayerCost(ctx, tenantID, LockKey{ItemID: line.ItemID, LocationID: line.LocationID})
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	return cost, nil
}

func (p *Poster) audit(ctx context.Context, tx TxRepository, req PostingRequest, movement Movement, lineCount int, override *OverrideMetadata, now time.Time) error {
	actorType := req.Actor.Type
	if actorType == "" {
		actorType = shared.ActorSystem
	}
	meta := map[string]any{
		"number":     movement.Number,
		"type":       string(movement.Type),
		"line_count": lineCount,
	}
	if movement.SourceType != "" {
		meta["source_type"] = movement.SourceType
	}
	if movement.SourceID != nil {
		meta["source_id"] = movement.SourceID.String()
	}
	if err := tx.RecordAudit(ctx, shared.AuditLog{
		TenantID:   req.TenantID,
		ActorType:  actorType,
		ActorID:    req.Actor.ID,
		Action:     shared.AuditMovementPosted,
		Entity:     "inventory_movement",
		EntityID:   movement.ID.String(),
		Meta:       meta,
		OccurredAt: now,
	}); err != nil {
		return fmt.Errorf("inventory: audit movement: %w", err)
	}
	if override == nil {
		return nil
	}
	if err := tx.RecordAudit(ctx, shared.AuditLog{
		TenantID:  req.TenantID,
		ActorType: actorType,
		ActorID:   req.Actor.ID,
		Action:    shared.AuditNegativeOverride,
		Entity:    "inventory_movement",
		EntityID:  movement.ID.String(),
		Meta: map[string]any{
			"reason":     override.Reason,
			"reference":  override.Reference,
			"shortfalls": override.Shortfalls,
		},
		OccurredAt: now,
	}); err != nil {
		return fmt.Errorf("inventory: audit override: %w", err)
	}
	return nil
}
