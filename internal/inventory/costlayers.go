package inventory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LayerStore is the transactional subset the cost layer operations need. The caller must hold
// the (item, location) lock for the whole transaction.
type LayerStore interface {
	ListOpenCostLayersForUpdate(ctx context.Context, tenantID uuid.UUID, key LockKey) ([]CostLayer, error)
	InsertCostLayer(ctx context.Context, layer CostLayer) (CostLayer, error)
	UpdateCostLayerRemaining(ctx context.Context, tenantID, layerID uuid.UUID, remaining decimal.Decimal) error
	InsertConsumption(ctx context.Context, consumption CostLayerConsumption) error
}

// NewLayer describes a cost layer to append.
type NewLayer struct {
	TenantID   uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	UOM        string
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	SourceType string
	SourceID   *uuid.UUID
	MovementID uuid.UUID
	CreatedAt  time.Time
}

// ConsumeRequest describes an outbound quantity to take from FIFO layers.
type ConsumeRequest struct {
	TenantID       uuid.UUID
	ItemID         uuid.UUID
	LocationID     uuid.UUID
	UOM            string
	Quantity       decimal.Decimal
	MovementID     uuid.UUID
	MovementLineID uuid.UUID
	Type           string
	ConsumedAt     time.Time
	// AllowShortfall is set only after a negative-stock override was cleared; the uncovered
	// quantity is then costed at zero instead of failing.
	AllowShortfall bool
	// PreferMovementID moves the layers created by that movement ahead of the FIFO order.
	PreferMovementID uuid.UUID
}

// LayerSlice is the part of one layer taken by a consumption.
type LayerSlice struct {
	LayerID  uuid.UUID
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// ConsumeResult reports what a consumption took.
type ConsumeResult struct {
	Slices       []LayerSlice
	Consumptions []CostLayerConsumption
	Covered      decimal.Decimal
	Uncovered    decimal.Decimal
	UnitCost     decimal.Decimal
	ExtendedCost decimal.Decimal
}

// RelocateRequest describes a quantity whose layers move between two locations of one item.
type RelocateRequest struct {
	TenantID       uuid.UUID
	ItemID         uuid.UUID
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
	UOM            string
	Quantity       decimal.Decimal
	// MovementID is stamped on the layers created at the destination.
	MovementID       uuid.UUID
	RelocatedAt      time.Time
	AllowShortfall   bool
	PreferMovementID uuid.UUID
}

// RelocateResult reports the layers a relocation created at the destination.
type RelocateResult struct {
	Layers       []CostLayer
	Covered      decimal.Decimal
	Uncovered    decimal.Decimal
	UnitCost     decimal.Decimal
	ExtendedCost decimal.Decimal
}

// CreateCostLayer appends a new layer with remaining equal to its quantity.
func CreateCostLayer(ctx context.Context, store LayerStore, in NewLayer) (CostLayer, error) {
	if !in.Quantity.IsPositive() {
		return CostLayer{}, ErrInvalidLayerQuantity.With("quantity", in.Quantity.String())
	}
	if in.UnitCost.IsNegative() {
		return CostLayer{}, ErrInvalidUnitCost.With("unit_cost", in.UnitCost.String())
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return store.InsertCostLayer(ctx, CostLayer{
		ID:           uuid.New(),
		TenantID:     in.TenantID,
		ItemID:       in.ItemID,
		LocationID:   in.LocationID,
		UOM:          in.UOM,
		OriginalQty:  in.Quantity,
		RemainingQty: in.Quantity,
		UnitCost:     in.UnitCost,
		CreatedAt:    createdAt,
		SourceType:   in.SourceType,
		SourceID:     in.SourceID,
		MovementID:   in.MovementID,
	})
}

// ConsumeCostLayers walks the open layers of the key in FIFO order and deducts the requested
// quantity, writing one consumption row per layer touched.
func ConsumeCostLayers(ctx context.Context, store LayerStore, req ConsumeRequest) (ConsumeResult, error) {
	if !req.Quantity.IsPositive() {
		return ConsumeResult{}, ErrInvalidLayerQuantity.With("quantity", req.Quantity.String())
	}
	key := LockKey{ItemID: req.ItemID, LocationID: req.LocationID}
	layers, err := store.ListOpenCostLayersForUpdate(ctx, req.TenantID, key)
	if err != nil {
		return ConsumeResult{}, err
	}
	SortFIFO(layers)
	if req.PreferMovementID != uuid.Nil {
		PreferMovement(layers, req.PreferMovementID)
	}

	planned, uncovered := PlanConsumption(layers, req.Quantity)
	if uncovered.IsPositive() && !req.AllowShortfall {
		return ConsumeResult{}, ErrInsufficientCostLayers.
			With("item_id", req.ItemID).
			With("location_id", req.LocationID).
			With("requested", req.Quantity.String()).
			With("available", req.Quantity.Sub(uncovered).String())
	}

	consumedAt := req.ConsumedAt
	if consumedAt.IsZero() {
		consumedAt = time.Now().UTC()
	}
	remaining := make(map[uuid.UUID]decimal.Decimal, len(layers))
	for _, layer := range layers {
		remaining[layer.ID] = layer.RemainingQty
	}

	result := ConsumeResult{Slices: planned, Uncovered: uncovered}
	for _, slice := range planned {
		left := remaining[slice.LayerID].Sub(slice.Quantity)
		if err := store.UpdateCostLayerRemaining(ctx, req.TenantID, slice.LayerID, left); err != nil {
			return ConsumeResult{}, err
		}
		consumption := CostLayerConsumption{
			ID:             uuid.New(),
			TenantID:       req.TenantID,
			CostLayerID:    slice.LayerID,
			MovementID:     req.MovementID,
			MovementLineID: req.MovementLineID,
			Type:           req.Type,
			Quantity:       slice.Quantity,
			UnitCost:       slice.UnitCost,
			ConsumedAt:     consumedAt,
		}
		if err := store.InsertConsumption(ctx, consumption); err != nil {
			return ConsumeResult{}, err
		}
		result.Consumptions = append(result.Consumptions, consumption)
		result.Covered = result.Covered.Add(slice.Quantity)
		result.ExtendedCost = result.ExtendedCost.Add(slice.Quantity.Mul(slice.UnitCost))
	}
	if result.Covered.IsPositive() {
		result.UnitCost = result.ExtendedCost.DivRound(result.Covered, 6)
	}
	return result, nil
}

// RelocateCostLayers takes the requested quantity from the origin's open layers in FIFO order
// and recreates each slice at the destination with the same unit cost, creation time and source.
// No consumption rows are written since relocation neither gains nor loses value. An uncovered
// quantity is only tolerated with AllowShortfall and lands at the destination at zero cost.
func RelocateCostLayers(ctx context.Context, store LayerStore, req RelocateRequest) (RelocateResult, error) {
	if !req.Quantity.IsPositive() {
		return RelocateResult{}, ErrInvalidLayerQuantity.With("quantity", req.Quantity.String())
	}
	layers, err := store.ListOpenCostLayersForUpdate(ctx, req.TenantID, LockKey{ItemID: req.ItemID, LocationID: req.FromLocationID})
	if err != nil {
		return RelocateResult{}, err
	}
	SortFIFO(layers)
	if req.PreferMovementID != uuid.Nil {
		PreferMovement(layers, req.PreferMovementID)
	}
	planned, uncovered := PlanConsumption(layers, req.Quantity)
	if uncovered.IsPositive() && !req.AllowShortfall {
		return RelocateResult{}, ErrInsufficientCostLayers.
			With("item_id", req.ItemID).
			With("location_id", req.FromLocationID).
			With("requested", req.Quantity.String()).
			With("available", req.Quantity.Sub(uncovered).String())
	}

	byID := make(map[uuid.UUID]CostLayer, len(layers))
	for _, layer := range layers {
		byID[layer.ID] = layer
	}
	result := RelocateResult{Uncovered: uncovered}
	for _, slice := range planned {
		origin := byID[slice.LayerID]
		if err := store.UpdateCostLayerRemaining(ctx, req.TenantID, origin.ID, origin.RemainingQty.Sub(slice.Quantity)); err != nil {
			return RelocateResult{}, err
		}
		moved, err := CreateCostLayer(ctx, store, NewLayer{
			TenantID:   req.TenantID,
			ItemID:     req.ItemID,
			LocationID: req.ToLocationID,
			UOM:        req.UOM,
			Quantity:   slice.Quantity,
			UnitCost:   slice.UnitCost,
			SourceType: origin.SourceType,
			SourceID:   origin.SourceID,
			MovementID: req.MovementID,
			CreatedAt:  origin.CreatedAt,
		})
		if err != nil {
			return RelocateResult{}, err
		}
		result.Layers = append(result.Layers, moved)
		result.Covered = result.Covered.Add(slice.Quantity)
		result.ExtendedCost = result.ExtendedCost.Add(slice.Quantity.Mul(slice.UnitCost))
	}
	if uncovered.IsPositive() {
		zero, err := CreateCostLayer(ctx, store, NewLayer{
			TenantID:   req.TenantID,
			ItemID:     req.ItemID,
			LocationID: req.ToLocationID,
			UOM:        req.UOM,
			Quantity:   uncovered,
			MovementID: req.MovementID,
			CreatedAt:  req.RelocatedAt,
		})
		if err != nil {
			return RelocateResult{}, err
		}
		result.Layers = append(result.Layers, zero)
	}
	if result.Covered.IsPositive() {
		result.UnitCost = result.ExtendedCost.DivRound(result.Covered, 6)
	}
	return result, nil
}

// SortFIFO orders layers by creation time, then insertion sequence.
func SortFIFO(layers []CostLayer) {
	slices.SortStableFunc(layers, func(a, b CostLayer) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

// PreferMovement stably moves the layers created by movementID to the front.
func PreferMovement(layers []CostLayer, movementID uuid.UUID) {
	slices.SortStableFunc(layers, func(a, b CostLayer) int {
		ap, bp := a.MovementID == movementID, b.MovementID == movementID
		switch {
		case ap && !bp:
			return -1
		case bp && !ap:
			return 1
		}
		return 0
	})
}

// PlanConsumption computes the FIFO slices for qty over layers that are already ordered.
// It returns the quantity left uncovered.
func PlanConsumption(layers []CostLayer, qty decimal.Decimal) ([]LayerSlice, decimal.Decimal) {
	need := qty
	var out []LayerSlice
	for _, layer := range layers {
		if !need.IsPositive() {
			break
		}
		if !layer.RemainingQty.IsPositive() {
			continue
		}
		take := decimal.Min(layer.RemainingQty, need)
		out = append(out, LayerSlice{LayerID: layer.ID, Quantity: take, UnitCost: layer.UnitCost})
		need = need.Sub(take)
	}
	return out, need
}
