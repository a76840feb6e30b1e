package inventorytest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Tx implements inventory.TxRepository over the store state. It is only valid inside Run.
type Tx struct {
	s *Store
}

var _ inventory.TxRepository = (*Tx)(nil)

func (t *Tx) LockKeys(ctx context.Context, tenantID uuid.UUID, keys []inventory.LockKey) error {
	return nil
}

func (t *Tx) GetBalanceForUpdate(ctx context.Context, tenantID uuid.UUID, key inventory.BalanceKey) (inventory.Balance, error) {
	b, ok := t.s.st.balances[balanceKey{tenantID, key}]
	if !ok {
		return inventory.Balance{TenantID: tenantID, ItemID: key.ItemID, LocationID: key.LocationID, UOM: key.UOM}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

func (t *Tx) ApplyBalanceDelta(ctx context.Context, tenantID uuid.UUID, key inventory.BalanceKey, delta decimal.Decimal, at time.Time) (inventory.Balance, error) {
	k := balanceKey{tenantID, key}
	b := t.s.st.balances[k]
	b.TenantID, b.ItemID, b.LocationID, b.UOM = tenantID, key.ItemID, key.LocationID, key.UOM
	b.OnHand = b.OnHand.Add(delta)
	b.UpdatedAt = at
	t.s.st.balances[k] = b
	return b, nil
}

func (t *Tx) SetBalanceOnHand(ctx context.Context, tenantID uuid.UUID, key inventory.BalanceKey, onHand decimal.Decimal, at time.Time) error {
	k := balanceKey{tenantID, key}
	b := t.s.st.balances[k]
	b.TenantID, b.ItemID, b.LocationID, b.UOM = tenantID, key.ItemID, key.LocationID, key.UOM
	b.OnHand = onHand
	b.UpdatedAt = at
	t.s.st.balances[k] = b
	return nil
}

func (t *Tx) LedgerOnHand(ctx context.Context, tenantID uuid.UUID, key inventory.BalanceKey, asOf *time.Time) (decimal.Decimal, error) {
	item, loc := key.ItemID, key.LocationID
	for _, total := range t.s.ledgerTotals(inventory.BalanceFilter{TenantID: tenantID, ItemID: &item, LocationID: &loc, AsOf: asOf}) {
		if total.UOM == key.UOM {
			return total.OnHand, nil
		}
	}
	return decimal.Zero, nil
}

func (t *Tx) LatestLayerCost(ctx context.Context, tenantID uuid.UUID, key inventory.LockKey) (decimal.Decimal, bool, error) {
	var latest *inventory.CostLayer
	for _, l := range t.s.st.layers {
		if l.TenantID != tenantID || l.ItemID != key.ItemID || l.LocationID != key.LocationID {
			continue
		}
		if latest == nil || l.CreatedAt.After(latest.CreatedAt) || (l.CreatedAt.Equal(latest.CreatedAt) && l.Seq > latest.Seq) {
			cp := l
			latest = &cp
		}
	}
	if latest == nil {
		return decimal.Zero, false, nil
	}
	return latest.UnitCost, true, nil
}

func (t *Tx) ListOpenCostLayersForUpdate(ctx context.Context, tenantID uuid.UUID, key inventory.LockKey) ([]inventory.CostLayer, error) {
	var out []inventory.CostLayer
	for _, l := range t.s.st.layers {
		if l.TenantID == tenantID && l.ItemID == key.ItemID && l.LocationID == key.LocationID && l.RemainingQty.IsPositive() {
			out = append(out, l)
		}
	}
	inventory.SortFIFO(out)
	return out, nil
}

func (t *Tx) InsertCostLayer(ctx context.Context, layer inventory.CostLayer) (inventory.CostLayer, error) {
	t.s.st.layerSeq++
	layer.Seq = t.s.st.layerSeq
	t.s.st.layers[layer.ID] = layer
	return layer, nil
}

func (t *Tx) UpdateCostLayerRemaining(ctx context.Context, tenantID, layerID uuid.UUID, remaining decimal.Decimal) error {
	l, ok := t.s.st.layers[layerID]
	if !ok || l.TenantID != tenantID {
		return shared.ErrNotFound.With("cost_layer_id", layerID)
	}
	if remaining.IsNegative() || remaining.GreaterThan(l.OriginalQty) {
		return shared.ErrValidation.With("cost_layer_id", layerID).With("remaining", remaining.String())
	}
	l.RemainingQty = remaining
	t.s.st.layers[layerID] = l
	return nil
}

func (t *Tx) InsertConsumption(ctx context.Context, c inventory.CostLayerConsumption) error {
	t.s.st.consumptions = append(t.s.st.consumptions, c)
	return nil
}

func (t *Tx) InsertMovement(ctx context.Context, m inventory.Movement) error {
	if m.SourceID != nil && m.Status == inventory.MovementPosted {
		for _, other := range t.s.st.movements {
			if other.TenantID == m.TenantID && other.Status == inventory.MovementPosted && other.SourceType == m.SourceType &&
				other.SourceID != nil && *other.SourceID == *m.SourceID && other.Type == m.Type {
				return shared.ErrDocumentState.With("reason", "movement already posted for source")
			}
		}
	}
	m.Lines = nil
	t.s.st.movements[m.ID] = m
	t.s.st.order = append(t.s.st.order, m.ID)
	return nil
}

func (t *Tx) InsertMovementLines(ctx context.Context, tenantID uuid.UUID, lines []inventory.MovementLine) error {
	if len(lines) == 0 {
		return nil
	}
	m, ok := t.s.st.movements[lines[0].MovementID]
	if !ok || m.TenantID != tenantID {
		return inventory.ErrMovementNotFound
	}
	m.Lines = append(append([]inventory.MovementLine(nil), m.Lines...), lines...)
	t.s.st.movements[m.ID] = m
	return nil
}

func (t *Tx) GetMovementForUpdate(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return t.s.movement(tenantID, id)
}

func (t *Tx) FindPostedMovementBySource(ctx context.Context, tenantID uuid.UUID, sourceType string, sourceID uuid.UUID, movementType inventory.MovementType) (inventory.Movement, error) {
	for i := len(t.s.st.order) - 1; i >= 0; i-- {
		m := t.s.st.movements[t.s.st.order[i]]
		if m.TenantID == tenantID && m.Status == inventory.MovementPosted && m.SourceType == sourceType &&
			m.SourceID != nil && *m.SourceID == sourceID && m.Type == movementType {
			return m, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound.With("source_id", sourceID)
}

func (t *Tx) UpdateMovementStatus(ctx context.Context, tenantID, id uuid.UUID, status inventory.MovementStatus) error {
	m, err := t.s.movement(tenantID, id)
	if err != nil {
		return err
	}
	m.Status = status
	t.s.st.movements[id] = m
	return nil
}

func (t *Tx) NextDocumentNumber(ctx context.Context, tenantID uuid.UUID, prefix string) (string, error) {
	k := tenantID.String() + "/" + prefix
	t.s.st.sequences[k]++
	return inventory.FormatDocumentNumber(prefix, t.s.st.sequences[k]), nil
}

func (t *Tx) EnqueueMovementPosted(ctx context.Context, tenantID, movementID uuid.UUID) error {
	if err := t.s.FailNext; err != nil {
		t.s.FailNext = nil
		return err
	}
	t.s.st.outbox = append(t.s.st.outbox, OutboxEvent{TenantID: tenantID, MovementID: movementID})
	return nil
}

func (t *Tx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	t.s.st.audit = append(t.s.st.audit, log)
	return nil
}

func (t *Tx) CompleteIdempotency(ctx context.Context, tenantID uuid.UUID, key string, status shared.IdempotencyStatus, responseRef string) error {
	if key == "" {
		return nil
	}
	k := idemKey{tenantID, key}
	rec, ok := t.s.st.idempotency[k]
	if !ok || rec.Status != shared.IdempotencyInProgress {
		return shared.ErrIdempotencyNotClaimed.With("key", key)
	}
	rec.Status = status
	rec.ResponseRef = responseRef
	rec.UpdatedAt = t.s.Now()
	t.s.st.idempotency[k] = rec
	return nil
}

func (t *Tx) InsertRepairAudit(ctx context.Context, entry inventory.RepairAudit) error {
	t.s.st.repairs = append(t.s.st.repairs, entry)
	return nil
}
