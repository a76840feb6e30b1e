// Package inventorytest provides an in-memory inventory store for tests.
package inventorytest

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

type balanceKey struct {
	tenant uuid.UUID
	key    inventory.BalanceKey
}

type idemKey struct {
	tenant uuid.UUID
	key    string
}

type state struct {
	movements    map[uuid.UUID]inventory.Movement
	order        []uuid.UUID
	layers       map[uuid.UUID]inventory.CostLayer
	consumptions []inventory.CostLayerConsumption
	balances     map[balanceKey]inventory.Balance
	audit        []shared.AuditLog
	outbox       []OutboxEvent
	repairs      []inventory.RepairAudit
	sequences    map[string]int64
	idempotency  map[idemKey]shared.IdempotencyRecord
	layerSeq     int64
}

func (s *state) clone() *state {
	return &state{
		movements:    maps.Clone(s.movements),
		order:        append([]uuid.UUID(nil), s.order...),
		layers:       maps.Clone(s.layers),
		consumptions: append([]inventory.CostLayerConsumption(nil), s.consumptions...),
		balances:     maps.Clone(s.balances),
		audit:        append([]shared.AuditLog(nil), s.audit...),
		outbox:       append([]OutboxEvent(nil), s.outbox...),
		repairs:      append([]inventory.RepairAudit(nil), s.repairs...),
		sequences:    maps.Clone(s.sequences),
		idempotency:  maps.Clone(s.idempotency),
		layerSeq:     s.layerSeq,
	}
}

// OutboxEvent is a movement-posted event captured by the store.
type OutboxEvent struct {
	TenantID   uuid.UUID
	MovementID uuid.UUID
}

// Snapshotter lets wrapping fakes roll back their own state with the store.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Store is an in-memory implementation of the inventory repository, transaction and
// idempotency ports. Transactions are serialized and roll back on error.
type Store struct {
	mu         sync.Mutex
	st         *state
	Now        func() time.Time
	StaleAfter time.Duration
	// FailNext, when set, is returned by the next transactional write to simulate a crash.
	FailNext error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		st: &state{
			movements:   map[uuid.UUID]inventory.Movement{},
			layers:      map[uuid.UUID]inventory.CostLayer{},
			balances:    map[balanceKey]inventory.Balance{},
			sequences:   map[string]int64{},
			idempotency: map[idemKey]shared.IdempotencyRecord{},
		},
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.Run(ctx, nil, func(tx *Tx) error { return fn(ctx, tx) })
}

// Run executes fn atomically, restoring the store and extra on error.
func (s *Store) Run(ctx context.Context, extra Snapshotter, fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := s.st.clone()
	var restore func()
	if extra != nil {
		restore = extra.Snapshot()
	}
	if err := fn(&Tx{s: s}); err != nil {
		s.st = saved
		if restore != nil {
			restore()
		}
		return err
	}
	return nil
}

// GetMovement implements inventory.RepositoryPort.
func (s *Store) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movement(tenantID, id)
}

func (s *Store) movement(tenantID, id uuid.UUID) (inventory.Movement, error) {
	m, ok := s.st.movements[id]
	if !ok || m.TenantID != tenantID {
		return inventory.Movement{}, inventory.ErrMovementNotFound.With("movement_id", id)
	}
	return m, nil
}

// GetBalance implements inventory.RepositoryPort.
func (s *Store) GetBalance(ctx context.Context, tenantID uuid.UUID, key inventory.BalanceKey) (inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.balances[balanceKey{tenantID, key}]
	if !ok {
		return inventory.Balance{}, inventory.ErrBalanceNotFound
	}
	return b, nil
}

// ListBalances implements inventory.RepositoryPort.
func (s *Store) ListBalances(ctx context.Context, filter inventory.BalanceFilter) ([]inventory.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Balance
	for k, b := range s.st.balances {
		if k.tenant != filter.TenantID || !matches(filter, k.key.ItemID, k.key.LocationID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// LedgerTotals implements inventory.RepositoryPort.
func (s *Store) LedgerTotals(ctx context.Context, filter inventory.BalanceFilter) ([]inventory.LedgerTotal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerTotals(filter), nil
}

func (s *Store) ledgerTotals(filter inventory.BalanceFilter) []inventory.LedgerTotal {
	sums := map[inventory.BalanceKey]decimal.Decimal{}
	for _, id := range s.st.order {
		m := s.st.movements[id]
		if m.TenantID != filter.TenantID || m.Status == inventory.MovementDraft {
			continue
		}
		if filter.AsOf != nil && m.OccurredAt.After(*filter.AsOf) {
			continue
		}
		for _, l := range m.Lines {
			if !matches(filter, l.ItemID, l.LocationID) {
				continue
			}
			sums[l.Key()] = sums[l.Key()].Add(l.CanonicalQty)
		}
	}
	out := make([]inventory.LedgerTotal, 0, len(sums))
	for k, v := range sums {
		out = append(out, inventory.LedgerTotal{ItemID: k.ItemID, LocationID: k.LocationID, UOM: k.UOM, OnHand: v})
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key(), out[j].Key()) })
	return out
}

// ListTenantIDs lists tenants with movements or balances.
func (s *Store) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	add := func(t uuid.UUID) {
		if !seen[t] {
			seen[t] = true
			ids = append(ids, t)
		}
	}
	for _, id := range s.st.order {
		add(s.st.movements[id].TenantID)
	}
	var rest []uuid.UUID
	for k := range s.st.balances {
		if !seen[k.tenant] {
			rest = append(rest, k.tenant)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].String() < rest[j].String() })
	for _, t := range rest {
		add(t)
	}
	return ids, nil
}

// Begin implements inventory.IdempotencyPort.
func (s *Store) Begin(ctx context.Context, tenantID uuid.UUID, key, requestHash string) (shared.IdempotencyDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	k := idemKey{tenantID, key}
	existing, ok := s.st.idempotency[k]
	if !ok {
		rec := shared.IdempotencyRecord{TenantID: tenantID, Key: key, RequestHash: requestHash, Status: shared.IdempotencyInProgress, CreatedAt: now, UpdatedAt: now}
		s.st.idempotency[k] = rec
		return shared.IdempotencyDecision{Outcome: shared.IdempotencyProceed, Record: rec}, nil
	}
	decision, err := shared.DecideIdempotency(existing, requestHash, now, s.StaleAfter)
	if err != nil {
		return shared.IdempotencyDecision{}, err
	}
	if decision.Reclaimed {
		rec := decision.Record
		rec.Status = shared.IdempotencyInProgress
		rec.ResponseRef = ""
		s.st.idempotency[k] = rec
	}
	return decision, nil
}

// Fail implements inventory.IdempotencyPort.
func (s *Store) Fail(ctx context.Context, tenantID uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idemKey{tenantID, key}
	if rec, ok := s.st.idempotency[k]; ok && rec.Status == shared.IdempotencyInProgress {
		rec.Status = shared.IdempotencyFailed
		rec.UpdatedAt = s.Now()
		s.st.idempotency[k] = rec
	}
	return nil
}

// Idempotency returns the stored record of a key.
func (s *Store) Idempotency(tenantID uuid.UUID, key string) (shared.IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.idempotency[idemKey{tenantID, key}]
	return rec, ok
}

// Movements returns the tenant's movements in insertion order.
func (s *Store) Movements(tenantID uuid.UUID) []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for _, id := range s.st.order {
		if m := s.st.movements[id]; m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out
}

// Layers returns the cost layers of a key in FIFO order.
func (s *Store) Layers(tenantID, itemID, locationID uuid.UUID) []inventory.CostLayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.CostLayer
	for _, l := range s.st.layers {
		if l.TenantID == tenantID && l.ItemID == itemID && l.LocationID == locationID {
			out = append(out, l)
		}
	}
	inventory.SortFIFO(out)
	return out
}

// Consumptions returns every consumption row.
func (s *Store) Consumptions() []inventory.CostLayerConsumption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.CostLayerConsumption(nil), s.st.consumptions...)
}

// OnHand returns the materialized on-hand of a key, zero when absent.
func (s *Store) OnHand(tenantID uuid.UUID, key inventory.BalanceKey) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.balances[balanceKey{tenantID, key}].OnHand
}

// SetOnHand overwrites a balance outside any movement, e.g. to simulate drift.
func (s *Store) SetOnHand(tenantID uuid.UUID, key inventory.BalanceKey, onHand decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.st.balances[balanceKey{tenantID, key}]
	b.TenantID, b.ItemID, b.LocationID, b.UOM = tenantID, key.ItemID, key.LocationID, key.UOM
	b.OnHand = onHand
	s.st.balances[balanceKey{tenantID, key}] = b
}

// AuditLogs returns audit entries with the given action.
func (s *Store) AuditLogs(action string) []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []shared.AuditLog
	for _, a := range s.st.audit {
		if action == "" || a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

// Outbox returns enqueued movement-posted events.
func (s *Store) Outbox() []OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutboxEvent(nil), s.st.outbox...)
}

// Repairs returns balance repair audit rows.
func (s *Store) Repairs() []inventory.RepairAudit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.RepairAudit(nil), s.st.repairs...)
}

func matches(filter inventory.BalanceFilter, itemID, locationID uuid.UUID) bool {
	if filter.ItemID != nil && *filter.ItemID != itemID {
		return false
	}
	if filter.LocationID != nil && *filter.LocationID != locationID {
		return false
	}
	return true
}

func lessKey(a, b inventory.BalanceKey) bool {
	if a.ItemID != b.ItemID {
		return a.ItemID.String() < b.ItemID.String()
	}
	if a.LocationID != b.LocationID {
		return a.LocationID.String() < b.LocationID.String()
	}
	return a.UOM < b.UOM
}
