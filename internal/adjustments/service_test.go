package adjustments

import (
	"context"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

type memoryDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]Adjustment
}

func (m *memoryDocs) Snapshot() func() {
	m.mu.Lock()
	saved := maps.Clone(m.docs)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.docs = saved
		m.mu.Unlock()
	}
}

type memoryRepo struct {
	store *inventorytest.Store
	docs  *memoryDocs
}

type memoryTx struct {
	*inventorytest.Tx
	docs *memoryDocs
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Run(ctx, r.docs, func(tx *inventorytest.Tx) error {
		return fn(ctx, memoryTx{Tx: tx, docs: r.docs})
	})
}

func (r *memoryRepo) GetAdjustment(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error) {
	return r.docs.get(tenantID, id)
}

func (r *memoryRepo) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return r.store.GetMovement(ctx, tenantID, id)
}

func (m *memoryDocs) get(tenantID, id uuid.UUID) (Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.docs[id]
	if !ok || adj.TenantID != tenantID {
		return Adjustment{}, ErrAdjustmentNotFound.With("adjustment_id", id)
	}
	return adj, nil
}

func (m *memoryDocs) update(tenantID, id uuid.UUID, fn func(*Adjustment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.docs[id]
	if !ok || adj.TenantID != tenantID || adj.Status != StatusDraft {
		return ErrAdjustmentNotFound.With("adjustment_id", id)
	}
	fn(&adj)
	m.docs[id] = adj
	return nil
}

func (t memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	t.docs.mu.Lock()
	defer t.docs.mu.Unlock()
	t.docs.docs[adj.ID] = adj
	return nil
}

func (t memoryTx) GetAdjustmentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error) {
	return t.docs.get(tenantID, id)
}

func (t memoryTx) MarkAdjustmentPosted(ctx context.Context, tenantID, id, movementID uuid.UUID, at time.Time) error {
	return t.docs.update(tenantID, id, func(a *Adjustment) {
		a.Status, a.MovementID, a.PostedAt = StatusPosted, &movementID, &at
	})
}

func (t memoryTx) MarkAdjustmentCanceled(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	return t.docs.update(tenantID, id, func(a *Adjustment) {
		a.Status, a.CanceledAt = StatusCanceled, &at
	})
}

type fixture struct {
	repo     *memoryRepo
	svc      *Service
	tenant   uuid.UUID
	item     uuid.UUID
	location uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     &memoryRepo{store: inventorytest.NewStore(), docs: &memoryDocs{docs: map[uuid.UUID]Adjustment{}}},
		tenant:   uuid.New(),
		item:     uuid.New(),
		location: uuid.New(),
	}
	catalog := inventorytest.NewCatalog()
	catalog.AddItem(f.item, "EA", uom.DimensionCount)
	poster := inventory.NewPoster(uom.NewService(catalog), inventory.PosterConfig{})
	f.svc = NewService(f.repo, poster, f.repo.store, nil)
	return f
}

func (f *fixture) create(t *testing.T, qty int64, cost *decimal.Decimal) Adjustment {
	t.Helper()
	adj, err := f.svc.Create(context.Background(), CreateInput{
		TenantID:   f.tenant,
		ReasonCode: "FOUND",
		Lines:      []LineInput{{ItemID: f.item, LocationID: f.location, Quantity: decimal.NewFromInt(qty), UOM: "EA", UnitCost: cost}},
		Actor:      shared.Actor{ID: "clerk"},
	})
	require.NoError(t, err)
	return adj
}

func (f *fixture) onHand() decimal.Decimal {
	return f.repo.store.OnHand(f.tenant, inventory.BalanceKey{ItemID: f.item, LocationID: f.location, UOM: "EA"})
}

func TestCreateAndPostAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cost := decimal.NewFromInt(4)
	adj := f.create(t, 10, &cost)
	require.Equal(t, "ADJ-000001", adj.Number)
	require.Equal(t, StatusDraft, adj.Status)

	res, err := f.svc.Post(ctx, PostRequest{TenantID: f.tenant, AdjustmentID: adj.ID})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.Equal(t, StatusPosted, res.Adjustment.Status)
	require.Equal(t, inventory.MovementAdjustment, res.Movement.Type)
	require.Equal(t, SourceType, res.Movement.SourceType)
	require.Equal(t, "FOUND", res.Movement.Lines[0].ReasonCode)
	require.True(t, f.onHand().Equal(decimal.NewFromInt(10)))

	shrink := f.create(t, -3, nil)
	res, err = f.svc.Post(ctx, PostRequest{TenantID: f.tenant, AdjustmentID: shrink.ID})
	require.NoError(t, err)
	require.True(t, res.Movement.Lines[0].UnitCost.Equal(cost))
	require.True(t, f.onHand().Equal(decimal.NewFromInt(7)))

	again, err := f.svc.Post(ctx, PostRequest{TenantID: f.tenant, AdjustmentID: shrink.ID})
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, res.Movement.ID, again.Movement.ID)
	require.Len(t, f.repo.store.Movements(f.tenant), 2)
}

func TestPostAdjustmentRollsBackOnShortfall(t *testing.T) {
	f := newFixture(t)
	adj := f.create(t, -5, nil)

	_, err := f.svc.Post(context.Background(), PostRequest{TenantID: f.tenant, AdjustmentID: adj.ID})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	stored, err := f.svc.Get(context.Background(), f.tenant, adj.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
	require.Empty(t, f.repo.store.Movements(f.tenant))
}

func TestPostAdjustmentWithOverride(t *testing.T) {
	f := newFixture(t)
	adj := f.create(t, -5, nil)
	actor := shared.Actor{ID: "supervisor", Permissions: []string{shared.PermInventoryOverrideNegative}}

	res, err := f.svc.Post(context.Background(), PostRequest{
		TenantID:     f.tenant,
		AdjustmentID: adj.ID,
		Override:     &inventory.OverrideRequest{Requested: true, Reason: "stock found later"},
		Actor:        actor,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Override)
	require.True(t, f.onHand().Equal(decimal.NewFromInt(-5)))
	require.Len(t, f.repo.store.AuditLogs(shared.AuditNegativeOverride), 1)
}

func TestCancelAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adj := f.create(t, 2, nil)

	canceled, err := f.svc.Cancel(ctx, CancelRequest{TenantID: f.tenant, AdjustmentID: adj.ID, Reason: "duplicate"})
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, canceled.Status)
	require.Len(t, f.repo.store.AuditLogs(shared.AuditDocumentCanceled), 1)

	_, err = f.svc.Cancel(ctx, CancelRequest{TenantID: f.tenant, AdjustmentID: adj.ID})
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, PostRequest{TenantID: f.tenant, AdjustmentID: adj.ID})
	require.ErrorIs(t, err, shared.ErrDocumentState)

	posted := f.create(t, 2, nil)
	_, err = f.svc.Post(ctx, PostRequest{TenantID: f.tenant, AdjustmentID: posted.ID})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, CancelRequest{TenantID: f.tenant, AdjustmentID: posted.ID})
	require.ErrorIs(t, err, shared.ErrDocumentState)
}

func TestCreateAdjustmentValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{TenantID: f.tenant, ReasonCode: "X"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(context.Background(), CreateInput{
		TenantID:   f.tenant,
		ReasonCode: "X",
		Lines:      []LineInput{{ItemID: f.item, LocationID: f.location, UOM: "EA"}},
	})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestAdjustmentHandlerLifecycle(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)
	actor := shared.Actor{ID: "clerk", Permissions: []string{shared.PermInventoryPost, shared.PermInventoryView}}

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		ctx := shared.ContextWithActor(shared.ContextWithTenant(req.Context(), f.tenant), actor)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req.WithContext(ctx))
		return rec
	}

	body := `{"reason_code":"FOUND","lines":[{"item_id":"` + f.item.String() + `","location_id":"` + f.location.String() + `","quantity":"3","uom":"EA"}]}`
	rec := do(http.MethodPost, "/adjustments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adjs := f.repo.docs.docs
	require.Len(t, adjs, 1)
	var id uuid.UUID
	for k := range adjs {
		id = k
	}

	rec = do(http.MethodPost, "/adjustments/"+id.String()+"/post", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, f.onHand().Equal(decimal.NewFromInt(3)))

	rec = do(http.MethodPost, "/adjustments/"+id.String()+"/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(http.MethodGet, "/adjustments/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
