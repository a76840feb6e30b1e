package receiving

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs/sourcedocstest"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

type memoryRepo struct {
	store *inventorytest.Store
	docs  *sourcedocstest.Memory
}

type memoryTx struct {
	*inventorytest.Tx
	*sourcedocstest.Memory
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.Run(ctx, r.docs, func(tx *inventorytest.Tx) error {
		return fn(ctx, memoryTx{Tx: tx, Memory: r.docs})
	})
}

func (r *memoryRepo) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error) {
	return r.store.GetMovement(ctx, tenantID, id)
}

type fixture struct {
	repo      *memoryRepo
	svc       *Service
	tenant    uuid.UUID
	item      uuid.UUID
	warehouse uuid.UUID
	qa        uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      &memoryRepo{store: inventorytest.NewStore(), docs: sourcedocstest.NewMemory()},
		tenant:    uuid.New(),
		item:      uuid.New(),
		warehouse: uuid.New(),
		qa:        uuid.New(),
	}
	catalog := inventorytest.NewCatalog()
	catalog.AddItem(f.item, "EA", uom.DimensionCount, uom.Conversion{FromUOM: "CASE", ToUOM: "EA", Factor: decimal.NewFromInt(12)})
	poster := inventory.NewPoster(uom.NewService(catalog), inventory.PosterConfig{})
	f.svc = NewService(f.repo, poster, f.repo.store, nil)
	f.repo.docs.SetRole(f.tenant, f.warehouse, sourcedocs.RoleQA, f.qa)
	return f
}

func (f *fixture) addLine(location *uuid.UUID, status sourcedocs.ReceiptStatus) uuid.UUID {
	line := sourcedocs.ReceiptLine{
		ID:            uuid.New(),
		TenantID:      f.tenant,
		ReceiptID:     uuid.New(),
		ReceiptStatus: status,
		WarehouseID:   f.warehouse,
		ItemID:        f.item,
		LocationID:    location,
		Quantity:      decimal.NewFromInt(5),
		UOM:           "CASE",
		UnitCost:      decimal.NewFromInt(24),
	}
	f.repo.docs.AddReceiptLine(line)
	return line.ID
}

func TestPostReceiptIntoQALocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lineID := f.addLine(nil, sourcedocs.ReceiptReceived)

	res, err := f.svc.PostReceipt(ctx, PostReceiptRequest{TenantID: f.tenant, ReceiptLineID: lineID, IdempotencyKey: "grn-1"})
	require.NoError(t, err)
	require.Equal(t, inventory.MovementReceive, res.Movement.Type)
	line := res.Movement.Lines[0]
	require.Equal(t, f.qa, line.LocationID)
	require.True(t, line.CanonicalQty.Equal(decimal.NewFromInt(60)))
	require.True(t, line.UnitCost.Equal(decimal.NewFromInt(2)))
	require.Len(t, res.Layers, 1)

	stored := f.repo.docs.ReceiptLine(lineID)
	require.Equal(t, res.Movement.ID, *stored.MovementID)
	require.Equal(t, f.qa, *stored.LocationID)

	again, err := f.svc.PostReceipt(ctx, PostReceiptRequest{TenantID: f.tenant, ReceiptLineID: lineID})
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, res.Movement.ID, again.Movement.ID)
	require.Len(t, f.repo.store.Movements(f.tenant), 1)
}

func TestPostReceiptRejectsVoidedReceipt(t *testing.T) {
	f := newFixture(t)
	lineID := f.addLine(nil, sourcedocs.ReceiptVoided)
	_, err := f.svc.PostReceipt(context.Background(), PostReceiptRequest{TenantID: f.tenant, ReceiptLineID: lineID})
	require.ErrorIs(t, err, shared.ErrDocumentState)
	require.Empty(t, f.repo.store.Movements(f.tenant))
}

func TestPostReceiptMissingRole(t *testing.T) {
	f := newFixture(t)
	f.warehouse = uuid.New()
	lineID := f.addLine(nil, sourcedocs.ReceiptReceived)
	_, err := f.svc.PostReceipt(context.Background(), PostReceiptRequest{TenantID: f.tenant, ReceiptLineID: lineID})
	require.ErrorIs(t, err, sourcedocs.ErrLocationRoleMissing)
	require.Nil(t, f.repo.docs.ReceiptLine(lineID).MovementID)
}

func TestPostReceiptHandler(t *testing.T) {
	f := newFixture(t)
	dock := uuid.New()
	lineID := f.addLine(&dock, sourcedocs.ReceiptReceived)

	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/receipt-lines/"+lineID.String()+"/post", nil)
	ctx := shared.ContextWithTenant(req.Context(), f.tenant)
	ctx = shared.ContextWithActor(ctx, shared.Actor{ID: "clerk", Permissions: []string{shared.PermInventoryPost}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, f.repo.store.OnHand(f.tenant, inventory.BalanceKey{ItemID: f.item, LocationID: dock, UOM: "EA"}).Equal(decimal.NewFromInt(60)))

	forbidden := httptest.NewRequest(http.MethodPost, "/receipt-lines/"+lineID.String()+"/post", nil)
	ctx = shared.ContextWithTenant(forbidden.Context(), f.tenant)
	ctx = shared.ContextWithActor(ctx, shared.Actor{ID: "viewer"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, forbidden.WithContext(ctx))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
