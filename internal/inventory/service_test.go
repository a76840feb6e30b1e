package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

type fixture struct {
	store    *inventorytest.Store
	catalog  *inventorytest.Catalog
	poster   *inventory.Poster
	svc      *inventory.Service
	tenant   uuid.UUID
	item     uuid.UUID
	sellable uuid.UUID
	reject   uuid.UUID
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, inventory.PosterConfig{})
}

func newFixtureWith(t *testing.T, cfg inventory.PosterConfig) *fixture {
	t.Helper()
	f := &fixture{
		store:    inventorytest.NewStore(),
		tenant:   uuid.New(),
		item:     uuid.New(),
		sellable: uuid.New(),
		reject:   uuid.New(),
		clock:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	f.catalog = inventorytest.NewCatalog()
	f.catalog.AddItem(f.item, "EA", uom.DimensionCount, uom.Conversion{FromUOM: "CASE", ToUOM: "EA", Factor: decimal.NewFromInt(12)})
	cfg.Clock = f.tick
	f.poster = inventory.NewPoster(uom.NewService(f.catalog), cfg)
	f.svc = inventory.NewService(f.store, f.poster, f.store, nil, nil)
	return f
}

func (f *fixture) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func remainingQty(layers []inventory.CostLayer) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range layers {
		sum = sum.Add(l.RemainingQty)
	}
	return sum
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (f *fixture) key(location uuid.UUID) inventory.BalanceKey {
	return inventory.BalanceKey{ItemID: f.item, LocationID: location, UOM: "EA"}
}

func (f *fixture) receive(t *testing.T, qty, cost string) inventory.PostingResult {
	t.Helper()
	res, err := f.svc.PostMovement(context.Background(), inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementReceive,
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec(qty), UOM: "EA", UnitCost: decPtr(cost)}},
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) issue(qty string, override *inventory.OverrideRequest, actor shared.Actor) (inventory.PostingResult, error) {
	return f.svc.PostMovement(context.Background(), inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementIssue,
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec(qty).Neg(), UOM: "EA"}},
		Override: override,
		Actor:    actor,
	})
}

func TestFIFOConsumesOldestLayersFirst(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "10", "1")
	f.receive(t, "20", "2")
	f.receive(t, "30", "3")

	res, err := f.issue("20", nil, shared.Actor{})
	require.NoError(t, err)

	layers := f.store.Layers(f.tenant, f.item, f.sellable)
	require.Len(t, layers, 3)
	require.True(t, layers[0].RemainingQty.IsZero())
	require.True(t, layers[1].RemainingQty.Equal(dec("10")))
	require.True(t, layers[2].RemainingQty.Equal(dec("30")))

	require.Len(t, res.Consumptions, 2)
	line := res.Movement.Lines[0]
	require.True(t, line.UnitCost.Equal(dec("1.5")), line.UnitCost.String())
	require.True(t, line.ExtendedCost.Equal(dec("-30")), line.ExtendedCost.String())
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("40")))
}

func TestNoSilentNegativeStock(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "3", "5")
	before := f.store.Movements(f.tenant)

	_, err := f.issue("5", nil, shared.Actor{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	de, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, shared.KindInsufficientResource, de.Kind)
	require.Len(t, de.Shortfalls, 1)
	require.True(t, de.Shortfalls[0].Shortfall.Equal(dec("2")))

	require.Len(t, f.store.Movements(f.tenant), len(before))
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("3")))
	require.True(t, f.store.Layers(f.tenant, f.item, f.sellable)[0].RemainingQty.Equal(dec("3")))
	require.Empty(t, f.store.Consumptions())
}

func TestNegativeOverrideRules(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "3", "5")
	override := &inventory.OverrideRequest{Requested: true}

	_, err := f.issue("5", override, shared.Actor{ID: "u1"})
	require.ErrorIs(t, err, inventory.ErrOverrideRequiresReason)

	override.Reason = "cycle count pending"
	_, err = f.issue("5", override, shared.Actor{ID: "u1"})
	require.ErrorIs(t, err, inventory.ErrOverrideNotAllowed)
	require.Equal(t, shared.KindAuthorization, shared.KindOf(err))

	supervisor := shared.Actor{Type: shared.ActorUser, ID: "sup", Permissions: []string{shared.PermInventoryOverrideNegative}}
	res, err := f.issue("5", override, supervisor)
	require.NoError(t, err)
	require.NotNil(t, res.Override)
	require.Equal(t, "cycle count pending", res.Movement.Metadata[inventory.MetaOverrideReason])
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("-2")))

	line := res.Movement.Lines[0]
	require.True(t, line.UnitCost.Equal(dec("5")))
	require.True(t, line.ExtendedCost.Equal(dec("-15")), "uncovered quantity is costed at zero")
}

func TestOverrideAuditPairing(t *testing.T) {
	f := newFixture(t)
	supervisor := shared.Actor{ID: "sup", Permissions: []string{shared.PermInventoryOverrideNegative}}
	override := &inventory.OverrideRequest{Requested: true, Reason: "late receipt", Reference: "GRN-7"}

	f.receive(t, "1", "1")
	_, err := f.issue("1", override, supervisor)
	require.NoError(t, err)
	_, err = f.issue("4", override, supervisor)
	require.NoError(t, err)
	_, err = f.issue("2", override, supervisor)
	require.NoError(t, err)

	overrides := map[string]int{}
	for _, a := range f.store.AuditLogs(shared.AuditNegativeOverride) {
		overrides[a.EntityID]++
	}
	withReason := 0
	for _, m := range f.store.Movements(f.tenant) {
		if _, ok := m.Metadata[inventory.MetaOverrideReason]; ok {
			withReason++
			require.Equal(t, 1, overrides[m.ID.String()], m.Number)
		}
	}
	require.Equal(t, 2, withReason)
	require.Len(t, overrides, 2)
}

func TestIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := inventory.PostingRequest{
		TenantID:       f.tenant,
		Type:           inventory.MovementReceive,
		Lines:          []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("4"), UOM: "EA", UnitCost: decPtr("2")}},
		IdempotencyKey: "rcv-1",
	}
	first, err := f.svc.PostMovement(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.PostMovement(ctx, req)
	require.NoError(t, err)

	require.True(t, second.Replayed)
	require.Equal(t, first.Movement.ID, second.Movement.ID)
	require.Len(t, f.store.Movements(f.tenant), 1)
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("4")))

	rec, ok := f.store.Idempotency(f.tenant, "rcv-1")
	require.True(t, ok)
	require.Equal(t, shared.IdempotencySucceeded, rec.Status)
	require.Equal(t, shared.MovementRef(first.Movement.ID), rec.ResponseRef)

	req.Lines[0].Quantity = dec("5")
	_, err = f.svc.PostMovement(ctx, req)
	require.ErrorIs(t, err, shared.ErrIdempotencyHashMismatch)
}

func TestFailedAttemptReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := inventory.PostingRequest{
		TenantID:       f.tenant,
		Type:           inventory.MovementReceive,
		Lines:          []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("4"), UOM: "EA"}},
		IdempotencyKey: "rcv-2",
	}
	f.store.FailNext = errors.New("connection reset")
	_, err := f.svc.PostMovement(ctx, req)
	require.Error(t, err)
	rec, _ := f.store.Idempotency(f.tenant, "rcv-2")
	require.Equal(t, shared.IdempotencyFailed, rec.Status)
	require.Empty(t, f.store.Movements(f.tenant))
	require.Empty(t, f.store.Outbox())

	res, err := f.svc.PostMovement(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.Len(t, f.store.Outbox(), 1)
}

func TestCaseReceiptAndRelocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rcv, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementReceive,
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("5"), UOM: "case", UnitCost: decPtr("24")}},
	})
	require.NoError(t, err)
	line := rcv.Movement.Lines[0]
	require.Equal(t, "CASE", line.EnteredUOM)
	require.True(t, line.CanonicalQty.Equal(dec("60")))
	require.True(t, line.UnitCost.Equal(dec("2")), line.UnitCost.String())
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("60")))

	from := 0
	move, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementTransfer,
		Layering: inventory.LayerRelocate,
		Lines: []inventory.LineRequest{
			{ItemID: f.item, LocationID: f.sellable, Quantity: dec("-12"), UOM: "EA"},
			{ItemID: f.item, LocationID: f.reject, Quantity: dec("12"), UOM: "EA", CarryFrom: &from},
		},
	})
	require.NoError(t, err)
	require.Len(t, move.Movement.Lines, 2)
	require.Len(t, move.Layers, 1)
	require.Empty(t, move.Consumptions)
	require.Equal(t, rcv.Layers[0].CreatedAt, move.Layers[0].CreatedAt)
	require.True(t, move.Layers[0].UnitCost.Equal(dec("2")))
	require.True(t, move.Movement.Lines[0].ExtendedCost.Equal(dec("-24")))
	require.True(t, move.Movement.Lines[1].ExtendedCost.Equal(dec("24")))
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("48")))
	require.True(t, f.store.OnHand(f.tenant, f.key(f.reject)).Equal(dec("12")))
	require.True(t, remainingQty(f.store.Layers(f.tenant, f.item, f.sellable)).Equal(dec("48")))
	require.True(t, remainingQty(f.store.Layers(f.tenant, f.item, f.reject)).Equal(dec("12")))

	writeOff, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementAdjustment,
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.reject, Quantity: dec("-12"), UOM: "EA", ReasonCode: "SCRAP"}},
	})
	require.NoError(t, err)
	require.True(t, writeOff.Movement.Lines[0].ExtendedCost.Equal(dec("-24")))
	require.True(t, f.store.OnHand(f.tenant, f.key(f.reject)).IsZero())
	require.True(t, remainingQty(f.store.Layers(f.tenant, f.item, f.reject)).IsZero())
	require.True(t, remainingQty(f.store.Layers(f.tenant, f.item, f.sellable)).Equal(dec("48")))
	require.Len(t, f.store.Consumptions(), 1)
}

func TestReverseRelocationMovesLayersBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "10", "2")
	f.receive(t, "10", "4")
	from := 0
	move, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementTransfer,
		Layering: inventory.LayerRelocate,
		Lines: []inventory.LineRequest{
			{ItemID: f.item, LocationID: f.sellable, Quantity: dec("-15"), UOM: "EA"},
			{ItemID: f.item, LocationID: f.reject, Quantity: dec("15"), UOM: "EA", CarryFrom: &from},
		},
	})
	require.NoError(t, err)
	require.Len(t, move.Layers, 2)
	require.True(t, move.Movement.Lines[1].ExtendedCost.Equal(dec("40")))

	rev, err := f.svc.ReverseMovement(ctx, inventory.ReverseRequest{TenantID: f.tenant, MovementID: move.Movement.ID, Reason: "wrong bin"})
	require.NoError(t, err)
	require.Equal(t, string(inventory.LayerRelocate), rev.Movement.Metadata[inventory.MetaLayering])
	require.True(t, f.store.OnHand(f.tenant, f.key(f.reject)).IsZero())
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("20")))
	require.True(t, remainingQty(f.store.Layers(f.tenant, f.item, f.reject)).IsZero())
	require.True(t, remainingQty(f.store.Layers(f.tenant, f.item, f.sellable)).Equal(dec("20")))
	require.Empty(t, f.store.Consumptions())

	res, err := f.issue("10", nil, shared.Actor{})
	require.NoError(t, err)
	require.True(t, res.Movement.Lines[0].UnitCost.Equal(dec("2")), res.Movement.Lines[0].UnitCost.String())
}

func TestUnknownLayerPolicyRejected(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "10", "1")
	_, err := f.svc.PostMovement(context.Background(), inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementTransfer,
		Layering: inventory.LayerPolicy("none"),
		Lines: []inventory.LineRequest{
			{ItemID: f.item, LocationID: f.sellable, Quantity: dec("-1"), UOM: "EA"},
			{ItemID: f.item, LocationID: f.reject, Quantity: dec("1"), UOM: "EA"},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.store.Movements(f.tenant), 1)
}

func TestCaseCanonicalItemBalancesExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cased := uuid.New()
	f.catalog.AddItem(cased, "CASE", uom.DimensionCount, uom.Conversion{FromUOM: "CASE", ToUOM: "EA", Factor: decimal.NewFromInt(12)})
	key := inventory.BalanceKey{ItemID: cased, LocationID: f.sellable, UOM: "CASE"}

	rcv, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementReceive,
		Lines:    []inventory.LineRequest{{ItemID: cased, LocationID: f.sellable, Quantity: dec("12"), UOM: "EA", UnitCost: decPtr("1")}},
	})
	require.NoError(t, err)
	require.True(t, rcv.Movement.Lines[0].CanonicalQty.Equal(dec("1")), rcv.Movement.Lines[0].CanonicalQty.String())
	require.True(t, rcv.Movement.Lines[0].UnitCost.Equal(dec("12")))

	_, err = f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementIssue,
		Lines:    []inventory.LineRequest{{ItemID: cased, LocationID: f.sellable, Quantity: dec("-1"), UOM: "CASE"}},
	})
	require.NoError(t, err)
	require.True(t, f.store.OnHand(f.tenant, key).IsZero(), f.store.OnHand(f.tenant, key).String())
	require.True(t, remainingQty(f.store.Layers(f.tenant, cased, f.sellable)).IsZero())

	totals, err := f.store.LedgerTotals(ctx, inventory.BalanceFilter{TenantID: f.tenant, ItemID: &cased})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.True(t, totals[0].OnHand.IsZero(), totals[0].OnHand.String())
}

func TestCarriedTransferMovesLayerCosts(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "10", "2")
	f.receive(t, "10", "4")
	from := 0
	res, err := f.svc.PostMovement(context.Background(), inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementTransfer,
		Layering: inventory.LayerCarry,
		Lines: []inventory.LineRequest{
			{ItemID: f.item, LocationID: f.sellable, Quantity: dec("-15"), UOM: "EA"},
			{ItemID: f.item, LocationID: f.reject, Quantity: dec("15"), UOM: "EA", CarryFrom: &from},
		},
	})
	require.NoError(t, err)
	dest := f.store.Layers(f.tenant, f.item, f.reject)
	require.Len(t, dest, 2)
	require.True(t, dest[0].UnitCost.Equal(dec("2")) && dest[0].OriginalQty.Equal(dec("10")))
	require.True(t, dest[1].UnitCost.Equal(dec("4")) && dest[1].OriginalQty.Equal(dec("5")))
	require.True(t, res.Movement.Lines[0].ExtendedCost.Neg().Equal(res.Movement.Lines[1].ExtendedCost))

	_, err = f.svc.PostMovement(context.Background(), inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementTransfer,
		Layering: inventory.LayerCarry,
		Lines: []inventory.LineRequest{
			{ItemID: f.item, LocationID: f.sellable, Quantity: dec("-1"), UOM: "EA"},
			{ItemID: f.item, LocationID: f.reject, Quantity: dec("2"), UOM: "EA", CarryFrom: &from},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReverseMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "10", "3")
	issue, err := f.issue("4", nil, shared.Actor{})
	require.NoError(t, err)

	rev, err := f.svc.ReverseMovement(ctx, inventory.ReverseRequest{TenantID: f.tenant, MovementID: issue.Movement.ID, Reason: "wrong item"})
	require.NoError(t, err)
	require.Equal(t, issue.Movement.ID, *rev.Movement.ReversalOf)
	require.True(t, rev.Movement.Lines[0].CanonicalQty.Equal(dec("4")))
	require.True(t, rev.Movement.Lines[0].UnitCost.Equal(dec("3")))
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("10")))

	original, err := f.svc.GetMovement(ctx, f.tenant, issue.Movement.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.MovementVoided, original.Status)
	require.Len(t, f.store.AuditLogs(shared.AuditMovementReversed), 1)

	again, err := f.svc.ReverseMovement(ctx, inventory.ReverseRequest{TenantID: f.tenant, MovementID: issue.Movement.ID, Reason: "wrong item"})
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, rev.Movement.ID, again.Movement.ID)

	_, err = f.svc.ReverseMovement(ctx, inventory.ReverseRequest{TenantID: f.tenant, MovementID: rev.Movement.ID, Reason: "undo"})
	require.ErrorIs(t, err, shared.ErrDocumentState)
}

func TestReverseReceiptConsumesItsOwnLayer(t *testing.T) {
	f := newFixture(t)
	f.receive(t, "10", "2")
	second := f.receive(t, "10", "4")

	rev, err := f.svc.ReverseMovement(context.Background(), inventory.ReverseRequest{TenantID: f.tenant, MovementID: second.Movement.ID, Reason: "duplicate receipt"})
	require.NoError(t, err)
	line := rev.Movement.Lines[0]
	require.True(t, line.UnitCost.Equal(dec("4")), line.UnitCost.String())
	require.True(t, line.ExtendedCost.Equal(dec("-40")), line.ExtendedCost.String())

	layers := f.store.Layers(f.tenant, f.item, f.sellable)
	require.Len(t, layers, 2)
	require.True(t, layers[0].UnitCost.Equal(dec("2")) && layers[0].RemainingQty.Equal(dec("10")))
	require.True(t, layers[1].UnitCost.Equal(dec("4")) && layers[1].RemainingQty.IsZero())
	require.Len(t, rev.Consumptions, 1)
	require.Equal(t, layers[1].ID, rev.Consumptions[0].CostLayerID)
}

func TestStaleAttemptCannotCompleteReclaimedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	f.store.Now = func() time.Time { return now }
	f.store.StaleAfter = time.Minute
	req := inventory.PostingRequest{
		TenantID:       f.tenant,
		Type:           inventory.MovementReceive,
		Lines:          []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("4"), UOM: "EA", UnitCost: decPtr("2")}},
		IdempotencyKey: "rcv-slow",
	}
	hash, err := shared.RequestHash(req)
	require.NoError(t, err)
	decision, err := f.store.Begin(ctx, f.tenant, req.IdempotencyKey, hash)
	require.NoError(t, err)
	require.Equal(t, shared.IdempotencyProceed, decision.Outcome)

	now = now.Add(2 * time.Minute)
	retried, err := f.svc.PostMovement(ctx, req)
	require.NoError(t, err)
	require.False(t, retried.Replayed)

	err = f.store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := f.poster.Post(ctx, tx, req)
		return err
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyNotClaimed)

	require.Len(t, f.store.Movements(f.tenant), 1)
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("4")))
	rec, ok := f.store.Idempotency(f.tenant, req.IdempotencyKey)
	require.True(t, ok)
	require.Equal(t, shared.IdempotencySucceeded, rec.Status)
	require.Equal(t, shared.MovementRef(retried.Movement.ID), rec.ResponseRef)
}

func TestSourceDocumentRepostReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	workOrder := uuid.New()
	req := inventory.PostingRequest{
		TenantID:   f.tenant,
		Type:       inventory.MovementProduction,
		SourceType: "work_order",
		SourceID:   &workOrder,
		Lines:      []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("7"), UOM: "EA", UnitCost: decPtr("1")}},
	}
	first, err := f.svc.PostMovement(ctx, req)
	require.NoError(t, err)
	second, err := f.svc.PostMovement(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Movement.ID, second.Movement.ID)
	require.Len(t, f.store.Movements(f.tenant), 1)
	require.Equal(t, "MV-000001", first.Movement.Number)
}

func TestPostingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementReceive,
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: decimal.Zero, UOM: "EA"}},
	})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementReceive,
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("1"), UOM: "KG"}},
	})
	require.ErrorIs(t, err, uom.ErrDimensionMismatch)

	_, err = f.svc.PostMovement(ctx, inventory.PostingRequest{
		TenantID: f.tenant,
		Type:     inventory.MovementType("teleport"),
		Lines:    []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec("1"), UOM: "EA"}},
	})
	require.ErrorIs(t, err, inventory.ErrInvalidMovementType)
	require.Empty(t, f.store.Movements(f.tenant))
}

func TestGetBalanceMissingIsZero(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.GetBalance(context.Background(), f.tenant, f.key(f.reject))
	require.NoError(t, err)
	require.True(t, b.OnHand.IsZero())
}
