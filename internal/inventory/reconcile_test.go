package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

func TestLedgerBalanceEquivalence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supervisor := shared.Actor{ID: "sup", Permissions: []string{shared.PermInventoryOverrideNegative}}
	f.receive(t, "12", "1.25")
	f.receive(t, "8", "2")
	_, err := f.issue("5", nil, shared.Actor{})
	require.NoError(t, err)
	_, err = f.issue("30", &inventory.OverrideRequest{Requested: true, Reason: "physical stock found"}, supervisor)
	require.NoError(t, err)
	f.receive(t, "2.5", "3")

	rec := inventory.NewReconciler(f.store, inventory.ReconcilerConfig{}, nil)
	mismatches, err := rec.CompareBalances(ctx, f.tenant, decimal.Zero)
	require.NoError(t, err)
	require.Empty(t, mismatches)

	totals, err := rec.RecomputeFromLedger(ctx, inventory.BalanceFilter{TenantID: f.tenant})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.True(t, totals[0].OnHand.Equal(dec("-12.5")))
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(totals[0].OnHand))
}

func TestCompareAndRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, "10", "1")
	ghost := inventory.BalanceKey{ItemID: uuid.New(), LocationID: f.reject, UOM: "EA"}
	f.store.SetOnHand(f.tenant, f.key(f.sellable), dec("9.5"))
	f.store.SetOnHand(f.tenant, ghost, dec("3"))

	rec := inventory.NewReconciler(f.store, inventory.ReconcilerConfig{}, nil)
	mismatches, err := rec.CompareBalances(ctx, f.tenant, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	byKey := map[inventory.BalanceKey]inventory.Mismatch{}
	for _, m := range mismatches {
		byKey[m.Key()] = m
	}
	require.True(t, byKey[f.key(f.sellable)].Delta.Equal(dec("-0.5")))
	require.True(t, byKey[ghost].LedgerMissing)

	_, err = rec.RepairBalancesFromLedger(ctx, inventory.RepairRequest{TenantID: f.tenant, Mismatches: mismatches, MaxRows: 1})
	require.ErrorIs(t, err, inventory.ErrRepairThresholdExceeded)
	require.Empty(t, f.store.Repairs())

	runID := uuid.New()
	report, err := rec.RepairBalancesFromLedger(ctx, inventory.RepairRequest{
		TenantID:   f.tenant,
		Mismatches: mismatches,
		RunID:      runID,
		Actor:      shared.SystemActor("reconciler"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Repaired)
	require.True(t, f.store.OnHand(f.tenant, f.key(f.sellable)).Equal(dec("10")))
	require.True(t, f.store.OnHand(f.tenant, ghost).IsZero())

	repairs := f.store.Repairs()
	require.Len(t, repairs, 2)
	for _, r := range repairs {
		require.Equal(t, runID, r.RunID)
		require.Equal(t, "reconciler", r.ActorID)
	}
	require.Len(t, f.store.AuditLogs(shared.AuditBalanceRepaired), 2)

	again, err := rec.CompareBalances(ctx, f.tenant, decimal.Zero)
	require.NoError(t, err)
	require.Empty(t, again)

	report, err = rec.RepairBalancesFromLedger(ctx, inventory.RepairRequest{TenantID: f.tenant, Mismatches: mismatches})
	require.NoError(t, err)
	require.Equal(t, 2, report.Skipped)
}

func TestCompareTotalsTolerance(t *testing.T) {
	item, loc := uuid.New(), uuid.New()
	balances := []inventory.Balance{{ItemID: item, LocationID: loc, UOM: "KG", OnHand: dec("1.0000005")}}
	totals := []inventory.LedgerTotal{{ItemID: item, LocationID: loc, UOM: "KG", OnHand: dec("1")}}
	require.Empty(t, inventory.CompareTotals(balances, totals, inventory.DefaultEpsilon))
	require.Len(t, inventory.CompareTotals(balances, totals, dec("0.0000001")), 1)
}

func TestGuardReadsLedgerWhenConfigured(t *testing.T) {
	f := newFixtureWith(t, inventory.PosterConfig{ValidateFromLedger: true})
	f.receive(t, "10", "1")

	f.store.SetOnHand(f.tenant, f.key(f.sellable), dec("100"))
	_, err := f.issue("20", nil, shared.Actor{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	de, ok := shared.AsError(err)
	require.True(t, ok)
	require.True(t, de.Shortfalls[0].Available.Equal(dec("10")), de.Shortfalls[0].Available.String())

	f.store.SetOnHand(f.tenant, f.key(f.sellable), decimal.Zero)
	res, err := f.issue("4", nil, shared.Actor{})
	require.NoError(t, err)
	require.True(t, res.Movement.Lines[0].ExtendedCost.Equal(dec("-4")))

	cached := newFixture(t)
	cached.receive(t, "10", "1")
	cached.store.SetOnHand(cached.tenant, cached.key(cached.sellable), decimal.Zero)
	_, err = cached.issue("4", nil, shared.Actor{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestRecomputeFromLedgerAsOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 4, d, 12, 0, 0, 0, time.UTC) }
	post := func(qty string, at time.Time) {
		t.Helper()
		typ := inventory.MovementReceive
		if dec(qty).IsNegative() {
			typ = inventory.MovementIssue
		}
		_, err := f.svc.PostMovement(ctx, inventory.PostingRequest{
			TenantID:   f.tenant,
			Type:       typ,
			OccurredAt: at,
			Lines:      []inventory.LineRequest{{ItemID: f.item, LocationID: f.sellable, Quantity: dec(qty), UOM: "EA", UnitCost: decPtr("1")}},
		})
		require.NoError(t, err)
	}
	post("10", day(1))
	post("5", day(3))
	post("-3", day(5))

	rec := inventory.NewReconciler(f.store, inventory.ReconcilerConfig{}, nil)
	for _, tc := range []struct {
		asOf *time.Time
		want string
	}{
		{asOf: ptrTime(day(2)), want: "10"},
		{asOf: ptrTime(day(3)), want: "15"},
		{asOf: ptrTime(day(4)), want: "15"},
		{asOf: nil, want: "12"},
	} {
		totals, err := rec.RecomputeFromLedger(ctx, inventory.BalanceFilter{TenantID: f.tenant, AsOf: tc.asOf})
		require.NoError(t, err)
		require.Len(t, totals, 1)
		require.True(t, totals[0].OnHand.Equal(dec(tc.want)), "as of %v: %s", tc.asOf, totals[0].OnHand)
	}

	totals, err := rec.RecomputeFromLedger(ctx, inventory.BalanceFilter{TenantID: f.tenant, AsOf: ptrTime(day(1).Add(-time.Hour))})
	require.NoError(t, err)
	require.Empty(t, totals)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
