package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory/inventorytest"
	"github.com/odyssey-erp/inventory-ledger/jobs"
)

func driftedReconciler(t *testing.T) (*inventorytest.Store, *ReconcileCLI, uuid.UUID, inventory.BalanceKey) {
	t.Helper()
	store := inventorytest.NewStore()
	tenantID := uuid.New()
	key := inventory.BalanceKey{ItemID: uuid.New(), LocationID: uuid.New(), UOM: "EA"}
	store.SetOnHand(tenantID, key, decimal.NewFromInt(7))
	return store, NewReconcileCLI(inventory.NewReconciler(store, inventory.ReconcilerConfig{}, nil)), tenantID, key
}

func TestCompareCommandJSONReportsMismatch(t *testing.T) {
	_, c, tenantID, key := driftedReconciler(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.CompareCommand(context.Background(), ReconcileOptions{TenantID: tenantID.String(), JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitMismatch, code, stderr.String())

	var summary ReconcileSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Len(t, summary.Mismatches, 1)
	require.Equal(t, key, summary.Mismatches[0].Key())
	require.Nil(t, summary.Repair)
}

func TestRepairCommandRewritesBalances(t *testing.T) {
	store, c, tenantID, key := driftedReconciler(t)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := c.RepairCommand(context.Background(), ReconcileOptions{TenantID: tenantID.String(), Operator: "ops-1", Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitOK, code, stderr.String())
	require.Contains(t, stdout.String(), "1 repaired")
	require.True(t, store.OnHand(tenantID, key).IsZero())
	require.Equal(t, "ops-1", store.Repairs()[0].ActorID)

	stdout.Reset()
	code = c.CompareCommand(context.Background(), ReconcileOptions{TenantID: tenantID.String(), Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitOK, code)
	require.Contains(t, stdout.String(), "balances match the ledger")
}

func TestRepairCommandHonoursMaxRows(t *testing.T) {
	store, c, tenantID, key := driftedReconciler(t)
	store.SetOnHand(tenantID, inventory.BalanceKey{ItemID: uuid.New(), LocationID: key.LocationID, UOM: "EA"}, decimal.NewFromInt(1))
	stderr := new(bytes.Buffer)
	code := c.RepairCommand(context.Background(), ReconcileOptions{TenantID: tenantID.String(), MaxRows: 1, Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, ExitError, code)
	require.Contains(t, stderr.String(), "BALANCE_REPAIR_THRESHOLD_EXCEEDED")
	require.Empty(t, store.Repairs())
}

func TestReconcileRejectsBadFlags(t *testing.T) {
	_, c, tenantID, _ := driftedReconciler(t)
	stderr := new(bytes.Buffer)
	require.Equal(t, ExitError, c.CompareCommand(context.Background(), ReconcileOptions{TenantID: "nope", Stderr: stderr, Stdout: new(bytes.Buffer)}))
	require.Equal(t, ExitError, c.CompareCommand(context.Background(), ReconcileOptions{TenantID: tenantID.String(), Epsilon: "-1", Stderr: stderr, Stdout: new(bytes.Buffer)}))
}

func TestJobsCLITriggerAndStats(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	tenantID := uuid.New()
	info, err := c.Trigger(context.Background(), jobs.TaskReconcile, TriggerOptions{TenantID: &tenantID})
	require.NoError(t, err)
	require.Equal(t, jobs.QueueDefault, info.Queue)

	info, err = c.Trigger(context.Background(), jobs.TaskOutboxRelay, TriggerOptions{})
	require.NoError(t, err)
	require.Equal(t, jobs.QueueCritical, info.Queue)

	_, err = c.Trigger(context.Background(), "mail:send", TriggerOptions{})
	require.Error(t, err)

	stats, err := c.InspectQueues(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, s := range stats {
		require.Equal(t, 1, s.Pending, s.Queue)
	}
}
