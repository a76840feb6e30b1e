package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory/inventorytest"
	jobmetrics "github.com/odyssey-erp/inventory-ledger/internal/jobs"
	"github.com/odyssey-erp/inventory-ledger/internal/outbox"
)

func newLocker(t *testing.T) (*redislock.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client), mr
}

func driftedStore(t *testing.T) (*inventorytest.Store, uuid.UUID, inventory.BalanceKey) {
	t.Helper()
	store := inventorytest.NewStore()
	tenantID := uuid.New()
	key := inventory.BalanceKey{ItemID: uuid.New(), LocationID: uuid.New(), UOM: "EA"}
	store.SetOnHand(tenantID, key, decimal.NewFromInt(3))
	return store, tenantID, key
}

func TestReconcileJobReportsDriftWithoutRepair(t *testing.T) {
	store, tenantID, key := driftedStore(t)
	locker, _ := newLocker(t)
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := &ReconcileJob{
		Reconciler: inventory.NewReconciler(store, inventory.ReconcilerConfig{}, nil),
		Tenants:    store,
		Locker:     locker,
		Metrics:    metrics,
	}

	summary, err := job.Run(context.Background(), ReconcilePayload{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Tenants)
	require.Equal(t, 1, summary.Mismatches)
	require.Zero(t, summary.Repaired)
	require.True(t, store.OnHand(tenantID, key).Equal(decimal.NewFromInt(3)))
}

func TestReconcileJobRepairsWhenEnabled(t *testing.T) {
	store, tenantID, key := driftedStore(t)
	locker, _ := newLocker(t)
	job := &ReconcileJob{
		Reconciler: inventory.NewReconciler(store, inventory.ReconcilerConfig{}, nil),
		Tenants:    store,
		Locker:     locker,
		AutoRepair: true,
		Metrics:    jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}

	task, err := NewReconcileTask(ReconcilePayload{TenantID: &tenantID})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, store.OnHand(tenantID, key).IsZero())

	repairs := store.Repairs()
	require.Len(t, repairs, 1)
	require.Equal(t, TaskReconcile, repairs[0].ActorID)
}

func TestReconcileJobRepairThresholdSkipsRetry(t *testing.T) {
	store, tenantID, key := driftedStore(t)
	other := inventory.BalanceKey{ItemID: uuid.New(), LocationID: key.LocationID, UOM: "EA"}
	store.SetOnHand(tenantID, other, decimal.NewFromInt(2))
	locker, _ := newLocker(t)
	job := &ReconcileJob{
		Reconciler: inventory.NewReconciler(store, inventory.ReconcilerConfig{}, nil),
		Tenants:    store,
		Locker:     locker,
		AutoRepair: true,
		MaxRows:    1,
		Metrics:    jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}

	task, err := NewReconcileTask(ReconcilePayload{TenantID: &tenantID})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, inventory.ErrRepairThresholdExceeded)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, store.Repairs())
	require.True(t, store.OnHand(tenantID, key).Equal(decimal.NewFromInt(3)))
}

func TestReconcileJobSkipsWhenLockHeld(t *testing.T) {
	store, _, _ := driftedStore(t)
	locker, _ := newLocker(t)
	held, err := locker.Obtain(context.Background(), reconcileLockKey, time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release(context.Background()) })

	job := &ReconcileJob{
		Reconciler: inventory.NewReconciler(store, inventory.ReconcilerConfig{}, nil),
		Tenants:    store,
		Locker:     locker,
		Metrics:    jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	summary, err := job.Run(context.Background(), ReconcilePayload{})
	require.NoError(t, err)
	require.True(t, summary.Skipped)
	require.Zero(t, summary.Tenants)
}

func TestReconcileJobRejectsBadPayload(t *testing.T) {
	job := &ReconcileJob{Reconciler: inventory.NewReconciler(inventorytest.NewStore(), inventory.ReconcilerConfig{}, nil)}
	err := job.Handle(context.Background(), asynq.NewTask(TaskReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubRelay struct {
	batches []int
	pending int
	err     error
}

func (s *stubRelay) RunOnce(context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(s.batches) == 0 {
		return 0, nil
	}
	n := s.batches[0]
	s.batches = s.batches[1:]
	return n, nil
}

func (s *stubRelay) Pending(context.Context) (int, error) { return s.pending, nil }

func TestOutboxRelayJobDrainsUntilEmpty(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	relay := &stubRelay{batches: []int{100, 40}, pending: 2}
	job := NewOutboxRelayJob(relay, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewOutboxRelayTask()))
	require.Empty(t, relay.batches)

	published, err := testutil.GatherAndCount(reg, "ledger_outbox_published_total")
	require.NoError(t, err)
	require.Equal(t, 1, published)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP ledger_outbox_pending Movement-posted events waiting in the outbox.
# TYPE ledger_outbox_pending gauge
ledger_outbox_pending 2
`), "ledger_outbox_pending"))
}

func TestOutboxRelayJobPropagatesErrors(t *testing.T) {
	job := NewOutboxRelayJob(&stubRelay{err: errors.New("db down")}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.Error(t, job.Handle(context.Background(), NewOutboxRelayTask()))
}

type movementMap map[uuid.UUID]inventory.Movement

func (m movementMap) GetMovement(_ context.Context, _ uuid.UUID, id uuid.UUID) (inventory.Movement, error) {
	mv, ok := m[id]
	if !ok {
		return inventory.Movement{}, inventory.ErrMovementNotFound
	}
	return mv, nil
}

func movementTask(t *testing.T, tenantID, movementID uuid.UUID) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"tenant_id": tenantID.String(), "movement_id": movementID.String()})
	require.NoError(t, err)
	task, err := outbox.NewMovementPostedTask(outbox.Event{ID: uuid.New(), TenantID: tenantID, AggregateID: movementID, Payload: payload})
	require.NoError(t, err)
	return task
}

func TestMovementPostedJob(t *testing.T) {
	tenantID, movementID := uuid.New(), uuid.New()
	job := &MovementPostedJob{
		Movements: movementMap{movementID: {ID: movementID, TenantID: tenantID, Number: "MV-000001", Type: inventory.MovementReceive}},
		Metrics:   jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	require.NoError(t, job.Handle(context.Background(), movementTask(t, tenantID, movementID)))
	require.NoError(t, job.Handle(context.Background(), movementTask(t, tenantID, uuid.New())))
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskMovementPosted, []byte(`{}`))), asynq.SkipRetry)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queues":[{"queue":"critical","pending":0,"retry":0,"failed":0},{"queue":"default","pending":0,"retry":0,"failed":0}]}`, rr.Body.String())
}

func TestClientEnqueuesReconcile(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client, err := NewClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	tenantID := uuid.New()
	info, err := client.EnqueueReconcile(context.Background(), ReconcilePayload{TenantID: &tenantID})
	require.NoError(t, err)
	require.Equal(t, TaskReconcile, info.Type)
	require.Equal(t, QueueDefault, info.Queue)

	var payload ReconcilePayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	require.Equal(t, tenantID, *payload.TenantID)
}

type recordingPruner struct {
	olderThan time.Duration
}

func (p *recordingPruner) Cleanup(_ context.Context, olderThan time.Duration) error {
	p.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	pruner := &recordingPruner{}
	job := &IdempotencyCleanupJob{Store: pruner, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 30*24*time.Hour, pruner.olderThan)
}
