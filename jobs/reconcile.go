package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/inventory-ledger/internal/jobs"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// reconcileLockKey serialises reconciliation runs across worker replicas.
const reconcileLockKey = "ledger:lock:reconcile"

// BalanceReconciler is the part of *inventory.Reconciler the job drives.
type BalanceReconciler interface {
	CompareBalances(ctx context.Context, tenantID uuid.UUID, epsilon decimal.Decimal) ([]inventory.Mismatch, error)
	RepairBalancesFromLedger(ctx context.Context, req inventory.RepairRequest) (inventory.RepairReport, error)
}

// TenantLister enumerates tenants holding inventory.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Locker obtains distributed locks; *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ReconcileJob compares the balance cache with the ledger for each tenant and optionally repairs drift.
type ReconcileJob struct {
	Reconciler BalanceReconciler
	Tenants    TenantLister
	Locker     Locker
	LockTTL    time.Duration
	AutoRepair bool
	Epsilon    decimal.Decimal
	MaxRows    int
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// ReconcileSummary reports a finished run.
type ReconcileSummary struct {
	Tenants    int
	Mismatches int
	Repaired   int
	Skipped    bool
}

// Handle processes reconciliation tasks.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run executes one reconciliation pass. A run that cannot take the lock is skipped.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) (summary ReconcileSummary, resultErr error) {
	tracker := j.metrics().Track(TaskReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.logger()

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, reconcileLockKey, j.lockTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("reconcile already running elsewhere")
			return ReconcileSummary{Skipped: true}, nil
		}
		if err != nil {
			return summary, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	tenants, err := j.tenants(ctx, payload)
	if err != nil {
		logger.Error("list tenants", slog.Any("error", err))
		return summary, err
	}
	repair := j.AutoRepair
	if payload.AutoRepair != nil {
		repair = *payload.AutoRepair
	}

	var errs []error
	retryable := false
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		tenantLog := logger.With(slog.String("tenant_id", tenantID.String()))
		mismatches, err := j.Reconciler.CompareBalances(ctx, tenantID, j.Epsilon)
		if err != nil {
			tenantLog.Error("compare balances", slog.Any("error", err))
			errs = append(errs, err)
			retryable = true
			continue
		}
		summary.Tenants++
		summary.Mismatches += len(mismatches)
		j.metrics().AddMismatches(len(mismatches))
		if len(mismatches) == 0 {
			continue
		}
		tenantLog.Warn("balance drift detected", slog.Int("mismatches", len(mismatches)))
		if !repair {
			continue
		}
		report, err := j.Reconciler.RepairBalancesFromLedger(ctx, inventory.RepairRequest{
			TenantID:   tenantID,
			Mismatches: mismatches,
			RunID:      uuid.New(),
			Actor:      shared.SystemActor(TaskReconcile),
			MaxRows:    j.MaxRows,
		})
		summary.Repaired += report.Repaired
		j.metrics().AddRepaired(report.Repaired)
		if err != nil {
			tenantLog.Error("repair balances", slog.Any("error", err))
			errs = append(errs, err)
			retryable = retryable || !errors.Is(err, inventory.ErrRepairThresholdExceeded)
		}
	}
	logger.Info("reconcile completed",
		slog.Int("tenants", summary.Tenants),
		slog.Int("mismatches", summary.Mismatches),
		slog.Int("repaired", summary.Repaired))
	if len(errs) > 0 && !retryable {
		// Over-threshold drift stays until an operator repairs it.
		errs = append(errs, asynq.SkipRetry)
	}
	return summary, errors.Join(errs...)
}

func (j *ReconcileJob) tenants(ctx context.Context, payload ReconcilePayload) ([]uuid.UUID, error) {
	if payload.TenantID != nil {
		return []uuid.UUID{*payload.TenantID}, nil
	}
	if j.Tenants == nil {
		return nil, errors.New("reconcile: tenant lister not configured")
	}
	return j.Tenants.ListTenantIDs(ctx)
}

func (j *ReconcileJob) lockTTL() time.Duration {
	if j.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return j.LockTTL
}

func (j *ReconcileJob) logger() *slog.Logger {
	return loggerOrDefault(j.Logger).With(slog.String("job", TaskReconcile))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
