package inventory

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// DefaultEpsilon is the default tolerance of balance comparison.
var DefaultEpsilon = decimal.New(1, -6)

// DefaultRepairMaxRows is the default ceiling of a single repair run.
const DefaultRepairMaxRows = 10000

// Mismatch is a key whose materialized on-hand differs from the ledger.
type Mismatch struct {
	ItemID         uuid.UUID       `json:"item_id"`
	LocationID     uuid.UUID       `json:"location_id"`
	UOM            string          `json:"uom"`
	BalanceQty     decimal.Decimal `json:"balance_qty"`
	LedgerQty      decimal.Decimal `json:"ledger_qty"`
	Delta          decimal.Decimal `json:"delta"`
	BalanceMissing bool            `json:"balance_missing,omitempty"`
	LedgerMissing  bool            `json:"ledger_missing,omitempty"`
}

// Key returns the balance key.
func (m Mismatch) Key() BalanceKey {
	return BalanceKey{ItemID: m.ItemID, LocationID: m.LocationID, UOM: m.UOM}
}

// RepairRequest asks to overwrite mismatching balances with ledger values.
type RepairRequest struct {
	TenantID   uuid.UUID
	Mismatches []Mismatch
	RunID      uuid.UUID
	Actor      shared.Actor
	MaxRows    int
}

// RepairReport summarises a repair run.
type RepairReport struct {
	RunID    uuid.UUID `json:"run_id"`
	Repaired int       `json:"repaired"`
	Skipped  int       `json:"skipped"`
}

// ReconcilerConfig tunes the reconciler.
type ReconcilerConfig struct {
	Epsilon decimal.Decimal
	MaxRows int
}

// Reconciler compares the balance cache with the ledger and repairs drift.
type Reconciler struct {
	repo    RepositoryPort
	epsilon decimal.Decimal
	maxRows int
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(repo RepositoryPort, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Epsilon.IsZero() || cfg.Epsilon.IsNegative() {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultRepairMaxRows
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, epsilon: cfg.Epsilon, maxRows: cfg.MaxRows, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RecomputeFromLedger aggregates canonical deltas of posted movement lines per key.
func (r *Reconciler) RecomputeFromLedger(ctx context.Context, filter BalanceFilter) ([]LedgerTotal, error) {
	if filter.TenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	return r.repo.LedgerTotals(ctx, filter)
}

// CompareBalances returns every key where |balance - ledger| exceeds epsilon. A non-positive
// epsilon uses the configured tolerance.
func (r *Reconciler) CompareBalances(ctx context.Context, tenantID uuid.UUID, epsilon decimal.Decimal) ([]Mismatch, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	if !epsilon.IsPositive() {
		epsilon = r.epsilon
	}
	balances, err := r.repo.ListBalances(ctx, BalanceFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	totals, err := r.repo.LedgerTotals(ctx, BalanceFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return CompareTotals(balances, totals, epsilon), nil
}

// CompareTotals full-outer-joins balances and ledger totals by key.
func CompareTotals(balances []Balance, totals []LedgerTotal, epsilon decimal.Decimal) []Mismatch {
	type pair struct {
		balance, ledger       decimal.Decimal
		hasBalance, hasLedger bool
	}
	joined := make(map[BalanceKey]*pair, len(balances))
	get := func(k BalanceKey) *pair {
		p, ok := joined[k]
		if !ok {
			p = &pair{}
			joined[k] = p
		}
		return p
	}
	for _, b := range balances {
		p := get(b.Key())
		p.balance, p.hasBalance = b.OnHand, true
	}
	for _, t := range totals {
		p := get(t.Key())
		p.ledger, p.hasLedger = t.OnHand, true
	}
	var out []Mismatch
	for k, p := range joined {
		delta := p.balance.Sub(p.ledger)
		if delta.Abs().LessThanOrEqual(epsilon) {
			continue
		}
		out = append(out, Mismatch{
			ItemID:         k.ItemID,
			LocationID:     k.LocationID,
			UOM:            k.UOM,
			BalanceQty:     p.balance,
			LedgerQty:      p.ledger,
			Delta:          delta,
			BalanceMissing: !p.hasBalance,
			LedgerMissing:  !p.hasLedger,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ItemID != b.ItemID {
			return a.ItemID.String() < b.ItemID.String()
		}
		if a.LocationID != b.LocationID {
			return a.LocationID.String() < b.LocationID.String()
		}
		return a.UOM < b.UOM
	})
	return out
}

// RepairBalancesFromLedger overwrites each mismatching balance with the ledger value, one key per
// short transaction. The ledger value is recomputed under the key lock, so keys that healed since
// the comparison are skipped.
func (r *Reconciler) RepairBalancesFromLedger(ctx context.Context, req RepairRequest) (RepairReport, error) {
	if req.TenantID == uuid.Nil {
		return RepairReport{}, shared.ErrTenantRequired
	}
	maxRows := req.MaxRows
	if maxRows <= 0 {
		maxRows = r.maxRows
	}
	if len(req.Mismatches) > maxRows {
		return RepairReport{}, ErrRepairThresholdExceeded.
			With("mismatches", len(req.Mismatches)).
			With("max_rows", maxRows)
	}
	runID := req.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	report := RepairReport{RunID: runID}
	for _, m := range req.Mismatches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		repaired, err := r.repairOne(ctx, req.TenantID, runID, req.Actor, m.Key())
		if err != nil {
			return report, err
		}
		if repaired {
			report.Repaired++
		} else {
			report.Skipped++
		}
	}
	r.logger.Info("inventory balances repaired",
		slog.String("tenant_id", req.TenantID.String()),
		slog.String("run_id", runID.String()),
		slog.Int("repaired", report.Repaired),
		slog.Int("skipped", report.Skipped))
	return report, nil
}

func (r *Reconciler) repairOne(ctx context.Context, tenantID, runID uuid.UUID, actor shared.Actor, key BalanceKey) (bool, error) {
	repaired := false
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockKeys(ctx, tenantID, []LockKey{{ItemID: key.ItemID, LocationID: key.LocationID}}); err != nil {
			return err
		}
		balance, err := tx.GetBalanceForUpdate(ctx, tenantID, key)
		if err != nil && !isBalanceNotFound(err) {
			return err
		}
		ledger, err := tx.LedgerOnHand(ctx, tenantID, key, nil)
		if err != nil {
			return err
		}
		delta := ledger.Sub(balance.OnHand)
		if delta.Abs().LessThanOrEqual(r.epsilon) {
			return nil
		}
		now := r.now()
		if err := tx.SetBalanceOnHand(ctx, tenantID, key, ledger, now); err != nil {
			return err
		}
		entry := RepairAudit{
			ID:         uuid.New(),
			RunID:      runID,
			TenantID:   tenantID,
			Key:        key,
			Before:     balance.OnHand,
			After:      ledger,
			Delta:      delta,
			ActorType:  actorTypeOf(actor),
			ActorID:    actor.ID,
			RepairedAt: now,
		}
		if err := tx.InsertRepairAudit(ctx, entry); err != nil {
			return err
		}
		repaired = true
		return tx.RecordAudit(ctx, shared.AuditLog{
			TenantID:  tenantID,
			ActorType: entry.ActorType,
			ActorID:   actor.ID,
			Action:    shared.AuditBalanceRepaired,
			Entity:    "inventory_balance",
			EntityID:  key.ItemID.String() + ":" + key.LocationID.String() + ":" + key.UOM,
			Meta: map[string]any{
				"run_id": runID.String(),
				"before": entry.Before.String(),
				"after":  entry.After.String(),
				"delta":  entry.Delta.String(),
			},
			OccurredAt: now,
		})
	})
	return repaired, err
}
