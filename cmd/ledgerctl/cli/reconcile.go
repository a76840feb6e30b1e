package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/jobs"
)

// Exit codes of the reconcile commands.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 10
)

// ReconcileCLI runs balance comparison and repair against the database directly.
type ReconcileCLI struct {
	reconciler jobs.BalanceReconciler
}

// NewReconcileCLI constructs the helper.
func NewReconcileCLI(reconciler jobs.BalanceReconciler) *ReconcileCLI {
	return &ReconcileCLI{reconciler: reconciler}
}

// ReconcileOptions defines flags shared by compare and repair.
type ReconcileOptions struct {
	TenantID   string
	Epsilon    string
	MaxRows    int
	Operator   string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ReconcileSummary is the JSON output of compare and repair.
type ReconcileSummary struct {
	TenantID   uuid.UUID               `json:"tenant_id"`
	Mismatches []inventory.Mismatch    `json:"mismatches"`
	Repair     *inventory.RepairReport `json:"repair,omitempty"`
}

// CompareCommand prints mismatches and exits with ExitMismatch when any exist.
func (c *ReconcileCLI) CompareCommand(ctx context.Context, opts ReconcileOptions) int {
	opts = withWriters(opts)
	tenantID, epsilon, ok := parseScope(opts)
	if !ok {
		return ExitError
	}
	mismatches, err := c.reconciler.CompareBalances(ctx, tenantID, epsilon)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile compare: %v\n", err)
		return ExitError
	}
	if err := render(opts, ReconcileSummary{TenantID: tenantID, Mismatches: mismatches}); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile compare: %v\n", err)
		return ExitError
	}
	if len(mismatches) > 0 {
		return ExitMismatch
	}
	return ExitOK
}

// RepairCommand compares and then rewrites mismatching balances from the ledger.
func (c *ReconcileCLI) RepairCommand(ctx context.Context, opts ReconcileOptions) int {
	opts = withWriters(opts)
	tenantID, epsilon, ok := parseScope(opts)
	if !ok {
		return ExitError
	}
	mismatches, err := c.reconciler.CompareBalances(ctx, tenantID, epsilon)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile repair: %v\n", err)
		return ExitError
	}
	operator := opts.Operator
	if operator == "" {
		operator = "ledgerctl"
	}
	report, err := c.reconciler.RepairBalancesFromLedger(ctx, inventory.RepairRequest{
		TenantID:   tenantID,
		Mismatches: mismatches,
		RunID:      uuid.New(),
		Actor:      shared.Actor{Type: shared.ActorUser, ID: operator},
		MaxRows:    opts.MaxRows,
	})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile repair: %v\n", err)
		return ExitError
	}
	if err := render(opts, ReconcileSummary{TenantID: tenantID, Mismatches: mismatches, Repair: &report}); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile repair: %v\n", err)
		return ExitError
	}
	return ExitOK
}

func withWriters(opts ReconcileOptions) ReconcileOptions {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return opts
}

func parseScope(opts ReconcileOptions) (uuid.UUID, decimal.Decimal, bool) {
	tenantID, err := uuid.Parse(opts.TenantID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: invalid --tenant %q\n", opts.TenantID)
		return uuid.Nil, decimal.Zero, false
	}
	epsilon := decimal.Zero
	if opts.Epsilon != "" {
		epsilon, err = decimal.NewFromString(opts.Epsilon)
		if err != nil || epsilon.IsNegative() {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: invalid --epsilon %q\n", opts.Epsilon)
			return uuid.Nil, decimal.Zero, false
		}
	}
	return tenantID, epsilon, true
}

func render(opts ReconcileOptions, summary ReconcileSummary) error {
	if opts.JSONOutput {
		if summary.Mismatches == nil {
			summary.Mismatches = []inventory.Mismatch{}
		}
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	out := opts.Stdout
	if len(summary.Mismatches) == 0 {
		_, _ = fmt.Fprintf(out, "tenant %s: balances match the ledger\n", summary.TenantID)
	} else {
		_, _ = fmt.Fprintf(out, "tenant %s: %d mismatch(es)\n", summary.TenantID, len(summary.Mismatches))
		for _, m := range summary.Mismatches {
			_, _ = fmt.Fprintf(out, " - item %s location %s %s: balance %s ledger %s delta %s\n",
				m.ItemID, m.LocationID, m.UOM, m.BalanceQty, m.LedgerQty, m.Delta)
		}
	}
	if summary.Repair != nil {
		_, _ = fmt.Fprintf(out, "repair run %s: %d repaired, %d skipped\n", summary.Repair.RunID, summary.Repair.Repaired, summary.Repair.Skipped)
	}
	return nil
}
