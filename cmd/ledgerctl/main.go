package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventory-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/inventory-ledger/internal/app"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
)

const usage = `usage:
  ledgerctl jobs trigger <ledger:reconcile|ledger:outbox_relay|ledger:idempotency_cleanup> [--tenant ID] [--auto-repair]
  ledgerctl jobs stats
  ledgerctl reconcile compare --tenant ID [--epsilon N] [--json]
  ledgerctl reconcile repair --tenant ID [--epsilon N] [--max-rows N] [--operator NAME] [--json]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	switch args[0] {
	case "jobs":
		return runJobs(ctx, cfg, args[1:], stdout, stderr)
	case "reconcile":
		return runReconcile(ctx, cfg, args[1:], stdout, stderr)
	}
	_, _ = fmt.Fprint(stderr, usage)
	return 2
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			_, _ = fmt.Fprint(stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		tenant := fs.String("tenant", "", "tenant id")
		autoRepair := fs.Bool("auto-repair", false, "repair drift found by reconcile")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		var opts cli.TriggerOptions
		if *tenant != "" {
			id, err := uuid.Parse(*tenant)
			if err != nil {
				_, _ = fmt.Fprintf(stderr, "invalid --tenant %q\n", *tenant)
				return 2
			}
			opts.TenantID = &id
		}
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "auto-repair" {
				opts.AutoRepair = autoRepair
			}
		})
		info, err := jobsCLI.Trigger(ctx, args[1], opts)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "trigger %s: %v\n", args[1], err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "stats: %v\n", err)
			return 1
		}
		for _, s := range stats {
			_, _ = fmt.Fprintf(stdout, "%-8s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return 0
	}
	_, _ = fmt.Fprint(stderr, usage)
	return 2
}

func runReconcile(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := cli.ReconcileOptions{Stdout: stdout, Stderr: stderr}
	fs.StringVar(&opts.TenantID, "tenant", "", "tenant id")
	fs.StringVar(&opts.Epsilon, "epsilon", cfg.Ledger.BalanceEpsilon.String(), "comparison tolerance")
	fs.IntVar(&opts.MaxRows, "max-rows", cfg.Ledger.RepairMaxRows, "repair ceiling")
	fs.StringVar(&opts.Operator, "operator", os.Getenv("USER"), "operator recorded on repairs")
	fs.BoolVar(&opts.JSONOutput, "json", false, "json output")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 4})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	reconciler := inventory.NewReconciler(inventory.NewRepository(pool), inventory.ReconcilerConfig{
		Epsilon: cfg.Ledger.BalanceEpsilon,
		MaxRows: cfg.Ledger.RepairMaxRows,
	}, logger)
	reconcileCLI := cli.NewReconcileCLI(reconciler)
	switch args[0] {
	case "compare":
		return reconcileCLI.CompareCommand(ctx, opts)
	case "repair":
		return reconcileCLI.RepairCommand(ctx, opts)
	}
	_, _ = fmt.Fprint(stderr, usage)
	return 2
}
