package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/inventory-ledger/internal/adjustments"
	"github.com/odyssey-erp/inventory-ledger/internal/counts"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/observability"
	"github.com/odyssey-erp/inventory-ledger/internal/qc"
	"github.com/odyssey-erp/inventory-ledger/internal/receiving"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/transfers"
	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

// Services holds the wired ledger services shared by the binaries.
type Services struct {
	Inventory     *inventory.Service
	InventoryRepo *inventory.Repository
	Reconciler    *inventory.Reconciler
	Receiving     *receiving.Service
	Adjustments   *adjustments.Service
	Counts        *counts.Service
	QC            *qc.Service
	Transfers     *transfers.Service
	Idempotency   *shared.IdempotencyStore
}

// NewServices wires repositories and services over the pool. A nil redis client disables the
// UOM reference cache.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *Services {
	var source uom.Source = uom.NewRepository(pool)
	if redisClient != nil {
		source = uom.NewCachedSource(source, redisClient, cfg.Ledger.UOMCacheTTL)
	}
	canonicalizer := uom.NewService(source)
	poster := inventory.NewPoster(canonicalizer, inventory.PosterConfig{
		Policy:             inventory.PermissionPolicy{},
		ValidateFromLedger: cfg.Ledger.ValidateFromLedger,
	})
	idem := shared.NewIdempotencyStore(pool, cfg.Ledger.IdempotencyStale)
	repo := inventory.NewRepository(pool)

	var observer inventory.PostingObserver
	if metrics != nil {
		observer = metrics
	}
	return &Services{
		Inventory:     inventory.NewService(repo, poster, idem, logger, observer),
		InventoryRepo: repo,
		Reconciler: inventory.NewReconciler(repo, inventory.ReconcilerConfig{
			Epsilon: cfg.Ledger.BalanceEpsilon,
			MaxRows: cfg.Ledger.RepairMaxRows,
		}, logger),
		Receiving:   receiving.NewService(receiving.NewRepository(pool), poster, idem, logger),
		Adjustments: adjustments.NewService(adjustments.NewRepository(pool), poster, idem, logger),
		Counts:      counts.NewService(counts.NewRepository(pool), poster, idem, logger),
		QC:          qc.NewService(qc.NewRepository(pool), poster, idem, logger),
		Transfers:   transfers.NewService(transfers.NewRepository(pool), poster, idem, logger),
		Idempotency: idem,
	}
}
