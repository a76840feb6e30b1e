package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/inventory-ledger/internal/adjustments"
	"github.com/odyssey-erp/inventory-ledger/internal/counts"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/observability"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/qc"
	"github.com/odyssey-erp/inventory-ledger/internal/receiving"
	"github.com/odyssey-erp/inventory-ledger/internal/transfers"
	"github.com/odyssey-erp/inventory-ledger/jobs"
)

// RouteMounter is implemented by every domain handler.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Pool               *pgxpool.Pool
	InventoryHandler   *inventory.Handler
	ReceivingHandler   *receiving.Handler
	AdjustmentsHandler *adjustments.Handler
	CountsHandler      *counts.Handler
	QCHandler          *qc.Handler
	TransfersHandler   *transfers.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool == nil {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := params.Pool.Ping(ctx); err != nil {
			params.Logger.Warn("readiness check failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "database unavailable")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1/inventory", func(api chi.Router) {
		api.Use(GatewayScope)
		for _, h := range []RouteMounter{
			params.InventoryHandler,
			params.ReceivingHandler,
			params.AdjustmentsHandler,
			params.CountsHandler,
			params.QCHandler,
			params.TransfersHandler,
		} {
			h.MountRoutes(api)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}
