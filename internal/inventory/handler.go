package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Handler wires HTTP endpoints for the ledger, balances and reconciliation.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	reconciler *Reconciler
	rateLimit  func(http.Handler) http.Handler
}

// NewHandler constructs the inventory handler. adminPerMinute bounds reconciliation calls per tenant.
func NewHandler(logger *slog.Logger, service *Service, reconciler *Reconciler, adminPerMinute int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if adminPerMinute <= 0 {
		adminPerMinute = 30
	}
	limiter := httprate.Limit(adminPerMinute, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if tenantID, ok := shared.TenantFromContext(r.Context()); ok {
			return "tenant:" + tenantID.String(), nil
		}
		return httprate.KeyByIP(r)
	}))
	return &Handler{logger: logger, service: service, reconciler: reconciler, rateLimit: limiter}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequirePermission(shared.PermInventoryView))
		r.Get("/balances", h.listBalances)
		r.Get("/movements/{movementID}", h.getMovement)
	})
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequirePermission(shared.PermInventoryPost))
		r.Post("/movements", h.postMovement)
		r.Post("/movements/{movementID}/reverse", h.reverseMovement)
	})
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequirePermission(shared.PermInventoryReconcile))
		r.Use(h.rateLimit)
		r.Get("/reconcile/ledger", h.recompute)
		r.Post("/reconcile/compare", h.compare)
		r.Post("/reconcile/repair", h.repair)
	})
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	filter, err := balanceFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.ListBalances(r.Context(), filter)
	if err != nil {
		h.fail(w, "list balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "movementID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	movement, err := h.service.GetMovement(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

func (h *Handler) postMovement(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req PostingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation.Wrap(err))
		return
	}
	req.TenantID = tenantID
	req.Actor = actor
	req.IdempotencyKey = httpx.IdempotencyKey(r)
	result, err := h.service.PostMovement(r.Context(), req)
	if err != nil {
		h.fail(w, "post movement", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

type reverseBody struct {
	Reason   string           `json:"reason"`
	Override *OverrideRequest `json:"override,omitempty"`
}

func (h *Handler) reverseMovement(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "movementID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body reverseBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, shared.ErrValidation.Wrap(err))
		return
	}
	result, err := h.service.ReverseMovement(r.Context(), ReverseRequest{
		TenantID:       tenantID,
		MovementID:     id,
		Reason:         body.Reason,
		Override:       body.Override,
		IdempotencyKey: httpx.IdempotencyKey(r),
		Actor:          actor,
	})
	if err != nil {
		h.fail(w, "reverse movement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	filter, err := balanceFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	totals, err := h.reconciler.RecomputeFromLedger(r.Context(), filter)
	if err != nil {
		h.fail(w, "recompute ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"totals": totals})
}

type reconcileBody struct {
	Epsilon *decimal.Decimal `json:"epsilon,omitempty"`
	MaxRows int              `json:"max_rows,omitempty"`
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body reconcileBody
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, shared.ErrValidation.Wrap(err))
			return
		}
	}
	mismatches, err := h.reconciler.CompareBalances(r.Context(), tenantID, epsilonOf(body))
	if err != nil {
		h.fail(w, "compare balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"mismatches": mismatches, "count": len(mismatches)})
}

func (h *Handler) repair(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body reconcileBody
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, shared.ErrValidation.Wrap(err))
			return
		}
	}
	mismatches, err := h.reconciler.CompareBalances(r.Context(), tenantID, epsilonOf(body))
	if err != nil {
		h.fail(w, "compare balances", err)
		return
	}
	report, err := h.reconciler.RepairBalancesFromLedger(r.Context(), RepairRequest{
		TenantID:   tenantID,
		Mismatches: mismatches,
		RunID:      uuid.New(),
		Actor:      actor,
		MaxRows:    body.MaxRows,
	})
	if err != nil {
		h.fail(w, "repair balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("op", op), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func epsilonOf(body reconcileBody) decimal.Decimal {
	if body.Epsilon == nil {
		return decimal.Zero
	}
	return *body.Epsilon
}

func balanceFilter(r *http.Request) (BalanceFilter, error) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		return BalanceFilter{}, err
	}
	filter := BalanceFilter{TenantID: tenantID}
	q := r.URL.Query()
	if raw := q.Get("item_id"); raw != "" {
		id, err := httpx.PathUUID(raw)
		if err != nil {
			return BalanceFilter{}, err
		}
		filter.ItemID = &id
	}
	if raw := q.Get("location_id"); raw != "" {
		id, err := httpx.PathUUID(raw)
		if err != nil {
			return BalanceFilter{}, err
		}
		filter.LocationID = &id
	}
	if raw := q.Get("as_of"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return BalanceFilter{}, shared.ErrValidation.With("as_of", raw).Wrap(err)
		}
		filter.AsOf = &at
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return BalanceFilter{}, shared.ErrValidation.With("limit", raw).Wrap(err)
		}
		filter.Limit = limit
	}
	return filter, nil
}
