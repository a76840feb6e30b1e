package counts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Handler wires cycle count endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the cycle count handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers cycle count routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httpx.RequirePermission(shared.PermInventoryView)).Get("/counts/{countID}", h.get)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequirePermission(shared.PermInventoryPost))
		r.Post("/counts", h.create)
		r.Post("/counts/{countID}/post", h.post)
		r.Post("/counts/{countID}/cancel", h.cancel)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.ErrValidation.Wrap(err))
		return
	}
	in.TenantID, in.Actor = tenantID, actor
	count, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create count", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, count)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "countID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	count, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

type postBody struct {
	Override *inventory.OverrideRequest `json:"override,omitempty"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "countID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body postBody
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, shared.ErrValidation.Wrap(err))
			return
		}
	}
	result, err := h.service.Post(r.Context(), PostRequest{
		TenantID:       tenantID,
		CountID:        id,
		Override:       body.Override,
		IdempotencyKey: httpx.IdempotencyKey(r),
		Actor:          actor,
	})
	if err != nil {
		h.fail(w, "post count", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "countID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body cancelBody
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, shared.ErrValidation.Wrap(err))
			return
		}
	}
	count, err := h.service.Cancel(r.Context(), CancelRequest{TenantID: tenantID, CountID: id, Reason: body.Reason, Actor: actor})
	if err != nil {
		h.fail(w, "cancel count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, count)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
