package qc

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Handler wires QC disposition endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the QC handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers QC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httpx.RequirePermission(shared.PermInventoryView)).Get("/receipt-lines/{lineID}/qc-events", h.list)
	r.With(httpx.RequirePermission(shared.PermInventoryPost)).Post("/receipt-lines/{lineID}/qc", h.dispose)
}

func (h *Handler) dispose(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.PathUUID(chi.URLParam(r, "lineID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req DispositionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation.Wrap(err))
		return
	}
	req.TenantID, req.ReceiptLineID, req.Actor = tenantID, lineID, actor
	req.IdempotencyKey = httpx.IdempotencyKey(r)
	result, err := h.service.Dispose(r.Context(), req)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("qc disposition failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.PathUUID(chi.URLParam(r, "lineID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.ListEvents(r.Context(), tenantID, lineID)
	if err != nil {
		h.logger.Error("list qc events failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}
