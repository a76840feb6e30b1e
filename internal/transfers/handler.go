package transfers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Handler wires transfer endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httpx.RequirePermission(shared.PermInventoryView)).Get("/transfers/{transferID}", h.get)
	r.With(httpx.RequirePermission(shared.PermInventoryPost)).Post("/transfers", h.post)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req TransferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.ErrValidation.Wrap(err))
		return
	}
	req.TenantID, req.Actor, req.IdempotencyKey = tenantID, actor, httpx.IdempotencyKey(r)
	result, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.fail(w, "post transfer", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := httpx.Scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathUUID(chi.URLParam(r, "transferID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	transfer, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
