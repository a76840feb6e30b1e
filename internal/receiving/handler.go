package receiving

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Handler wires receipt posting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the receiving handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(httpx.RequirePermission(shared.PermInventoryPost)).Post("/receipt-lines/{lineID}/post", h.postReceipt)
}

func (h *Handler) postReceipt(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.service.PostReceipt(r.Context(), PostReceiptRequest{
		TenantID:       tenantID,
		ReceiptLineID:  lineID,
		IdempotencyKey: httpx.IdempotencyKey(r),
		Actor:          actor,
	})
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("post receipt failed", slog.Any("error", err))
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
