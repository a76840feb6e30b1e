// Package receiving posts purchase-order receipt lines into the inventory ledger.
package receiving

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
)

// SourceTypeReceiptLine marks movements caused by a receipt line.
const SourceTypeReceiptLine = "receipt_line"

// TxRepository combines ledger writes with source-document access.
type TxRepository interface {
	inventory.TxRepository
	sourcedocs.Reader
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error)
}

// PostReceiptRequest asks to post one receipt line.
type PostReceiptRequest struct {
	TenantID       uuid.UUID    `json:"tenant_id"`
	ReceiptLineID  uuid.UUID    `json:"receipt_line_id"`
	IdempotencyKey string       `json:"-"`
	Actor          shared.Actor `json:"-"`
}

// Service posts receipts.
type Service struct {
	repo   RepositoryPort
	poster *inventory.Poster
	idem   inventory.IdempotencyPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, poster *inventory.Poster, idem inventory.IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, poster: poster, idem: idem, logger: logger}
}

// PostReceipt posts a receive movement for the line into its putaway location, or the warehouse
// QA/staging location, creating cost layers at the line's unit cost. A posted line returns its
// existing movement.
func (s *Service) PostReceipt(ctx context.Context, req PostReceiptRequest) (inventory.PostingResult, error) {
	if req.TenantID == uuid.Nil {
		return inventory.PostingResult{}, shared.ErrTenantRequired
	}
	var result inventory.PostingResult
	id, replayed, err := inventory.RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			line, err := tx.GetReceiptLineForUpdate(ctx, req.TenantID, req.ReceiptLineID)
			if err != nil {
				return err
			}
			if line.MovementID != nil {
				existing, err := tx.FindPostedMovementBySource(ctx, req.TenantID, SourceTypeReceiptLine, line.ID, inventory.MovementReceive)
				if err != nil && !errors.Is(err, inventory.ErrMovementNotFound) {
					return err
				}
				if err == nil {
					result = inventory.PostingResult{Movement: existing, Replayed: true}
					return inventory.CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, existing.ID)
				}
			}
			if line.ReceiptStatus == sourcedocs.ReceiptVoided {
				return shared.ErrDocumentState.With("receipt_id", line.ReceiptID).With("status", line.ReceiptStatus)
			}
			if !line.Quantity.IsPositive() {
				return inventory.ErrInvalidQuantity.With("receipt_line_id", line.ID)
			}
			location := uuid.Nil
			if line.LocationID != nil {
				location = *line.LocationID
			} else {
				location, err = sourcedocs.ResolveFirst(ctx, tx, req.TenantID, line.WarehouseID, sourcedocs.RoleQA, sourcedocs.RoleStaging)
				if err != nil {
					return err
				}
			}
			cost := line.UnitCost
			lineID := line.ID
			result, err = s.poster.Post(ctx, tx, inventory.PostingRequest{
				TenantID:    req.TenantID,
				Type:        inventory.MovementReceive,
				SourceType:  SourceTypeReceiptLine,
				SourceID:    &lineID,
				ExternalRef: line.ReceiptID.String(),
				Lines: []inventory.LineRequest{{
					ItemID:     line.ItemID,
					LocationID: location,
					Quantity:   line.Quantity,
					UOM:        line.UOM,
					UnitCost:   &cost,
				}},
				IdempotencyKey: req.IdempotencyKey,
				Actor:          req.Actor,
			})
			if err != nil {
				return err
			}
			return tx.MarkReceiptLinePosted(ctx, req.TenantID, line.ID, result.Movement.ID, location)
		})
		return result.Movement.ID, err
	})
	if err != nil {
		return inventory.PostingResult{}, err
	}
	if replayed {
		movement, err := s.repo.GetMovement(ctx, req.TenantID, id)
		if err != nil {
			return inventory.PostingResult{}, err
		}
		return inventory.PostingResult{Movement: movement, Replayed: true}, nil
	}
	s.logger.Info("receipt line posted",
		slog.String("tenant_id", req.TenantID.String()),
		slog.String("receipt_line_id", req.ReceiptLineID.String()),
		slog.String("movement_id", result.Movement.ID.String()))
	return result, nil
}
