// Package transfers moves stock between locations, carrying its FIFO value along.
package transfers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	inventory.TxRepository
	InsertTransfer(ctx context.Context, transfer Transfer) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, tenantID, id uuid.UUID) (Transfer, error)
	GetTransferByMovement(ctx context.Context, tenantID, movementID uuid.UUID) (Transfer, error)
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error)
}

// Service posts transfers.
type Service struct {
	repo     RepositoryPort
	poster   *inventory.Poster
	idem     inventory.IdempotencyPort
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, poster *inventory.Poster, idem inventory.IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		poster:   poster,
		idem:     idem,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Transfer posts one movement with a decreasing line at the source and a mirrored increasing
// line at the destination per item. Consumed layers are recreated at the destination at their
// unit costs.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return Result{}, shared.ErrValidation.Wrap(err)
	}
	lines := make([]inventory.LineRequest, 0, 2*len(req.Lines))
	for i, l := range req.Lines {
		if !l.Quantity.IsPositive() {
			return Result{}, inventory.ErrInvalidQuantity.With("line", i+1)
		}
		src := len(lines)
		lines = append(lines,
			inventory.LineRequest{ItemID: l.ItemID, LocationID: req.FromLocationID, Quantity: l.Quantity.Neg(), UOM: l.UOM, ReasonCode: "TRANSFER_OUT"},
			inventory.LineRequest{ItemID: l.ItemID, LocationID: req.ToLocationID, Quantity: l.Quantity, UOM: l.UOM, ReasonCode: "TRANSFER_IN", CarryFrom: &src},
		)
	}

	var result Result
	movementID, replayed, err := inventory.RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			now := s.now()
			transfer := Transfer{
				ID:             uuid.New(),
				TenantID:       req.TenantID,
				FromLocationID: req.FromLocationID,
				ToLocationID:   req.ToLocationID,
				Reference:      req.Reference,
				Notes:          req.Notes,
				OccurredAt:     req.OccurredAt,
				CreatedBy:      req.Actor.ID,
				CreatedAt:      now,
			}
			if transfer.OccurredAt.IsZero() {
				transfer.OccurredAt = now
			}
			number, err := tx.NextDocumentNumber(ctx, req.TenantID, NumberPrefix)
			if err != nil {
				return err
			}
			transfer.Number = number
			id := transfer.ID
			posted, err := s.poster.Post(ctx, tx, inventory.PostingRequest{
				TenantID:       req.TenantID,
				Type:           inventory.MovementTransfer,
				SourceType:     SourceType,
				SourceID:       &id,
				OccurredAt:     transfer.OccurredAt,
				Notes:          req.Notes,
				ExternalRef:    number,
				Layering:       inventory.LayerCarry,
				Lines:          lines,
				Override:       req.Override,
				IdempotencyKey: req.IdempotencyKey,
				Actor:          req.Actor,
			})
			if err != nil {
				return err
			}
			transfer.MovementID = posted.Movement.ID
			if err := tx.InsertTransfer(ctx, transfer); err != nil {
				return err
			}
			result = Result{Transfer: transfer, Movement: posted.Movement, Override: posted.Override}
			return nil
		})
		return result.Movement.ID, err
	})
	if err != nil {
		return Result{}, err
	}
	if replayed {
		transfer, err := s.repo.GetTransferByMovement(ctx, req.TenantID, movementID)
		if err != nil {
			return Result{}, err
		}
		movement, err := s.repo.GetMovement(ctx, req.TenantID, movementID)
		if err != nil {
			return Result{}, err
		}
		return Result{Transfer: transfer, Movement: movement, Replayed: true}, nil
	}
	s.logger.Info("transfer posted",
		slog.String("tenant_id", req.TenantID.String()),
		slog.String("number", result.Transfer.Number),
		slog.Int("lines", len(req.Lines)))
	return result, nil
}

// Get returns a transfer.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Transfer, error) {
	if tenantID == uuid.Nil {
		return Transfer{}, shared.ErrTenantRequired
	}
	return s.repo.GetTransfer(ctx, tenantID, id)
}
