// Package adjustments manages manual stock adjustment documents and posts them to the ledger.
package adjustments

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
	InsertAdjustment(ctx context.Context, adj Adjustment) error
	GetAdjustmentForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error)
	MarkAdjustmentPosted(ctx context.Context, tenantID, id, movementID uuid.UUID, at time.Time) error
	MarkAdjustmentCanceled(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAdjustment(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error)
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error)
}

// Service coordinates adjustment documents.
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

// Create stores a draft adjustment.
func (s *Service) Create(ctx context.Context, in CreateInput) (Adjustment, error) {
	if err := s.validate.Struct(in); err != nil {
		return Adjustment{}, shared.ErrValidation.Wrap(err)
	}
	now := s.now()
	adj := Adjustment{
		ID:         uuid.New(),
		TenantID:   in.TenantID,
		Status:     StatusDraft,
		ReasonCode: in.ReasonCode,
		Notes:      in.Notes,
		OccurredAt: in.OccurredAt,
		CreatedBy:  in.Actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if adj.OccurredAt.IsZero() {
		adj.OccurredAt = now
	}
	for i, l := range in.Lines {
		if l.Quantity.IsZero() {
			return Adjustment{}, inventory.ErrInvalidQuantity.With("line", i+1)
		}
		adj.Lines = append(adj.Lines, Line{
			ID:         uuid.New(),
			LineNo:     i + 1,
			ItemID:     l.ItemID,
			LocationID: l.LocationID,
			Quantity:   l.Quantity,
			UOM:        l.UOM,
			UnitCost:   l.UnitCost,
			ReasonCode: l.ReasonCode,
			Note:       l.Note,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocumentNumber(ctx, in.TenantID, NumberPrefix)
		if err != nil {
			return err
		}
		adj.Number = number
		return tx.InsertAdjustment(ctx, adj)
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// Get returns an adjustment with its lines.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Adjustment, error) {
	if tenantID == uuid.Nil {
		return Adjustment{}, shared.ErrTenantRequired
	}
	return s.repo.GetAdjustment(ctx, tenantID, id)
}

// Post posts a draft adjustment. Increases create cost layers, decreases consume FIFO. Posting
// an already-posted adjustment returns its movement.
func (s *Service) Post(ctx context.Context, req PostRequest) (Result, error) {
	if req.TenantID == uuid.Nil {
		return Result{}, shared.ErrTenantRequired
	}
	var result Result
	movementID, replayed, err := inventory.RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			adj, err := tx.GetAdjustmentForUpdate(ctx, req.TenantID, req.AdjustmentID)
			if err != nil {
				return err
			}
			switch adj.Status {
			case StatusPosted:
				if adj.MovementID == nil {
					return shared.ErrDocumentState.With("adjustment_id", adj.ID).With("reason", "posted without movement")
				}
				movement, err := tx.GetMovementForUpdate(ctx, req.TenantID, *adj.MovementID)
				if err != nil {
					return err
				}
				result = Result{Adjustment: adj, Movement: movement, Replayed: true}
				return inventory.CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, movement.ID)
			case StatusDraft:
			default:
				return shared.ErrDocumentState.With("adjustment_id", adj.ID).With("status", adj.Status)
			}

			posted, err := s.poster.Post(ctx, tx, postingRequest(adj, req))
			if err != nil {
				return err
			}
			now := s.now()
			if err := tx.MarkAdjustmentPosted(ctx, req.TenantID, adj.ID, posted.Movement.ID, now); err != nil {
				return err
			}
			id := posted.Movement.ID
			adj.Status, adj.MovementID, adj.PostedAt, adj.UpdatedAt = StatusPosted, &id, &now, now
			result = Result{Adjustment: adj, Movement: posted.Movement, Override: posted.Override}
			return nil
		})
		return result.Movement.ID, err
	})
	if err != nil {
		return Result{}, err
	}
	if replayed {
		adj, err := s.repo.GetAdjustment(ctx, req.TenantID, req.AdjustmentID)
		if err != nil {
			return Result{}, err
		}
		movement, err := s.repo.GetMovement(ctx, req.TenantID, movementID)
		if err != nil {
			return Result{}, err
		}
		return Result{Adjustment: adj, Movement: movement, Replayed: true}, nil
	}
	if !result.Replayed {
		s.logger.Info("adjustment posted",
			slog.String("tenant_id", req.TenantID.String()),
			slog.String("number", result.Adjustment.Number),
			slog.String("movement_id", result.Movement.ID.String()))
	}
	return result, nil
}

func postingRequest(adj Adjustment, req PostRequest) inventory.PostingRequest {
	lines := make([]inventory.LineRequest, len(adj.Lines))
	for i, l := range adj.Lines {
		reason := l.ReasonCode
		if reason == "" {
			reason = adj.ReasonCode
		}
		lines[i] = inventory.LineRequest{
			ItemID:     l.ItemID,
			LocationID: l.LocationID,
			Quantity:   l.Quantity,
			UOM:        l.UOM,
			UnitCost:   l.UnitCost,
			ReasonCode: reason,
			Note:       l.Note,
		}
	}
	id := adj.ID
	return inventory.PostingRequest{
		TenantID:       adj.TenantID,
		Type:           inventory.MovementAdjustment,
		SourceType:     SourceType,
		SourceID:       &id,
		OccurredAt:     adj.OccurredAt,
		Notes:          adj.Notes,
		ExternalRef:    adj.Number,
		Metadata:       map[string]any{"reason_code": adj.ReasonCode},
		Lines:          lines,
		Override:       req.Override,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
	}
}

// Cancel cancels a draft adjustment. Canceling a canceled adjustment is a no-op.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (Adjustment, error) {
	if req.TenantID == uuid.Nil {
		return Adjustment{}, shared.ErrTenantRequired
	}
	var adj Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		adj, err = tx.GetAdjustmentForUpdate(ctx, req.TenantID, req.AdjustmentID)
		if err != nil {
			return err
		}
		switch adj.Status {
		case StatusCanceled:
			return nil
		case StatusDraft:
		default:
			return shared.ErrDocumentState.With("adjustment_id", adj.ID).With("status", adj.Status)
		}
		now := s.now()
		if err := tx.MarkAdjustmentCanceled(ctx, req.TenantID, adj.ID, now); err != nil {
			return err
		}
		adj.Status, adj.CanceledAt, adj.UpdatedAt = StatusCanceled, &now, now
		actorType := req.Actor.Type
		if actorType == "" {
			actorType = shared.ActorSystem
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			TenantID:   req.TenantID,
			ActorType:  actorType,
			ActorID:    req.Actor.ID,
			Action:     shared.AuditDocumentCanceled,
			Entity:     SourceType,
			EntityID:   adj.ID.String(),
			Meta:       map[string]any{"number": adj.Number, "reason": req.Reason},
			OccurredAt: now,
		})
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}
