// Package qc relocates received stock between QA, hold, reject and sellable locations.
package qc

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
	"github.com/odyssey-erp/inventory-ledger/internal/sourcedocs"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	inventory.TxRepository
	sourcedocs.Reader
	InsertEvent(ctx context.Context, event Event) error
	DispositionTotals(ctx context.Context, tenantID, receiptLineID uuid.UUID) (Totals, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error)
	GetEventByMovement(ctx context.Context, tenantID, movementID uuid.UUID) (Event, error)
	ListEvents(ctx context.Context, tenantID, receiptLineID uuid.UUID) ([]Event, error)
}

// Service records QC dispositions.
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

// Dispose relocates quantity of a received line from its putaway location, or from the hold
// location on release, to the location of the disposition role. The relocation is a balanced
// transfer whose cost layers follow the stock with their cost and FIFO age.
func (s *Service) Dispose(ctx context.Context, req DispositionRequest) (Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return Result{}, shared.ErrValidation.Wrap(err)
	}
	if !req.Quantity.IsPositive() {
		return Result{}, inventory.ErrInvalidQuantity.With("quantity", req.Quantity)
	}
	if req.Release && req.Disposition == DispositionHold {
		return Result{}, ErrInvalidRelease.With("disposition", req.Disposition)
	}
	role, _ := req.Disposition.Role()
	var result Result
	movementID, replayed, err := inventory.RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		result = Result{}
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			line, err := tx.GetReceiptLineForUpdate(ctx, req.TenantID, req.ReceiptLineID)
			if err != nil {
				return err
			}
			if line.ReceiptStatus == sourcedocs.ReceiptVoided || line.MovementID == nil {
				return shared.ErrDocumentState.With("receipt_line_id", line.ID).With("reason", "receipt line not received")
			}
			q, err := s.poster.Canonicalize(ctx, req.TenantID, line.ItemID, req.Quantity, req.UOM)
			if err != nil {
				return err
			}
			received, err := s.poster.Canonicalize(ctx, req.TenantID, line.ItemID, line.Quantity, line.UOM)
			if err != nil {
				return err
			}
			totals, err := tx.DispositionTotals(ctx, req.TenantID, line.ID)
			if err != nil {
				return err
			}
			if req.Release {
				if q.CanonicalQty.GreaterThan(totals.Holding()) {
					return ErrQuantityExceeded.
						With("held", totals.Holding()).
						With("requested", q.CanonicalQty)
				}
			} else if totals.Dispositioned.Add(q.CanonicalQty).GreaterThan(received.CanonicalQty) {
				return ErrQuantityExceeded.
					With("received", received.CanonicalQty).
					With("dispositioned", totals.Dispositioned).
					With("requested", q.CanonicalQty)
			}

			from := uuid.Nil
			switch {
			case req.Release:
				if from, err = tx.DefaultLocation(ctx, req.TenantID, line.WarehouseID, sourcedocs.RoleHold); err != nil {
					return err
				}
			case line.LocationID != nil:
				from = *line.LocationID
			default:
				if from, err = tx.DefaultLocation(ctx, req.TenantID, line.WarehouseID, sourcedocs.RoleQA); err != nil {
					return err
				}
			}
			to, err := tx.DefaultLocation(ctx, req.TenantID, line.WarehouseID, role)
			if err != nil {
				return err
			}

			event := Event{
				ID:             uuid.New(),
				TenantID:       req.TenantID,
				ReceiptLineID:  line.ID,
				Disposition:    req.Disposition,
				Quantity:       req.Quantity,
				UOM:            q.EnteredUOM,
				CanonicalQty:   q.CanonicalQty,
				CanonicalUOM:   q.CanonicalUOM,
				FromLocationID: from,
				ToLocationID:   to,
				Released:       req.Release,
				Reason:         req.Reason,
				ActorID:        req.Actor.ID,
				OccurredAt:     s.now(),
			}
			if from != to {
				eventID := event.ID
				source := 0
				posted, err := s.poster.Post(ctx, tx, inventory.PostingRequest{
					TenantID:    req.TenantID,
					Type:        inventory.MovementTransfer,
					SourceType:  SourceType,
					SourceID:    &eventID,
					OccurredAt:  event.OccurredAt,
					Notes:       req.Reason,
					ExternalRef: line.ReceiptID.String(),
					Layering:    inventory.LayerRelocate,
					Metadata: map[string]any{
						"disposition":     string(req.Disposition),
						"receipt_line_id": line.ID.String(),
						"released":        req.Release,
					},
					Lines: []inventory.LineRequest{
						{ItemID: line.ItemID, LocationID: from, Quantity: q.CanonicalQty.Neg(), UOM: q.CanonicalUOM, ReasonCode: "QC_" + string(role)},
						{ItemID: line.ItemID, LocationID: to, Quantity: q.CanonicalQty, UOM: q.CanonicalUOM, ReasonCode: "QC_" + string(role), CarryFrom: &source},
					},
					Override:       req.Override,
					IdempotencyKey: req.IdempotencyKey,
					Actor:          req.Actor,
				})
				if err != nil {
					return err
				}
				id := posted.Movement.ID
				event.MovementID = &id
				result.Movement = &posted.Movement
				result.Override = posted.Override
			} else if err := inventory.CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, uuid.Nil); err != nil {
				return err
			}
			if err := tx.InsertEvent(ctx, event); err != nil {
				return err
			}
			result.Event = &event
			return tx.RecordAudit(ctx, shared.AuditLog{
				TenantID:  req.TenantID,
				ActorType: actorType(req.Actor),
				ActorID:   req.Actor.ID,
				Action:    shared.AuditQCDispositionPost,
				Entity:    SourceType,
				EntityID:  event.ID.String(),
				Meta: map[string]any{
					"disposition":     string(req.Disposition),
					"receipt_line_id": line.ID.String(),
					"quantity":        q.CanonicalQty.String(),
					"uom":             q.CanonicalUOM,
					"from":            from.String(),
					"to":              to.String(),
					"released":        req.Release,
				},
				OccurredAt: event.OccurredAt,
			})
		})
		if err != nil || result.Movement == nil {
			return uuid.Nil, err
		}
		return result.Movement.ID, nil
	})
	if err != nil {
		return Result{}, err
	}
	if replayed {
		res := Result{Replayed: true}
		if movementID == uuid.Nil {
			return res, nil
		}
		movement, err := s.repo.GetMovement(ctx, req.TenantID, movementID)
		if err != nil {
			return Result{}, err
		}
		event, err := s.repo.GetEventByMovement(ctx, req.TenantID, movementID)
		if err != nil {
			return Result{}, err
		}
		res.Movement, res.Event = &movement, &event
		return res, nil
	}
	s.logger.Info("qc disposition recorded",
		slog.String("tenant_id", req.TenantID.String()),
		slog.String("receipt_line_id", req.ReceiptLineID.String()),
		slog.String("disposition", string(req.Disposition)),
		slog.Bool("released", req.Release),
		slog.String("quantity", result.Event.CanonicalQty.String()))
	return result, nil
}

// ListEvents returns the dispositions of a receipt line in occurrence order.
func (s *Service) ListEvents(ctx context.Context, tenantID, receiptLineID uuid.UUID) ([]Event, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	return s.repo.ListEvents(ctx, tenantID, receiptLineID)
}

func actorType(actor shared.Actor) shared.ActorType {
	if actor.Type == "" {
		return shared.ActorSystem
	}
	return actor.Type
}
