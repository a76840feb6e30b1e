package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error)
	GetBalance(ctx context.Context, tenantID uuid.UUID, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	LedgerTotals(ctx context.Context, filter BalanceFilter) ([]LedgerTotal, error)
}

// IdempotencyPort claims and releases idempotency keys outside the posting transaction.
type IdempotencyPort interface {
	Begin(ctx context.Context, tenantID uuid.UUID, key, requestHash string) (shared.IdempotencyDecision, error)
	Fail(ctx context.Context, tenantID uuid.UUID, key string) error
}

// PostingObserver receives posting outcomes, e.g. for metrics.
type PostingObserver interface {
	ObservePosting(kind, outcome string, duration time.Duration)
}

// Service coordinates generic inventory postings, reversals and balance reads.
type Service struct {
	repo     RepositoryPort
	poster   *Poster
	idem     IdempotencyPort
	logger   *slog.Logger
	observer PostingObserver
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, poster *Poster, idem IdempotencyPort, logger *slog.Logger, observer PostingObserver) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, poster: poster, idem: idem, logger: logger, observer: observer, validate: validator.New()}
}

// Poster returns the poster shared with orchestrators.
func (s *Service) Poster() *Poster {
	return s.poster
}

// PostMovement posts a movement for callers driven by external documents (issues, production,
// receipts). A request naming an already-posted source document returns that movement.
func (s *Service) PostMovement(ctx context.Context, req PostingRequest) (PostingResult, error) {
	started := time.Now()
	if err := s.validate.Struct(req); err != nil {
		return PostingResult{}, shared.ErrValidation.Wrap(err)
	}
	var result PostingResult
	id, replayed, err := RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if req.SourceID != nil && req.SourceType != "" {
				existing, err := tx.FindPostedMovementBySource(ctx, req.TenantID, req.SourceType, *req.SourceID, req.Type)
				if err == nil {
					result = PostingResult{Movement: existing, Replayed: true}
					return CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, existing.ID)
				}
				if !errors.Is(err, ErrMovementNotFound) {
					return err
				}
			}
			var err error
			result, err = s.poster.Post(ctx, tx, req)
			return err
		})
		return result.Movement.ID, err
	})
	s.observe(string(req.Type), started, err)
	if err != nil {
		return PostingResult{}, err
	}
	if replayed {
		movement, err := s.repo.GetMovement(ctx, req.TenantID, id)
		if err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Movement: movement, Replayed: true}, nil
	}
	if result.Override != nil {
		s.logger.Warn("inventory posted with negative override",
			slog.String("tenant_id", req.TenantID.String()),
			slog.String("movement_id", result.Movement.ID.String()),
			slog.String("reason", result.Override.Reason))
	}
	return result, nil
}

// ReverseRequest asks to compensate a posted movement.
type ReverseRequest struct {
	TenantID       uuid.UUID        `json:"tenant_id" validate:"required"`
	MovementID     uuid.UUID        `json:"movement_id" validate:"required"`
	Reason         string           `json:"reason" validate:"required"`
	Override       *OverrideRequest `json:"override,omitempty"`
	IdempotencyKey string           `json:"-"`
	Actor          shared.Actor     `json:"-"`
}

// SourceTypeMovement marks movements whose source document is another movement.
const SourceTypeMovement = "inventory_movement"

// ReverseMovement posts a compensating movement with negated lines and voids the original.
// Reversing an already voided movement returns the existing reversal.
func (s *Service) ReverseMovement(ctx context.Context, req ReverseRequest) (PostingResult, error) {
	started := time.Now()
	if err := s.validate.Struct(req); err != nil {
		return PostingResult{}, shared.ErrValidation.Wrap(err)
	}
	var result PostingResult
	id, replayed, err := RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			original, err := tx.GetMovementForUpdate(ctx, req.TenantID, req.MovementID)
			if err != nil {
				return err
			}
			if original.Status == MovementVoided {
				existing, err := tx.FindPostedMovementBySource(ctx, req.TenantID, SourceTypeMovement, original.ID, original.Type)
				if err != nil {
					return shared.ErrDocumentState.With("status", original.Status).Wrap(err)
				}
				result = PostingResult{Movement: existing, Replayed: true}
				return CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, existing.ID)
			}
			if original.Status != MovementPosted {
				return shared.ErrDocumentState.With("status", original.Status)
			}
			if original.ReversalOf != nil {
				return shared.ErrDocumentState.With("reason", "reversal movements cannot be reversed")
			}
			result, err = s.poster.Post(ctx, tx, reversalRequest(original, req))
			if err != nil {
				return err
			}
			if err := tx.UpdateMovementStatus(ctx, req.TenantID, original.ID, MovementVoided); err != nil {
				return err
			}
			return tx.RecordAudit(ctx, shared.AuditLog{
				TenantID:  req.TenantID,
				ActorType: actorTypeOf(req.Actor),
				ActorID:   req.Actor.ID,
				Action:    shared.AuditMovementReversed,
				Entity:    "inventory_movement",
				EntityID:  original.ID.String(),
				Meta: map[string]any{
					"reversal_id": result.Movement.ID.String(),
					"reason":      req.Reason,
				},
			})
		})
		return result.Movement.ID, err
	})
	s.observe("reversal", started, err)
	if err != nil {
		return PostingResult{}, err
	}
	if replayed {
		movement, err := s.repo.GetMovement(ctx, req.TenantID, id)
		if err != nil {
			return PostingResult{}, err
		}
		return PostingResult{Movement: movement, Replayed: true}, nil
	}
	return result, nil
}

func reversalRequest(original Movement, req ReverseRequest) PostingRequest {
	layering := LayerFIFO
	if v, ok := original.Metadata[MetaLayering].(string); ok && v != "" {
		layering = LayerPolicy(v)
	}
	lines := make([]LineRequest, len(original.Lines))
	for i, line := range original.Lines {
		cost := line.UnitCost
		lines[i] = LineRequest{
			ItemID:     line.ItemID,
			LocationID: line.LocationID,
			Quantity:   line.CanonicalQty.Neg(),
			UOM:        line.CanonicalUOM,
			UnitCost:   &cost,
			ReasonCode: line.ReasonCode,
			Note:       line.Note,
		}
	}
	if layering.Paired() {
		pairCarried(lines)
	}
	id := original.ID
	return PostingRequest{
		TenantID:       req.TenantID,
		Type:           original.Type,
		SourceType:     SourceTypeMovement,
		SourceID:       &id,
		Notes:          fmt.Sprintf("Reversal of %s: %s", original.Number, req.Reason),
		ExternalRef:    original.ExternalRef,
		Metadata:       map[string]any{"reversal_reason": req.Reason},
		Lines:          lines,
		Layering:       layering,
		Override:       req.Override,
		ReversalOf:     &id,
		IdempotencyKey: req.IdempotencyKey,
		Actor:          req.Actor,
	}
}

// pairCarried points every increasing line at the first unused decreasing line that mirrors it.
func pairCarried(lines []LineRequest) {
	used := make(map[int]bool)
	for i := range lines {
		if !lines[i].Quantity.IsPositive() {
			continue
		}
		for j := range lines {
			if used[j] || !lines[j].Quantity.IsNegative() || lines[j].ItemID != lines[i].ItemID {
				continue
			}
			if lines[j].Quantity.Neg().Equal(lines[i].Quantity) {
				from := j
				lines[i].CarryFrom = &from
				used[j] = true
				break
			}
		}
	}
}

// GetMovement returns a movement with its lines.
func (s *Service) GetMovement(ctx context.Context, tenantID, id uuid.UUID) (Movement, error) {
	if tenantID == uuid.Nil {
		return Movement{}, shared.ErrTenantRequired
	}
	return s.repo.GetMovement(ctx, tenantID, id)
}

// GetBalance returns the materialized balance of a key; a missing row is zero on-hand.
func (s *Service) GetBalance(ctx context.Context, tenantID uuid.UUID, key BalanceKey) (Balance, error) {
	if tenantID == uuid.Nil {
		return Balance{}, shared.ErrTenantRequired
	}
	balance, err := s.repo.GetBalance(ctx, tenantID, key)
	if err != nil {
		if isBalanceNotFound(err) {
			return Balance{TenantID: tenantID, ItemID: key.ItemID, LocationID: key.LocationID, UOM: key.UOM,
				OnHand: decimal.Zero, Reserved: decimal.Zero, Allocated: decimal.Zero}, nil
		}
		return Balance{}, err
	}
	return balance, nil
}

// ListBalances lists materialized balances.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	if filter.TenantID == uuid.Nil {
		return nil, shared.ErrTenantRequired
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 500
	}
	return s.repo.ListBalances(ctx, filter)
}

func (s *Service) observe(kind string, started time.Time, err error) {
	if s.observer == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = string(shared.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.observer.ObservePosting(kind, outcome, time.Since(started))
}

func actorTypeOf(actor shared.Actor) shared.ActorType {
	if actor.Type == "" {
		return shared.ActorSystem
	}
	return actor.Type
}
