// Package counts posts cycle count variances to the ledger.
package counts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	inventory.TxRepository
	InsertCount(ctx context.Context, count Count) error
	GetCountForUpdate(ctx context.Context, tenantID, id uuid.UUID) (Count, error)
	MarkCountPosted(ctx context.Context, count Count) error
	MarkCountCanceled(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCount(ctx context.Context, tenantID, id uuid.UUID) (Count, error)
	GetMovement(ctx context.Context, tenantID, id uuid.UUID) (inventory.Movement, error)
}

// Service coordinates cycle counts.
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

// Create stores a draft count.
func (s *Service) Create(ctx context.Context, in CreateInput) (Count, error) {
	if err := s.validate.Struct(in); err != nil {
		return Count{}, shared.ErrValidation.Wrap(err)
	}
	now := s.now()
	count := Count{
		ID:        uuid.New(),
		TenantID:  in.TenantID,
		Status:    StatusDraft,
		CountedAt: in.CountedAt,
		Notes:     in.Notes,
		CreatedBy: in.Actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if count.CountedAt.IsZero() {
		count.CountedAt = now
	}
	seen := make(map[inventory.LockKey]bool, len(in.Lines))
	for i, l := range in.Lines {
		if l.CountedQty.IsNegative() {
			return Count{}, ErrNegativeCount.With("line", i+1)
		}
		key := inventory.LockKey{ItemID: l.ItemID, LocationID: l.LocationID}
		if seen[key] {
			return Count{}, shared.ErrValidation.With("line", i+1).With("reason", "item counted twice at location")
		}
		seen[key] = true
		count.Lines = append(count.Lines, Line{
			ID:         uuid.New(),
			LineNo:     i + 1,
			ItemID:     l.ItemID,
			LocationID: l.LocationID,
			CountedQty: l.CountedQty,
			UOM:        l.UOM,
			UnitCost:   l.UnitCost,
			ReasonCode: l.ReasonCode,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextDocumentNumber(ctx, in.TenantID, NumberPrefix)
		if err != nil {
			return err
		}
		count.Number = number
		return tx.InsertCount(ctx, count)
	})
	if err != nil {
		return Count{}, err
	}
	return count, nil
}

// Get returns a count with its lines.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (Count, error) {
	if tenantID == uuid.Nil {
		return Count{}, shared.ErrTenantRequired
	}
	return s.repo.GetCount(ctx, tenantID, id)
}

// Post computes the variance of each line against on-hand under the key locks and posts the
// non-zero variances as one count movement. Posting an already-posted count returns it unchanged.
func (s *Service) Post(ctx context.Context, req PostRequest) (Result, error) {
	if req.TenantID == uuid.Nil {
		return Result{}, shared.ErrTenantRequired
	}
	var result Result
	movementID, replayed, err := inventory.RunIdempotent(ctx, s.idem, req.TenantID, req.IdempotencyKey, req, func(ctx context.Context) (uuid.UUID, error) {
		result = Result{}
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			count, err := tx.GetCountForUpdate(ctx, req.TenantID, req.CountID)
			if err != nil {
				return err
			}
			switch count.Status {
			case StatusPosted:
				result = Result{Count: count, Replayed: true}
				id := uuid.Nil
				if count.MovementID != nil {
					movement, err := tx.GetMovementForUpdate(ctx, req.TenantID, *count.MovementID)
					if err != nil {
						return err
					}
					result.Movement = &movement
					id = movement.ID
				}
				return inventory.CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, id)
			case StatusDraft:
			default:
				return shared.ErrDocumentState.With("count_id", count.ID).With("status", count.Status)
			}
			return s.post(ctx, tx, &count, req, &result)
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
		count, err := s.repo.GetCount(ctx, req.TenantID, req.CountID)
		if err != nil {
			return Result{}, err
		}
		res := Result{Count: count, Replayed: true}
		if movementID != uuid.Nil {
			movement, err := s.repo.GetMovement(ctx, req.TenantID, movementID)
			if err != nil {
				return Result{}, err
			}
			res.Movement = &movement
		}
		return res, nil
	}
	if !result.Replayed {
		s.logger.Info("count posted",
			slog.String("tenant_id", req.TenantID.String()),
			slog.String("number", result.Count.Number),
			slog.Bool("variance", result.Movement != nil))
	}
	return result, nil
}

func (s *Service) post(ctx context.Context, tx TxRepository, count *Count, req PostRequest, result *Result) error {
	keys := make([]inventory.LockKey, len(count.Lines))
	for i, l := range count.Lines {
		keys[i] = inventory.LockKey{ItemID: l.ItemID, LocationID: l.LocationID}
	}
	if err := tx.LockKeys(ctx, req.TenantID, inventory.SortLockKeys(keys)); err != nil {
		return err
	}

	var lines []inventory.LineRequest
	for i := range count.Lines {
		l := &count.Lines[i]
		q, err := s.poster.Canonicalize(ctx, req.TenantID, l.ItemID, l.CountedQty, l.UOM)
		if err != nil {
			return err
		}
		key := inventory.BalanceKey{ItemID: l.ItemID, LocationID: l.LocationID, UOM: q.CanonicalUOM}
		balance, err := tx.GetBalanceForUpdate(ctx, req.TenantID, key)
		if err != nil && !errors.Is(err, inventory.ErrBalanceNotFound) {
			return err
		}
		system := balance.OnHand
		variance := q.CanonicalQty.Sub(system)
		l.SystemQty, l.VarianceQty = &system, &variance
		if variance.IsZero() {
			continue
		}
		reason := l.ReasonCode
		if reason == "" {
			reason = DefaultReasonCode
		}
		lines = append(lines, inventory.LineRequest{
			ItemID:     l.ItemID,
			LocationID: l.LocationID,
			Quantity:   variance,
			UOM:        q.CanonicalUOM,
			UnitCost:   canonicalCost(l.UnitCost, q.EnteredQty, q.CanonicalQty),
			ReasonCode: reason,
		})
	}

	now := s.now()
	count.Status, count.PostedAt, count.UpdatedAt = StatusPosted, &now, now
	if len(lines) > 0 {
		id := count.ID
		posted, err := s.poster.Post(ctx, tx, inventory.PostingRequest{
			TenantID:       req.TenantID,
			Type:           inventory.MovementCount,
			SourceType:     SourceType,
			SourceID:       &id,
			OccurredAt:     count.CountedAt,
			Notes:          count.Notes,
			ExternalRef:    count.Number,
			Lines:          lines,
			Override:       req.Override,
			IdempotencyKey: req.IdempotencyKey,
			Actor:          req.Actor,
		})
		if err != nil {
			return err
		}
		movementID := posted.Movement.ID
		count.MovementID = &movementID
		result.Movement = &posted.Movement
		result.Override = posted.Override
	} else if err := inventory.CompleteReplay(ctx, tx, req.TenantID, req.IdempotencyKey, uuid.Nil); err != nil {
		return err
	}
	if err := tx.MarkCountPosted(ctx, *count); err != nil {
		return err
	}
	result.Count = *count
	return nil
}

// canonicalCost converts a per-entered-unit cost to a per-canonical-unit cost.
func canonicalCost(cost *decimal.Decimal, entered, canonical decimal.Decimal) *decimal.Decimal {
	if cost == nil || canonical.IsZero() {
		return nil
	}
	c := cost.Mul(entered).DivRound(canonical, 6)
	return &c
}

// Cancel cancels a draft count. Canceling a canceled count is a no-op.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (Count, error) {
	if req.TenantID == uuid.Nil {
		return Count{}, shared.ErrTenantRequired
	}
	var count Count
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		count, err = tx.GetCountForUpdate(ctx, req.TenantID, req.CountID)
		if err != nil {
			return err
		}
		switch count.Status {
		case StatusCanceled:
			return nil
		case StatusDraft:
		default:
			return shared.ErrDocumentState.With("count_id", count.ID).With("status", count.Status)
		}
		now := s.now()
		if err := tx.MarkCountCanceled(ctx, req.TenantID, count.ID, now); err != nil {
			return err
		}
		count.Status, count.CanceledAt, count.UpdatedAt = StatusCanceled, &now, now
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
			EntityID:   count.ID.String(),
			Meta:       map[string]any{"number": count.Number, "reason": req.Reason},
			OccurredAt: now,
		})
	})
	if err != nil {
		return Count{}, err
	}
	return count, nil
}
