package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// RunIdempotent executes run at most once per (tenant, key, payload). run must post inside its
// own transaction and finalise the key there through TxRepository.CompleteIdempotency, usually
// via Poster.Post or CompleteReplay. A replay returns the movement id recorded by the first
// successful attempt without calling run. An empty key runs unguarded.
func RunIdempotent(ctx context.Context, store IdempotencyPort, tenantID uuid.UUID, key string, payload any, run func(context.Context) (uuid.UUID, error)) (uuid.UUID, bool, error) {
	if key == "" || store == nil {
		id, err := run(ctx)
		return id, false, err
	}
	if tenantID == uuid.Nil {
		return uuid.Nil, false, shared.ErrTenantRequired
	}
	hash, err := shared.RequestHash(payload)
	if err != nil {
		return uuid.Nil, false, err
	}
	decision, err := store.Begin(ctx, tenantID, key, hash)
	if err != nil {
		return uuid.Nil, false, err
	}
	if decision.Outcome == shared.IdempotencyReplay {
		id, err := shared.ParseMovementRef(decision.Record.ResponseRef)
		if err != nil {
			return uuid.Nil, false, err
		}
		return id, true, nil
	}
	id, err := run(ctx)
	if err != nil {
		if failErr := store.Fail(context.WithoutCancel(ctx), tenantID, key); failErr != nil {
			return uuid.Nil, false, errors.Join(err, failErr)
		}
		return uuid.Nil, false, err
	}
	return id, false, nil
}

// CompleteReplay finalises the key when a retried request resolves to an already-posted movement.
func CompleteReplay(ctx context.Context, tx TxRepository, tenantID uuid.UUID, key string, movementID uuid.UUID) error {
	if key == "" {
		return nil
	}
	return tx.CompleteIdempotency(ctx, tenantID, key, shared.IdempotencySucceeded, shared.MovementRef(movementID))
}
