package shared

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/blake2b"
)

// IdempotencyStatus is the lifecycle state of an idempotency key.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencySucceeded  IdempotencyStatus = "SUCCEEDED"
	IdempotencyFailed     IdempotencyStatus = "FAILED"
)

// IdempotencyRecord is a persisted idempotency key.
type IdempotencyRecord struct {
	TenantID    uuid.UUID
	Key         string
	RequestHash string
	Status      IdempotencyStatus
	ResponseRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IdempotencyOutcome tells the caller what to do after Begin.
type IdempotencyOutcome int

const (
	// IdempotencyProceed means the caller owns the key and must execute the request.
	IdempotencyProceed IdempotencyOutcome = iota + 1
	// IdempotencyReplay means a previous attempt succeeded; re-derive its response from ResponseRef.
	IdempotencyReplay
)

// IdempotencyDecision is the result of Begin.
type IdempotencyDecision struct {
	Outcome   IdempotencyOutcome
	Record    IdempotencyRecord
	Reclaimed bool
}

var (
	// ErrIdempotencyHashMismatch indicates the key was reused with a different payload.
	ErrIdempotencyHashMismatch = NewError(KindValidation, "IDEMPOTENCY_HASH_MISMATCH", "idempotency key reused with a different request")
	// ErrIdempotencyInProgress indicates a concurrent duplicate is still running.
	ErrIdempotencyInProgress = NewError(KindStateConflict, "IDEMPOTENCY_IN_PROGRESS", "request with this idempotency key is in progress")
	// ErrIdempotencyNotClaimed indicates a completion for a key this attempt no longer holds.
	ErrIdempotencyNotClaimed = NewError(KindStateConflict, "IDEMPOTENCY_NOT_CLAIMED", "idempotency key is not in progress")
)

// DecideIdempotency applies the key state machine to an existing record.
// A stale IN_PROGRESS record (older than staleAfter, when positive) may be reclaimed.
func DecideIdempotency(existing IdempotencyRecord, requestHash string, now time.Time, staleAfter time.Duration) (IdempotencyDecision, error) {
	if existing.RequestHash != requestHash {
		return IdempotencyDecision{}, ErrIdempotencyHashMismatch.With("key", existing.Key)
	}
	switch existing.Status {
	case IdempotencySucceeded:
		return IdempotencyDecision{Outcome: IdempotencyReplay, Record: existing}, nil
	case IdempotencyFailed:
		existing.Status = IdempotencyInProgress
		existing.UpdatedAt = now
		return IdempotencyDecision{Outcome: IdempotencyProceed, Record: existing, Reclaimed: true}, nil
	case IdempotencyInProgress:
		if staleAfter > 0 && now.Sub(existing.UpdatedAt) > staleAfter {
			existing.UpdatedAt = now
			return IdempotencyDecision{Outcome: IdempotencyProceed, Record: existing, Reclaimed: true}, nil
		}
		return IdempotencyDecision{}, ErrIdempotencyInProgress.With("key", existing.Key)
	default:
		return IdempotencyDecision{}, fmt.Errorf("idempotency: unknown status %q", existing.Status)
	}
}

// RequestHash fingerprints a request payload.
func RequestHash(payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("idempotency: hash payload: %w", err)
	}
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

const movementRefPrefix = "inventory_movement:"

// MovementRef formats the response reference of a posted movement.
func MovementRef(movementID uuid.UUID) string {
	return movementRefPrefix + movementID.String()
}

// ParseMovementRef extracts the movement id from a response reference.
func ParseMovementRef(ref string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(ref, movementRefPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("idempotency: unsupported response ref %q", ref)
	}
	return uuid.Parse(raw)
}

// IdempotencyStore persists idempotency keys in PostgreSQL.
type IdempotencyStore struct {
	pool       *pgxpool.Pool
	staleAfter time.Duration
	now        func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool, staleAfter time.Duration) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, staleAfter: staleAfter, now: func() time.Time { return time.Now().UTC() }}
}

// Begin claims the key for this attempt in its own committed transaction.
func (s *IdempotencyStore) Begin(ctx context.Context, tenantID uuid.UUID, key, requestHash string) (IdempotencyDecision, error) {
	if s == nil {
		return IdempotencyDecision{}, errors.New("idempotency store not initialised")
	}
	if key == "" {
		return IdempotencyDecision{}, errors.New("idempotency key required")
	}
	now := s.now()
	var decision IdempotencyDecision
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO idempotency_keys (tenant_id, key, request_hash, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5) ON CONFLICT (tenant_id, key) DO NOTHING`, tenantID, key, requestHash, string(IdempotencyInProgress), now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			decision = IdempotencyDecision{Outcome: IdempotencyProceed, Record: IdempotencyRecord{
				TenantID: tenantID, Key: key, RequestHash: requestHash, Status: IdempotencyInProgress, CreatedAt: now, UpdatedAt: now,
			}}
			return nil
		}
		var rec IdempotencyRecord
		var status string
		var ref *string
		err = tx.QueryRow(ctx, `SELECT tenant_id, key, request_hash, status, response_ref, created_at, updated_at
FROM idempotency_keys WHERE tenant_id=$1 AND key=$2 FOR UPDATE`, tenantID, key).
			Scan(&rec.TenantID, &rec.Key, &rec.RequestHash, &status, &ref, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return err
		}
		rec.Status = IdempotencyStatus(status)
		if ref != nil {
			rec.ResponseRef = *ref
		}
		decision, err = DecideIdempotency(rec, requestHash, now, s.staleAfter)
		if err != nil {
			return err
		}
		if decision.Reclaimed {
			_, err = tx.Exec(ctx, `UPDATE idempotency_keys SET status=$3, response_ref=NULL, updated_at=$4 WHERE tenant_id=$1 AND key=$2`,
				tenantID, key, string(IdempotencyInProgress), now)
		}
		return err
	})
	if err != nil {
		return IdempotencyDecision{}, err
	}
	return decision, nil
}

// Fail marks an in-progress key as failed after a rolled back attempt.
func (s *IdempotencyStore) Fail(ctx context.Context, tenantID uuid.UUID, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET status=$3, updated_at=NOW() WHERE tenant_id=$1 AND key=$2 AND status=$4`,
		tenantID, key, string(IdempotencyFailed), string(IdempotencyInProgress))
	return err
}

// CompleteIdempotency finalises an in-progress key inside the caller's transaction. It fails
// with ErrIdempotencyNotClaimed when the key was already finalised by another attempt.
func CompleteIdempotency(ctx context.Context, db Execer, tenantID uuid.UUID, key string, status IdempotencyStatus, responseRef string) error {
	if key == "" {
		return nil
	}
	tag, err := db.Exec(ctx, `UPDATE idempotency_keys SET status=$3, response_ref=$4, updated_at=NOW()
WHERE tenant_id=$1 AND key=$2 AND status=$5`,
		tenantID, key, string(status), responseRef, string(IdempotencyInProgress))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrIdempotencyNotClaimed.With("key", key)
	}
	return nil
}

// Cleanup removes terminal entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := s.now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE updated_at < $1 AND status <> $2`, cutoff, string(IdempotencyInProgress))
	return err
}
