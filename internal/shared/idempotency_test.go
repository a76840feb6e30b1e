package shared

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestDecideIdempotency(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := IdempotencyRecord{Key: "k1", RequestHash: "h1", UpdatedAt: now.Add(-time.Minute)}

	t.Run("succeeded replays", func(t *testing.T) {
		rec := base
		rec.Status = IdempotencySucceeded
		rec.ResponseRef = "inventory_movement:abc"
		decision, err := DecideIdempotency(rec, "h1", now, time.Hour)
		require.NoError(t, err)
		require.Equal(t, IdempotencyReplay, decision.Outcome)
		require.Equal(t, "inventory_movement:abc", decision.Record.ResponseRef)
	})

	t.Run("in progress conflicts", func(t *testing.T) {
		rec := base
		rec.Status = IdempotencyInProgress
		_, err := DecideIdempotency(rec, "h1", now, time.Hour)
		require.ErrorIs(t, err, ErrIdempotencyInProgress)
	})

	t.Run("stale in progress is reclaimed", func(t *testing.T) {
		rec := base
		rec.Status = IdempotencyInProgress
		rec.UpdatedAt = now.Add(-2 * time.Hour)
		decision, err := DecideIdempotency(rec, "h1", now, time.Hour)
		require.NoError(t, err)
		require.Equal(t, IdempotencyProceed, decision.Outcome)
		require.True(t, decision.Reclaimed)
		require.Equal(t, now, decision.Record.UpdatedAt)
	})

	t.Run("failed may retry", func(t *testing.T) {
		rec := base
		rec.Status = IdempotencyFailed
		decision, err := DecideIdempotency(rec, "h1", now, 0)
		require.NoError(t, err)
		require.Equal(t, IdempotencyProceed, decision.Outcome)
		require.Equal(t, IdempotencyInProgress, decision.Record.Status)
	})

	t.Run("hash mismatch always fails", func(t *testing.T) {
		rec := base
		rec.Status = IdempotencySucceeded
		_, err := DecideIdempotency(rec, "other", now, time.Hour)
		require.ErrorIs(t, err, ErrIdempotencyHashMismatch)
	})
}

func TestRequestHashIsStable(t *testing.T) {
	type payload struct {
		Item string
		Qty  string
	}
	a, err := RequestHash(payload{Item: "x", Qty: "5"})
	require.NoError(t, err)
	b, err := RequestHash(payload{Item: "x", Qty: "5"})
	require.NoError(t, err)
	c, err := RequestHash(payload{Item: "x", Qty: "6"})
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestMovementRefRoundTrip(t *testing.T) {
	id := uuid.New()
	parsed, err := ParseMovementRef(MovementRef(id))
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseMovementRef("journal:1")
	require.Error(t, err)
}

type recordingExecer struct {
	sql  string
	args []any
	tag  string
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag(e.tag), nil
}

func TestCompleteIdempotencyRequiresInProgress(t *testing.T) {
	ctx := context.Background()
	tenant := uuid.New()

	db := &recordingExecer{tag: "UPDATE 1"}
	require.NoError(t, CompleteIdempotency(ctx, db, tenant, "k1", IdempotencySucceeded, "movement:x"))
	require.Contains(t, db.sql, "status=$5")
	require.Equal(t, string(IdempotencyInProgress), db.args[4])

	db = &recordingExecer{tag: "UPDATE 0"}
	err := CompleteIdempotency(ctx, db, tenant, "k1", IdempotencySucceeded, "movement:x")
	require.ErrorIs(t, err, ErrIdempotencyNotClaimed)
	require.Equal(t, KindStateConflict, KindOf(err))

	require.NoError(t, CompleteIdempotency(ctx, &recordingExecer{}, tenant, "", IdempotencySucceeded, ""))
}
