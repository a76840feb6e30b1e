package httpx

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

var (
	errActorRequired = shared.NewError(shared.KindAuthorization, "ACTOR_REQUIRED", "authenticated actor required")
	errForbidden     = shared.NewError(shared.KindAuthorization, "FORBIDDEN", "permission denied")
)

// RequirePermission rejects requests whose actor lacks perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				RespondError(w, errActorRequired)
				return
			}
			if !actor.Can(perm) {
				RespondError(w, errForbidden.With("permission", perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Scope returns the tenant and actor attached by the gateway middleware.
func Scope(r *http.Request) (uuid.UUID, shared.Actor, error) {
	tenantID, ok := shared.TenantFromContext(r.Context())
	if !ok {
		return uuid.Nil, shared.Actor{}, shared.ErrTenantRequired
	}
	actor, _ := shared.ActorFromContext(r.Context())
	return tenantID, actor, nil
}

// IdempotencyKey reads the Idempotency-Key header.
func IdempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// PathUUID parses a chi URL parameter value as a UUID.
func PathUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.ErrValidation.With("id", raw).Wrap(err)
	}
	return id, nil
}
