package shared

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// ActorType distinguishes humans from automated callers in audit records.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorJob    ActorType = "job"
)

// Actor identifies who performs an inventory action.
type Actor struct {
	Type        ActorType
	ID          string
	Permissions []string
}

// SystemActor returns an actor for background processes.
func SystemActor(id string) Actor {
	return Actor{Type: ActorSystem, ID: id}
}

// Can reports whether the actor holds the permission.
func (a Actor) Can(permission string) bool {
	return slices.Contains(a.Permissions, permission)
}

type tenantContextKey struct{}

type actorContextKey struct{}

// ContextWithTenant stores the tenant in context.
func ContextWithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext extracts the tenant from context.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
