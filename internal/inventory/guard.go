package inventory

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Demand is the total decrease requested against one key together with what is available.
type Demand struct {
	Key       BalanceKey
	Requested decimal.Decimal
	Available decimal.Decimal
}

// OverridePolicy decides whether an actor may drive stock negative.
type OverridePolicy interface {
	CanOverride(actor shared.Actor) bool
}

// PermissionPolicy grants overrides to actors holding inventory.override_negative.
type PermissionPolicy struct{}

// CanOverride implements OverridePolicy.
func (PermissionPolicy) CanOverride(actor shared.Actor) bool {
	return actor.Can(shared.PermInventoryOverrideNegative)
}

// Guard validates decreases against available stock and admits negatives only through an
// authorized override.
type Guard struct {
	policy OverridePolicy
}

// NewGuard builds a Guard. A nil policy falls back to PermissionPolicy.
func NewGuard(policy OverridePolicy) Guard {
	if policy == nil {
		policy = PermissionPolicy{}
	}
	return Guard{policy: policy}
}

// Check validates every demand. It returns override metadata only when an override was
// needed and granted.
func (g Guard) Check(demands []Demand, override *OverrideRequest, actor shared.Actor) (*OverrideMetadata, error) {
	var shortfalls []shared.Shortfall
	for _, d := range demands {
		if d.Available.GreaterThanOrEqual(d.Requested) {
			continue
		}
		shortfalls = append(shortfalls, shared.Shortfall{
			ItemID:     d.Key.ItemID,
			LocationID: d.Key.LocationID,
			UOM:        d.Key.UOM,
			Requested:  d.Requested,
			Available:  d.Available,
			Shortfall:  d.Requested.Sub(d.Available),
		})
	}
	if len(shortfalls) == 0 {
		return nil, nil
	}
	sort.Slice(shortfalls, func(i, j int) bool {
		a, b := shortfalls[i], shortfalls[j]
		if a.ItemID != b.ItemID {
			return a.ItemID.String() < b.ItemID.String()
		}
		return a.LocationID.String() < b.LocationID.String()
	})
	if override == nil || !override.Requested {
		return nil, ErrInsufficientStock.WithShortfalls(shortfalls)
	}
	reason := strings.TrimSpace(override.Reason)
	if reason == "" {
		return nil, ErrOverrideRequiresReason
	}
	if !g.policy.CanOverride(actor) {
		return nil, ErrOverrideNotAllowed.With("actor_id", actor.ID)
	}
	return &OverrideMetadata{
		Requested:  true,
		Reason:     reason,
		Reference:  strings.TrimSpace(override.Reference),
		ActorID:    actor.ID,
		Shortfalls: shortfalls,
	}, nil
}
