package inventory_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

type allowAll struct{}

func (allowAll) CanOverride(shared.Actor) bool { return true }

func TestGuardCheck(t *testing.T) {
	short := inventory.Demand{
		Key:       inventory.BalanceKey{ItemID: uuid.New(), LocationID: uuid.New(), UOM: "EA"},
		Requested: dec("5"),
		Available: dec("2"),
	}
	covered := inventory.Demand{
		Key:       inventory.BalanceKey{ItemID: uuid.New(), LocationID: uuid.New(), UOM: "KG"},
		Requested: dec("1"),
		Available: dec("1"),
	}

	meta, err := inventory.NewGuard(nil).Check([]inventory.Demand{covered}, nil, shared.Actor{})
	require.NoError(t, err)
	require.Nil(t, meta)

	_, err = inventory.NewGuard(nil).Check([]inventory.Demand{covered, short}, &inventory.OverrideRequest{}, shared.Actor{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	de, _ := shared.AsError(err)
	require.Len(t, de.Shortfalls, 1)
	require.True(t, de.Shortfalls[0].Shortfall.Equal(dec("3")))

	_, err = inventory.NewGuard(allowAll{}).Check([]inventory.Demand{short}, &inventory.OverrideRequest{Requested: true, Reason: "   "}, shared.Actor{})
	require.ErrorIs(t, err, inventory.ErrOverrideRequiresReason)

	meta, err = inventory.NewGuard(allowAll{}).Check([]inventory.Demand{short}, &inventory.OverrideRequest{Requested: true, Reason: " damaged ", Reference: "INC-4"}, shared.Actor{ID: "u9"})
	require.NoError(t, err)
	require.Equal(t, "damaged", meta.Reason)
	require.Equal(t, "INC-4", meta.Reference)
	require.Equal(t, "u9", meta.ActorID)
	require.Len(t, meta.Shortfalls, 1)
}
