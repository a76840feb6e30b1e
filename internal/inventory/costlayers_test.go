package inventory_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
)

func TestSortFIFOUsesSequenceAsTieBreak(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	layers := []inventory.CostLayer{
		{ID: uuid.New(), CreatedAt: at.Add(time.Hour), Seq: 1},
		{ID: uuid.New(), CreatedAt: at, Seq: 7},
		{ID: uuid.New(), CreatedAt: at, Seq: 3},
	}
	want := []uuid.UUID{layers[2].ID, layers[1].ID, layers[0].ID}
	inventory.SortFIFO(layers)
	for i, l := range layers {
		require.Equal(t, want[i], l.ID)
	}
}

func TestPlanConsumption(t *testing.T) {
	layers := []inventory.CostLayer{
		{ID: uuid.New(), RemainingQty: dec("10"), UnitCost: dec("1")},
		{ID: uuid.New(), RemainingQty: dec("0"), UnitCost: dec("9")},
		{ID: uuid.New(), RemainingQty: dec("20"), UnitCost: dec("2")},
		{ID: uuid.New(), RemainingQty: dec("30"), UnitCost: dec("3")},
	}
	slices, uncovered := inventory.PlanConsumption(layers, dec("20"))
	require.True(t, uncovered.IsZero())
	require.Len(t, slices, 2)
	require.Equal(t, layers[0].ID, slices[0].LayerID)
	require.True(t, slices[0].Quantity.Equal(dec("10")))
	require.Equal(t, layers[2].ID, slices[1].LayerID)
	require.True(t, slices[1].Quantity.Equal(dec("10")))

	slices, uncovered = inventory.PlanConsumption(layers, dec("75"))
	require.Len(t, slices, 3)
	require.True(t, uncovered.Equal(dec("15")))
}
