package inventorytest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/uom"
)

// Catalog is an in-memory uom.Source. Items are global across tenants.
type Catalog struct {
	mu    sync.RWMutex
	items map[uuid.UUID]uom.Reference
	units map[string]uom.Unit
}

// NewCatalog returns a catalog with a small global unit table.
func NewCatalog() *Catalog {
	return &Catalog{
		items: map[uuid.UUID]uom.Reference{},
		units: map[string]uom.Unit{
			"EA": {Code: "EA", Dimension: uom.DimensionCount, ToBase: decimal.NewFromInt(1)},
			"DZ": {Code: "DZ", Dimension: uom.DimensionCount, ToBase: decimal.NewFromInt(12)},
			"G":  {Code: "G", Dimension: uom.DimensionMass, ToBase: decimal.NewFromInt(1)},
			"KG": {Code: "KG", Dimension: uom.DimensionMass, ToBase: decimal.NewFromInt(1000)},
			"ML": {Code: "ML", Dimension: uom.DimensionVolume, ToBase: decimal.NewFromInt(1)},
			"L":  {Code: "L", Dimension: uom.DimensionVolume, ToBase: decimal.NewFromInt(1000)},
		},
	}
}

// AddItem registers an item with its canonical unit and item-specific conversions.
func (c *Catalog) AddItem(itemID uuid.UUID, canonical string, dimension uom.Dimension, conversions ...uom.Conversion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[itemID] = uom.Reference{
		Item:        uom.ItemUOM{ItemID: itemID, CanonicalUOM: canonical, Dimension: dimension},
		Conversions: conversions,
	}
}

// LoadReference implements uom.Source.
func (c *Catalog) LoadReference(ctx context.Context, tenantID, itemID uuid.UUID) (uom.Reference, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.items[itemID]
	if !ok {
		return uom.Reference{}, uom.ErrItemNotFound.With("item_id", itemID)
	}
	ref.Units = c.units
	return ref, nil
}
