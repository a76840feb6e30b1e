// Package uom converts entered quantities into each item's canonical unit of measure.
package uom

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Dimension is the physical dimension a unit measures.
type Dimension string

const (
	DimensionMass   Dimension = "mass"
	DimensionVolume Dimension = "volume"
	DimensionCount  Dimension = "count"
	DimensionLength Dimension = "length"
	DimensionArea   Dimension = "area"
	DimensionTime   Dimension = "time"
)

// Unit is a globally registered unit. ToBase converts one unit into the dimension's base unit.
type Unit struct {
	Code      string          `json:"code"`
	Dimension Dimension       `json:"dimension"`
	ToBase    decimal.Decimal `json:"to_base"`
}

// ItemUOM carries the canonical unit and dimension of an item.
type ItemUOM struct {
	ItemID       uuid.UUID `json:"item_id"`
	CanonicalUOM string    `json:"canonical_uom"`
	Dimension    Dimension `json:"dimension"`
}

// Conversion is an item-specific factor: one FromUOM equals Factor ToUOM.
type Conversion struct {
	FromUOM string          `json:"from_uom"`
	ToUOM   string          `json:"to_uom"`
	Factor  decimal.Decimal `json:"factor"`
}

// Reference is the reference data needed to canonicalize quantities of one item.
type Reference struct {
	Item        ItemUOM         `json:"item"`
	Conversions []Conversion    `json:"conversions"`
	Units       map[string]Unit `json:"units"`
}

// Quantity is an entered quantity alongside its canonical form.
type Quantity struct {
	EnteredQty   decimal.Decimal
	EnteredUOM   string
	CanonicalQty decimal.Decimal
	CanonicalUOM string
	Dimension    Dimension
}

var (
	// ErrUnknown indicates the unit is not registered for the item or globally.
	ErrUnknown = shared.NewError(shared.KindValidation, "UOM_UNKNOWN", "unit of measure is not registered")
	// ErrDimensionMismatch indicates no conversion path between the units exists.
	ErrDimensionMismatch = shared.NewError(shared.KindValidation, "UOM_DIMENSION_MISMATCH", "no conversion path to the canonical unit")
	// ErrItemNotFound indicates the item has no UOM reference data for the tenant.
	ErrItemNotFound = shared.NewError(shared.KindNotFound, "ITEM_NOT_FOUND", "item not found")
)
