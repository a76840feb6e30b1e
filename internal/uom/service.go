package uom

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source loads UOM reference data for an item.
type Source interface {
	LoadReference(ctx context.Context, tenantID, itemID uuid.UUID) (Reference, error)
}

// Service canonicalizes quantities using reference data from a Source.
type Service struct {
	source Source
}

// NewService constructs Service.
func NewService(source Source) *Service {
	return &Service{source: source}
}

// Canonicalize returns the entered quantity together with its canonical form.
func (s *Service) Canonicalize(ctx context.Context, tenantID, itemID uuid.UUID, qty decimal.Decimal, uom string) (Quantity, error) {
	ref, err := s.source.LoadReference(ctx, tenantID, itemID)
	if err != nil {
		return Quantity{}, err
	}
	return Canonicalize(ref, qty, uom)
}

// FromCanonical converts a canonical quantity of the item into uom.
func (s *Service) FromCanonical(ctx context.Context, tenantID, itemID uuid.UUID, canonicalQty decimal.Decimal, uom string) (decimal.Decimal, error) {
	ref, err := s.source.LoadReference(ctx, tenantID, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return FromCanonical(ref, canonicalQty, uom)
}
