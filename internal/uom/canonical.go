package uom

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeCode trims and upper-cases a unit code so "ea" and " EA" resolve the same unit.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// Canonicalize converts qty expressed in uom into the item's canonical unit.
func Canonicalize(ref Reference, qty decimal.Decimal, uom string) (Quantity, error) {
	entered := NormalizeCode(uom)
	num, den, err := resolveFactor(ref, entered)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{
		EnteredQty:   qty,
		EnteredUOM:   entered,
		CanonicalQty: qty.Mul(num).Div(den),
		CanonicalUOM: NormalizeCode(ref.Item.CanonicalUOM),
		Dimension:    ref.Item.Dimension,
	}, nil
}

// FromCanonical converts a canonical quantity back into uom.
func FromCanonical(ref Reference, canonicalQty decimal.Decimal, uom string) (decimal.Decimal, error) {
	num, den, err := resolveFactor(ref, NormalizeCode(uom))
	if err != nil {
		return decimal.Zero, err
	}
	return canonicalQty.Mul(den).Div(num), nil
}

// resolveFactor returns num and den such that canonical = entered * num / den. The ratio is
// kept unreduced so an inverse conversion divides once instead of multiplying by a
// truncated reciprocal. Resolution order: identity, item-specific conversion (direct or
// inverse), item conversion followed by a dimension conversion, then a pure
// dimension-table conversion.
func resolveFactor(ref Reference, entered string) (num, den decimal.Decimal, err error) {
	one := decimal.NewFromInt(1)
	canonical := NormalizeCode(ref.Item.CanonicalUOM)
	if entered == "" {
		return decimal.Zero, one, ErrUnknown.With("uom", entered)
	}
	if entered == canonical {
		return one, one, nil
	}
	if n, d, ok := itemFactor(ref.Conversions, entered, canonical); ok {
		return n, d, nil
	}

	canonUnit, canonKnown := lookupUnit(ref.Units, canonical)
	for _, conv := range ref.Conversions {
		if NormalizeCode(conv.FromUOM) != entered || !conv.Factor.IsPositive() {
			continue
		}
		via, ok := lookupUnit(ref.Units, NormalizeCode(conv.ToUOM))
		if ok && canonKnown && via.Dimension == canonUnit.Dimension {
			return conv.Factor.Mul(via.ToBase), canonUnit.ToBase, nil
		}
	}

	enteredUnit, enteredKnown := lookupUnit(ref.Units, entered)
	if !enteredKnown && !hasItemUnit(ref.Conversions, entered) {
		return decimal.Zero, one, ErrUnknown.With("uom", entered)
	}
	if !enteredKnown || !canonKnown || enteredUnit.Dimension != canonUnit.Dimension {
		return decimal.Zero, one, ErrDimensionMismatch.With("uom", entered).With("canonical_uom", canonical)
	}
	return enteredUnit.ToBase, canonUnit.ToBase, nil
}

func itemFactor(convs []Conversion, from, to string) (num, den decimal.Decimal, ok bool) {
	one := decimal.NewFromInt(1)
	for _, conv := range convs {
		if !conv.Factor.IsPositive() {
			continue
		}
		cf, ct := NormalizeCode(conv.FromUOM), NormalizeCode(conv.ToUOM)
		if cf == from && ct == to {
			return conv.Factor, one, true
		}
		if cf == to && ct == from {
			return one, conv.Factor, true
		}
	}
	return decimal.Zero, one, false
}

func hasItemUnit(convs []Conversion, code string) bool {
	for _, conv := range convs {
		if NormalizeCode(conv.FromUOM) == code || NormalizeCode(conv.ToUOM) == code {
			return true
		}
	}
	return false
}

func lookupUnit(units map[string]Unit, code string) (Unit, bool) {
	u, ok := units[code]
	if !ok || !u.ToBase.IsPositive() {
		return Unit{}, false
	}
	return u, true
}
