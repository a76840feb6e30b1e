package db

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Predicates composes a parameterised WHERE clause. The tenant predicate is always first,
// so a query built from Predicates cannot escape its tenant scope.
type Predicates struct {
	clauses []string
	args    []any
}

// ForTenant starts a predicate list scoped to tenantID on the given column.
func ForTenant(column string, tenantID uuid.UUID) *Predicates {
	p := &Predicates{}
	return p.Eq(column, tenantID)
}

// Eq adds column = value.
func (p *Predicates) Eq(column string, value any) *Predicates {
	return p.add(column, "=", value)
}

// Lte adds column <= value.
func (p *Predicates) Lte(column string, value any) *Predicates {
	return p.add(column, "<=", value)
}

// Gte adds column >= value.
func (p *Predicates) Gte(column string, value any) *Predicates {
	return p.add(column, ">=", value)
}

// EqIf adds column = value when ok is true.
func (p *Predicates) EqIf(ok bool, column string, value any) *Predicates {
	if !ok {
		return p
	}
	return p.Eq(column, value)
}

// LteIf adds column <= value when ok is true.
func (p *Predicates) LteIf(ok bool, column string, value any) *Predicates {
	if !ok {
		return p
	}
	return p.Lte(column, value)
}

// Raw adds a constant clause that binds no parameters.
func (p *Predicates) Raw(clause string) *Predicates {
	p.clauses = append(p.clauses, clause)
	return p
}

func (p *Predicates) add(column, op string, value any) *Predicates {
	p.args = append(p.args, value)
	p.clauses = append(p.clauses, fmt.Sprintf("%s %s $%d", column, op, len(p.args)))
	return p
}

// Where renders the clause list joined by AND.
func (p *Predicates) Where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(p.clauses, " AND ")
}

// Args returns the bound parameters in placeholder order.
func (p *Predicates) Args() []any {
	return append([]any(nil), p.args...)
}

// Next returns the next placeholder index, for clauses appended after Where (LIMIT etc.).
func (p *Predicates) Next() int {
	return len(p.args) + 1
}
