package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies domain errors. Transport layers map kinds to status codes.
type Kind string

const (
	// KindNotFound indicates the tenant-scoped record does not exist.
	KindNotFound Kind = "not_found"
	// KindStateConflict indicates the record is in a state that forbids the action.
	KindStateConflict Kind = "state_conflict"
	// KindValidation indicates malformed or semantically invalid input.
	KindValidation Kind = "validation"
	// KindInsufficientResource indicates stock, cost layers or a guard budget ran out.
	KindInsufficientResource Kind = "insufficient_resource"
	// KindAuthorization indicates the actor may not perform the action.
	KindAuthorization Kind = "authorization"
)

// Shortfall describes one line that could not be covered by available stock.
type Shortfall struct {
	ItemID     uuid.UUID       `json:"item_id"`
	LocationID uuid.UUID       `json:"location_id"`
	UOM        string          `json:"uom"`
	Requested  decimal.Decimal `json:"requested"`
	Available  decimal.Decimal `json:"available"`
	Shortfall  decimal.Decimal `json:"shortfall"`
}

// Error is the structured domain error shared by every inventory package.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	Fields     map[string]any
	Shortfalls []Shortfall
	Err        error
}

// NewError builds an Error without details.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so sentinel values match detailed copies.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

// With returns a copy carrying an extra field.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// WithShortfalls returns a copy carrying per-line shortfall detail.
func (e *Error) WithShortfalls(items []Shortfall) *Error {
	cp := *e
	cp.Shortfalls = append([]Shortfall(nil), items...)
	return &cp
}

// Wrap returns a copy with the underlying cause attached.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// KindOf reports the kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// AsError extracts the domain error from err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError(KindNotFound, "NOT_FOUND", "resource not found")
	// ErrDocumentNotFound indicates the source document is missing for the tenant.
	ErrDocumentNotFound = NewError(KindNotFound, "DOCUMENT_NOT_FOUND", "source document not found")
	// ErrDocumentState indicates the document is voided, canceled or otherwise ineligible.
	ErrDocumentState = NewError(KindStateConflict, "DOCUMENT_STATE_CONFLICT", "document state does not allow this action")
	// ErrValidation indicates invalid input.
	ErrValidation = NewError(KindValidation, "VALIDATION_FAILED", "invalid input")
	// ErrTenantRequired indicates a missing tenant scope.
	ErrTenantRequired = NewError(KindValidation, "TENANT_REQUIRED", "tenant id required")
)
