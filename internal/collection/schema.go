package collection

import (
	"fmt"

	"github.com/kimhsiao/babylog/internal/backend"
)

// Entity is a record with a backend-assigned id.
type Entity interface {
	RecordID() string
}

// Scope is how a collection restricts what it loads.
type Scope int

const (
	// ScopeNone loads the user's full set.
	ScopeNone Scope = iota
	// ScopeDay loads one local day.
	ScopeDay
	// ScopeMonth loads one calendar month.
	ScopeMonth
)

func (s Scope) String() string {
	switch s {
	case ScopeDay:
		return "day"
	case ScopeMonth:
		return "month"
	default:
		return "none"
	}
}

// ColumnKind is how the range column stores time.
type ColumnKind int

const (
	// KindTimestamp columns hold unix milliseconds.
	KindTimestamp ColumnKind = iota
	// KindDate columns hold YYYY-MM-DD text.
	KindDate
)

// Schema describes how one entity is stored, scoped and ordered.
type Schema[E Entity] struct {
	Table string
	Scope Scope

	// RangeColumn is filtered against the active range for scoped schemas.
	RangeColumn string
	RangeKind   ColumnKind
	// IncludeNull also fetches rows whose range column is NULL; InRange
	// decides which of them stay.
	IncludeNull bool

	// Order is the server-side order. Less is the canonical local order;
	// ties always break on id.
	Order []backend.Order
	Less  func(a, b E) bool

	// InRange reports whether an entity belongs to the active range.
	// Required for scoped schemas.
	InRange func(e E, r Range) bool

	// Validate is run before create when set.
	Validate func(e E) error
}

// Scoped reports whether the schema needs a range.
func (s Schema[E]) Scoped() bool {
	return s.Scope != ScopeNone
}

func (s Schema[E]) check() error {
	if s.Table == "" {
		return fmt.Errorf("collection schema: table is required")
	}
	if s.Less == nil {
		return fmt.Errorf("collection schema %s: Less is required", s.Table)
	}
	if s.Scoped() && (s.RangeColumn == "" || s.InRange == nil) {
		return fmt.Errorf("collection schema %s: %s scope needs RangeColumn and InRange", s.Table, s.Scope)
	}
	return nil
}
