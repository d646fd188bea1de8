// Package backend defines the relational store contract the data-sync core
// depends on: filtered select, insert/update/delete returning rows, and a
// change-event subscription channel.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
)

// Row is one table row keyed by column name.
type Row map[string]any

// ID returns the row's primary key, or "" when absent.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Order is a sort direction on one column.
type Order struct {
	Column     string
	Descending bool
}

// Bounds restricts one column to [Gte, Lte] inclusive. A nil side is open.
// IncludeNull additionally matches rows where the column is NULL.
type Bounds struct {
	Column      string
	Gte         any
	Lte         any
	IncludeNull bool
}

// Query describes a filtered, ordered select against one table.
type Query struct {
	Table  string
	Eq     map[string]any
	Bounds *Bounds
	Order  []Order
}

// ChangeKind is the kind of a change event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one committed mutation. Record is the new row for insert and
// update; Old carries the removed row for delete.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Table  string     `json:"table"`
	Record Row        `json:"record,omitempty"`
	Old    Row        `json:"old,omitempty"`
}

// Row returns the row the change is about.
func (c Change) Row() Row {
	if c.Kind == ChangeDelete {
		return c.Old
	}
	return c.Record
}

// Filter scopes a subscription to one table and an optional equality
// predicate on a column.
type Filter struct {
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
	Value  any    `json:"value,omitempty"`
}

// Matches reports whether a change passes the filter.
func (f Filter) Matches(c Change) bool {
	if c.Table != f.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	row := c.Row()
	if row == nil {
		return false
	}
	return fmt.Sprint(row[f.Column]) == fmt.Sprint(f.Value)
}

// Handler receives change events. It must not block for long.
type Handler func(Change)

// Subscription is a live change-event stream.
type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }

// Backend is the relational store the data-sync core runs against.
type Backend interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	Update(ctx context.Context, table, id string, patch Row) (Row, error)
	Delete(ctx context.Context, table, id string) (Row, error)
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
}

// Encode converts a record struct into a Row via its JSON field names.
func Encode(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return row, nil
}

// Decode converts a Row into a record struct via its JSON field names.
func Decode[E any](row Row) (E, error) {
	var out E
	data, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}
