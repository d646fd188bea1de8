package db

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kimhsiao/babylog/internal/backend"
)

// colKind is the value conversion applied to a column, derived from its
// declared SQLite type.
type colKind int

const (
	kindText colKind = iota
	kindInteger
	kindReal
	kindBool
	kindJSON
)

func kindOf(declared string) colKind {
	d := strings.ToUpper(strings.TrimSpace(declared))
	switch {
	case d == "BOOLEAN" || d == "BOOL":
		return kindBool
	case d == "JSON":
		return kindJSON
	case strings.Contains(d, "INT"):
		return kindInteger
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return kindReal
	default:
		return kindText
	}
}

// tableMeta describes the columns of one table.
type tableMeta struct {
	name    string
	columns map[string]colKind
}

func (m *tableMeta) has(column string) bool {
	_, ok := m.columns[column]
	return ok
}

// loadTableMeta reads column declarations with PRAGMA table_info.
func (s *Store) loadTableMeta(ctx context.Context, table string) (*tableMeta, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := &tableMeta{name: table, columns: make(map[string]colKind)}
	for rows.Next() {
		var name, declared string
		if err := rows.Scan(&name, &declared); err != nil {
			return nil, err
		}
		meta.columns[name] = kindOf(declared)
	}
	return meta, rows.Err()
}

// toSQL converts a JSON-decoded or query-string value into the driver value
// for a column.
func toSQL(kind colKind, column string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch kind {
	case kindInteger:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("column %s expects an integer, got %v", column, n)
			}
			return int64(n), nil
		case bool:
			if n {
				return int64(1), nil
			}
			return int64(0), nil
		case json.Number:
			return n.Int64()
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s expects an integer, got %q", column, n)
			}
			return i, nil
		}

	case kindReal:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s expects a number, got %q", column, n)
			}
			return f, nil
		}

	case kindBool:
		switch b := v.(type) {
		case bool:
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			if b != 0 {
				return int64(1), nil
			}
			return int64(0), nil
		case int64:
			if b != 0 {
				return int64(1), nil
			}
			return int64(0), nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("column %s expects a boolean, got %q", column, b)
			}
			return toSQL(kindBool, column, parsed)
		}

	case kindJSON:
		switch j := v.(type) {
		case json.RawMessage:
			return string(j), nil
		case string:
			if json.Valid([]byte(j)) {
				return j, nil
			}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		return string(data), nil

	case kindText:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
	}

	return nil, fmt.Errorf("column %s: unsupported value type %T", column, v)
}

// fromSQL converts a scanned driver value into the Row representation.
func fromSQL(kind colKind, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}

	switch kind {
	case kindBool:
		switch b := v.(type) {
		case int64:
			return b != 0
		case bool:
			return b
		}
	case kindJSON:
		if s, ok := v.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
	case kindReal:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	}
	return v
}

// scanRows materializes every row of a result set.
func scanRows(rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}, meta *tableMeta) ([]backend.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []backend.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(backend.Row, len(cols))
		for i, col := range cols {
			row[col] = fromSQL(meta.columns[col], values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
