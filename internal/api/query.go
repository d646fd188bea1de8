package api

import (
	"net/url"
	"strings"

	"github.com/kimhsiao/babylog/internal/backend"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
)

// Reserved query parameters; every other parameter filters a column.
const (
	paramOrder = "order"
	paramNulls = "nulls"
)

// parseQuery reads filters of the form col=eq.v, col=gte.v, col=lte.v and
// col=is.null, order=col.desc,col2.asc, and nulls=col to also match NULLs
// in the range column.
func parseQuery(table string, values url.Values) (backend.Query, error) {
	q := backend.Query{Table: table}

	for col, vals := range values {
		if col == paramOrder || col == paramNulls {
			continue
		}
		for _, raw := range vals {
			op, v, ok := strings.Cut(raw, ".")
			if !ok {
				return q, apperrors.Newf(apperrors.ErrInvalid, "filter %s=%s needs op.value", col, raw)
			}
			switch op {
			case "eq":
				setEq(&q, col, v)
			case "is":
				if v != "null" {
					return q, apperrors.Newf(apperrors.ErrInvalid, "unsupported is.%s", v)
				}
				setEq(&q, col, nil)
			case "gte", "lte":
				if q.Bounds == nil {
					q.Bounds = &backend.Bounds{Column: col}
				} else if q.Bounds.Column != col {
					return q, apperrors.New(apperrors.ErrInvalid, "range filters must target one column")
				}
				if op == "gte" {
					q.Bounds.Gte = v
				} else {
					q.Bounds.Lte = v
				}
			default:
				return q, apperrors.Newf(apperrors.ErrInvalid, "unsupported operator %q", op)
			}
		}
	}

	if nulls := values.Get(paramNulls); nulls != "" {
		if q.Bounds == nil || q.Bounds.Column != nulls {
			return q, apperrors.Newf(apperrors.ErrInvalid, "nulls=%s needs a range filter on the same column", nulls)
		}
		q.Bounds.IncludeNull = true
	}

	if order := values.Get(paramOrder); order != "" {
		for _, part := range strings.Split(order, ",") {
			col, dir, _ := strings.Cut(strings.TrimSpace(part), ".")
			if col == "" {
				return q, apperrors.Newf(apperrors.ErrInvalid, "invalid order %q", order)
			}
			switch dir {
			case "", "asc":
				q.Order = append(q.Order, backend.Order{Column: col})
			case "desc":
				q.Order = append(q.Order, backend.Order{Column: col, Descending: true})
			default:
				return q, apperrors.Newf(apperrors.ErrInvalid, "invalid order direction %q", dir)
			}
		}
	}
	return q, nil
}

func setEq(q *backend.Query, col string, v any) {
	if q.Eq == nil {
		q.Eq = make(map[string]any)
	}
	q.Eq[col] = v
}

// EncodeQuery renders q in the syntax parseQuery reads.
func EncodeQuery(q backend.Query) url.Values {
	values := url.Values{}
	for col, v := range q.Eq {
		if v == nil {
			values.Add(col, "is.null")
			continue
		}
		values.Add(col, "eq."+toString(v))
	}
	if b := q.Bounds; b != nil {
		if b.Gte != nil {
			values.Add(b.Column, "gte."+toString(b.Gte))
		}
		if b.Lte != nil {
			values.Add(b.Column, "lte."+toString(b.Lte))
		}
		if b.IncludeNull {
			values.Set(paramNulls, b.Column)
		}
	}
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			parts[i] = o.Column + ".asc"
			if o.Descending {
				parts[i] = o.Column + ".desc"
			}
		}
		values.Set(paramOrder, strings.Join(parts, ","))
	}
	return values
}
