package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/babylog/internal/backend"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
	"github.com/kimhsiao/babylog/internal/realtime"
	"github.com/kimhsiao/babylog/internal/uuid"
)

// Columns the store owns. Clients cannot set them.
var serverColumns = []string{"id", "created_at", "updated_at"}

// Store implements backend.Backend over SQLite. Every committed mutation is
// published on the store's hub.
type Store struct {
	db      *sql.DB
	hub     *realtime.Hub
	allowed map[string]bool
	now     func() time.Time

	mu   sync.RWMutex
	meta map[string]*tableMeta

	// Prepared select statements keyed by query text
	stmtCache sync.Map // map[string]*sql.Stmt
}

var _ backend.Backend = (*Store)(nil)

// NewStore creates a Store. When tables is non-empty only those tables are
// reachable; internal tables such as schema_migrations stay hidden.
func NewStore(db *sql.DB, hub *realtime.Hub, tables ...string) *Store {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	if hub == nil {
		hub = realtime.NewHub(0)
	}
	return &Store{
		db:      db,
		hub:     hub,
		allowed: allowed,
		now:     time.Now,
		meta:    make(map[string]*tableMeta),
	}
}

// Hub returns the hub changes are published on.
func (s *Store) Hub() *realtime.Hub {
	return s.hub
}

// Tables returns the reachable tables, or nil when unrestricted.
func (s *Store) Tables() []string {
	if len(s.allowed) == 0 {
		return nil
	}
	tables := make([]string, 0, len(s.allowed))
	for t := range s.allowed {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// table returns cached metadata for a reachable table.
func (s *Store) table(ctx context.Context, name string) (*tableMeta, error) {
	if len(s.allowed) > 0 && !s.allowed[name] {
		return nil, apperrors.Newf(apperrors.ErrUnknownTable, "unknown table %q", name)
	}

	s.mu.RLock()
	meta, ok := s.meta[name]
	s.mu.RUnlock()
	if ok {
		return meta, nil
	}

	meta, err := s.loadTableMeta(ctx, name)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read table info", err)
	}
	if len(meta.columns) == 0 {
		return nil, apperrors.Newf(apperrors.ErrUnknownTable, "unknown table %q", name)
	}

	s.mu.Lock()
	s.meta[name] = meta
	s.mu.Unlock()
	return meta, nil
}

// PrepareStmt gets or creates a prepared statement from cache.
func (s *Store) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have prepared the same query; keep theirs.
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements and the hub.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	s.hub.Close()
	return firstErr
}

// =====================================================
// Select
// =====================================================

// Select returns rows matching q, ordered by q.Order and then id.
func (s *Store) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	meta, err := s.table(ctx, q.Table)
	if err != nil {
		return nil, err
	}

	query, args, err := buildSelect(meta, q)
	if err != nil {
		return nil, err
	}

	stmt, err := s.PrepareStmt(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "select failed", err)
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "select failed", err)
	}
	defer rows.Close()

	out, err := scanRows(rows, meta)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "select failed", err)
	}
	return out, nil
}

func buildSelect(meta *tableMeta, q backend.Query) (string, []any, error) {
	var where []string
	var args []any

	eqCols := make([]string, 0, len(q.Eq))
	for col := range q.Eq {
		eqCols = append(eqCols, col)
	}
	sort.Strings(eqCols)

	for _, col := range eqCols {
		if !meta.has(col) {
			return "", nil, apperrors.Newf(apperrors.ErrInvalid, "unknown column %q on %s", col, meta.name)
		}
		if q.Eq[col] == nil {
			where = append(where, quoteIdent(col)+" IS NULL")
			continue
		}
		v, err := toSQL(meta.columns[col], col, q.Eq[col])
		if err != nil {
			return "", nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid filter", err)
		}
		where = append(where, quoteIdent(col)+" = ?")
		args = append(args, v)
	}

	if b := q.Bounds; b != nil {
		if !meta.has(b.Column) {
			return "", nil, apperrors.Newf(apperrors.ErrInvalid, "unknown column %q on %s", b.Column, meta.name)
		}
		col := quoteIdent(b.Column)
		var parts []string
		for _, bound := range []struct {
			op string
			v  any
		}{{">=", b.Gte}, {"<=", b.Lte}} {
			if bound.v == nil {
				continue
			}
			v, err := toSQL(meta.columns[b.Column], b.Column, bound.v)
			if err != nil {
				return "", nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid range bound", err)
			}
			parts = append(parts, col+" "+bound.op+" ?")
			args = append(args, v)
		}
		if len(parts) > 0 {
			cond := strings.Join(parts, " AND ")
			if b.IncludeNull {
				cond = "(" + cond + ") OR " + col + " IS NULL"
			}
			where = append(where, "("+cond+")")
		}
	}

	var order []string
	byID := false
	for _, o := range q.Order {
		if !meta.has(o.Column) {
			return "", nil, apperrors.Newf(apperrors.ErrInvalid, "unknown order column %q on %s", o.Column, meta.name)
		}
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}
		order = append(order, quoteIdent(o.Column)+dir)
		byID = byID || o.Column == "id"
	}
	if !byID {
		order = append(order, `"id" ASC`)
	}

	query := "SELECT * FROM " + quoteIdent(meta.name)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + strings.Join(order, ", ")
	return query, args, nil
}

// =====================================================
// Mutations
// =====================================================

// Insert stores row with a server-assigned id and timestamps and returns the
// stored row.
func (s *Store) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	meta, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}

	values := clientColumns(row)
	now := s.now().Unix()
	values["id"] = uuid.New()
	values["created_at"] = now
	values["updated_at"] = now

	cols, args, err := bind(meta, values)
	if err != nil {
		return nil, err
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	stored, err := s.returning(ctx, meta, query, args)
	if err != nil {
		return nil, mutationError("insert", err)
	}
	if stored == nil {
		return nil, apperrors.New(apperrors.ErrNoRowsAffected, "insert returned no row")
	}

	s.hub.Publish(backend.Change{Kind: backend.ChangeInsert, Table: table, Record: stored})
	return stored, nil
}

// Update applies patch to the row with the given id and returns the full
// updated row. The row's owner cannot be changed.
func (s *Store) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	meta, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}

	values := clientColumns(patch)
	delete(values, "user_id")
	values["updated_at"] = s.now().Unix()

	cols, args, err := bind(meta, values)
	if err != nil {
		return nil, err
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quoteIdent(c) + " = ?"
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE "id" = ? RETURNING *`,
		quoteIdent(table), strings.Join(sets, ", "))

	stored, err := s.returning(ctx, meta, query, args)
	if err != nil {
		return nil, mutationError("update", err)
	}
	if stored == nil {
		return nil, apperrors.Newf(apperrors.ErrNoRowsAffected, "%s row not found: %s", table, id)
	}

	s.hub.Publish(backend.Change{Kind: backend.ChangeUpdate, Table: table, Record: stored})
	return stored, nil
}

// Delete removes the row with the given id and returns it.
func (s *Store) Delete(ctx context.Context, table, id string) (backend.Row, error) {
	meta, err := s.table(ctx, table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE "id" = ? RETURNING *`, quoteIdent(table))
	old, err := s.returning(ctx, meta, query, []any{id})
	if err != nil {
		return nil, mutationError("delete", err)
	}
	if old == nil {
		return nil, apperrors.Newf(apperrors.ErrNoRowsAffected, "%s row not found: %s", table, id)
	}

	s.hub.Publish(backend.Change{Kind: backend.ChangeDelete, Table: table, Old: old})
	return old, nil
}

// Subscribe opens a change subscription on a reachable table.
func (s *Store) Subscribe(ctx context.Context, f backend.Filter, h backend.Handler) (backend.Subscription, error) {
	meta, err := s.table(ctx, f.Table)
	if err != nil {
		return nil, err
	}
	if f.Column != "" && !meta.has(f.Column) {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown filter column %q on %s", f.Column, f.Table)
	}
	return s.hub.Subscribe(ctx, f, h)
}

// returning runs a mutation with RETURNING * and yields the single row, or
// nil when nothing matched.
func (s *Store) returning(ctx context.Context, meta *tableMeta, query string, args []any) (backend.Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := scanRows(rows, meta)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// clientColumns copies row without server-owned columns.
func clientColumns(row backend.Row) backend.Row {
	out := make(backend.Row, len(row)+len(serverColumns))
	for k, v := range row {
		out[k] = v
	}
	for _, c := range serverColumns {
		delete(out, c)
	}
	return out
}

// bind validates columns and converts values, in sorted column order.
func bind(meta *tableMeta, values backend.Row) ([]string, []any, error) {
	cols := make([]string, 0, len(values))
	for c := range values {
		if !meta.has(c) {
			return nil, nil, apperrors.Newf(apperrors.ErrValidation, "unknown column %q on %s", c, meta.name)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		v, err := toSQL(meta.columns[c], c, values[c])
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.ErrValidation, "invalid value", err)
		}
		args[i] = v
	}
	return cols, args, nil
}

func mutationError(op string, err error) error {
	if strings.Contains(err.Error(), "constraint failed") {
		return apperrors.Wrap(apperrors.ErrValidation, op+" violates a constraint", err)
	}
	return apperrors.Wrap(apperrors.ErrDatabase, op+" failed", err)
}
