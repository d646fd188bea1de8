package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/babylog/internal/backend"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
)

type note struct {
	ID     string `json:"id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	At     int64  `json:"at"`
	Text   string `json:"text"`
}

func (n note) RecordID() string { return n.ID }

var daySchema = Schema[note]{
	Table:       "notes",
	Scope:       ScopeDay,
	RangeColumn: "at",
	RangeKind:   KindTimestamp,
	Order:       []backend.Order{{Column: "at", Descending: true}},
	Less:        func(a, b note) bool { return a.At > b.At },
	InRange:     func(n note, r Range) bool { return r.ContainsMillis(n.At) },
}

var listSchema = Schema[note]{
	Table: "notes",
	Less:  func(a, b note) bool { return a.Text < b.Text },
}

type staticUser string

func (u staticUser) ResolveUserID(context.Context) string { return string(u) }

type fakeSub struct {
	filter  backend.Filter
	handler backend.Handler
	active  bool
}

// fakeBackend is a single-table in-memory backend. It delivers change
// events synchronously before a mutation returns, unless hold is set, in
// which case they queue until flush.
type fakeBackend struct {
	mu        sync.Mutex
	rows      map[string]backend.Row
	nextID    int
	queries   []backend.Query
	patches   []backend.Row
	selectErr error
	onSelect  func(q backend.Query)
	subs      []*fakeSub
	subErr    error
	hold      bool
	held      []backend.Change
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[string]backend.Row)}
}

func (f *fakeBackend) seed(user string, at int64, text string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("id-%03d", f.nextID)
	f.rows[id] = backend.Row{"id": id, "user_id": user, "at": float64(at), "text": text}
	return id
}

func (f *fakeBackend) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	hook, err := f.onSelect, f.selectErr
	f.mu.Unlock()

	if hook != nil {
		hook(q)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []backend.Row
	for _, row := range f.rows {
		if row["user_id"] != q.Eq["user_id"] {
			continue
		}
		if b := q.Bounds; b != nil {
			at := int64(row[b.Column].(float64))
			if at < b.Gte.(int64) || at > b.Lte.(int64) {
				continue
			}
		}
		out = append(out, copyRow(row))
	}
	return out, nil
}

func (f *fakeBackend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("id-%03d", f.nextID)
	stored := copyRow(row)
	stored["id"] = id
	f.rows[id] = stored
	f.mu.Unlock()

	f.emit(backend.Change{Kind: backend.ChangeInsert, Table: table, Record: copyRow(stored)})
	return copyRow(stored), nil
}

func (f *fakeBackend) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	f.mu.Lock()
	f.patches = append(f.patches, copyRow(patch))
	row, ok := f.rows[id]
	if !ok {
		f.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrNoRowsAffected, "row not found: %s", id)
	}
	for k, v := range patch {
		row[k] = v
	}
	stored := copyRow(row)
	f.mu.Unlock()

	f.emit(backend.Change{Kind: backend.ChangeUpdate, Table: table, Record: copyRow(stored)})
	return stored, nil
}

func (f *fakeBackend) Delete(ctx context.Context, table, id string) (backend.Row, error) {
	f.mu.Lock()
	row, ok := f.rows[id]
	if !ok {
		f.mu.Unlock()
		return nil, apperrors.Newf(apperrors.ErrNoRowsAffected, "row not found: %s", id)
	}
	delete(f.rows, id)
	f.mu.Unlock()

	f.emit(backend.Change{Kind: backend.ChangeDelete, Table: table, Old: copyRow(row)})
	return row, nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, filter backend.Filter, h backend.Handler) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	s := &fakeSub{filter: filter, handler: h, active: true}
	f.subs = append(f.subs, s)
	return backend.SubscriptionFunc(func() {
		f.mu.Lock()
		s.active = false
		f.mu.Unlock()
	}), nil
}

func (f *fakeBackend) emit(c backend.Change) {
	f.mu.Lock()
	if f.hold {
		f.held = append(f.held, c)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.deliver(c)
}

// flush delivers the first n held events, or all of them when n < 0.
func (f *fakeBackend) flush(n int) {
	f.mu.Lock()
	if n < 0 || n > len(f.held) {
		n = len(f.held)
	}
	batch := f.held[:n]
	f.held = f.held[n:]
	f.mu.Unlock()

	for _, c := range batch {
		f.deliver(c)
	}
}

func (f *fakeBackend) deliver(c backend.Change) {
	f.mu.Lock()
	var handlers []backend.Handler
	for _, s := range f.subs {
		if s.active && s.filter.Matches(c) {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(c)
	}
}

func (f *fakeBackend) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.active {
			n++
		}
	}
	return n
}

func copyRow(r backend.Row) backend.Row {
	out := make(backend.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

var day = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func ms(t time.Time) int64 { return t.UnixMilli() }

func newDayCollection(t *testing.T, f *fakeBackend) *Collection[note] {
	t.Helper()
	c := New[note](f, staticUser("u1"), daySchema)
	require.NoError(t, c.SetRange(context.Background(), Day(day, time.UTC)))
	return c
}

func texts(items []note) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Text
	}
	return out
}

// =====================================================
// Range Query
// =====================================================

func TestRange_DayAndMonth(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	d := Day(time.Date(2024, 3, 15, 23, 0, 0, 0, loc), loc)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, loc), d.Start)
	assert.Equal(t, time.Date(2024, 3, 15, 23, 59, 59, 999_000_000, loc), d.End)
	assert.True(t, d.ContainsMillis(d.Start.UnixMilli()))
	assert.True(t, d.ContainsMillis(d.End.UnixMilli()))
	assert.False(t, d.ContainsMillis(d.End.UnixMilli()+1))

	m := Month(2024, time.February, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, 999_000_000, time.UTC), m.End)
	assert.True(t, m.ContainsDate("2024-02-01"))
	assert.True(t, m.ContainsDate("2024-02-29"))
	assert.False(t, m.ContainsDate("2024-03-01"))

	lo, hi := m.bounds(KindDate)
	assert.Equal(t, "2024-02-01", lo)
	assert.Equal(t, "2024-02-29", hi)
	lo, hi = d.bounds(KindTimestamp)
	assert.Equal(t, d.Start.UnixMilli(), lo)
	assert.Equal(t, d.End.UnixMilli(), hi)
}

func TestLoad_FiltersInclusiveBounds(t *testing.T) {
	f := newFakeBackend()
	r := Day(day, time.UTC)
	f.seed("u1", ms(r.Start)-1, "before")
	f.seed("u1", ms(r.Start), "start")
	f.seed("u1", ms(r.Start)+3600_000, "morning")
	f.seed("u1", ms(r.End), "end")
	f.seed("u1", ms(r.End)+1, "after")
	f.seed("u2", ms(r.Start)+1, "other user")

	c := newDayCollection(t, f)

	assert.Equal(t, []string{"end", "morning", "start"}, texts(c.Items()))
	assert.False(t, c.Loading())
	assert.NoError(t, c.Err())

	q := f.queries[len(f.queries)-1]
	assert.Equal(t, "notes", q.Table)
	assert.Equal(t, map[string]any{"user_id": "u1"}, q.Eq)
	require.NotNil(t, q.Bounds)
	assert.Equal(t, "at", q.Bounds.Column)
	assert.Equal(t, ms(r.Start), q.Bounds.Gte)
	assert.Equal(t, ms(r.End), q.Bounds.Lte)
	assert.Equal(t, daySchema.Order, q.Order)
}

func TestLoad_ScopedWithoutRange(t *testing.T) {
	c := New[note](newFakeBackend(), staticUser("u1"), daySchema)
	err := c.Load(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRange), "got %v", err)
	assert.Equal(t, err, c.Err())
}

func TestLoad_UnscopedFetchesAll(t *testing.T) {
	f := newFakeBackend()
	f.seed("u1", 1, "b")
	f.seed("u1", 99999999999, "a")

	c := New[note](f, staticUser("u1"), listSchema)
	require.NoError(t, c.Load(context.Background()))

	assert.Equal(t, []string{"a", "b"}, texts(c.Items()))
	assert.Nil(t, f.queries[0].Bounds)
}

func TestLoad_FailureRetainsState(t *testing.T) {
	f := newFakeBackend()
	f.seed("u1", ms(day)+1, "kept")
	c := newDayCollection(t, f)
	require.Len(t, c.Items(), 1)

	f.mu.Lock()
	f.selectErr = errors.New("connection reset")
	f.mu.Unlock()

	err := c.Load(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrQuery), "got %v", err)
	assert.True(t, apperrors.Is(c.Err(), apperrors.ErrQuery))
	assert.False(t, c.Loading())
	assert.Equal(t, []string{"kept"}, texts(c.Items()))

	f.mu.Lock()
	f.selectErr = nil
	f.mu.Unlock()
	require.NoError(t, c.Load(context.Background()))
	assert.NoError(t, c.Err())
}

func TestLoad_StaleResponseDropped(t *testing.T) {
	f := newFakeBackend()
	day2 := day.AddDate(0, 0, 1)
	f.seed("u1", ms(day)+1, "first day")
	f.seed("u1", ms(day2)+1, "second day")

	c := New[note](f, staticUser("u1"), daySchema)

	blocked := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.onSelect = func(q backend.Query) {
		if q.Bounds.Gte == ms(day) {
			once.Do(func() { close(blocked) })
			<-release
		}
	}

	done := make(chan error, 1)
	go func() { done <- c.SetRange(context.Background(), Day(day, time.UTC)) }()
	<-blocked

	require.NoError(t, c.SetRange(context.Background(), Day(day2, time.UTC)))
	assert.Equal(t, []string{"second day"}, texts(c.Items()))

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"second day"}, texts(c.Items()))
	r, ok := c.Range()
	require.True(t, ok)
	assert.True(t, r.Equal(Day(day2, time.UTC)))
}

// =====================================================
// Mutation Gateway
// =====================================================

func TestCreate_AttachesUserAndMergesOnce(t *testing.T) {
	f := newFakeBackend()
	c := newDayCollection(t, f)
	require.NoError(t, c.Watch(context.Background()))

	var snapshots [][]note
	c.OnChange(func(items []note) { snapshots = append(snapshots, items) })

	// The fake delivers the insert event before Create returns.
	created, err := c.Create(context.Background(), note{At: ms(day) + 10, Text: "fed", UserID: "ignored"})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID)
	assert.Len(t, c.Items(), 1)
	assert.Equal(t, created, c.Items()[0])
	require.NotEmpty(t, snapshots)
	assert.Len(t, snapshots[len(snapshots)-1], 1)
}

func TestCreate_OutsideRangeNotKept(t *testing.T) {
	f := newFakeBackend()
	c := newDayCollection(t, f)

	created, err := c.Create(context.Background(), note{At: ms(day.AddDate(0, 0, 2)), Text: "later"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Empty(t, c.Items())
}

func TestCreate_ValidationRejects(t *testing.T) {
	f := newFakeBackend()
	schema := listSchema
	schema.Validate = func(n note) error {
		if n.Text == "" {
			return apperrors.New(apperrors.ErrValidation, "text required")
		}
		return nil
	}
	c := New[note](f, staticUser("u1"), schema)

	_, err := c.Create(context.Background(), note{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Empty(t, f.rows)
}

func TestUpdate_ReplacesWithServerRow(t *testing.T) {
	f := newFakeBackend()
	id := f.seed("u1", ms(day)+5, "draft")
	c := newDayCollection(t, f)

	updated, err := c.Update(context.Background(), id, map[string]any{
		"text":       "final",
		"id":         "hijack",
		"user_id":    "u2",
		"created_at": 1,
		"updated_at": 2,
	})
	require.NoError(t, err)

	assert.Equal(t, backend.Row{"text": "final"}, f.patches[0])
	assert.Equal(t, note{ID: id, UserID: "u1", At: ms(day) + 5, Text: "final"}, updated)
	assert.Equal(t, []note{updated}, c.Items())
}

func TestMutations_NoRowsAffected(t *testing.T) {
	f := newFakeBackend()
	f.seed("u1", ms(day)+5, "only")
	c := newDayCollection(t, f)
	before := c.Items()

	_, err := c.Update(context.Background(), "missing", map[string]any{"text": "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNoRowsAffected), "got %v", err)

	err = c.Delete(context.Background(), "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoRowsAffected), "got %v", err)
	assert.Equal(t, apperrors.ErrNoRowsAffected, apperrors.CodeOf(err))

	assert.Equal(t, before, c.Items())
}

func TestDelete_RemovesExactlyOne(t *testing.T) {
	f := newFakeBackend()
	a := f.seed("u1", ms(day)+1, "a")
	f.seed("u1", ms(day)+2, "b")
	f.seed("u1", ms(day)+3, "c")
	c := newDayCollection(t, f)

	require.NoError(t, c.Delete(context.Background(), a))
	assert.Equal(t, []string{"c", "b"}, texts(c.Items()))
}

// =====================================================
// Change Subscriber
// =====================================================

func TestWatch_Reconciliation(t *testing.T) {
	f := newFakeBackend()
	id := f.seed("u1", ms(day)+1, "existing")
	c := newDayCollection(t, f)
	require.NoError(t, c.Watch(context.Background()))
	assert.Equal(t, 1, f.activeSubs())

	row := func(id string, at int64, text string) backend.Row {
		return backend.Row{"id": id, "user_id": "u1", "at": float64(at), "text": text}
	}
	insert := func(r backend.Row) {
		f.emit(backend.Change{Kind: backend.ChangeInsert, Table: "notes", Record: r})
	}
	update := func(r backend.Row) {
		f.emit(backend.Change{Kind: backend.ChangeUpdate, Table: "notes", Record: r})
	}
	del := func(r backend.Row) {
		f.emit(backend.Change{Kind: backend.ChangeDelete, Table: "notes", Old: r})
	}

	// Insert of a known id is ignored.
	insert(row(id, ms(day)+1, "duplicate"))
	assert.Equal(t, []string{"existing"}, texts(c.Items()))

	// Insert outside the active range is ignored.
	insert(row("remote-late", ms(day.AddDate(0, 0, 1)), "tomorrow"))
	assert.Len(t, c.Items(), 1)

	// Insert in range is added and sorted.
	insert(row("remote-1", ms(day)+100, "remote"))
	assert.Equal(t, []string{"remote", "existing"}, texts(c.Items()))

	// Update replaces by id, and repeating it is idempotent.
	update(row(id, ms(day)+200, "edited"))
	update(row(id, ms(day)+200, "edited"))
	assert.Equal(t, []string{"edited", "remote"}, texts(c.Items()))

	// Update of an unknown id is ignored.
	update(row("ghost", ms(day)+5, "ghost"))
	assert.Len(t, c.Items(), 2)

	// Delete removes by id; unknown ids are ignored.
	del(row("ghost", 0, ""))
	del(row("remote-1", 0, ""))
	assert.Equal(t, []string{"edited"}, texts(c.Items()))

	// Other users' changes never reach the collection.
	f.emit(backend.Change{Kind: backend.ChangeInsert, Table: "notes",
		Record: backend.Row{"id": "x", "user_id": "u2", "at": float64(ms(day) + 1), "text": "foreign"}})
	assert.Len(t, c.Items(), 1)
}

func TestSetRange_DiscardsOldSubscriptionEvents(t *testing.T) {
	f := newFakeBackend()
	c := newDayCollection(t, f)
	require.NoError(t, c.Watch(context.Background()))

	f.mu.Lock()
	oldHandler := f.subs[0].handler
	f.mu.Unlock()

	day2 := day.AddDate(0, 0, 1)
	require.NoError(t, c.SetRange(context.Background(), Day(day2, time.UTC)))
	assert.Equal(t, 1, f.activeSubs())
	assert.Len(t, f.subs, 2)

	// A late event from the replaced subscription is discarded even though
	// it falls in the new range.
	oldHandler(backend.Change{Kind: backend.ChangeInsert, Table: "notes",
		Record: backend.Row{"id": "late", "user_id": "u1", "at": float64(ms(day2) + 1), "text": "late"}})
	assert.Empty(t, c.Items())

	f.emit(backend.Change{Kind: backend.ChangeInsert, Table: "notes",
		Record: backend.Row{"id": "fresh", "user_id": "u1", "at": float64(ms(day2) + 1), "text": "fresh"}})
	assert.Equal(t, []string{"fresh"}, texts(c.Items()))
}

func TestWatch_SubscribeFailureKeepsLoading(t *testing.T) {
	f := newFakeBackend()
	f.subErr = errors.New("transport down")
	c := New[note](f, staticUser("u1"), daySchema)

	err := c.Watch(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSubscription))

	f.seed("u1", ms(day)+1, "today")
	require.NoError(t, c.SetRange(context.Background(), Day(day, time.UTC)))
	assert.Equal(t, []string{"today"}, texts(c.Items()))
	assert.Len(t, f.queries, 1)

	// Once the backend recovers, the next range change subscribes.
	f.mu.Lock()
	f.subErr = nil
	f.mu.Unlock()
	day2 := day.AddDate(0, 0, 1)
	require.NoError(t, c.SetRange(context.Background(), Day(day2, time.UTC)))
	assert.Equal(t, 1, f.activeSubs())
	assert.Empty(t, c.Items())

	f.emit(backend.Change{Kind: backend.ChangeInsert, Table: "notes",
		Record: backend.Row{"id": "r", "user_id": "u1", "at": float64(ms(day2) + 1), "text": "remote"}})
	assert.Equal(t, []string{"remote"}, texts(c.Items()))
}

func TestDelete_LateInsertEventIgnored(t *testing.T) {
	f := newFakeBackend()
	c := newDayCollection(t, f)
	require.NoError(t, c.Watch(context.Background()))
	f.hold = true

	created, err := c.Create(context.Background(), note{At: ms(day) + 1, Text: "oops"})
	require.NoError(t, err)
	require.NoError(t, c.Delete(context.Background(), created.ID))
	assert.Empty(t, c.Items())

	// The queued insert arrives after the local delete.
	f.flush(1)
	assert.Empty(t, c.Items())

	// The delete echo clears the tombstone; the id may be reused later.
	f.flush(-1)
	assert.Empty(t, c.Items())
	f.hold = false
	f.emit(backend.Change{Kind: backend.ChangeInsert, Table: "notes",
		Record: backend.Row{"id": created.ID, "user_id": "u1", "at": float64(ms(day) + 2), "text": "again"}})
	assert.Equal(t, []string{"again"}, texts(c.Items()))
}

func TestClose_StopsDelivery(t *testing.T) {
	f := newFakeBackend()
	c := newDayCollection(t, f)
	require.NoError(t, c.Watch(context.Background()))
	require.NoError(t, c.Watch(context.Background()))
	assert.Equal(t, 1, f.activeSubs())

	c.Close()
	assert.Equal(t, 0, f.activeSubs())

	f.emit(backend.Change{Kind: backend.ChangeInsert, Table: "notes",
		Record: backend.Row{"id": "n", "user_id": "u1", "at": float64(ms(day) + 1), "text": "n"}})
	assert.Empty(t, c.Items())
}

// =====================================================
// Observation
// =====================================================

func TestOnChange_Unregister(t *testing.T) {
	f := newFakeBackend()
	c := New[note](f, staticUser("u1"), listSchema)

	var calls int
	unregister := c.OnChange(func([]note) { calls++ })

	_, err := c.Create(context.Background(), note{Text: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	unregister()
	_, err = c.Create(context.Background(), note{Text: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestItems_TiesBreakOnID(t *testing.T) {
	f := newFakeBackend()
	for i := 0; i < 4; i++ {
		f.seed("u1", ms(day)+7, "same")
	}
	c := newDayCollection(t, f)

	items := c.Items()
	require.Len(t, items, 4)
	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1].ID, items[i].ID)
	}

	// Items returns a copy.
	items[0].Text = "mutated"
	assert.Equal(t, "same", c.Items()[0].Text)
}

func TestNew_PanicsOnIncompleteSchema(t *testing.T) {
	assert.Panics(t, func() {
		New[note](newFakeBackend(), staticUser("u"), Schema[note]{Table: "notes", Scope: ScopeDay, Less: daySchema.Less})
	})
}
