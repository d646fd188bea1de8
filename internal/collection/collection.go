// Package collection keeps a sorted, range-scoped local copy of one user's
// rows of a table in step with the backend: it loads the active range,
// forwards mutations, and merges change events.
package collection

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/kimhsiao/babylog/internal/backend"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
	"github.com/kimhsiao/babylog/internal/logging"
)

// Columns a client patch may never touch.
var immutableColumns = []string{"id", "user_id", "created_at", "updated_at"}

// UserResolver supplies the user id every query and write is scoped to.
type UserResolver interface {
	ResolveUserID(ctx context.Context) string
}

// Collection is the local state for one entity. It is safe for concurrent
// use; listeners run outside the internal lock.
type Collection[E Entity] struct {
	schema  Schema[E]
	backend backend.Backend
	users   UserResolver

	mu      sync.Mutex
	items   map[string]E
	rng     *Range
	loading bool
	err     error

	// loadGen increases per Load; only the latest load may apply.
	loadGen uint64
	// subGen increases whenever the subscription is replaced; events from
	// older subscriptions are dropped.
	subGen   uint64
	sub      backend.Subscription
	watching bool
	watchCtx context.Context
	// deleted holds ids removed locally until their delete event arrives, so
	// an insert event still queued for them is ignored.
	deleted map[string]struct{}

	listeners    map[int]func([]E)
	nextListener int
}

// New creates a Collection. It panics if the schema is incomplete.
func New[E Entity](b backend.Backend, users UserResolver, schema Schema[E]) *Collection[E] {
	if err := schema.check(); err != nil {
		panic(err)
	}
	return &Collection[E]{
		schema:    schema,
		backend:   b,
		users:     users,
		items:     make(map[string]E),
		deleted:   make(map[string]struct{}),
		listeners: make(map[int]func([]E)),
	}
}

// Schema returns the collection's schema.
func (c *Collection[E]) Schema() Schema[E] {
	return c.schema
}

// =====================================================
// Observation
// =====================================================

// Items returns the current entities in canonical order.
func (c *Collection[E]) Items() []E {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Loading reports whether a load is in flight.
func (c *Collection[E]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the error of the last load, or nil.
func (c *Collection[E]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Range returns the active range.
func (c *Collection[E]) Range() (Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rng == nil {
		return Range{}, false
	}
	return *c.rng, true
}

// OnChange registers fn to receive a sorted snapshot after every state
// change. The returned func unregisters it.
func (c *Collection[E]) OnChange(fn func([]E)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Collection[E]) snapshotLocked() []E {
	out := make([]E, 0, len(c.items))
	for _, e := range c.items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c.schema.Less(a, b) {
			return true
		}
		if c.schema.Less(b, a) {
			return false
		}
		return a.RecordID() < b.RecordID()
	})
	return out
}

// changedLocked captures what listeners need; call the result after
// unlocking.
func (c *Collection[E]) changedLocked() func() {
	snapshot := c.snapshotLocked()
	fns := make([]func([]E), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(snapshot)
		}
	}
}

func (c *Collection[E]) inRangeLocked(e E) bool {
	if !c.schema.Scoped() {
		return true
	}
	if c.rng == nil {
		return false
	}
	return c.schema.InRange(e, *c.rng)
}

// =====================================================
// Range Query
// =====================================================

// SetRange switches the active range. An open subscription is replaced and
// the new range is loaded. A failed resubscribe is logged and does not stop
// the load.
func (c *Collection[E]) SetRange(ctx context.Context, r Range) error {
	c.mu.Lock()
	c.rng = &r
	old := c.sub
	c.sub = nil
	c.subGen++
	watching := c.watching
	watchCtx := c.watchCtx
	c.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
	if watching {
		// subscribe has logged the failure; the next SetRange retries.
		_ = c.subscribe(watchCtx)
	}
	return c.Load(ctx)
}

// Load fetches the active range for the current user and replaces local
// state. On failure the previous items are kept and Err reports the cause.
// A response that is no longer the latest request for the active range is
// discarded.
func (c *Collection[E]) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.schema.Scoped() && c.rng == nil {
		c.err = apperrors.Newf(apperrors.ErrInvalidRange, "%s collection needs a %s range", c.schema.Table, c.schema.Scope)
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.loadGen++
	gen := c.loadGen
	var rng *Range
	if c.rng != nil {
		r := *c.rng
		rng = &r
	}
	c.loading = true
	c.mu.Unlock()

	items, err := c.fetch(ctx, rng)

	c.mu.Lock()
	if gen != c.loadGen || !sameRange(rng, c.rng) {
		c.mu.Unlock()
		logging.Debug("Stale load dropped", map[string]interface{}{
			"table":      c.schema.Table,
			"generation": gen,
		})
		return nil
	}
	c.loading = false

	if err != nil {
		c.err = apperrors.Wrap(apperrors.ErrQuery, "failed to load "+c.schema.Table, err)
		loadErr := c.err
		c.mu.Unlock()
		logging.Error("Collection load failed", err, map[string]interface{}{
			"table": c.schema.Table,
		})
		return loadErr
	}

	c.err = nil
	c.items = make(map[string]E, len(items))
	for _, e := range items {
		if c.inRangeLocked(e) {
			c.items[e.RecordID()] = e
		}
	}
	notify := c.changedLocked()
	c.mu.Unlock()

	notify()
	return nil
}

func (c *Collection[E]) fetch(ctx context.Context, rng *Range) ([]E, error) {
	q := backend.Query{
		Table: c.schema.Table,
		Eq:    map[string]any{"user_id": c.users.ResolveUserID(ctx)},
		Order: c.schema.Order,
	}
	if c.schema.Scoped() {
		lo, hi := rng.bounds(c.schema.RangeKind)
		q.Bounds = &backend.Bounds{
			Column:      c.schema.RangeColumn,
			Gte:         lo,
			Lte:         hi,
			IncludeNull: c.schema.IncludeNull,
		}
	}

	rows, err := c.backend.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	items := make([]E, 0, len(rows))
	for _, row := range rows {
		e, err := backend.Decode[E](row)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, nil
}

func sameRange(a, b *Range) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// =====================================================
// Mutation Gateway
// =====================================================

// Create inserts e for the current user and merges the stored row. Rows
// outside the active range are returned but not kept locally.
func (c *Collection[E]) Create(ctx context.Context, e E) (E, error) {
	var zero E
	if c.schema.Validate != nil {
		if err := c.schema.Validate(e); err != nil {
			return zero, err
		}
	}

	row, err := backend.Encode(e)
	if err != nil {
		return zero, apperrors.Wrap(apperrors.ErrInvalid, "failed to encode "+c.schema.Table, err)
	}
	row["user_id"] = c.users.ResolveUserID(ctx)

	stored, err := c.backend.Insert(ctx, c.schema.Table, row)
	if err != nil {
		return zero, mutationError("create", c.schema.Table, err)
	}
	out, err := backend.Decode[E](stored)
	if err != nil {
		return zero, apperrors.Wrap(apperrors.ErrMutation, "failed to decode created "+c.schema.Table, err)
	}

	c.mu.Lock()
	if !c.inRangeLocked(out) {
		c.mu.Unlock()
		return out, nil
	}
	// The subscription may have delivered this row already.
	c.items[out.RecordID()] = out
	notify := c.changedLocked()
	c.mu.Unlock()

	notify()
	return out, nil
}

// Update applies patch to the row with id. The server's full row replaces
// the local one; id, user_id and timestamps in patch are ignored.
func (c *Collection[E]) Update(ctx context.Context, id string, patch map[string]any) (E, error) {
	var zero E
	clean := make(backend.Row, len(patch))
	for k, v := range patch {
		clean[k] = v
	}
	for _, col := range immutableColumns {
		delete(clean, col)
	}

	stored, err := c.backend.Update(ctx, c.schema.Table, id, clean)
	if err != nil {
		return zero, mutationError("update", c.schema.Table, err)
	}
	out, err := backend.Decode[E](stored)
	if err != nil {
		return zero, apperrors.Wrap(apperrors.ErrMutation, "failed to decode updated "+c.schema.Table, err)
	}

	c.mu.Lock()
	if _, ok := c.items[out.RecordID()]; !ok {
		c.mu.Unlock()
		return out, nil
	}
	c.items[out.RecordID()] = out
	notify := c.changedLocked()
	c.mu.Unlock()

	notify()
	return out, nil
}

// Delete removes the row with id, locally once the backend confirms.
func (c *Collection[E]) Delete(ctx context.Context, id string) error {
	if _, err := c.backend.Delete(ctx, c.schema.Table, id); err != nil {
		return mutationError("delete", c.schema.Table, err)
	}

	c.mu.Lock()
	if c.watching {
		c.deleted[id] = struct{}{}
	}
	if _, ok := c.items[id]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.items, id)
	notify := c.changedLocked()
	c.mu.Unlock()

	notify()
	return nil
}

func mutationError(op, table string, err error) error {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) && appErr.Code == apperrors.ErrNoRowsAffected {
		return err
	}
	return apperrors.Wrap(apperrors.ErrMutation, op+" "+table+" failed", err)
}

// =====================================================
// Change Subscriber
// =====================================================

// Watch subscribes to the current user's changes on the table. The
// subscription lives until Close or until ctx is cancelled. If subscribing
// fails the error is returned and the collection stays usable; every
// SetRange tries again.
func (c *Collection[E]) Watch(ctx context.Context) error {
	c.mu.Lock()
	if c.watching {
		c.mu.Unlock()
		return nil
	}
	c.watching = true
	c.watchCtx = ctx
	c.mu.Unlock()

	return c.subscribe(ctx)
}

// Close tears the subscription down. Local state is kept.
func (c *Collection[E]) Close() {
	c.mu.Lock()
	c.watching = false
	c.watchCtx = nil
	c.deleted = make(map[string]struct{})
	old := c.sub
	c.sub = nil
	c.subGen++
	c.mu.Unlock()

	if old != nil {
		old.Unsubscribe()
	}
}

func (c *Collection[E]) subscribe(ctx context.Context) error {
	filter := backend.Filter{
		Table:  c.schema.Table,
		Column: "user_id",
		Value:  c.users.ResolveUserID(ctx),
	}

	c.mu.Lock()
	c.subGen++
	gen := c.subGen
	c.mu.Unlock()

	sub, err := c.backend.Subscribe(ctx, filter, func(ch backend.Change) {
		c.apply(gen, ch)
	})
	if err != nil {
		logging.Error("Collection subscription failed", err, map[string]interface{}{
			"table": c.schema.Table,
		})
		return apperrors.Wrap(apperrors.ErrSubscription, "failed to watch "+c.schema.Table, err)
	}

	c.mu.Lock()
	if gen != c.subGen || !c.watching {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// apply merges one change event by id.
func (c *Collection[E]) apply(gen uint64, ch backend.Change) {
	row := ch.Row()
	id := row.ID()
	if id == "" {
		return
	}

	var e E
	if ch.Kind != backend.ChangeDelete {
		decoded, err := backend.Decode[E](row)
		if err != nil {
			logging.Warn("Undecodable change ignored", map[string]interface{}{
				"table": c.schema.Table,
				"id":    id,
				"error": err.Error(),
			})
			return
		}
		e = decoded
	}

	c.mu.Lock()
	if gen != c.subGen {
		c.mu.Unlock()
		return
	}
	_, present := c.items[id]

	switch ch.Kind {
	case backend.ChangeInsert:
		if _, gone := c.deleted[id]; gone || present || !c.inRangeLocked(e) {
			c.mu.Unlock()
			return
		}
		c.items[id] = e
	case backend.ChangeUpdate:
		if !present {
			c.mu.Unlock()
			return
		}
		c.items[id] = e
	case backend.ChangeDelete:
		delete(c.deleted, id)
		if !present {
			c.mu.Unlock()
			return
		}
		delete(c.items, id)
	default:
		c.mu.Unlock()
		return
	}
	notify := c.changedLocked()
	c.mu.Unlock()

	notify()
}
