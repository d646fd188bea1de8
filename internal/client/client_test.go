package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/babylog/internal/api"
	"github.com/kimhsiao/babylog/internal/backend"
	"github.com/kimhsiao/babylog/internal/db"
	"github.com/kimhsiao/babylog/internal/entities"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/models"
)

type gateway struct {
	store *db.Store
	srv   *httptest.Server
}

func setupGateway(t *testing.T, sessions identity.Sessions) *gateway {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, db.NewEmbeddedMigrator(conn.DB).Up())
	store := db.NewStore(conn.DB, nil, entities.Tables()...)

	srv := httptest.NewServer(api.NewRouter(api.Options{Backend: store, Sessions: sessions}))
	t.Cleanup(func() {
		srv.Close()
		store.Close()
		conn.Close()
	})
	return &gateway{store: store, srv: srv}
}

func newClient(t *testing.T, gw *gateway) *Client {
	t.Helper()
	c := New(gw.srv.URL + "/")
	t.Cleanup(func() { c.Close() })
	return c
}

type changes struct {
	mu  sync.Mutex
	got []backend.Change
}

func (c *changes) handle(ch backend.Change) {
	c.mu.Lock()
	c.got = append(c.got, ch)
	c.mu.Unlock()
}

func (c *changes) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *changes) at(i int) backend.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.got[i]
}

func TestClient_RESTRoundTrip(t *testing.T) {
	c := newClient(t, setupGateway(t, nil))
	ctx := context.Background()

	stored, err := c.Insert(ctx, "checkups", backend.Row{"user_id": "u1", "checkup_date": "2024-03-05", "weight_kg": 5.2})
	require.NoError(t, err)
	id := stored.ID()
	require.NotEmpty(t, id)
	assert.Equal(t, 5.2, stored["weight_kg"])

	_, err = c.Insert(ctx, "checkups", backend.Row{"user_id": "u1", "checkup_date": "2024-04-05"})
	require.NoError(t, err)

	rows, err := c.Select(ctx, backend.Query{
		Table:  "checkups",
		Eq:     map[string]any{"user_id": "u1"},
		Bounds: &backend.Bounds{Column: "checkup_date", Gte: "2024-03-01", Lte: "2024-03-31"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID())

	updated, err := c.Update(ctx, "checkups", id, backend.Row{"clinic": "north"})
	require.NoError(t, err)
	assert.Equal(t, "north", updated["clinic"])
	assert.Equal(t, "2024-03-05", updated["checkup_date"])

	old, err := c.Delete(ctx, "checkups", id)
	require.NoError(t, err)
	assert.Equal(t, id, old.ID())
}

func TestClient_ErrorCodesSurvive(t *testing.T) {
	c := newClient(t, setupGateway(t, nil))
	ctx := context.Background()

	_, err := c.Delete(ctx, "checkups", "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNoRowsAffected), "got %v", err)

	_, err = c.Select(ctx, backend.Query{Table: "secrets"})
	assert.True(t, apperrors.Is(err, apperrors.ErrUnknownTable), "got %v", err)

	_, err = c.Insert(ctx, "checkups", backend.Row{"user_id": "u1", "bogus": 1})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "got %v", err)
}

func TestClient_TransportError(t *testing.T) {
	gw := setupGateway(t, nil)
	c := newClient(t, gw)
	gw.srv.Close()

	_, err := c.Select(context.Background(), backend.Query{Table: "checkups"})
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport), "got %v", err)

	_, err = c.Subscribe(context.Background(), backend.Filter{Table: "checkups"}, func(backend.Change) {})
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport), "got %v", err)
}

func TestClient_CurrentUser(t *testing.T) {
	u, err := newClient(t, setupGateway(t, nil)).CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)

	gw := setupGateway(t, identity.StaticSession{ID: "3F2504E0-4F89-41D3-9A0C-0305E82C3301"})
	u, err = newClient(t, gw).CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)

	r := identity.NewResolver(newClient(t, gw), "")
	assert.Equal(t, "3F2504E0-4F89-41D3-9A0C-0305E82C3301", r.ResolveUserID(context.Background()))
}

func TestClient_SubscriptionsShareOneFeed(t *testing.T) {
	gw := setupGateway(t, nil)
	c := newClient(t, gw)
	ctx := context.Background()

	var mine, all changes
	subMine, err := c.Subscribe(ctx, backend.Filter{Table: "baby_logs", Column: "user_id", Value: "u1"}, mine.handle)
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, backend.Filter{Table: "baby_logs"}, all.handle)
	require.NoError(t, err)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	require.NotNil(t, conn)

	_, err = gw.store.Insert(ctx, "baby_logs", backend.Row{"user_id": "u1", "log_type": "pee", "logged_at": 10})
	require.NoError(t, err)
	_, err = gw.store.Insert(ctx, "baby_logs", backend.Row{"user_id": "u2", "log_type": "pee", "logged_at": 20})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return all.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return mine.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "u1", mine.at(0).Record["user_id"])
	assert.Equal(t, backend.ChangeInsert, mine.at(0).Kind)

	subMine.Unsubscribe()
	subMine.Unsubscribe()
	_, err = gw.store.Insert(ctx, "baby_logs", backend.Row{"user_id": "u1", "log_type": "bath", "logged_at": 30})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return all.len() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, mine.len())

	c.mu.Lock()
	assert.Same(t, conn, c.conn)
	assert.Len(t, c.handlers, 1)
	c.mu.Unlock()
}

func TestClient_SubscribeRejected(t *testing.T) {
	c := newClient(t, setupGateway(t, nil))
	_, err := c.Subscribe(context.Background(), backend.Filter{Table: "secrets"}, func(backend.Change) {})
	assert.True(t, apperrors.Is(err, apperrors.ErrSubscription), "got %v", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.handlers)
	assert.Empty(t, c.pending)
}

func TestClient_ContextCancelUnsubscribes(t *testing.T) {
	c := newClient(t, setupGateway(t, nil))
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.Subscribe(ctx, backend.Filter{Table: "outings"}, func(backend.Change) {})
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.handlers) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_CloseEndsFeed(t *testing.T) {
	c := newClient(t, setupGateway(t, nil))
	_, err := c.Subscribe(context.Background(), backend.Filter{Table: "outings"}, func(backend.Change) {})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = c.Subscribe(context.Background(), backend.Filter{Table: "outings"}, func(backend.Change) {})
	assert.True(t, apperrors.Is(err, apperrors.ErrTransport))
}

func TestClient_BacksACollection(t *testing.T) {
	gw := setupGateway(t, nil)
	c := newClient(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	users := identity.NewResolver(c, "")
	list := entities.NewShopping(c, users)
	require.NoError(t, list.Watch(ctx))
	require.NoError(t, list.Load(ctx))
	defer list.Close()

	created, err := list.Create(ctx, models.ShoppingItem{Name: "wipes", SortOrder: 1})
	require.NoError(t, err)
	assert.Equal(t, identity.DefaultFallbackUserID, created.UserID)
	assert.Equal(t, 1, created.Quantity)

	// Written by another device.
	_, err = gw.store.Insert(ctx, "shopping_items", backend.Row{
		"user_id": identity.DefaultFallbackUserID, "name": "diapers", "sort_order": 0,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(list.Items()) == 2 }, 2*time.Second, 10*time.Millisecond)
	items := list.Items()
	assert.Equal(t, "diapers", items[0].Name)
	assert.Equal(t, "wipes", items[1].Name)

	// The echo of our own insert must not duplicate the row.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, list.Items(), 2)

	_, err = list.Update(ctx, created.ID.String(), map[string]any{"is_checked": true})
	require.NoError(t, err)
	require.NoError(t, list.Delete(ctx, created.ID.String()))
	require.Eventually(t, func() bool { return len(list.Items()) == 1 }, 2*time.Second, 10*time.Millisecond)
}
