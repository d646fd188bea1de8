// Package client implements backend.Backend and identity.Sessions against a
// remote babylog gateway. Rows travel over the REST routes; change events
// arrive on one shared websocket that multiplexes every subscription.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/babylog/internal/api"
	"github.com/kimhsiao/babylog/internal/backend"
	apperrors "github.com/kimhsiao/babylog/internal/errors"
	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/realtime"
	"github.com/kimhsiao/babylog/internal/uuid"
)

const (
	defaultTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
)

// Client talks to a gateway at a base URL such as http://localhost:8080.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]backend.Handler
	pending  map[string]chan error
	closed   bool

	// writeLock serializes frames on conn.
	writeLock sync.Mutex
}

var (
	_ backend.Backend   = (*Client)(nil)
	_ identity.Sessions = (*Client)(nil)
)

// New creates a Client. The websocket is dialed on the first Subscribe.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		dialer:     websocket.DefaultDialer,
		handlers:   make(map[string]backend.Handler),
		pending:    make(map[string]chan error),
	}
}

// SetHTTPClient replaces the client used for REST calls.
func (c *Client) SetHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// =====================================================
// REST
// =====================================================

// Select runs q through GET /rest/{table}.
func (c *Client) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	var rows []backend.Row
	if err := c.do(ctx, http.MethodGet, tablePath(q.Table, ""), api.EncodeQuery(q), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert creates a row through POST /rest/{table}.
func (c *Client) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	var stored backend.Row
	if err := c.do(ctx, http.MethodPost, tablePath(table, ""), nil, row, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Update patches a row through PATCH /rest/{table}/{id}.
func (c *Client) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	var stored backend.Row
	if err := c.do(ctx, http.MethodPatch, tablePath(table, id), nil, patch, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// Delete removes a row through DELETE /rest/{table}/{id}.
func (c *Client) Delete(ctx context.Context, table, id string) (backend.Row, error) {
	var old backend.Row
	if err := c.do(ctx, http.MethodDelete, tablePath(table, id), nil, nil, &old); err != nil {
		return nil, err
	}
	return old, nil
}

// CurrentUser asks the gateway who is signed in.
func (c *Client) CurrentUser(ctx context.Context) (*identity.User, error) {
	var u *identity.User
	if err := c.do(ctx, http.MethodGet, "/auth/user", nil, nil, &u); err != nil {
		return nil, err
	}
	return u, nil
}

func tablePath(table, id string) string {
	p := "/rest/" + url.PathEscape(table)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

// do sends one request and decodes a 2xx body into out. Gateway errors come
// back as the AppError the gateway wrote; anything that prevents an answer
// is a transport error.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, method+" "+path+" failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "failed to read response", err)
	}

	if resp.StatusCode/100 != 2 {
		var gwErr apperrors.AppError
		if json.Unmarshal(data, &gwErr) == nil && gwErr.Code != "" {
			return apperrors.New(gwErr.Code, gwErr.Message)
		}
		return apperrors.Newf(apperrors.ErrTransport, "%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(apperrors.ErrTransport, "failed to decode response", err)
	}
	return nil
}

// =====================================================
// Realtime
// =====================================================

// Subscribe registers h for changes matching f. It returns once the gateway
// has acknowledged the subscription. Cancelling ctx unsubscribes.
func (c *Client) Subscribe(ctx context.Context, f backend.Filter, h backend.Handler) (backend.Subscription, error) {
	conn, err := c.feed(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	ack := make(chan error, 1)
	c.mu.Lock()
	c.handlers[id] = h
	c.pending[id] = ack
	c.mu.Unlock()

	filter := f
	if err := c.write(conn, realtime.ClientMessage{Action: realtime.ActionSubscribe, ID: id, Filter: &filter}); err != nil {
		c.forget(id)
		return nil, apperrors.Wrap(apperrors.ErrTransport, "failed to send subscribe", err)
	}

	select {
	case err := <-ack:
		if err != nil {
			c.forget(id)
			return nil, err
		}
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.forget(id)
			if err := c.write(conn, realtime.ClientMessage{Action: realtime.ActionUnsubscribe, ID: id}); err != nil {
				logging.Debug("Unsubscribe not delivered", map[string]interface{}{"subscription": id, "error": err.Error()})
			}
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return backend.SubscriptionFunc(func() {
		stop()
		unsubscribe()
	}), nil
}

// Close drops the websocket. Live subscriptions end without further events.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.drop(conn, apperrors.New(apperrors.ErrTransport, "client closed"))
	return conn.Close()
}

// feed returns the shared connection, dialing it on first use.
func (c *Client) feed(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, apperrors.New(apperrors.ErrTransport, "client closed")
	}
	if c.conn != nil {
		return c.conn, nil
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/realtime"
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "failed to dial realtime feed", err)
	}
	c.conn = conn
	go c.readLoop(conn)

	logging.Debug("Realtime feed connected", map[string]interface{}{"url": wsURL})
	return conn, nil
}

func (c *Client) write(conn *websocket.Conn, msg realtime.ClientMessage) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.handlers, id)
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop dispatches events in arrival order until the connection fails.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, apperrors.Wrap(apperrors.ErrTransport, "realtime feed closed", err))
			return
		}

		if realtime.IsEvent(raw) {
			c.dispatch(raw)
			continue
		}

		var msg realtime.ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logging.Warn("Unreadable feed message", map[string]interface{}{"error": err.Error()})
			continue
		}
		c.resolve(msg)
	}
}

func (c *Client) dispatch(raw []byte) {
	subID, change, err := realtime.DecodeChange(raw)
	if err != nil {
		logging.Warn("Dropping undecodable change", map[string]interface{}{"error": err.Error()})
		return
	}
	c.mu.Lock()
	h := c.handlers[subID]
	c.mu.Unlock()
	if h != nil {
		h(change)
	}
}

func (c *Client) resolve(msg realtime.ControlMessage) {
	var result error
	switch msg.Action {
	case realtime.ActionSubscribeAck:
	case realtime.ActionError:
		result = apperrors.Newf(apperrors.ErrSubscription, "gateway rejected subscription: %s", msg.Error)
	default:
		return
	}

	c.mu.Lock()
	ack, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		if result != nil {
			logging.Warn("Feed error", map[string]interface{}{"subscription": msg.ID, "error": msg.Error})
		}
		return
	}
	ack <- result
}

// drop detaches a failed connection, failing pending subscribes and
// discarding handlers bound to it. The next Subscribe redials.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	lost := len(c.handlers)
	c.pending = make(map[string]chan error)
	c.handlers = make(map[string]backend.Handler)
	closed := c.closed
	c.mu.Unlock()

	for _, ack := range pending {
		ack <- cause
	}
	if !closed && lost > 0 {
		logging.Warn("Realtime feed lost", map[string]interface{}{
			"subscriptions": lost,
			"error":         fmt.Sprint(cause),
		})
	}
	conn.Close()
}
