package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/babylog/internal/backend"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/uuid"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// Subscriber opens change subscriptions. Both *Hub and the SQLite store
// satisfy it.
type Subscriber interface {
	Subscribe(ctx context.Context, f backend.Filter, h backend.Handler) (backend.Subscription, error)
}

// Server serves the websocket change feed.
type Server struct {
	source   Subscriber
	upgrader websocket.Upgrader
}

// NewServer creates a feed server. An empty allowedOrigins accepts only
// same-host and localhost origins.
func NewServer(source Subscriber, allowedOrigins []string) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Server{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed["*"] || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return u.Host == r.Host || u.Hostname() == "localhost"
			},
		},
	}
}

// feedClient is one websocket connection.
type feedClient struct {
	id     string
	conn   *websocket.Conn
	source Subscriber
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]backend.Subscription
}

// ServeHTTP upgrades the connection and starts its pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &feedClient{
		id:     uuid.New(),
		conn:   conn,
		source: s.source,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]backend.Subscription),
	}

	logging.Info("Feed client connected", map[string]interface{}{
		"client": c.id,
		"remote": r.RemoteAddr,
	})

	go c.writePump()
	go c.readPump()
}

// readPump handles control messages until the connection closes.
func (c *feedClient) readPump() {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn("Feed read error", map[string]interface{}{"client": c.id, "error": err.Error()})
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.enqueue(control(ActionError, "", "invalid message format"))
			continue
		}

		switch msg.Action {
		case ActionSubscribe:
			c.subscribe(msg)
		case ActionUnsubscribe:
			c.unsubscribe(msg.ID)
		case ActionPing:
			c.enqueue(control(ActionPong, "", ""))
		default:
			c.enqueue(control(ActionError, msg.ID, "unknown action: "+msg.Action))
		}
	}
}

func (c *feedClient) subscribe(msg ClientMessage) {
	if msg.ID == "" || msg.Filter == nil || msg.Filter.Table == "" {
		c.enqueue(control(ActionError, msg.ID, "subscribe requires id and filter.table"))
		return
	}

	subID := msg.ID
	sub, err := c.source.Subscribe(c.ctx, *msg.Filter, func(change backend.Change) {
		data, err := EncodeChange(subID, change)
		if err != nil {
			logging.Error("Failed to encode change", err, map[string]interface{}{"client": c.id})
			return
		}
		c.enqueue(data)
	})
	if err != nil {
		c.enqueue(control(ActionError, subID, err.Error()))
		return
	}

	c.mu.Lock()
	if old, ok := c.subs[subID]; ok {
		old.Unsubscribe()
	}
	c.subs[subID] = sub
	c.mu.Unlock()

	c.enqueue(control(ActionSubscribeAck, subID, ""))
}

func (c *feedClient) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// enqueue queues an outbound message, dropping it when the connection is
// closing or the buffer is full.
func (c *feedClient) enqueue(data []byte) {
	select {
	case <-c.ctx.Done():
	case c.send <- data:
	default:
		logging.Warn("Feed send buffer full, message dropped", map[string]interface{}{"client": c.id})
	}
}

// writePump writes queued messages and keepalive pings.
func (c *feedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *feedClient) close() {
	c.cancel()

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]backend.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	c.conn.Close()

	logging.Info("Feed client disconnected", map[string]interface{}{"client": c.id})
}
