// Package realtime fans committed row changes out to subscribers, in process
// and over a websocket feed.
package realtime

import (
	"context"
	"sync"

	"github.com/kimhsiao/babylog/internal/backend"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/uuid"
)

const defaultBuffer = 256

// Hub maintains subscriptions and delivers published changes to each one in
// publish order on its own goroutine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	buffer int
	closed bool
}

type subscription struct {
	id      string
	filter  backend.Filter
	handler backend.Handler
	events  chan backend.Change
	done    chan struct{}
	once    sync.Once
	hub     *Hub
}

// NewHub creates a hub whose subscribers buffer up to buffer pending events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]*subscription),
		buffer: buffer,
	}
}

// Subscribe registers h for changes matching f. The subscription ends when
// Unsubscribe is called, ctx is cancelled, or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, f backend.Filter, handler backend.Handler) (backend.Subscription, error) {
	s := &subscription{
		id:      uuid.New(),
		filter:  f,
		handler: handler,
		events:  make(chan backend.Change, h.buffer),
		done:    make(chan struct{}),
		hub:     h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		return s, nil
	}
	h.subs[s.id] = s
	count := len(h.subs)
	h.mu.Unlock()

	go s.run(ctx)

	logging.Debug("Subscription opened", map[string]interface{}{
		"subscription": s.id,
		"table":        f.Table,
		"column":       f.Column,
		"total":        count,
	})
	return s, nil
}

// Publish delivers c to every matching subscription without blocking. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(c backend.Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if !s.filter.Matches(c) {
			continue
		}
		select {
		case s.events <- c:
		case <-s.done:
		default:
			logging.Warn("Subscriber buffer full, change dropped", map[string]interface{}{
				"subscription": s.id,
				"table":        c.Table,
				"kind":         string(c.Kind),
			})
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends all subscriptions. Later Subscribe calls return inert subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *subscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
			return
		case <-s.done:
			return
		case c := <-s.events:
			// Unsubscribe may race with a queued event; done wins.
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(c)
		}
	}
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s.id)
		logging.Debug("Subscription closed", map[string]interface{}{
			"subscription": s.id,
			"table":        s.filter.Table,
		})
	})
}
