package ws

import (
	"sync"

	"github.com/saurabhrjk/admin-connect-chat/internal/events"
)

// Subscriber is the part of the event broker the hub needs.
type Subscriber interface {
	Subscribe(userID string, fn func(events.Event)) (unsubscribe func())
}

// Hub tracks live WebSocket clients keyed by user id. It holds one broker
// subscription per connected user and fans each event out to all of that
// user's connections.
type Hub struct {
	broker Subscriber

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	unsub   map[string]func()
}

func NewHub(broker Subscriber) *Hub {
	return &Hub{
		broker:  broker,
		clients: make(map[string]map[*Client]struct{}),
		unsub:   make(map[string]func()),
	}
}

// Register adds c. The first connection of a user subscribes the hub to
// that user's events.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.clients[c.userID] == nil
	if first {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.mu.Unlock()

	if first {
		uid := c.userID
		unsubscribe := h.broker.Subscribe(uid, func(e events.Event) { h.SendTo(uid, e) })
		h.mu.Lock()
		if _, still := h.clients[uid]; still && h.unsub[uid] == nil {
			h.unsub[uid] = unsubscribe
			unsubscribe = nil
		}
		h.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	}
}

// Unregister removes c and closes its send queue. It is safe to call more
// than once.
func (h *Hub) Unregister(c *Client) {
	var unsubscribe func()
	h.mu.Lock()
	if conns, ok := h.clients[c.userID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.closeSend()
		}
		if len(conns) == 0 {
			delete(h.clients, c.userID)
			unsubscribe = h.unsub[c.userID]
			delete(h.unsub, c.userID)
		}
	}
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// SendTo queues v on every connection of userID. Connections whose queue
// is full are dropped.
func (h *Hub) SendTo(userID string, v any) {
	var slow []*Client
	h.mu.RLock()
	for c := range h.clients[userID] {
		if !c.enqueue(v) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.Unregister(c)
	}
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Total returns the number of live connections across all users.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}
