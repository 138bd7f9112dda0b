package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Mustapha-AitAbd/Backend-astomeeting-app/internal/metrics"
)

// Client is one realtime connection as seen by the hub.
type Client struct {
	ID   string
	Send chan []byte

	mu     sync.RWMutex
	userID string

	rooms map[string]struct{} // guarded by Hub.mu
}

func NewClient(id string, buffer int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, buffer),
		rooms: make(map[string]struct{}),
	}
}

// UserID is the user announced on this connection, "" until announced.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) SetUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// Hub fans frames out to rooms (one per conversation) and to every client.
type Hub struct {
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	mu      sync.RWMutex
	log     *zap.Logger

	// publish function for cross-instance broadcasting (optional)
	PublishToOtherInstances func(ctx context.Context, room string, frame []byte) error
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.Connections.Inc()
}

// Unregister drops c from every room and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.removeFromRoom(room, c)
	}
	close(c.Send)
	metrics.Connections.Dec()
}

func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoom(room, c)
}

func (h *Hub) removeFromRoom(room string, c *Client) {
	delete(c.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends event to every member of room on this instance and, when a
// relay is configured, to the room's members on other instances.
func (h *Hub) Publish(ctx context.Context, room, event string, payload any) error {
	frame, err := Encode(event, "", payload)
	if err != nil {
		return err
	}
	h.DeliverLocal(room, frame)
	return h.relay(ctx, room, frame)
}

// BroadcastAll sends event to every connected client.
func (h *Hub) BroadcastAll(ctx context.Context, event string, payload any) error {
	return h.Publish(ctx, "", event, payload)
}

// SendTo replies to a single client only.
func (h *Hub) SendTo(c *Client, event, ack string, payload any) error {
	frame, err := Encode(event, ack, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		h.trySend(c, frame)
	}
	return nil
}

// DeliverLocal writes frame to the local members of room; room "" means every client.
func (h *Hub) DeliverLocal(room string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients
	if room != "" {
		set = h.rooms[room]
	}
	for c := range set {
		h.trySend(c, frame)
	}
}

func (h *Hub) trySend(c *Client, frame []byte) {
	select {
	case c.Send <- frame:
	default:
		// slow consumer, frame dropped
		metrics.DroppedFrames.Inc()
		h.log.Debug("dropping frame for slow client", zap.String("client_id", c.ID))
	}
}

func (h *Hub) relay(ctx context.Context, room string, frame []byte) error {
	if h.PublishToOtherInstances == nil {
		return nil
	}
	return h.PublishToOtherInstances(ctx, room, frame)
}
