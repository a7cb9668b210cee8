// Package realtime fans feed-affecting events out to connected group
// members over WebSocket. The hub subscribes to the event bus and routes
// each event to the clients of its group; clients that cannot keep up are
// dropped, never waited on.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/nospoilers/backend/internal/events"
	"github.com/nospoilers/backend/internal/metrics"
)

// feedEventTypes are the bus events that change what a group's feed shows.
var feedEventTypes = []string{
	events.TypePostCreated,
	events.TypeSelectionChanged,
	events.TypeProgressMarked,
	events.TypeProgressRolledBack,
}

// Hub tracks connected stream clients per group and broadcasts bus events
// to them.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}

	bus     *events.EventBus
	feed    chan *events.CloudEvent
	done    chan struct{}
	once    sync.Once
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub wires a hub to the bus. Call Run to start delivery and Close to
// detach.
func NewHub(bus *events.EventBus, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		groups:  make(map[string]map[*Client]struct{}),
		bus:     bus,
		feed:    bus.Subscribe(feedEventTypes...),
		done:    make(chan struct{}),
		metrics: m,
		logger:  logger,
	}
}

// Run consumes the bus subscription until Close. Events without a group are
// dropped; nobody is listening for them here.
func (h *Hub) Run() {
	for {
		select {
		case event, ok := <-h.feed:
			if !ok {
				return
			}
			if event.GroupID == "" {
				continue
			}
			h.broadcast(event)
		case <-h.done:
			return
		}
	}
}

// Close detaches the hub from the bus and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.bus.Unsubscribe(h.feed)

		h.mu.Lock()
		defer h.mu.Unlock()
		for _, clients := range h.groups {
			for c := range clients {
				c.shutdown()
			}
		}
		h.groups = make(map[string]map[*Client]struct{})
	})
}

// register adds a client to its group's set.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.groups[c.groupID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.groups[c.groupID] = clients
	}
	clients[c] = struct{}{}

	h.metrics.StreamClientConnected()
	h.logger.Info("stream client connected", "group_id", c.groupID, "user_id", c.userID, "group_clients", len(clients))
}

// unregister removes a client. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.groups[c.groupID]
	if !ok {
		return
	}
	if _, member := clients[c]; !member {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.groups, c.groupID)
	}

	h.metrics.StreamClientDisconnected()
	h.logger.Info("stream client disconnected", "group_id", c.groupID, "user_id", c.userID)
}

// broadcast delivers one event to every client of its group. Full send
// buffers mean the client has stalled; it gets cut rather than slow the
// group down.
func (h *Hub) broadcast(event *events.CloudEvent) {
	payload, err := event.JSON()
	if err != nil {
		h.logger.Warn("dropping unserializable event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	stalled := make([]*Client, 0)
	for c := range h.groups[event.GroupID] {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.logger.Warn("dropping stalled stream client", "group_id", c.groupID, "user_id", c.userID)
		c.shutdown()
		h.unregister(c)
	}
}

// GroupClientCount reports how many clients are attached to one group.
func (h *Hub) GroupClientCount(groupID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}

// ClientCount reports the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.groups {
		total += len(clients)
	}
	return total
}
