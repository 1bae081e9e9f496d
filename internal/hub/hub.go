// Package hub owns the realtime state: which users hold which connections,
// which topics those connections joined, and how events fan out to them.
package hub

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/metrics"
	"github.com/beaconhq/beacon/internal/store"
)

// Hub composes the session registry and topic router and performs fan-out.
type Hub struct {
	registry *Registry
	router   *Router
	logger   *zap.Logger
}

// New creates a hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		router:   NewRouter(),
		logger:   logger,
	}
}

// Connect registers a connection and joins its default topics: the user's own
// topic plus the category topics the stored preferences opt into.
func (h *Hub) Connect(conn Conn, prefs store.Preferences) {
	h.registry.Register(conn)

	topics := []string{UserTopic(conn.UserID())}
	for _, category := range prefs.CategoryOptIns() {
		topics = append(topics, CategoryTopic(category))
	}
	h.router.Join(conn.ID(), topics...)

	metrics.SetConnectionsOpen(h.registry.ConnectionCount())
	metrics.SetUsersOnline(h.registry.OnlineCount())

	h.logger.Info("connection registered",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", conn.UserID().String()),
		zap.Strings("topics", topics),
	)
}

// Disconnect tears down a connection. When the owner's last connection goes,
// every remaining session hears user:offline.
func (h *Hub) Disconnect(connID string) {
	h.router.Drop(connID)
	userID, wentOffline := h.registry.Unregister(connID)
	if userID == uuid.Nil {
		return
	}

	metrics.SetConnectionsOpen(h.registry.ConnectionCount())
	metrics.SetUsersOnline(h.registry.OnlineCount())

	h.logger.Info("connection unregistered",
		zap.String("connection_id", connID),
		zap.String("user_id", userID.String()),
		zap.Bool("went_offline", wentOffline),
	)

	if wentOffline {
		h.Broadcast(Event{
			Name: EventUserOffline,
			Data: map[string]any{"userId": userID.String()},
		})
	}
}

// Subscribe joins the connection to type/category topics. Only the dynamic
// families are honored; a connection can never acquire another user's topic
// this way.
func (h *Hub) Subscribe(connID string, types, categories []string) {
	topics := dynamicTopics(types, categories)
	if len(topics) == 0 {
		return
	}
	h.router.Join(connID, topics...)
}

// Unsubscribe leaves type/category topics. The connection's own user topic is
// not leavable while it lives.
func (h *Hub) Unsubscribe(connID string, types, categories []string) {
	topics := dynamicTopics(types, categories)
	if len(topics) == 0 {
		return
	}
	h.router.Leave(connID, topics...)
}

func dynamicTopics(types, categories []string) []string {
	topics := make([]string, 0, len(types)+len(categories))
	for _, t := range types {
		topics = append(topics, TypeTopic(t))
	}
	for _, c := range categories {
		topics = append(topics, CategoryTopic(c))
	}
	// belt and braces: drop anything that is not a dynamic family
	filtered := topics[:0]
	for _, topic := range topics {
		if dynamicTopic(topic) {
			filtered = append(filtered, topic)
		}
	}
	return filtered
}

// IsOnline reports live presence for a user.
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	return h.registry.IsOnline(userID)
}

// OnlineCount returns how many users are online.
func (h *Hub) OnlineCount() int {
	return h.registry.OnlineCount()
}

// ConnectionsFor exposes a snapshot of a user's connection ids.
func (h *Hub) ConnectionsFor(userID uuid.UUID) []string {
	return h.registry.ConnectionsFor(userID)
}

// TopicsFor exposes a snapshot of a connection's joined topics.
func (h *Hub) TopicsFor(connID string) []string {
	return h.router.Topics(connID)
}

// EmitToUser delivers an event to every live connection of the user, each at
// most once, skipping excludeConnID (used to relay to a user's *other*
// sessions). Returns the number of connections reached.
func (h *Hub) EmitToUser(userID uuid.UUID, ev Event, excludeConnID string) int {
	delivered := 0
	for _, conn := range h.registry.connsFor(userID) {
		if conn.ID() == excludeConnID {
			continue
		}
		if err := h.send(conn, ev); err == nil {
			delivered++
		}
	}
	return delivered
}

// EmitToTopics delivers an event once to every connection subscribed to any
// of the topics, excluding connections owned by excludeUser. The union is
// deduplicated so overlapping subscriptions never double-deliver.
func (h *Hub) EmitToTopics(topics []string, ev Event, excludeUser uuid.UUID) int {
	seen := make(map[string]struct{})
	delivered := 0
	for _, topic := range topics {
		for _, connID := range h.router.Members(topic) {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}

			conn, ok := h.registry.get(connID)
			if !ok || conn.UserID() == excludeUser {
				continue
			}
			if err := h.send(conn, ev); err == nil {
				delivered++
			}
		}
	}
	return delivered
}

// Shutdown closes every open connection. Each close drives the normal
// disconnect path from the connection's own goroutine.
func (h *Hub) Shutdown() {
	conns := h.registry.all()
	h.logger.Info("closing live connections", zap.Int("count", len(conns)))
	for _, conn := range conns {
		conn.Close()
	}
}

// Broadcast delivers an event to every open connection.
func (h *Hub) Broadcast(ev Event) {
	for _, conn := range h.registry.all() {
		_ = h.send(conn, ev)
	}
}

// send pushes an event through a connection's bounded send. A timeout means
// that connection failed for this emission; it is logged, never fatal.
func (h *Hub) send(conn Conn, ev Event) error {
	if err := conn.Send(ev); err != nil {
		metrics.RecordFanoutDrop()
		h.logger.Warn("dropping event for slow or closed connection",
			zap.String("connection_id", conn.ID()),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
		return err
	}
	return nil
}
