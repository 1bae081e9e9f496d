package hub

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Topic name builders. Topics come in three families: user:<id> (joined on
// connect, held for the connection's lifetime), category:<name> and
// type:<name> (dynamic).
func UserTopic(userID uuid.UUID) string { return "user:" + userID.String() }
func CategoryTopic(name string) string  { return "category:" + name }
func TypeTopic(name string) string      { return "type:" + name }

// dynamicTopic reports whether a topic may be joined or left by a dynamic
// subscribe/unsubscribe request.
func dynamicTopic(topic string) bool {
	return strings.HasPrefix(topic, "category:") || strings.HasPrefix(topic, "type:")
}

// Router tracks topic membership for live connections.
type Router struct {
	mu     sync.RWMutex
	topics map[string]map[string]struct{}
	joined map[string]map[string]struct{}
}

// NewRouter creates an empty topic router.
func NewRouter() *Router {
	return &Router{
		topics: make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to each topic. Idempotent.
func (r *Router) Join(connID string, topics ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, topic := range topics {
		members, ok := r.topics[topic]
		if !ok {
			members = make(map[string]struct{})
			r.topics[topic] = members
		}
		members[connID] = struct{}{}

		joined, ok := r.joined[connID]
		if !ok {
			joined = make(map[string]struct{})
			r.joined[connID] = joined
		}
		joined[topic] = struct{}{}
	}
}

// Leave removes the connection from each topic. Idempotent; leaving a topic
// never joined is a no-op.
func (r *Router) Leave(connID string, topics ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, topic := range topics {
		r.leaveLocked(connID, topic)
	}
}

func (r *Router) leaveLocked(connID, topic string) {
	if members, ok := r.topics[topic]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
	if joined, ok := r.joined[connID]; ok {
		delete(joined, topic)
		if len(joined) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Drop removes the connection from every topic it joined.
func (r *Router) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.joined[connID] {
		if members, ok := r.topics[topic]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(r.topics, topic)
			}
		}
	}
	delete(r.joined, connID)
}

// Members returns a snapshot of the connection ids subscribed to a topic.
func (r *Router) Members(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.topics[topic]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// Topics returns a sorted snapshot of the topics a connection has joined.
func (r *Router) Topics(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.joined[connID]
	topics := make([]string, 0, len(joined))
	for topic := range joined {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
