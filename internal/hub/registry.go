package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is one live, addressable connection. Send must be bounded: a slow
// receiver returns an error instead of blocking the caller.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	Send(Event) error
	Close()
}

// Registry maps users to their open connections. It is the sole owner of the
// underlying maps; callers only ever see snapshots.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
	users map[uuid.UUID]map[string]struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]Conn),
		users: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Register adds a connection to its user's set. Idempotent.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = conn
	set, ok := r.users[conn.UserID()]
	if !ok {
		set = make(map[string]struct{})
		r.users[conn.UserID()] = set
	}
	set[conn.ID()] = struct{}{}
}

// Unregister removes a connection. It reports which user owned it and whether
// that user just transitioned offline (their set became empty).
func (r *Registry) Unregister(connID string) (userID uuid.UUID, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.conns, connID)

	userID = conn.UserID()
	if set, ok := r.users[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
			wentOffline = true
		}
	}
	return userID, wentOffline
}

// ConnectionsFor returns a snapshot of the user's connection ids.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// connsFor returns a snapshot of the user's live connections.
func (r *Registry) connsFor(userID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]Conn, 0, len(set))
	for id := range set {
		if c, ok := r.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// get looks up a connection by id.
func (r *Registry) get(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// all returns a snapshot of every live connection.
func (r *Registry) all() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the user holds at least one live connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineCount returns how many users are online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// ConnectionCount returns how many connections are open.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
