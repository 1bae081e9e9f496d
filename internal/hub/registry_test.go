package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// fakeConn records every event pushed through it.
type fakeConn struct {
	id     string
	userID uuid.UUID

	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func newFakeConn(id string, userID uuid.UUID) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) UserID() uuid.UUID { return c.userID }

func (c *fakeConn) Send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send buffer full")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestRegistryRegisterAndPresence(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	if r.IsOnline(user) {
		t.Fatal("user should start offline")
	}

	r.Register(newFakeConn("c1", user))

	if !r.IsOnline(user) {
		t.Error("user should be online after register")
	}
	if got := r.OnlineCount(); got != 1 {
		t.Errorf("expected 1 online user, got %d", got)
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Errorf("expected 1 connection, got %d", got)
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	conn := newFakeConn("c1", user)

	r.Register(conn)
	r.Register(conn)

	if got := r.ConnectionCount(); got != 1 {
		t.Errorf("expected 1 connection after duplicate register, got %d", got)
	}
	if got := len(r.ConnectionsFor(user)); got != 1 {
		t.Errorf("expected 1 connection id for user, got %d", got)
	}
}

func TestRegistryUnregisterOfflineTransition(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	r.Register(newFakeConn("c1", user))
	r.Register(newFakeConn("c2", user))

	gotUser, wentOffline := r.Unregister("c1")
	if gotUser != user {
		t.Errorf("expected owner %v, got %v", user, gotUser)
	}
	if wentOffline {
		t.Error("user still has a live connection, should not go offline")
	}
	if !r.IsOnline(user) {
		t.Error("user should still be online")
	}

	_, wentOffline = r.Unregister("c2")
	if !wentOffline {
		t.Error("last connection closing should flip the user offline")
	}
	if r.IsOnline(user) {
		t.Error("user should be offline")
	}
}

func TestRegistryUnregisterUnknownConnection(t *testing.T) {
	r := NewRegistry()

	userID, wentOffline := r.Unregister("ghost")
	if userID != uuid.Nil || wentOffline {
		t.Errorf("unknown connection should be a no-op, got %v %v", userID, wentOffline)
	}
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(newFakeConn(id, user))
			r.IsOnline(user)
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	if got := r.ConnectionCount(); got != 0 {
		t.Errorf("expected no connections after churn, got %d", got)
	}
	if r.IsOnline(user) {
		t.Error("user should be offline after all connections closed")
	}
}
