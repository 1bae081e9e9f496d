package ws

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/hub"
)

func TestClientSendBuffers(t *testing.T) {
	c := newClient(nil, uuid.New(), 10*time.Millisecond, zap.NewNop())

	if err := c.Send(hub.Event{Name: hub.EventNotification}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(c.outbound); got != 1 {
		t.Errorf("expected 1 buffered event, got %d", got)
	}
}

func TestClientSendTimesOutWhenFull(t *testing.T) {
	c := newClient(nil, uuid.New(), 10*time.Millisecond, zap.NewNop())

	for i := 0; i < cap(c.outbound); i++ {
		if err := c.Send(hub.Event{Name: hub.EventNotification}); err != nil {
			t.Fatalf("fill %d: unexpected error: %v", i, err)
		}
	}

	start := time.Now()
	err := c.Send(hub.Event{Name: hub.EventNotification})
	if !errors.Is(err, ErrSendTimeout) {
		t.Fatalf("expected ErrSendTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("bounded send must not block long, took %v", elapsed)
	}
}

func TestClientSendAfterShutdown(t *testing.T) {
	c := newClient(nil, uuid.New(), time.Second, zap.NewNop())

	for i := 0; i < cap(c.outbound); i++ {
		_ = c.Send(hub.Event{Name: hub.EventNotification})
	}
	close(c.done)

	if err := c.Send(hub.Event{Name: hub.EventNotification}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestClientIdentity(t *testing.T) {
	user := uuid.New()
	c := newClient(nil, user, time.Second, zap.NewNop())

	if c.UserID() != user {
		t.Errorf("expected user %v, got %v", user, c.UserID())
	}
	if _, err := uuid.Parse(c.ID()); err != nil {
		t.Errorf("connection id should be a uuid, got %q", c.ID())
	}
}
