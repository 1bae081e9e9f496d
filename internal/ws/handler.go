// Package ws exposes the realtime connection endpoint: authenticate, register
// with the hub, then shuttle events both ways until disconnect.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/hub"
)

// Authenticator validates the handshake credential.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.Identity, error)
}

// UnreadCounter answers the client's unread count requests.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, ownerID uuid.UUID) (int, error)
}

// Handler upgrades HTTP requests into realtime connections.
type Handler struct {
	hub         *hub.Hub
	gate        Authenticator
	counts      UnreadCounter
	sendTimeout time.Duration
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(h *hub.Hub, gate Authenticator, counts UnreadCounter, sendTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		hub:         h,
		gate:        gate,
		counts:      counts,
		sendTimeout: sendTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /v1/ws. Authentication happens before the upgrade: a
// rejected credential never reaches the session registry.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		if auth.IsRejection(err) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		} else {
			h.logger.Error("handshake auth failed", zap.Error(err))
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, identity.UserID, h.sendTimeout, h.logger)
	h.hub.Connect(client, identity.Preferences)

	_ = client.Send(hub.Event{
		Name: hub.EventConnected,
		Data: map[string]any{
			"connectionId": client.ID(),
			"userId":       identity.UserID.String(),
		},
	})

	go client.writePump()
	client.readPump(h.handleMessage)

	h.hub.Disconnect(client.ID())
}

// bearerToken pulls the credential from the Authorization header or, for
// browser clients that cannot set headers on websocket requests, ?token=.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

type subscribePayload struct {
	Types      []string `json:"types"`
	Categories []string `json:"categories"`
}

type seenPayload struct {
	NotificationID string `json:"notificationId"`
}

// handleMessage routes one inbound client event. An in-flight request simply
// stops if the connection closes mid-way; join/leave are idempotent so
// nothing needs rolling back.
func (h *Handler) handleMessage(c *Client, msg clientMessage) {
	switch msg.Event {
	case "subscribe:notifications":
		var payload subscribePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			_ = c.Send(hub.ErrorEvent("failed to subscribe to notifications"))
			return
		}
		h.hub.Subscribe(c.ID(), payload.Types, payload.Categories)
		_ = c.Send(hub.Event{Name: hub.EventSubscribed, Data: payload})

	case "unsubscribe:notifications":
		var payload subscribePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			_ = c.Send(hub.ErrorEvent("failed to unsubscribe from notifications"))
			return
		}
		h.hub.Unsubscribe(c.ID(), payload.Types, payload.Categories)
		_ = c.Send(hub.Event{Name: hub.EventUnsubscribed, Data: payload})

	case "notification:seen":
		var payload seenPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.NotificationID == "" {
			return
		}
		// relay to the same user's other sessions, never back to the sender
		h.hub.EmitToUser(c.UserID(), hub.Event{
			Name: hub.EventSeen,
			Data: map[string]any{"notificationId": payload.NotificationID},
		}, c.ID())

	case "get:unreadCount":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		count, err := h.counts.UnreadCount(ctx, c.UserID())
		if err != nil {
			h.logger.Error("unread count failed", zap.Error(err))
			_ = c.Send(hub.ErrorEvent("failed to get unread count"))
			return
		}
		_ = c.Send(hub.Event{Name: hub.EventUnreadCount, Data: map[string]any{"count": count}})

	case "ping":
		_ = c.Send(hub.PongEvent(time.Now()))

	default:
		h.logger.Debug("unknown client event", zap.String("event", msg.Event))
	}
}
