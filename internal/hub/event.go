package hub

import "time"

// Server -> client event names.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
	EventUnreadCount  = "unreadCount"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventUserOffline  = "user:offline"
	EventSeen         = "notification:seen"
	EventPong         = "pong"
	EventError        = "error"
)

// Event is the envelope every realtime message travels in.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// PongEvent builds the reply to a ping.
func PongEvent(now time.Time) Event {
	return Event{Name: EventPong, Data: map[string]any{"timestamp": now.UnixMilli()}}
}

// ErrorEvent builds an error event with a client-safe message.
func ErrorEvent(message string) Event {
	return Event{Name: EventError, Data: map[string]any{"message": message}}
}
