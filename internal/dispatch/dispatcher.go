// Package dispatch decides how a notification reaches its recipient: direct
// fan-out to live sessions when the user is online, push fallback when not.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/hub"
	"github.com/beaconhq/beacon/internal/metrics"
	"github.com/beaconhq/beacon/internal/push"
	"github.com/beaconhq/beacon/internal/store"
)

// Realtime is the hub surface the dispatcher needs.
type Realtime interface {
	IsOnline(userID uuid.UUID) bool
	EmitToUser(userID uuid.UUID, ev hub.Event, excludeConnID string) int
	EmitToTopics(topics []string, ev hub.Event, excludeUser uuid.UUID) int
}

// Store is the persistence surface the dispatcher needs.
type Store interface {
	RecordDispatchResult(ctx context.Context, n *store.Notification) error
	ListDevices(ctx context.Context, userID uuid.UUID) ([]store.Device, error)
	UnreadCount(ctx context.Context, ownerID uuid.UUID) (int, error)
}

// Pusher is the push gateway surface the dispatcher needs.
type Pusher interface {
	Send(ctx context.Context, devices []store.Device, msg push.Message) push.Result
}

// Dispatcher drives the delivery state machine:
// Created -> Dispatched(direct|fallback) -> Delivered | Failed.
type Dispatcher struct {
	realtime Realtime
	store    Store
	pusher   Pusher
	logger   *zap.Logger
}

// New creates a dispatcher.
func New(realtime Realtime, st Store, pusher Pusher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		realtime: realtime,
		store:    st,
		pusher:   pusher,
		logger:   logger,
	}
}

// Dispatch delivers a persisted notification. Exactly one path runs: direct
// fan-out when the recipient is online at the moment of emission, otherwise
// push fallback. The outcome is persisted before it is reported; if that
// persistence fails the dispatch is an error regardless of what the wire saw.
func (d *Dispatcher) Dispatch(ctx context.Context, n *store.Notification) error {
	now := time.Now()

	var path string
	if d.realtime.IsOnline(n.Recipient) {
		path = "direct"
		d.dispatchDirect(ctx, n, now)
	} else {
		path = "fallback"
		if err := d.dispatchFallback(ctx, n, now); err != nil {
			return err
		}
	}

	if err := d.store.RecordDispatchResult(ctx, n); err != nil {
		// never report delivered when the status update did not stick
		n.Status.Delivered = false
		n.Timestamps.Delivered = nil
		return fmt.Errorf("record dispatch result: %w", err)
	}

	result := "failed"
	if n.Status.Delivered {
		result = "delivered"
	}
	metrics.RecordDispatch(path, result)

	d.logger.Info("notification dispatched",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient", n.Recipient.String()),
		zap.String("path", path),
		zap.String("result", result),
	)
	return nil
}

// dispatchDirect fans the notification out to the recipient's live sessions
// and, secondarily, to matching topic subscribers. Only the recipient's own
// sessions decide the delivery status.
func (d *Dispatcher) dispatchDirect(ctx context.Context, n *store.Notification, now time.Time) {
	ev := hub.Event{Name: hub.EventNotification, Data: n}

	reached := d.realtime.EmitToUser(n.Recipient, ev, "")
	if reached > 0 {
		n.MarkDelivered(now)
	} else {
		// the user disconnected between the presence check and emission
		n.RecordFailure(now, now.Add(nextRetryDelay(n.Retries.Count+1)), "no live connection accepted the event")
	}

	// secondary broadcast; never touches delivery status
	d.realtime.EmitToTopics([]string{
		hub.CategoryTopic(n.Category),
		hub.TypeTopic(n.Type),
	}, ev, n.Recipient)

	if reached > 0 {
		d.pushUnreadCount(ctx, n.Recipient)
	}
}

// dispatchFallback hands the notification to the push gateway.
func (d *Dispatcher) dispatchFallback(ctx context.Context, n *store.Notification, now time.Time) error {
	devices, err := d.store.ListDevices(ctx, n.Recipient)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	data := make(map[string]any, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["notificationId"] = n.ID.String()

	result := d.pusher.Send(ctx, devices, push.Message{
		Title:    n.Title,
		Body:     n.Message,
		Data:     data,
		Priority: n.Priority,
	})

	if result.SuccessCount > 0 {
		n.MarkDelivered(now)
		return nil
	}

	cause := "no registered devices"
	for _, r := range result.PerDevice {
		if r.Error != "" {
			cause = r.Error
			break
		}
	}
	n.RecordFailure(now, now.Add(nextRetryDelay(n.Retries.Count+1)), cause)
	return nil
}

// pushUnreadCount sends the recipient their fresh unread count after a
// delivery. Best effort.
func (d *Dispatcher) pushUnreadCount(ctx context.Context, userID uuid.UUID) {
	count, err := d.store.UnreadCount(ctx, userID)
	if err != nil {
		d.logger.Warn("unread count refresh failed", zap.Error(err))
		return
	}
	d.realtime.EmitToUser(userID, hub.Event{
		Name: hub.EventUnreadCount,
		Data: map[string]any{"count": count},
	}, "")
}

// nextRetryDelay is a backoff hint recorded with failed dispatches. Nothing
// in this process consumes it; it exists for operators and future schedulers.
func nextRetryDelay(attempt int) time.Duration {
	delays := []time.Duration{
		1 * time.Minute,
		5 * time.Minute,
		15 * time.Minute,
	}

	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
