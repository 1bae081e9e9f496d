package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/metrics"
	"github.com/beaconhq/beacon/internal/push"
	"github.com/beaconhq/beacon/internal/redis"
	"github.com/beaconhq/beacon/internal/store"
)

// NotificationRepository defines the interface for notification database operations
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *store.Notification) error
	GetNotification(ctx context.Context, id, ownerID uuid.UUID) (*store.Notification, error)
	ListNotifications(ctx context.Context, ownerID uuid.UUID, filter store.ListFilter, page, limit int) ([]*store.Notification, int, error)
	MarkRead(ctx context.Context, id, ownerID uuid.UUID) error
	MarkAllRead(ctx context.Context, ownerID uuid.UUID) (int, error)
	UnreadCount(ctx context.Context, ownerID uuid.UUID) (int, error)
	ListDevices(ctx context.Context, userID uuid.UUID) ([]store.Device, error)
	RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error
	RemoveDevice(ctx context.Context, token string) error
	UpdatePreferences(ctx context.Context, userID uuid.UUID, partial map[string]any) (store.Preferences, error)
}

// Dispatcher routes a stored notification to its delivery path.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *store.Notification) error
}

// Pusher sends directly to registered devices, bypassing the dispatcher.
type Pusher interface {
	Send(ctx context.Context, devices []store.Device, msg push.Message) push.Result
}

// NotificationRequest represents the incoming request body
type NotificationRequest struct {
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Type     string         `json:"type"`
	Category string         `json:"category"`
	Priority string         `json:"priority"`
	Data     map[string]any `json:"data"`
	Actions  []store.Action `json:"actions"`
	GroupID  string         `json:"groupId"`
}

// DeviceRequest carries a device token registration or removal.
type DeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        NotificationRepository
	dispatcher  Dispatcher
	pusher      Pusher
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo NotificationRepository, dispatcher Dispatcher, pusher Pusher) *Handler {
	return &Handler{
		logger:     logger,
		repo:       repo,
		dispatcher: dispatcher,
		pusher:     pusher,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, repo NotificationRepository, dispatcher Dispatcher, pusher Pusher, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		repo:        repo,
		dispatcher:  dispatcher,
		pusher:      pusher,
		idempotency: idempotency,
	}
}

// CreateNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	n := &store.Notification{
		ID:        uuid.New(),
		Recipient: identity.UserID,
		Type:      req.Type,
		Category:  req.Category,
		Title:     req.Title,
		Message:   req.Message,
		Priority:  req.Priority,
		Data:      req.Data,
		Actions:   req.Actions,
		GroupID:   req.GroupID,
	}

	now := time.Now()
	n.ApplyDefaults(now)
	if err := n.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification", err.Error())
		return
	}

	// Check idempotency if key provided
	if idempotencyKey != "" && h.idempotency != nil {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, identity.UserID.String(), idempotencyKey)

		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cachedResult != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": cachedResult.NotificationID})
			return
		}
	}

	n.MarkSent(now)

	if err := h.repo.CreateNotification(ctx, n); err != nil {
		h.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("recipient", identity.UserID.String()),
			zap.String("type", n.Type),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create notification", "")
		return
	}

	h.logger.Info("notification created",
		zap.String("id", n.ID.String()),
		zap.String("recipient", identity.UserID.String()),
		zap.String("type", n.Type),
		zap.String("priority", n.Priority),
	)

	// Store idempotency result
	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			NotificationID: n.ID.String(),
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, identity.UserID.String(), idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	// Delivery happens after the row is committed. A dispatch failure is
	// recorded on the notification itself, not surfaced as a request error.
	if err := h.dispatcher.Dispatch(ctx, n); err != nil {
		h.logger.Error("dispatch failed",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(n)
}

// ListNotifications handles GET /v1/notifications?page=1&limit=10&type=push&read=false
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	page := 1
	limit := 10

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	var filter store.ListFilter
	if t := r.URL.Query().Get("type"); t != "" {
		if !store.ValidType(t) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type filter", "type must be email, push, in-app, or sms")
			return
		}
		filter.Type = t
	}
	if readStr := r.URL.Query().Get("read"); readStr != "" {
		read, err := strconv.ParseBool(readStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid read filter", "read must be true or false")
			return
		}
		filter.Read = &read
	}

	notifications, total, err := h.repo.ListNotifications(ctx, identity.UserID, filter, page, limit)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	unread, err := h.repo.UnreadCount(ctx, identity.UserID)
	if err != nil {
		h.logger.Warn("failed to count unread notifications",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
		)
	}

	if notifications == nil {
		notifications = []*store.Notification{}
	}

	pages := (total + limit - 1) / limit

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"notifications": notifications,
		"pagination": map[string]int{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages,
		},
		"unreadCount": unread,
	})
}

// MarkRead handles PATCH /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.MarkRead(ctx, id, identity.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update notification", "")
		return
	}

	n, err := h.repo.GetNotification(ctx, id, identity.UserID)
	if err != nil {
		h.logger.Error("failed to reload notification",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(n)
}

// MarkAllRead handles PATCH /v1/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	modified, err := h.repo.MarkAllRead(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("failed to mark all notifications read",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update notifications", "")
		return
	}

	h.logger.Info("marked all notifications read",
		zap.String("user_id", identity.UserID.String()),
		zap.Int("modified", modified),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"modified": modified})
}

// PushTest handles POST /v1/notifications/push-test. Sends a canned message
// straight to the caller's registered devices, skipping presence checks.
func (h *Handler) PushTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	devices, err := h.repo.ListDevices(ctx, identity.UserID)
	if err != nil {
		h.logger.Error("failed to list devices",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load devices", "")
		return
	}

	if len(devices) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"successCount": 0,
			"failureCount": 0,
			"message":      "No devices registered",
		})
		return
	}

	result := h.pusher.Send(ctx, devices, push.Message{
		Title:    "Test notification",
		Body:     "Push delivery is working",
		Priority: store.PriorityNormal,
		Data:     map[string]any{"test": "true"},
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{
		"successCount": result.SuccessCount,
		"failureCount": result.FailureCount,
	})
}

// RegisterDevice handles POST /v1/devices/register
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing token", "token is required")
		return
	}
	if !store.ValidPlatform(req.Platform) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid platform", "platform must be ios, android, or web")
		return
	}

	if err := h.repo.RegisterDevice(ctx, identity.UserID, req.Token, req.Platform); err != nil {
		h.logger.Error("failed to register device",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
			zap.String("platform", req.Platform),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to register device", "")
		return
	}

	h.logger.Info("device registered",
		zap.String("user_id", identity.UserID.String()),
		zap.String("platform", req.Platform),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// UnregisterDevice handles POST /v1/devices/unregister
func (h *Handler) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing token", "token is required")
		return
	}

	if err := h.repo.RemoveDevice(ctx, req.Token); err != nil {
		h.logger.Error("failed to unregister device",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to unregister device", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// GetPreferences handles GET /v1/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	prefs := identity.Preferences
	if len(prefs) == 0 {
		prefs = store.DefaultPreferences()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(prefs)
}

// UpdatePreferences handles PATCH /v1/preferences. The body is a partial
// preference document merged into the stored one.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := identityFrom(ctx)

	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(partial) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty update", "at least one preference field is required")
		return
	}

	merged, err := h.repo.UpdatePreferences(ctx, identity.UserID, partial)
	if err != nil {
		h.logger.Error("failed to update preferences",
			zap.Error(err),
			zap.String("user_id", identity.UserID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update preferences", "")
		return
	}

	h.logger.Info("preferences updated",
		zap.String("user_id", identity.UserID.String()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(merged)
}

// writeError writes an error response in problem+json format
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}
