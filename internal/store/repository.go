package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ListFilter narrows a notification listing. Zero values mean "no filter".
type ListFilter struct {
	Type string
	Read *bool
}

// Repository handles database operations for notifications, devices and users
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, recipient, sender, type, category, title, message, data, actions,
	sent, delivered, read, clicked, sent_at, delivered_at, read_at, clicked_at,
	priority, retry_count, retry_last_attempt, retry_next_attempt, retry_error,
	expiry, group_id, created_at, updated_at
`

// CreateNotification inserts a new notification
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	actions, err := json.Marshal(n.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, recipient, sender, type, category, title, message, data, actions,
			sent, delivered, read, clicked, sent_at, priority, expiry, group_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17
		)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool().QueryRow(
		ctx,
		query,
		n.ID,
		n.Recipient,
		n.Sender,
		n.Type,
		n.Category,
		n.Title,
		n.Message,
		data,
		actions,
		n.Status.Sent,
		n.Status.Delivered,
		n.Status.Read,
		n.Status.Clicked,
		n.Timestamps.Sent,
		n.Priority,
		n.Expiry,
		nullIfEmpty(n.GroupID),
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	return nil
}

// GetNotification retrieves a notification by ID, scoped to its owner.
func (r *Repository) GetNotification(ctx context.Context, id, ownerID uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND recipient = $2`

	row := r.db.Pool().QueryRow(ctx, query, id, ownerID)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns a page of the owner's notifications, newest
// first, and the total count matching the filter.
func (r *Repository) ListNotifications(ctx context.Context, ownerID uuid.UUID, filter ListFilter, page, limit int) ([]*Notification, int, error) {
	where := []string{"recipient = $1"}
	args := []any{ownerID}

	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, "type = $"+strconv.Itoa(len(args)))
	}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		where = append(where, "read = $"+strconv.Itoa(len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM notifications WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(
		"SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		notificationColumns, clause, len(args)-1, len(args),
	)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

// MarkRead marks one notification read. Idempotent; returns ErrNotFound when
// the id does not belong to the owner. The read timestamp is preserved on
// repeat calls so read-at never moves.
func (r *Repository) MarkRead(ctx context.Context, id, ownerID uuid.UUID) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications
		SET read = TRUE, read_at = COALESCE(read_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND recipient = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the owner as read and
// returns how many rows changed.
func (r *Repository) MarkAllRead(ctx context.Context, ownerID uuid.UUID) (int, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications
		SET read = TRUE, read_at = NOW(), updated_at = NOW()
		WHERE recipient = $1 AND read = FALSE
	`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UnreadCount counts unread, unexpired notifications for the owner.
func (r *Repository) UnreadCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient = $1 AND read = FALSE AND expiry > NOW()
	`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// RecordDispatchResult persists the outcome of a dispatch: the delivered flag
// and the retry metadata. Callers must treat an error here as the dispatch
// not having been recorded.
func (r *Repository) RecordDispatchResult(ctx context.Context, n *Notification) error {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications
		SET delivered = $2, delivered_at = $3,
		    retry_count = $4, retry_last_attempt = $5, retry_next_attempt = $6, retry_error = $7,
		    updated_at = NOW()
		WHERE id = $1
	`, n.ID, n.Status.Delivered, n.Timestamps.Delivered,
		n.Retries.Count, n.Retries.LastAttempt, n.Retries.NextAttempt, nullIfEmpty(n.Retries.Error))
	if err != nil {
		return fmt.Errorf("record dispatch result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes notifications past their expiry.
func (r *Repository) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM notifications WHERE expiry < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetUser loads a user record
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var (
		u     User
		prefs []byte
	)
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, username, active, locked_until, preferences, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.Active, &u.LockedUntil, &prefs, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	if u.Preferences == nil {
		u.Preferences = DefaultPreferences()
	}
	return &u, nil
}

// UpdatePreferences deep-merges a partial preference document into the user's
// stored preferences and returns the merged result.
func (r *Repository) UpdatePreferences(ctx context.Context, userID uuid.UUID, partial map[string]any) (Preferences, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := u.Preferences.Merge(partial)
	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}

	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE users SET preferences = $2 WHERE id = $1`, userID, encoded)
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	r.logger.Info("notification preferences updated",
		zap.String("user_id", userID.String()),
	)
	return merged, nil
}

// ListDevices returns the user's registered devices, most recently active first.
func (r *Repository) ListDevices(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT user_id, token, platform, last_active, created_at
		FROM devices WHERE user_id = $1
		ORDER BY last_active DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.UserID, &d.Token, &d.Platform, &d.LastActive, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// RegisterDevice adds a push token for the user. Re-registering an existing
// token refreshes last_active instead of creating a second row.
func (r *Repository) RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error {
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO devices (user_id, token, platform, last_active)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (token) DO UPDATE
		SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, last_active = NOW()
	`, userID, token, platform)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}

	r.logger.Info("device registered",
		zap.String("user_id", userID.String()),
		zap.String("platform", platform),
	)
	return nil
}

// RemoveDevice deletes a push token wherever it appears. Safe to call for a
// token that is already gone.
func (r *Repository) RemoveDevice(ctx context.Context, token string) error {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM devices WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("device token removed", zap.Int64("rows", tag.RowsAffected()))
	}
	return nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n        Notification
		data     []byte
		actions  []byte
		retryErr *string
		groupID  *string
	)
	err := row.Scan(
		&n.ID, &n.Recipient, &n.Sender, &n.Type, &n.Category, &n.Title, &n.Message, &data, &actions,
		&n.Status.Sent, &n.Status.Delivered, &n.Status.Read, &n.Status.Clicked,
		&n.Timestamps.Sent, &n.Timestamps.Delivered, &n.Timestamps.Read, &n.Timestamps.Clicked,
		&n.Priority, &n.Retries.Count, &n.Retries.LastAttempt, &n.Retries.NextAttempt, &retryErr,
		&n.Expiry, &groupID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if retryErr != nil {
		n.Retries.Error = *retryErr
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &n.Actions); err != nil {
			return nil, fmt.Errorf("decode actions: %w", err)
		}
	}
	if groupID != nil {
		n.GroupID = *groupID
	}
	return &n, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
