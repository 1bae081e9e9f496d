package store

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Notification type constants
const (
	TypeEmail = "email"
	TypePush  = "push"
	TypeInApp = "in-app"
	TypeSMS   = "sms"
)

// Category constants
const (
	CategoryMarketing = "marketing"
	CategoryUpdates   = "updates"
	CategorySecurity  = "security"
	CategorySocial    = "social"
	CategorySystem    = "system"
)

// Priority constants
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Device platform constants
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
	PlatformWeb     = "web"
)

const (
	maxTitleLen   = 100
	maxMessageLen = 500

	defaultExpiry  = 7 * 24 * time.Hour
	criticalExpiry = 30 * 24 * time.Hour
)

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

// Action is one tappable action attached to a notification.
type Action struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Style  string `json:"style"` // default, primary, danger
}

// Status tracks the four independent delivery flags.
type Status struct {
	Sent      bool `json:"sent"`
	Delivered bool `json:"delivered"`
	Read      bool `json:"read"`
	Clicked   bool `json:"clicked"`
}

// Timestamps holds when each status flag was set, nil until it happens.
type Timestamps struct {
	Sent      *time.Time `json:"sent,omitempty"`
	Delivered *time.Time `json:"delivered,omitempty"`
	Read      *time.Time `json:"read,omitempty"`
	Clicked   *time.Time `json:"clicked,omitempty"`
}

// Retries records failed delivery attempts. The metadata is persisted so an
// operator (or a future scheduler) can re-drive failed notifications; nothing
// in this process re-attempts automatically.
type Retries struct {
	Count       int        `json:"count"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`
	NextAttempt *time.Time `json:"nextAttempt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Notification is the unit of delivery.
type Notification struct {
	ID         uuid.UUID      `json:"id"`
	Recipient  uuid.UUID      `json:"recipient"`
	Sender     *uuid.UUID     `json:"sender,omitempty"`
	Type       string         `json:"type"`
	Category   string         `json:"category"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	Actions    []Action       `json:"actions,omitempty"`
	Status     Status         `json:"status"`
	Timestamps Timestamps     `json:"timestamps"`
	Priority   string         `json:"priority"`
	Retries    Retries        `json:"retries"`
	Expiry     time.Time      `json:"expiry"`
	GroupID    string         `json:"groupId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ValidType reports whether t is a known notification type.
func ValidType(t string) bool {
	switch t {
	case TypeEmail, TypePush, TypeInApp, TypeSMS:
		return true
	}
	return false
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryMarketing, CategoryUpdates, CategorySecurity, CategorySocial, CategorySystem:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ValidPlatform reports whether p is a known device platform.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// ApplyDefaults fills category, priority and expiry on a new notification.
// Critical notifications live 30 days, everything else 7.
func (n *Notification) ApplyDefaults(now time.Time) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Category == "" {
		n.Category = CategorySystem
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	if n.Expiry.IsZero() {
		if n.Priority == PriorityCritical {
			n.Expiry = now.Add(criticalExpiry)
		} else {
			n.Expiry = now.Add(defaultExpiry)
		}
	}
}

// Validate checks the notification fields against the model constraints.
func (n *Notification) Validate() error {
	if n.Recipient == uuid.Nil {
		return errors.New("recipient is required")
	}
	if n.Title == "" {
		return errors.New("title is required")
	}
	if utf8.RuneCountInString(n.Title) > maxTitleLen {
		return fmt.Errorf("title cannot exceed %d characters", maxTitleLen)
	}
	if n.Message == "" {
		return errors.New("message is required")
	}
	if utf8.RuneCountInString(n.Message) > maxMessageLen {
		return fmt.Errorf("message cannot exceed %d characters", maxMessageLen)
	}
	if !ValidType(n.Type) {
		return fmt.Errorf("invalid notification type: %s", n.Type)
	}
	if !ValidCategory(n.Category) {
		return fmt.Errorf("invalid category: %s", n.Category)
	}
	if !ValidPriority(n.Priority) {
		return fmt.Errorf("invalid priority: %s", n.Priority)
	}
	for _, a := range n.Actions {
		if a.Label == "" || a.Action == "" {
			return errors.New("action label and action are required")
		}
		switch a.Style {
		case "", "default", "primary", "danger":
		default:
			return fmt.Errorf("invalid action style: %s", a.Style)
		}
	}
	return nil
}

// IsExpired reports whether the notification is past its expiry. Computed on
// read, never persisted, so it cannot diverge from the stored timestamp.
func (n *Notification) IsExpired(now time.Time) bool {
	return !n.Expiry.IsZero() && n.Expiry.Before(now)
}

// Age is the time elapsed since creation.
func (n *Notification) Age(now time.Time) time.Duration {
	return now.Sub(n.CreatedAt)
}

// MarkSent records acceptance by the system.
func (n *Notification) MarkSent(now time.Time) {
	n.Status.Sent = true
	n.Timestamps.Sent = &now
}

// MarkDelivered records that the notification reached at least one endpoint.
func (n *Notification) MarkDelivered(now time.Time) {
	n.Status.Delivered = true
	n.Timestamps.Delivered = &now
}

// MarkRead sets the read flag. Read only ever transitions false->true;
// marking an already-read notification is a no-op.
func (n *Notification) MarkRead(now time.Time) {
	if n.Status.Read {
		return
	}
	n.Status.Read = true
	n.Timestamps.Read = &now
}

// RecordFailure bumps the retry metadata after a failed dispatch.
func (n *Notification) RecordFailure(now time.Time, nextAttempt time.Time, cause string) {
	n.Retries.Count++
	n.Retries.LastAttempt = &now
	n.Retries.NextAttempt = &nextAttempt
	n.Retries.Error = cause
}

// Device is one push-addressable endpoint owned by a user.
type Device struct {
	UserID     uuid.UUID `json:"userId"`
	Token      string    `json:"token"`
	Platform   string    `json:"platform"`
	LastActive time.Time `json:"lastActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// User is the slice of the account record this subsystem needs: enough to
// gate a connection and derive default topic membership.
type User struct {
	ID          uuid.UUID   `json:"id"`
	Username    string      `json:"username"`
	Active      bool        `json:"active"`
	LockedUntil *time.Time  `json:"lockedUntil,omitempty"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
