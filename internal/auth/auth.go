// Package auth validates the bearer credential presented at connection time
// and on each privileged request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/store"
)

// Rejection reasons. A rejected credential never reaches the session registry.
var (
	ErrMissingCredential = errors.New("authentication credential required")
	ErrInvalidCredential = errors.New("invalid or expired credential")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrInactiveAccount   = errors.New("account is inactive")
	ErrLockedAccount     = errors.New("account is locked")
)

// Identity is the authenticated principal attached to a connection or request.
type Identity struct {
	UserID      uuid.UUID
	Username    string
	Preferences store.Preferences
}

// UserLookup is the slice of the store the gatekeeper needs.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
}

// Gatekeeper verifies JWT bearer credentials against the account record.
type Gatekeeper struct {
	secret []byte
	users  UserLookup
	logger *zap.Logger
}

// NewGatekeeper creates a gatekeeper with the given HMAC signing secret.
func NewGatekeeper(secret string, users UserLookup, logger *zap.Logger) *Gatekeeper {
	return &Gatekeeper{
		secret: []byte(secret),
		users:  users,
		logger: logger,
	}
}

// Authenticate validates a credential and returns the identity it names.
// Every failure maps to one of the package-level rejection errors.
func (g *Gatekeeper) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		g.logger.Debug("credential rejected", zap.Error(err))
		return nil, ErrInvalidCredential
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ErrInvalidCredential
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	user, err := g.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("look up account: %w", err)
	}
	if !user.Active {
		return nil, ErrInactiveAccount
	}
	if user.Locked(time.Now()) {
		return nil, ErrLockedAccount
	}

	return &Identity{
		UserID:      user.ID,
		Username:    user.Username,
		Preferences: user.Preferences,
	}, nil
}

// IsRejection reports whether err is an authentication rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrInactiveAccount) ||
		errors.Is(err, ErrLockedAccount)
}
