package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/hub"
)

type fakeGate struct {
	identity *auth.Identity
	err      error
	seen     string
}

func (f *fakeGate) Authenticate(ctx context.Context, credential string) (*auth.Identity, error) {
	f.seen = credential
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

type fakeCounter struct{ count int }

func (f *fakeCounter) UnreadCount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	return f.count, nil
}

func newTestWSHandler(gate *fakeGate) *Handler {
	return NewHandler(hub.New(zap.NewNop()), gate, &fakeCounter{}, time.Second, zap.NewNop())
}

func TestServeHTTPRejectsBeforeUpgrade(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"missing credential", auth.ErrMissingCredential, http.StatusUnauthorized},
		{"invalid credential", auth.ErrInvalidCredential, http.StatusUnauthorized},
		{"locked account", auth.ErrLockedAccount, http.StatusUnauthorized},
		{"lookup failure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestWSHandler(&fakeGate{err: tt.err})

			req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestBearerTokenSources(t *testing.T) {
	t.Run("authorization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)
		req.Header.Set("Authorization", "Bearer header-token")

		if got := bearerToken(req); got != "header-token" {
			t.Errorf("expected header token, got %q", got)
		}
	})

	t.Run("query fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/ws?token=query-token", nil)

		if got := bearerToken(req); got != "query-token" {
			t.Errorf("expected query token, got %q", got)
		}
	})

	t.Run("header wins over query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/ws?token=query-token", nil)
		req.Header.Set("Authorization", "Bearer header-token")

		if got := bearerToken(req); got != "header-token" {
			t.Errorf("expected header token to win, got %q", got)
		}
	})

	t.Run("absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/ws", nil)

		if got := bearerToken(req); got != "" {
			t.Errorf("expected empty credential, got %q", got)
		}
	})
}

func TestServeHTTPPassesCredentialThrough(t *testing.T) {
	gate := &fakeGate{err: auth.ErrInvalidCredential}
	h := newTestWSHandler(gate)

	req := httptest.NewRequest(http.MethodGet, "/v1/ws?token=abc", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if gate.seen != "abc" {
		t.Errorf("expected credential forwarded to gatekeeper, got %q", gate.seen)
	}
}
