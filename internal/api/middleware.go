package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/metrics"
	"github.com/beaconhq/beacon/internal/redis"
)

type contextKey string

const identityKey contextKey = "identity"

// Authenticator validates the bearer credential on each privileged request.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (*auth.Identity, error)
}

// identityFrom pulls the authenticated identity out of the request context.
func identityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

// AuthMiddleware authenticates every request independently. Rejections never
// reach the handlers.
func AuthMiddleware(gate Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

			identity, err := gate.Authenticate(r.Context(), credential)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, auth.ErrLockedAccount) {
					status = http.StatusLocked
				}
				if !auth.IsRejection(err) {
					logger.Error("authentication failed", zap.Error(err))
					writeProblem(w, http.StatusInternalServerError, "auth_error", "Authentication unavailable", "")
					return
				}
				writeProblem(w, status, "unauthorized", "Unauthorized", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware enforces a per-user rate limit. Runs after auth so the
// key is the authenticated user id.
func RateLimitMiddleware(limiter *redis.RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			identity := identityFrom(r.Context())
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := "user:" + identity.UserID.String()

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				metrics.RecordRateLimitRejection(identity.UserID.String())
				retryAfter := time.Until(result.ResetAt).Seconds()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
				writeProblem(w, http.StatusTooManyRequests, "rate_limit_exceeded",
					"Too Many Requests", "Rate limit exceeded. Please retry after the specified time.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
