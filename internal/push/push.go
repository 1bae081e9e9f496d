// Package push is the gateway to the external push provider: it batches a
// user's device tokens, submits them, classifies per-token failures, and
// invalidates tokens that will never work again.
package push

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beaconhq/beacon/internal/metrics"
	"github.com/beaconhq/beacon/internal/store"
)

// Per-device result classifications.
const (
	ResultOK        = "ok"
	ResultTransient = "transient"
	ResultPermanent = "permanent"
)

// Message is the payload handed to the provider for every device.
type Message struct {
	Title    string
	Body     string
	Data     map[string]any
	Priority string
}

// Provider submits one message to a batch of device tokens. The returned
// slice aligns with tokens (nil entry = success). A non-nil call error means
// the provider itself failed and no per-token classification exists.
type Provider interface {
	Push(ctx context.Context, tokens []string, msg Message) ([]error, error)
}

// permanentError marks a token the provider says will never succeed again.
type permanentError struct {
	cause error
}

func (e *permanentError) Error() string { return e.cause.Error() }
func (e *permanentError) Unwrap() error { return e.cause }

// Permanent wraps a provider error as unrecoverable for its token.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{cause: err}
}

// IsPermanent reports whether err marks a dead token.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// DeviceResult is the outcome for one submitted device.
type DeviceResult struct {
	Token  string `json:"token"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Result summarizes one gateway send.
type Result struct {
	SuccessCount int            `json:"successCount"`
	FailureCount int            `json:"failureCount"`
	PerDevice    []DeviceResult `json:"perDevice,omitempty"`
}

// TokenRemover removes a dead token from the device store.
type TokenRemover interface {
	RemoveDevice(ctx context.Context, token string) error
}

// Gateway drives the provider and owns token invalidation.
type Gateway struct {
	provider Provider
	devices  TokenRemover
	timeout  time.Duration
	logger   *zap.Logger
}

// NewGateway creates a push gateway.
func NewGateway(provider Provider, devices TokenRemover, timeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		provider: provider,
		devices:  devices,
		timeout:  timeout,
		logger:   logger,
	}
}

// Send pushes a message to every device. An empty device list short-circuits
// without contacting the provider. Timeouts count as transient failures;
// permanent failures trigger token invalidation. A provider-level failure
// marks every device failed-transient.
func (g *Gateway) Send(ctx context.Context, devices []store.Device, msg Message) Result {
	if len(devices) == 0 {
		return Result{}
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.logger.Info("sending push notification",
		zap.Int("devices", len(tokens)),
		zap.String("title", msg.Title),
	)

	perToken, err := g.provider.Push(ctx, tokens, msg)
	if err != nil {
		// provider-level failure: every device failed, no classification
		g.logger.Error("push provider call failed", zap.Error(err))
		result := Result{FailureCount: len(tokens)}
		for _, token := range tokens {
			metrics.RecordPushResult(ResultTransient)
			result.PerDevice = append(result.PerDevice, DeviceResult{
				Token:  token,
				Result: ResultTransient,
				Error:  err.Error(),
			})
		}
		return result
	}

	var result Result
	for i, token := range tokens {
		tokenErr := errAt(perToken, i)
		switch {
		case tokenErr == nil:
			result.SuccessCount++
			metrics.RecordPushResult(ResultOK)
			result.PerDevice = append(result.PerDevice, DeviceResult{Token: token, Result: ResultOK})

		case IsPermanent(tokenErr):
			result.FailureCount++
			metrics.RecordPushResult(ResultPermanent)
			result.PerDevice = append(result.PerDevice, DeviceResult{
				Token:  token,
				Result: ResultPermanent,
				Error:  tokenErr.Error(),
			})
			// the push timeout may already be spent; token removal
			// must still reach the store
			g.Invalidate(context.WithoutCancel(ctx), token)

		default:
			result.FailureCount++
			metrics.RecordPushResult(ResultTransient)
			result.PerDevice = append(result.PerDevice, DeviceResult{
				Token:  token,
				Result: ResultTransient,
				Error:  tokenErr.Error(),
			})
		}
	}

	g.logger.Info("push notification sent",
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount),
	)
	return result
}

// Invalidate removes a dead token from the store. Removal is idempotent:
// invalidating an already-absent token is not an error.
func (g *Gateway) Invalidate(ctx context.Context, token string) {
	if err := g.devices.RemoveDevice(ctx, token); err != nil {
		g.logger.Error("failed to remove invalid token", zap.Error(err))
		return
	}
	metrics.RecordTokenInvalidated()
	g.logger.Info("removed invalid device token")
}

func errAt(errs []error, i int) error {
	if i >= len(errs) {
		return fmt.Errorf("provider returned no result for device %d", i)
	}
	return errs[i]
}
