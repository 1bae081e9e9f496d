package push

import (
	"context"

	"github.com/beaconhq/beacon/internal/circuitbreaker"
)

// ProtectedProvider wraps a Provider with a circuit breaker. An open circuit
// is a provider-level failure: every submitted device is reported failed
// without attempting the call.
type ProtectedProvider struct {
	inner   Provider
	breaker *circuitbreaker.CircuitBreaker
}

// NewProtectedProvider wraps a provider.
func NewProtectedProvider(inner Provider, breaker *circuitbreaker.CircuitBreaker) *ProtectedProvider {
	return &ProtectedProvider{
		inner:   inner,
		breaker: breaker,
	}
}

// Push forwards to the wrapped provider when the circuit allows it. Only
// call-level failures count against the breaker; individual dead tokens say
// nothing about provider health.
func (p *ProtectedProvider) Push(ctx context.Context, tokens []string, msg Message) ([]error, error) {
	if !p.breaker.Allow() {
		return nil, circuitbreaker.ErrCircuitOpen
	}

	results, err := p.inner.Push(ctx, tokens, msg)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return results, nil
}
