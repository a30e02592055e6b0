package store

import (
	"context"
	"time"

	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/resilience"
)

const defaultAcquireCooldown = 30 * time.Second

// GuardedProvider fails acquisitions fast once the wrapped provider has refused a run of
// them in a row. Release, HealthCheck and Close pass through.
type GuardedProvider struct {
	Provider
	breaker *resilience.CircuitBreaker
	log     logger.Logger
}

// Guard wraps provider with a circuit breaker opening after maxFailures consecutive
// acquisition failures. A zero cooldown defaults to 30s.
func Guard(provider Provider, maxFailures int, cooldown time.Duration, log logger.Logger) *GuardedProvider {
	if cooldown <= 0 {
		cooldown = defaultAcquireCooldown
	}
	return &GuardedProvider{
		Provider: provider,
		breaker:  resilience.NewCircuitBreaker(maxFailures, cooldown),
		log:      log,
	}
}

// Obtain acquires through the wrapped provider unless the circuit is open.
func (g *GuardedProvider) Obtain(ctx context.Context) (connection.Connection, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	conn, err := g.Provider.Obtain(ctx)
	before := g.breaker.State()
	g.breaker.Record(err)
	if after := g.breaker.State(); after != before && g.log != nil {
		g.log.Warn("connection acquisition circuit changed state", "from", before.String(), "to", after.String())
	}
	return conn, err
}

// Breaker exposes the acquisition circuit breaker.
func (g *GuardedProvider) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
