package tickers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/resilience"
)

// BreakerResolver stops calling next after repeated failures. While the
// breaker is open Resolve fails fast with resilience.ErrOpen.
type BreakerResolver struct {
	next Resolver
	cb   *resilience.CircuitBreaker
}

// NewBreakerResolver wraps next. threshold consecutive failures open the
// breaker for reset.
func NewBreakerResolver(next Resolver, threshold int, reset time.Duration) *BreakerResolver {
	log := zap.L().With(zap.String("component", "tickers.breaker"))
	cb := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
		ShouldTrip: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(from, to resilience.State) {
			log.Warn("ticker lookup breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	return &BreakerResolver{next: next, cb: cb}
}

// Resolve implements Resolver.
func (b *BreakerResolver) Resolve(ctx context.Context, cusips []string) (map[string]Security, error) {
	return resilience.Execute(ctx, b.cb, func(ctx context.Context) (map[string]Security, error) {
		return b.next.Resolve(ctx, cusips)
	})
}
