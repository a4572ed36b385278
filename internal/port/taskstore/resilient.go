package taskstore

import (
	"context"

	"github.com/Strob0t/QueryForge/internal/resilience"
)

// Resilient wraps a Store with a circuit breaker so a down accounting
// database cannot slow the task execution path. Rejected calls surface
// resilience.ErrCircuitOpen, which callers treat as any other
// accounting failure.
type Resilient struct {
	inner   Store
	breaker *resilience.Breaker
}

// WithBreaker decorates store with the given breaker.
func WithBreaker(store Store, breaker *resilience.Breaker) *Resilient {
	return &Resilient{inner: store, breaker: breaker}
}

func (r *Resilient) RecordDispatch(ctx context.Context, startTs uint64, taskID int64, address string) error {
	return r.breaker.Execute(func() error {
		return r.inner.RecordDispatch(ctx, startTs, taskID, address)
	})
}

func (r *Resilient) RecordFinish(ctx context.Context, run Run) error {
	return r.breaker.Execute(func() error {
		return r.inner.RecordFinish(ctx, run)
	})
}
