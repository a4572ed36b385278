// Package memexchange implements the exchange port in process, for
// single-node deployments and tests. Delivery is synchronous: Publish
// invokes every matching handler before returning, and messages sent
// while no subscriber is registered are dropped.
package memexchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/QueryForge/internal/port/exchange"
)

// Bus implements exchange.Bus with an in-memory subject table.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]exchange.Handler
	nextID int
	closed bool
	log    *slog.Logger
}

// New creates an empty bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		subs: make(map[string]map[int]exchange.Handler),
		log:  log,
	}
}

// Publish delivers data to every handler subscribed to subject.
// Handler errors are logged, not returned, matching the behavior of a
// real broker where the publisher does not see consumer failures.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("memexchange publish %s: bus closed", subject)
	}
	handlers := make([]exchange.Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, subject, data); err != nil {
			b.log.Error("message handler failed", "subject", subject, "error", err)
		}
	}
	return nil
}

// Subscribe registers a handler for the subject. The returned function
// cancels the subscription and is safe to call more than once.
func (b *Bus) Subscribe(ctx context.Context, subject string, handler exchange.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memexchange subscribe %s: bus closed", subject)
	}

	id := b.nextID
	b.nextID++
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]exchange.Handler)
	}
	b.subs[subject][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[subject], id)
	}, nil
}

// Close drops all subscriptions and rejects further use.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]exchange.Handler)
	return nil
}
