package scope

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Compute derives the value a Guard attaches to a scope. It may block.
type Compute func(ctx context.Context, s Scope) (any, error)

// Guard attaches a derived value to scopes under a single key, at most one
// computation at a time.
//
// Ensure uses double-checked locking: a scope that already has the key is
// returned without touching the lock; otherwise the lock is taken, presence
// is checked again, and only then is the value computed. The result goes on a
// clone of the scope, so other holders of the original never observe the
// write. Failed computations are not cached.
type Guard struct {
	key     string
	compute Compute
	lock    *semaphore.Weighted
}

// NewGuard creates a Guard populating key with compute.
func NewGuard(key string, compute Compute) *Guard {
	return &Guard{
		key:     key,
		compute: compute,
		lock:    semaphore.NewWeighted(1),
	}
}

// Ensure returns s if it already holds the key, and otherwise a clone of s
// with the computed value added. Waiting for the lock honors ctx. On error
// the original s is returned alongside it.
func (g *Guard) Ensure(ctx context.Context, s Scope) (Scope, error) {
	if s.Has(g.key) {
		return s, nil
	}

	if err := g.lock.Acquire(ctx, 1); err != nil {
		return s, err
	}
	defer g.lock.Release(1)

	if s.Has(g.key) {
		return s, nil
	}

	v, err := g.compute(ctx, s)
	if err != nil {
		return s, err
	}

	out := s.Clone()
	out[g.key] = v
	return out, nil
}

// Populate returns middleware that runs a Guard for key before delegating.
// Every application it wraps gets its own Guard.
func Populate(key string, compute Compute) Middleware {
	return func(inner Application) Application {
		return &populated{inner: inner, guard: NewGuard(key, compute)}
	}
}

type populated struct {
	inner Application
	guard *Guard
}

func (p *populated) Serve(ctx context.Context, s Scope, receive ReceiveFunc, send SendFunc) error {
	s, err := p.guard.Ensure(ctx, s)
	if err != nil {
		return err
	}
	return p.inner.Serve(ctx, s, receive, send)
}
