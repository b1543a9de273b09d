package gateway

import (
	"context"
	"sync"
)

// flight is one shared routing execution and the callers waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

type flights struct {
	mu sync.Mutex
	m  map[string]*flight
}

// join registers a caller for id. The execution context carries the first
// caller's values but not its cancellation, bounded by the route deadline.
func (r *Router) join(ctx context.Context, id string) *flight {
	r.flights.mu.Lock()
	defer r.flights.mu.Unlock()

	if f, ok := r.flights.m[id]; ok {
		f.waiters++
		return f
	}

	base := context.WithoutCancel(ctx)
	f := &flight{waiters: 1}
	if r.cfg.Deadline > 0 {
		f.ctx, f.cancel = context.WithTimeout(base, r.cfg.Deadline)
	} else {
		f.ctx, f.cancel = context.WithCancel(base)
	}
	if r.flights.m == nil {
		r.flights.m = make(map[string]*flight)
	}
	r.flights.m[id] = f
	return f
}

// leave drops a caller. The last one out cancels the execution and forgets
// it, so a later caller with the same id starts afresh.
func (r *Router) leave(id string, f *flight) {
	r.flights.mu.Lock()
	defer r.flights.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights.m[id] == f {
		delete(r.flights.m, id)
	}
	r.group.Forget(id)
}
