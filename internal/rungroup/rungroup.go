// Package rungroup serializes runs that share a concurrency group key.
// At most one run holds a group at a time. A newer run either queues FIFO
// behind the holder or, with cancel-in-progress, preempts it. Group
// membership is the only state shared across runs, so it lives behind a
// single mutex here rather than on the runs themselves.
package rungroup

import (
	"context"
	"sync"
)

type waiter struct {
	runID string
	ready chan struct{}
}

type group struct {
	active string
	queue  []*waiter
}

// Registry tracks group holders and their wait queues.
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group
}

// NewRegistry creates an empty group registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*group)}
}

// Acquire blocks until runID holds the group. With cancelInProgress the
// current holder is preempted via the callback (invoked outside the
// registry lock) and the caller still waits for the holder to release.
// Acquire returns ctx.Err() if the context ends first; the caller then
// holds nothing.
func (r *Registry) Acquire(ctx context.Context, key, runID string, cancelInProgress bool, preempt func(activeRunID string)) error {
	r.mu.Lock()
	g, ok := r.groups[key]
	if !ok {
		g = &group{}
		r.groups[key] = g
	}
	if g.active == "" {
		g.active = runID
		r.mu.Unlock()
		return nil
	}

	w := &waiter{runID: runID, ready: make(chan struct{})}
	g.queue = append(g.queue, w)
	active := g.active
	r.mu.Unlock()

	if cancelInProgress && preempt != nil {
		preempt(active)
	}

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		r.abandon(key, w)
		return ctx.Err()
	}
}

// Release gives up the group and promotes the next queued run, if any.
// Releasing a group the run does not hold is a no-op.
func (r *Registry) Release(key, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[key]
	if !ok || g.active != runID {
		return
	}
	if len(g.queue) == 0 {
		delete(r.groups, key)
		return
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	g.active = next.runID
	close(next.ready)
}

// Active returns the run currently holding the group, if any.
func (r *Registry) Active(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[key]
	if !ok || g.active == "" {
		return "", false
	}
	return g.active, true
}

// abandon removes a waiter whose context ended. If promotion raced with
// the abandonment the group is handed straight to the next waiter.
func (r *Registry) abandon(key string, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[key]
	if !ok {
		return
	}
	for i, queued := range g.queue {
		if queued == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return
		}
	}
	// Not in the queue: the waiter was already promoted. Pass the group on.
	if g.active == w.runID {
		if len(g.queue) == 0 {
			delete(r.groups, key)
			return
		}
		next := g.queue[0]
		g.queue = g.queue[1:]
		g.active = next.runID
		close(next.ready)
	}
}
