// Package session guards against overlapping pipeline runs for one session.
package session

import (
	"context"
	"sync"

	"github.com/fpang/patient-triage/internal/metrics"
)

// slot is a one-place semaphore for a single session.
type slot struct {
	sem     chan struct{}
	waiters int
}

// Registry tracks which sessions have a run in flight.
//
// Entries exist only while a session is held or waited on, so the map is
// bounded by live sessions.
type Registry struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[string]*slot)}
}

func (r *Registry) slotLocked(id string) *slot {
	s, ok := r.slots[id]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		r.slots[id] = s
	}
	return s
}

// TryAcquire marks id busy if it is free. It never blocks.
func (r *Registry) TryAcquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.slotLocked(id)
	select {
	case s.sem <- struct{}{}:
		metrics.SessionsInFlight.Inc()
		return true
	default:
		return false
	}
}

// Acquire waits until id is free and marks it busy. It returns ctx.Err() if
// ctx ends first.
func (r *Registry) Acquire(ctx context.Context, id string) error {
	r.mu.Lock()
	s := r.slotLocked(id)
	s.waiters++
	r.mu.Unlock()

	var err error
	select {
	case s.sem <- struct{}{}:
		metrics.SessionsInFlight.Inc()
	case <-ctx.Done():
		err = ctx.Err()
	}

	r.mu.Lock()
	s.waiters--
	if err != nil {
		r.dropIfIdleLocked(id, s)
	}
	r.mu.Unlock()
	return err
}

// Release frees id. Releasing a session that is not held is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return
	}
	select {
	case <-s.sem:
		metrics.SessionsInFlight.Dec()
	default:
	}
	r.dropIfIdleLocked(id, s)
}

func (r *Registry) dropIfIdleLocked(id string, s *slot) {
	if s.waiters == 0 && len(s.sem) == 0 && r.slots[id] == s {
		delete(r.slots, id)
	}
}

// Busy reports whether id currently has a run in flight.
func (r *Registry) Busy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	return ok && len(s.sem) > 0
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
