package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fpang/patient-triage/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hub is the set of connected observers. Every stage update of every session
// is broadcast to all of them.
type Hub struct {
	mu        sync.RWMutex
	observers map[Channel]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[Channel]struct{})}
}

// Add registers an observer.
func (h *Hub) Add(ch Channel) {
	h.mu.Lock()
	h.observers[ch] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()
	metrics.ObserversConnected.Set(float64(n))
}

// Remove unregisters an observer. Removing an unknown observer is a no-op.
func (h *Hub) Remove(ch Channel) {
	h.mu.Lock()
	delete(h.observers, ch)
	n := len(h.observers)
	h.mu.Unlock()
	metrics.ObserversConnected.Set(float64(n))
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) snapshot() []Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Channel, 0, len(h.observers))
	for ch := range h.observers {
		out = append(out, ch)
	}
	return out
}

// Broadcast marshals v once and sends it to every observer registered at the
// time of the call. Sends run concurrently; observers whose send fails are
// removed and closed afterwards. It returns the number of successful sends.
func (h *Hub) Broadcast(ctx context.Context, v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}

	targets := h.snapshot()
	failed := make([]bool, len(targets))

	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			if err := ch.Send(ctx, data); err != nil {
				log.Debug().Err(err).Msg("Dropping observer after failed send")
				failed[i] = true
			}
		}(i, ch)
	}
	wg.Wait()

	delivered := len(targets)
	for i, ch := range targets {
		if failed[i] {
			delivered--
			h.Remove(ch)
			_ = ch.Close()
		}
	}
	return delivered, nil
}

// CloseAll closes every observer. Their receive loops then end on their own.
func (h *Hub) CloseAll() {
	for _, ch := range h.snapshot() {
		_ = ch.Close()
	}
}
