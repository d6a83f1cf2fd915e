// Package session tracks per-call state for calls bridged between ACS
// and a Direct Line conversation. The registry is the only structure
// shared across calls; everything else is partitioned by correlation ID.
package session

import (
	"log"
	"sync"
)

// ============================================
// SESSION REGISTRY
// Concurrent map of correlation ID -> session
// ============================================

// Registry is a concurrent store of active call sessions. The registry
// mutex only guards the map itself; per-call mutation happens under
// each session's own lock so unrelated calls never contend.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*CallSession),
	}
}

// Create registers a new session for the correlation ID. A repeated
// answer for the same ID replaces the prior entry outright.
func (r *Registry) Create(correlationID string) *CallSession {
	s := newCallSession(correlationID)

	r.mu.Lock()
	if _, exists := r.sessions[correlationID]; exists {
		log.Printf("[SessionRegistry] Replacing existing session: %s", correlationID)
	}
	r.sessions[correlationID] = s
	r.mu.Unlock()

	return s
}

// Get retrieves a session by correlation ID.
func (r *Registry) Get(correlationID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[correlationID]
	return s, ok
}

// Remove deletes a session. Removing an unknown ID is a no-op and
// returns false.
func (r *Registry) Remove(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[correlationID]; !ok {
		return false
	}
	delete(r.sessions, correlationID)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ForEach visits a snapshot of the current sessions. The registry lock
// is released before fn runs.
func (r *Registry) ForEach(fn func(*CallSession)) {
	r.mu.RLock()
	snapshot := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}
