package session

import (
	"net"
	"sync"
	"time"
)

// Registry maps peer addresses to their Session, guarded by one global
// mutex used only for insertion and removal; all other session access
// goes through the Session's own lock, matching spec.md's "global map
// mutex only for insert/remove, per-session mutex for everything else"
// guardrail and the teacher's activeMu-guarded activeTransfers map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the existing session for peer, or creates and
// inserts a fresh one. created reports which happened.
func (r *Registry) GetOrCreate(peer *net.UDPAddr) (s *Session, created bool) {
	key := peer.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[key]; ok {
		return existing, false
	}
	s = New(peer)
	r.sessions[key] = s
	return s, true
}

// Get looks up the session for peer without creating one.
func (r *Registry) Get(peer *net.UDPAddr) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peer.String()]
	return s, ok
}

// Remove drops peer's session from the registry.
func (r *Registry) Remove(peer *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, peer.String())
}

// Len reports the number of sessions currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns every tracked session, for metrics or the janitor.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ReapIdle removes and returns every session that has been idle longer
// than maxIdle as of now, for the dispatcher's janitor goroutine to
// close out.
func (r *Registry) ReapIdle(now time.Time, maxIdle time.Duration) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var reaped []*Session
	for key, s := range r.sessions {
		if s.IdleFor(now) > maxIdle {
			reaped = append(reaped, s)
			delete(r.sessions, key)
		}
	}
	return reaped
}
