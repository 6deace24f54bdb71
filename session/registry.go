package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/material-engine/engine"
)

// Registry tracks the open sessions of a server process.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers s under its ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns an open session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrSessionNotFound, id)
	}
	return s, nil
}

// Close closes and forgets one session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrSessionNotFound, id)
	}
	s.Close()
	return nil
}

// CloseAll closes every session. Used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return len(sessions)
}

// CloseIdle closes every session whose last activity is before cutoff and
// returns their ids.
func (r *Registry) CloseIdle(cutoff time.Time) []string {
	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, s := range idle {
		s.Close()
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// IDs lists the open session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
