// Package store holds the in-memory registry of session connection state.
// It is the single source of truth for "what is true right now" about a
// session. Only the lifecycle controller writes to it; everyone else reads.
package store

import (
	"sort"
	"sync"

	"waroom/internal/models"
)

// Store is a task-safe map of session id to session state. Entries are
// replaced wholesale; callers must read-modify-write under the lifecycle
// controller's per-session serialization, not mutate shared pointers.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// New creates an empty store. One instance is created at process start and
// injected into everything that needs it; there is no package-level state.
func New() *Store {
	return &Store{
		sessions: make(map[string]*models.Session),
	}
}

// Get returns a copy of the session for id, or false if absent.
func (s *Store) Get(id string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, false
	}
	return session.Clone(), true
}

// Put replaces the stored session for id. Full replace, not merge.
func (s *Store) Put(id string, session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session.Clone()
}

// Delete removes the session for id. Deleting an absent id is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List returns copies of all sessions, ordered by id for stable output.
func (s *Store) List() []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// ListByState returns copies of all sessions currently in the given state.
func (s *Store) ListByState(state models.SessionStatus) []*models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*models.Session
	for _, session := range s.sessions {
		if session.Status == state {
			sessions = append(sessions, session.Clone())
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
