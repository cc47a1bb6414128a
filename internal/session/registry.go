package session

import (
	"sync"

	"github.com/google/uuid"
)

// Key identifies one live attempt.
type Key struct {
	ExamID    uuid.UUID
	StudentID int
}

// Registry holds the live in-memory sessions, one per (exam, student). The
// registry itself is shared across request goroutines and is mutex-guarded;
// each Session serializes its own state internally.
type Registry struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[Key]*Session)}
}

// Get returns the live session for a key, or nil.
func (r *Registry) Get(examID uuid.UUID, studentID int) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[Key{ExamID: examID, StudentID: studentID}]
}

// GetOrPut stores sess unless a session already exists for the key, and
// returns the one that is registered afterwards.
func (r *Registry) GetOrPut(examID uuid.UUID, studentID int, sess *Session) (*Session, bool) {
	key := Key{ExamID: examID, StudentID: studentID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[key]; ok {
		return existing, false
	}
	r.sessions[key] = sess
	return sess, true
}

// Remove drops a session from the registry and closes it.
func (r *Registry) Remove(examID uuid.UUID, studentID int) {
	key := Key{ExamID: examID, StudentID: studentID}
	r.mu.Lock()
	sess := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
