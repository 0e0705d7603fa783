package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session scopes one logical conversation and any registered reference
// material. Sessions are issued on explicit request, never persisted, and die
// with the process or an explicit clear.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	document map[string]string
}

// SetDocument registers orthogonal session state describing already-ingested
// reference material (title, uri, mime). Ingestion itself happens elsewhere.
func (s *Session) SetDocument(meta map[string]string) {
	copied := make(map[string]string, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	s.mu.Lock()
	s.document = copied
	s.mu.Unlock()
}

// Document returns a copy of the registered document metadata, nil when none.
func (s *Session) Document() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.document == nil {
		return nil
	}
	out := make(map[string]string, len(s.document))
	for k, v := range s.document {
		out[k] = v
	}
	return out
}

// ClearDocument drops the registered document metadata.
func (s *Session) ClearDocument() {
	s.mu.Lock()
	s.document = nil
	s.mu.Unlock()
}

// Store is the in-memory session registry.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create issues a new opaque session id.
func (s *Store) Create() *Session {
	sess := &Session{ID: uuid.NewString(), CreatedAt: time.Now()}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get looks up a session by id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Delete removes a session, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
