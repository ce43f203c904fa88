package usecase

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"scholarbot/internal/domain"
)

// Session is the conversation state for one thread identifier: an append-only
// message log. History is never rewritten or compacted; request-side
// truncation happens in the context builder without touching the log.
type Session struct {
	mu sync.RWMutex
	// turnMu serializes turns: the append-only log has no concurrent-writer
	// protection beyond this, so one in-flight turn per thread.
	turnMu sync.Mutex

	ID        string           `json:"id"`        // ULID, globally unique
	ThreadID  string           `json:"thread_id"` // caller-supplied lookup key
	Msgs      []domain.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewSession creates a new empty session for a thread identifier.
func NewSession(threadID string) *Session {
	now := time.Now()
	return &Session{
		ID:        generateULID(now),
		ThreadID:  threadID,
		Msgs:      make([]domain.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// BeginTurn blocks until this session's previous turn (if any) completes.
func (s *Session) BeginTurn() { s.turnMu.Lock() }

// EndTurn releases the turn lock.
func (s *Session) EndTurn() { s.turnMu.Unlock() }

// AddMessage appends a message and updates the timestamp (thread-safe).
func (s *Session) AddMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Msgs = append(s.Msgs, msg)
	s.UpdatedAt = time.Now()
}

// Messages returns a copy of the message history (thread-safe).
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]domain.Message, len(s.Msgs))
	copy(cp, s.Msgs)
	return cp
}

// MessagesFrom returns a copy of the history from index start onward.
func (s *Session) MessagesFrom(start int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if start < 0 || start >= len(s.Msgs) {
		return nil
	}
	cp := make([]domain.Message, len(s.Msgs)-start)
	copy(cp, s.Msgs[start:])
	return cp
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Msgs)
}

// HasSystemMessage reports whether the history contains a system message.
func (s *Session) HasSystemMessage() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.Msgs {
		if m.Role == domain.RoleSystem {
			return true
		}
	}
	return false
}

// SessionStore is an explicit in-memory store mapping thread identifiers to
// sessions. It is created at process start and passed by handle into the
// assistant; entries live until deleted or reaped.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for threadID, creating it lazily on first use.
func (ss *SessionStore) GetOrCreate(threadID string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if s, ok := ss.sessions[threadID]; ok {
		return s
	}
	s := NewSession(threadID)
	ss.sessions[threadID] = s
	return s
}

// Get returns an existing session or ErrSessionNotFound.
func (ss *SessionStore) Get(threadID string) (*Session, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.sessions[threadID]
	if !ok {
		return nil, domain.NewDomainError("SessionStore.Get", domain.ErrSessionNotFound, threadID)
	}
	return s, nil
}

// Delete removes a session from the store.
func (ss *SessionStore) Delete(threadID string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, threadID)
}

// ReapStale deletes sessions not updated within maxAge and returns the count
// of reaped sessions. This is the external eviction hook; nothing inside the
// turn path ever drops history.
func (ss *SessionStore) ReapStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	ss.mu.Lock()
	defer ss.mu.Unlock()

	var reaped int
	for id, s := range ss.sessions {
		s.mu.RLock()
		stale := s.UpdatedAt.Before(cutoff)
		s.mu.RUnlock()
		if stale {
			delete(ss.sessions, id)
			reaped++
		}
	}
	return reaped
}
