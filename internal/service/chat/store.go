package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ai-spouse/webchat/backend/internal/model/chat"
)

// Session is one conversation. The transcript is guarded by the session's
// own lock, which the caller holds between Store.Acquire and Release.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	turns     []chat.Turn
	updatedAt time.Time

	// logical access time used for LRU eviction
	lastUsed atomic.Int64
	removed  atomic.Bool
}

// Release unlocks a session obtained from Store.Acquire.
func (s *Session) Release() {
	s.mu.Unlock()
}

// Append adds turn to the end of the transcript.
func (s *Session) Append(turn chat.Turn) {
	s.turns = append(s.turns, turn)
	s.updatedAt = time.Now().UTC()
}

// Trim keeps the system turn plus the most recent limit turns and reports how
// many turns were dropped.
func (s *Session) Trim(limit int) int {
	if limit < 0 {
		limit = 0
	}

	offset := 0
	if len(s.turns) > 0 && s.turns[0].Role == chat.RoleSystem {
		offset = 1
	}

	excess := len(s.turns) - offset - limit
	if excess <= 0 {
		return 0
	}

	trimmed := make([]chat.Turn, 0, offset+limit)
	trimmed = append(trimmed, s.turns[:offset]...)
	trimmed = append(trimmed, s.turns[offset+excess:]...)
	s.turns = trimmed
	return excess
}

// History returns a copy of the transcript.
func (s *Session) History() []chat.Turn {
	return append([]chat.Turn(nil), s.turns...)
}

// Len returns the number of turns, system turn included.
func (s *Session) Len() int {
	return len(s.turns)
}

func (s *Session) snapshot() chat.Snapshot {
	return chat.Snapshot{
		ID:        s.ID,
		Turns:     s.History(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
}

// Store keeps every live session in memory.
type Store struct {
	persona     string
	maxSessions int
	newID       func() string
	clock       atomic.Int64

	mu       sync.Mutex
	sessions map[string]*Session
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithMaxSessions caps the number of live sessions; the least recently used
// session is evicted when a new one would exceed the cap. Zero disables it.
func WithMaxSessions(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore 创建内存会话存储，persona 作为每个新会话的系统消息。
func NewStore(persona string, opts ...StoreOption) *Store {
	s := &Store{
		persona:  persona,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a fresh session identifier.
func (s *Store) NewID() string {
	return s.newID()
}

// Acquire returns the session stored under id, creating it when id is empty
// or unknown. The session is locked for the caller until Release.
func (s *Store) Acquire(id string) (*Session, bool) {
	for {
		sess, created := s.getOrCreate(id)
		sess.mu.Lock()
		if !sess.removed.Load() {
			sess.lastUsed.Store(s.clock.Add(1))
			return sess, created
		}
		// Deleted between lookup and lock; start over with a fresh entry.
		sess.mu.Unlock()
		id = sess.ID
	}
}

func (s *Store) getOrCreate(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.newID()
	}
	if sess, ok := s.sessions[id]; ok {
		sess.lastUsed.Store(s.clock.Add(1))
		return sess, false
	}

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		turns:     []chat.Turn{chat.SystemTurn(s.persona)},
		updatedAt: now,
	}
	sess.lastUsed.Store(s.clock.Add(1))
	s.sessions[id] = sess
	return sess, true
}

func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldest   int64
	)
	for id, sess := range s.sessions {
		used := sess.lastUsed.Load()
		if oldestID == "" || used < oldest {
			oldestID, oldest = id, used
		}
	}
	if oldestID != "" {
		s.removeLocked(oldestID)
	}
}

func (s *Store) removeLocked(id string) bool {
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	delete(s.sessions, id)
	sess.removed.Store(true)
	return true
}

// Delete removes the session if present and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Snapshot copies a session's transcript, waiting for any in-flight turn.
func (s *Store) Snapshot(id string) (chat.Snapshot, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return chat.Snapshot{}, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.removed.Load() {
		return chat.Snapshot{}, false
	}
	return sess.snapshot(), true
}
