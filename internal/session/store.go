package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrInvalidKey = errors.New("invalid session key")
	ErrTurnOrder  = errors.New("turn breaks user/assistant alternation")
)

// Turn is one immutable message in a session history.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// Label is the transcript prefix used when rendering history.
func (t Turn) Label() string {
	if t.Role == RoleAssistant {
		return "AI"
	}
	return "User"
}

type Session struct {
	Key       string    `json:"session_key"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps conversation histories in process memory. Sessions live until
// Clear or process exit; there is no expiry.
//
// Individual methods are safe for concurrent use, but a read-modify-append
// sequence is only atomic while the caller holds Lock(key).
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Lock serializes conversation steps for one key and returns the unlock func.
// Key mutexes are never removed, so clearing a session does not invalidate a
// lock someone else is waiting on.
func (s *Store) Lock(key string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Store) GetOrCreate(key string) (*Session, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return clone(sess), nil
	}
	now := s.now()
	sess := &Session{Key: key, CreatedAt: now, UpdatedAt: now}
	s.sessions[key] = sess
	return clone(sess), nil
}

func (s *Store) Get(key string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

// Clear removes the session and reports whether one existed.
func (s *Store) Clear(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// Append adds turns to an existing session. All turns are appended or none.
func (s *Store) Append(key string, turns ...Turn) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return ErrNotFound
	}

	n := len(sess.Turns)
	for i, t := range turns {
		if t.Role != expectedRole(n+i) {
			return ErrTurnOrder
		}
	}

	now := s.now()
	for _, t := range turns {
		if t.At.IsZero() {
			t.At = now
		}
		sess.Turns = append(sess.Turns, t)
	}
	sess.UpdatedAt = now
	return nil
}

func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[key]; ok {
		return len(sess.Turns)
	}
	return 0
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func expectedRole(idx int) Role {
	if idx%2 == 0 {
		return RoleUser
	}
	return RoleAssistant
}

func clone(s *Session) *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	return &c
}
