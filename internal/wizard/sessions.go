package wizard

import (
	"sync"
	"time"
)

// Sessions holds the drafts of every browser session.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// Session is one browser's drafts keyed by subject, plus the subject whose
// survey is currently open. Callers hold the lock while they use it.
type Session struct {
	sync.Mutex
	drafts   map[string]*State
	current  string
	lastSeen time.Time
}

func NewSessions() *Sessions {
	return &Sessions{sessions: map[string]*Session{}, now: time.Now}
}

func (s *Sessions) Session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{drafts: map[string]*State{}}
		s.sessions[id] = sess
	}
	sess.lastSeen = s.now()
	return sess
}

// Prune forgets sessions idle for longer than maxIdle and reports how many
// were dropped.
func (s *Sessions) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	dropped := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}

func (s *Session) Draft(subjectID string) (*State, bool) {
	st, ok := s.drafts[subjectID]
	return st, ok
}

// Begin stores st and marks its subject as the current survey.
func (s *Session) Begin(st *State) {
	s.drafts[st.SubjectID] = st
	s.current = st.SubjectID
}

// Discard drops the subject's draft and clears the current survey marker
// when it points at that subject.
func (s *Session) Discard(subjectID string) {
	delete(s.drafts, subjectID)
	if s.current == subjectID {
		s.current = ""
	}
}

func (s *Session) Current() string {
	return s.current
}
