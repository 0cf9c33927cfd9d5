package session

import (
	"sync"

	"github.com/google/uuid"

	"wafshield/internal/model"
)

// Store keeps interactive sessions in memory only. When the limit is reached
// the least recently used session is dropped. Every session starts from and
// resets to model.DefaultSample.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*State
	limit    int
	onChange func(n int)
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byID:  make(map[string]*State),
		limit: limit,
	}
}

// OnChange registers a callback that receives the session count after each change.
func (s *Store) OnChange(fn func(n int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) Get(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	return st, ok
}

// GetOrCreate returns the session for id, creating a new one with a fresh
// id when it is unknown.
func (s *Store) GetOrCreate(id string) (*State, bool) {
	if id != "" {
		if st, ok := s.Get(id); ok {
			return st, false
		}
	}
	st := New(uuid.NewString(), model.DefaultSample())
	s.mu.Lock()
	s.byID[st.id] = st
	if len(s.byID) > s.limit {
		s.evictOldest(st.id)
	}
	n, fn := len(s.byID), s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return st, true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	n, fn := len(s.byID), s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// evictOldest runs under s.mu; it reads timestamps atomically so a session
// busy scanning never blocks it.
func (s *Store) evictOldest(keep string) {
	var oldestID string
	var oldest *State
	for id, st := range s.byID {
		if id == keep {
			continue
		}
		if oldest == nil || st.lastUpdate().Before(oldest.lastUpdate()) {
			oldestID = id
			oldest = st
		}
	}
	if oldestID != "" {
		delete(s.byID, oldestID)
	}
}
