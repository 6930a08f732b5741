package session

import (
	"context"
	"sync"
	"time"
)

// Store resolves and persists conversation sessions. GetOrCreate never fails
// for the in-memory implementation; the redis implementation surfaces
// transport errors.
//
// Reset returns a conversation to the menu from outside the dialogue. The
// in-chat restart keywords are handled by the flow engine on the session it
// already holds; Reset exists for operational tooling that needs to unstick a
// conversation without an inbound message.
type Store interface {
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Reset(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process memory with TTL-based eviction.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store that evicts sessions idle longer than ttl.
// A ttl of zero disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

// GetOrCreate returns the session for id, creating one in the initial stage
// when the id has never been seen.
func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess := New(id)
	s.sessions[id] = sess
	return sess, nil
}

// Save bumps the activity timestamp. The in-memory store hands out the live
// record, so mutations are already visible.
func (s *MemoryStore) Save(_ context.Context, sess *Session) error {
	sess.Touch()
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return nil
}

// Reset clears collected answers and returns the session to the menu.
func (s *MemoryStore) Reset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.ClearQualification()
	sess.Stage = StageMainMenu
	sess.Touch()
	return nil
}

// Len reports the number of live sessions. Used by tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the eviction sweeper.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweep() {
	interval := s.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.evictBefore(now.Add(-s.ttl))
		}
	}
}

func (s *MemoryStore) evictBefore(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
