package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookingagent/internal/booking"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu          sync.Mutex
	m           map[string]booking.Session
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithMaxSessions caps the number of sessions; the least recently updated
// one is evicted when a new session would exceed the cap.
func WithMaxSessions(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxSessions = n }
}

func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		m:   make(map[string]booking.Session),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (booking.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return booking.Session{}, ErrNotFound
	}
	if sess.IsExpired(s.ttl, s.now()) {
		delete(s.m, id)
		return booking.Session{}, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sess booking.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[sess.ID]; !exists && s.maxSessions > 0 && len(s.m) >= s.maxSessions {
		s.evictOldest()
	}
	s.m[sess.ID] = sess.Clone()
	return nil
}

func (s *MemoryStore) evictOldest() {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.m {
		if oldestID == "" || sess.UpdatedAt.Before(oldest) {
			oldestID, oldest = id, sess.UpdatedAt
		}
	}
	delete(s.m, oldestID)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; !ok {
		return ErrNotFound
	}
	delete(s.m, id)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.m {
		if sess.IsExpired(s.ttl, now) {
			delete(s.m, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Summary, 0, len(s.m))
	for _, sess := range s.m {
		if sess.IsExpired(s.ttl, now) {
			continue
		}
		out = append(out, summarize(sess))
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func sortSummaries(out []Summary) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
}
