package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bookingagent/internal/booking"
	"bookingagent/internal/metrics"
)

// recheckInterval is how long the primary stays bypassed after a failure.
const recheckInterval = time.Minute

// FailoverStore serves sessions from primary and switches to fallback while
// primary is failing. ErrNotFound is an answer, not a failure.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

// usePrimary reports whether the next call should try primary.
func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastCheck) > recheckInterval {
		s.lastCheck = time.Now()
		return true
	}
	return false
}

// observe records the outcome of a primary call and reports whether the
// caller should fall back.
func (s *FailoverStore) observe(op string, err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		if s.isDown.Swap(false) {
			s.logger.Info().Str("op", op).Msg("Session store primary recovered")
		}
		return false
	}
	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("Session store primary failed, switching to fallback")
	}
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()
	metrics.IncStoreFailover(op)
	return true
}

func (s *FailoverStore) Get(ctx context.Context, id string) (booking.Session, error) {
	if s.usePrimary() {
		sess, err := s.primary.Get(ctx, id)
		if !s.observe("get", err) {
			return sess, err
		}
	}
	return s.fallback.Get(ctx, id)
}

func (s *FailoverStore) Save(ctx context.Context, sess booking.Session) error {
	if s.usePrimary() {
		if !s.observe("save", s.primary.Save(ctx, sess)) {
			return nil
		}
	}
	return s.fallback.Save(ctx, sess)
}

func (s *FailoverStore) Delete(ctx context.Context, id string) error {
	fbErr := s.fallback.Delete(ctx, id)
	if s.usePrimary() {
		err := s.primary.Delete(ctx, id)
		if !s.observe("delete", err) {
			if err == nil || fbErr == nil {
				return nil
			}
			return err
		}
	}
	return fbErr
}

// Sweep sweeps both stores so sessions written during an outage expire too.
func (s *FailoverStore) Sweep(ctx context.Context) (int, error) {
	n, err := s.fallback.Sweep(ctx)
	if err != nil {
		return n, err
	}
	if s.usePrimary() {
		m, err := s.primary.Sweep(ctx)
		if !s.observe("sweep", err) {
			n += m
		}
	}
	return n, nil
}

func (s *FailoverStore) List(ctx context.Context) ([]Summary, error) {
	if s.usePrimary() {
		out, err := s.primary.List(ctx)
		if !s.observe("list", err) {
			return out, nil
		}
	}
	return s.fallback.List(ctx)
}

// Ping succeeds while either store is reachable.
func (s *FailoverStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return s.fallback.Ping(ctx)
	}
	return nil
}

// Degraded reports whether requests are currently served by the fallback.
func (s *FailoverStore) Degraded() bool {
	return s.isDown.Load()
}
