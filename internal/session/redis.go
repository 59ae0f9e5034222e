package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bookingagent/internal/booking"
)

const (
	sessionKeyPrefix = "agent:session:"
	sessionIndexKey  = "agent:sessions"
)

// RedisStore keeps sessions as JSON values with a TTL that is refreshed on
// every save. A set indexes the IDs for listing and sweeping.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (booking.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return booking.Session{}, ErrNotFound
	}
	if err != nil {
		return booking.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess booking.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return booking.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	if sess.Intent == nil {
		sess.Intent = booking.Intent{}
	}
	return sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess booking.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(sess.ID), raw, s.ttl)
		p.SAdd(ctx, sessionIndexKey, sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, sessionKey(id))
		p.SRem(ctx, sessionIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Sweep drops index entries whose session key has expired. Redis removes
// the values themselves.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	ids, err := s.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list session ids: %w", err)
	}
	removed := 0
	for _, id := range ids {
		n, err := s.rdb.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return removed, fmt.Errorf("check session %s: %w", id, err)
		}
		if n > 0 {
			continue
		}
		if err := s.rdb.SRem(ctx, sessionIndexKey, id).Err(); err != nil {
			return removed, fmt.Errorf("unindex session %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Summary, error) {
	ids, err := s.rdb.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	out := make([]Summary, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var sess booking.Session
		if err := json.Unmarshal([]byte(str), &sess); err != nil {
			continue
		}
		out = append(out, summarize(sess))
	}
	sortSummaries(out)
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
