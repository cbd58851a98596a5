package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Sessions feed long-lived stats, unlike a short chat cache, so
	// they stay around for a month before Redis reclaims them.
	defaultSessionTTL = 30 * 24 * time.Hour

	// casMaxRetries bounds the optimistic-lock retry loop in Update.
	casMaxRetries = 16
)

// RedisStore is a Store backed by Redis, safe for multi-instance
// deployments. Update uses WATCH-based compare-and-swap so concurrent
// writers to one session serialize, and the committed order is
// authoritative for all derived counts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL overrides the session expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	s := &RedisStore{
		client: client,
		ttl:    defaultSessionTTL,
		tracer: otel.Tracer("companion.internal.session.redis"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(id string) string {
	return fmt.Sprintf("ai_session:%s", id)
}

func userIndexKey(userID string) string {
	return fmt.Sprintf("ai_sessions:user:%s", userID)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.redis_get")
	defer span.End()

	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "session.redis_put")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, userIndexKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, userIndexKey(sess.UserID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist session: %w", err)
	}
	return nil
}

// Update applies fn under an optimistic lock. Returns (nil, nil) for
// unknown ids. On write contention the read-mutate-write cycle
// retries with a fresh snapshot, bounded by casMaxRetries.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.redis_update")
	defer span.End()

	key := sessionKey(id)
	var updated *Session

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("session: failed to decode session: %w", err)
		}
		if err := fn(&sess); err != nil {
			return err
		}

		out, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("session: failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		if err == nil {
			updated = &sess
		}
		return err
	}

	for i := 0; i < casMaxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to update session: %w", err)
	}

	err := fmt.Errorf("session: update contention exceeded %d retries for %s", casMaxRetries, id)
	span.RecordError(err)
	return nil, err
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.redis_list_by_user")
	defer span.End()

	ids, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load sessions: %w", err)
	}

	var out []*Session
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired session still referenced by the index set.
			continue
		}
		var sess Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			continue
		}
		out = append(out, &sess)
	}
	return out, nil
}
