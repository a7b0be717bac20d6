package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces token keys in Redis.
const DefaultKeyPrefix = "codemao:auth"

// Snapshot is the persisted identity state.
type Snapshot struct {
	Tokens map[Identity]string
	Active Identity
}

// TokenStore persists identity tokens across processes.
type TokenStore interface {
	Save(ctx context.Context, id Identity, token string) error
	Load(ctx context.Context) (Snapshot, error)
}

// RedisStore keeps one key per identity plus the active identity.
//
// Keys:
//
//	<prefix>:token:<identity>
//	<prefix>:active
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a token store. A zero ttl keeps tokens until
// overwritten.
func NewRedisStore(redisClient *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) tokenKey(id Identity) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, id)
}

func (r *RedisStore) activeKey() string {
	return r.prefix + ":active"
}

// Save stores token under id and marks id active in one pipeline.
func (r *RedisStore) Save(ctx context.Context, id Identity, token string) error {
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, r.tokenKey(id), token, r.ttl)
	pipe.Set(ctx, r.activeKey(), string(id), r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store token in redis: %w", err)
	}
	return nil
}

// Load reads all identity slots. Missing keys are skipped.
func (r *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	keys := make([]string, 0, len(Identities)+1)
	for _, id := range Identities {
		keys = append(keys, r.tokenKey(id))
	}
	keys = append(keys, r.activeKey())

	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("load tokens from redis: %w", err)
	}

	snapshot := Snapshot{Tokens: make(map[Identity]string, len(Identities))}
	for i, id := range Identities {
		if i >= len(values) {
			break
		}
		if raw, ok := values[i].(string); ok {
			snapshot.Tokens[id] = raw
		}
	}

	if len(values) == len(keys) {
		if raw, ok := values[len(keys)-1].(string); ok && raw != "" {
			id, err := ParseIdentity(raw)
			if err != nil {
				return Snapshot{}, fmt.Errorf("stored active identity: %w", err)
			}
			snapshot.Active = id
		}
	}

	return snapshot, nil
}
