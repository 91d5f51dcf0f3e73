package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. It is the backend for replicated
// deployments: all engine processes share one view of active sessions and
// the per-session lock serializes writers across processes.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	lockTTL time.Duration
	mu      sync.RWMutex
	closed  bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix for all session keys (default: "voicereg:").
	Prefix string
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
	// LockTTL bounds how long a crashed holder can pin a session lock
	// (default: 30s).
	LockTTL time.Duration
}

// releaseScript deletes the lock only if the caller still holds it, so a
// lock that expired and was re-acquired by another writer is never freed
// out from under the new holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the lock TTL only while the caller still holds it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "voicereg:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client:  client,
		prefix:  prefix,
		lockTTL: lockTTL,
	}, nil
}

// NewRedisStoreFromClient creates a Redis store from an existing client.
// This is useful for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "voicereg:"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		lockTTL: 30 * time.Second,
	}
}

// Key helpers
func (r *RedisStore) sessionKey(sessionID string) string {
	return r.prefix + "sess:" + sessionID
}

func (r *RedisStore) lockKey(sessionID string) string {
	return r.prefix + "lock:" + sessionID
}

func (r *RedisStore) expiryKey() string {
	return r.prefix + "expiry"
}

func (r *RedisStore) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrStoreClosed
	}
	return nil
}

// Put creates or replaces a session and maintains the expiry index.
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.sessionKey(s.ID), data, 0)
	pipe.ZAdd(ctx, r.expiryKey(), redis.Z{
		Score:  float64(s.ExpiresAt.Unix()),
		Member: s.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *RedisStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Delete removes a session and its expiry index entry (idempotent).
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.checkOpen(); err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.ZRem(ctx, r.expiryKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListExpired returns IDs whose expiry score is at or before now.
func (r *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	return ids, nil
}

// Lock acquires the per-session writer lock with SET NX, polling with a
// short backoff until acquired or ctx is done. While the lock is held a
// watchdog keeps extending the TTL, so exclusion survives turns that run
// longer than LockTTL (a slow extraction call, for instance); the TTL
// only reclaims locks whose holder crashed.
func (r *RedisStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	key := r.lockKey(sessionID)
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}

	done := make(chan struct{})
	go r.renewLock(key, token, done)

	release := func() {
		close(done)
		// Release failures are tolerable: the TTL reclaims the lock.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(relCtx, r.client, []string{key}, token).Err()
	}
	return release, nil
}

// renewLock extends the lock TTL every lockTTL/3 until released. It stops
// on its own if the lock was lost (expired and taken by another writer).
func (r *RedisStore) renewLock(key, token string, done <-chan struct{}) {
	ticker := time.NewTicker(r.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			renewed, err := renewScript.Run(ctx, r.client,
				[]string{key}, token, r.lockTTL.Milliseconds()).Int()
			cancel()
			if err == nil && renewed == 0 {
				return
			}
		}
	}
}

// Close releases resources held by the store.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}

// Ping checks if the Redis connection is alive.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	return r.client.Ping(ctx).Err()
}
