package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua scripts keep each read-modify-write a single atomic server-side step.
var (
	// incrScript: KEYS[1]=counter ARGV[1]=delta ARGV[2]=ttl ms
	incrScript = redis.NewScript(`
		local v = redis.call('INCRBY', KEYS[1], ARGV[1])
		local ttl = tonumber(ARGV[2])
		if ttl > 0 and redis.call('PTTL', KEYS[1]) < 0 then
			redis.call('PEXPIRE', KEYS[1], ttl)
		end
		return v
	`)

	// incrOnceScript: KEYS[1]=counter KEYS[2]=marker ARGV[1]=delta ARGV[2]=ttl ms
	incrOnceScript = redis.NewScript(`
		local ttl = tonumber(ARGV[2])
		local ok
		if ttl > 0 then
			ok = redis.call('SET', KEYS[2], '1', 'NX', 'PX', ttl)
		else
			ok = redis.call('SET', KEYS[2], '1', 'NX')
		end
		if not ok then
			return {tonumber(redis.call('GET', KEYS[1]) or '0'), 0}
		end
		local v = redis.call('INCRBY', KEYS[1], ARGV[1])
		if ttl > 0 and redis.call('PTTL', KEYS[1]) < 0 then
			redis.call('PEXPIRE', KEYS[1], ttl)
		end
		return {v, 1}
	`)

	// casScript: KEYS[1]=key ARGV[1]=prev ('' = absent) ARGV[2]=next ARGV[3]=ttl ms
	casScript = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if ARGV[1] == '' then
			if cur then return 0 end
		elseif cur ~= ARGV[1] then
			return 0
		end
		local ttl = tonumber(ARGV[3])
		if ttl > 0 then
			redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
		else
			redis.call('SET', KEYS[1], ARGV[2])
		end
		return 1
	`)

	// cadScript: KEYS[1]=key ARGV[1]=prev
	cadScript = redis.NewScript(`
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`)
)

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Addr is the Redis server address.
	Addr string

	// Password for AUTH; empty disables authentication.
	Password string

	// DB is the database number.
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MaxRetries is the client-level retry count for network errors.
	MaxRetries int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// KeyPrefix namespaces every key, e.g. "costgate:".
	KeyPrefix string
}

// RedisStore implements Store on Redis so that all gateway instances share
// one view of counters and breaker states.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreFromClient(client, cfg.KeyPrefix)
	s.logger.Info("redis counter store initialized", "addr", cfg.Addr, "db", cfg.DB)
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: keyPrefix,
		logger: slog.Default().With("component", "counter.redis"),
	}
}

// IncrBy atomically adds delta to the integer at key.
func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	v, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incrby %s: %w", key, err)
	}
	return v, nil
}

// IncrByOnce adds delta at most once per (key, token).
func (s *RedisStore) IncrByOnce(ctx context.Context, key, token string, delta int64, ttl time.Duration) (int64, bool, error) {
	if err := s.checkOpen(); err != nil {
		return 0, false, err
	}
	res, err := incrOnceScript.Run(ctx, s.client,
		[]string{s.key(key), s.key(onceKey(key, token))}, delta, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("incrby once %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("incrby once %s: unexpected reply length %d", key, len(res))
	}
	return res[0], res[1] == 1, nil
}

// Get returns the value and remaining TTL at key.
func (s *RedisStore) Get(ctx context.Context, key string) (Value, error) {
	if err := s.checkOpen(); err != nil {
		return Value{}, err
	}

	k := s.key(key)
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Value{}, fmt.Errorf("get %s: %w", key, err)
	}

	data, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Value{}, nil
	}
	if err != nil {
		return Value{}, fmt.Errorf("get %s: %w", key, err)
	}

	v := Value{Data: data, Found: true}
	if ttl := ttlCmd.Val(); ttl > 0 {
		v.TTL = ttl
	}
	return v, nil
}

// Set stores value at key unconditionally.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only if key is absent.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndSwap replaces the value at key only if it currently equals prev.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key, prev, next string, ttl time.Duration) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	n, err := casScript.Run(ctx, s.client, []string{s.key(key)}, prev, next, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("cas %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndDelete removes key only if it currently equals prev.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, prev string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	n, err := cadScript.Run(ctx, s.client, []string{s.key(key)}, prev).Int64()
	if err != nil {
		return false, fmt.Errorf("cad %s: %w", key, err)
	}
	return n == 1, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}
