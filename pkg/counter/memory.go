package counter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"mercator-hq/costgate/internal/clock"
)

// MemoryStore implements Store in process memory.
// All data is lost when the process exits, and state is not shared between
// processes, so it is only suitable for tests and single-node deployments.
//
// MemoryStore is thread-safe; a single mutex makes every operation atomic.
type MemoryStore struct {
	// entries maps key to value and expiry.
	entries map[string]memoryEntry

	// mu protects entries.
	mu sync.Mutex

	clock clock.Clock

	// cleanupInterval is how often expired keys are swept.
	cleanupInterval time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// Clock drives key expiry. Default: real time.
	Clock clock.Clock

	// CleanupInterval is how often expired keys are removed.
	// Default: 1 minute
	CleanupInterval time.Duration
}

// NewMemoryStore creates a memory store with default settings.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates a memory store with custom configuration.
func NewMemoryStoreWithConfig(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	s := &MemoryStore{
		entries:         make(map[string]memoryEntry),
		clock:           clock.OrReal(cfg.Clock),
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// IncrBy atomically adds delta to the integer at key.
func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	return s.incrLocked(key, delta, ttl)
}

// IncrByOnce adds delta at most once per (key, token).
func (s *MemoryStore) IncrByOnce(ctx context.Context, key, token string, delta int64, ttl time.Duration) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, ErrClosed
	}

	now := s.clock.Now()
	marker := onceKey(key, token)
	if _, ok := s.liveLocked(marker, now); ok {
		current, err := s.intLocked(key, now)
		return current, false, err
	}

	total, err := s.incrLocked(key, delta, ttl)
	if err != nil {
		return 0, false, err
	}
	s.entries[marker] = memoryEntry{value: "1", expiresAt: expiry(now, ttl)}
	return total, true, nil
}

// Get returns the value stored at key.
func (s *MemoryStore) Get(ctx context.Context, key string) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Value{}, ErrClosed
	}

	now := s.clock.Now()
	e, ok := s.liveLocked(key, now)
	if !ok {
		return Value{}, nil
	}

	v := Value{Data: e.value, Found: true}
	if !e.expiresAt.IsZero() {
		v.TTL = e.expiresAt.Sub(now)
	}
	return v, nil
}

// Set stores value at key unconditionally.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(s.clock.Now(), ttl)}
	return nil
}

// SetNX stores value only if key is absent.
func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	now := s.clock.Now()
	if _, ok := s.liveLocked(key, now); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: expiry(now, ttl)}
	return true, nil
}

// CompareAndSwap replaces the value at key only if it currently equals prev.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, prev, next string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	now := s.clock.Now()
	e, ok := s.liveLocked(key, now)
	switch {
	case prev == "" && ok:
		return false, nil
	case prev != "" && (!ok || e.value != prev):
		return false, nil
	}

	s.entries[key] = memoryEntry{value: next, expiresAt: expiry(now, ttl)}
	return true, nil
}

// CompareAndDelete removes key only if it currently equals prev.
func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, prev string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	e, ok := s.liveLocked(key, s.clock.Now())
	if !ok || e.value != prev {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.entries, key)
	return nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Len returns the number of live keys.
// This is useful for monitoring and testing.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for k := range s.entries {
		if _, ok := s.liveLocked(k, now); ok {
			n++
		}
	}
	return n
}

// liveLocked returns the entry at key if it exists and has not expired.
// Caller must hold the lock.
func (s *MemoryStore) liveLocked(key string, now time.Time) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) intLocked(key string, now time.Time) (int64, error) {
	e, ok := s.liveLocked(key, now)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
	}
	return n, nil
}

func (s *MemoryStore) incrLocked(key string, delta int64, ttl time.Duration) (int64, error) {
	now := s.clock.Now()
	e, ok := s.liveLocked(key, now)

	var current int64
	if ok {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
		}
		current = n
	}

	// Keep an existing expiry, like Redis INCRBY does.
	expiresAt := e.expiresAt
	if !ok || expiresAt.IsZero() {
		expiresAt = expiry(now, ttl)
	}

	current += delta
	s.entries[key] = memoryEntry{value: strconv.FormatInt(current, 10), expiresAt: expiresAt}
	return current, nil
}

// cleanupLoop periodically removes expired keys.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.clock.Now()
			for k := range s.entries {
				s.liveLocked(k, now)
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// onceKey is the marker key recording that token was applied to key.
func onceKey(key, token string) string {
	return key + ":once:" + token
}
