package counter

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrClosed is returned by a store that has been closed.
var ErrClosed = errors.New("counter store closed")

// Store is the shared counter store contract.
// Implementations must be safe for concurrent use by multiple goroutines and,
// for distributed implementations, by multiple processes.
type Store interface {
	// IncrBy atomically adds delta to the integer at key and returns the new value.
	// A missing key counts as 0. When ttl > 0 and the key has no expiry yet,
	// the key expires after ttl.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// IncrByOnce is IncrBy guarded by an idempotency token: the addition is applied
	// at most once per (key, token). It returns the resulting value and whether
	// this call applied the addition.
	IncrByOnce(ctx context.Context, key, token string, delta int64, ttl time.Duration) (int64, bool, error)

	// Get returns the value stored at key.
	Get(ctx context.Context, key string) (Value, error)

	// Set stores value at key unconditionally. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// CompareAndSwap replaces the value at key with next only if the current
	// value equals prev. An empty prev means the key must be absent.
	CompareAndSwap(ctx context.Context, key, prev, next string, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its current value equals prev and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key, prev string) (bool, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}

// Value is the result of a Get.
type Value struct {
	// Data is the raw stored value.
	Data string

	// TTL is the remaining time to live; 0 when the key does not expire.
	TTL time.Duration

	// Found is false when the key does not exist.
	Found bool
}

// microsPerUnit is the number of micro-units in one currency unit.
const microsPerUnit = 1_000_000

// ToMicros converts a currency amount to integer micro-units, rounding to the
// nearest micro-unit.
func ToMicros(amount float64) int64 {
	return int64(math.Round(amount * microsPerUnit))
}

// FromMicros converts integer micro-units back to a currency amount.
func FromMicros(micros int64) float64 {
	return float64(micros) / microsPerUnit
}
