// Package counter implements the shared counter store used by every admission
// component.
//
// All live admission state (budget period totals, rate limit windows, circuit
// breaker states, alert markers) lives behind the narrow Store interface so
// that any number of gateway instances can make consistent decisions. Two
// implementations are provided:
//
//   - MemoryStore: process-local, for tests and single-node deployments
//   - RedisStore: Redis-backed, for multi-instance deployments
//
// Money is accumulated as integer micro-units (see ToMicros) so that
// concurrent additions are exact.
package counter
