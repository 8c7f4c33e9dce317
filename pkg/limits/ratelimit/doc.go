// Package ratelimit implements multi-tier fixed-window rate limiting on the
// shared counter store.
//
// # Tiers
//
// Requests are counted independently per tier, in this order:
//
//   - global: one counter for all traffic
//   - provider: one counter per provider id
//   - user: one counter per user id
//
// # Windows
//
// Each tier counts in fixed windows keyed by
//
//	rl:{tier}:{key}:{windowStartMs}    windowStart = floor(now/window)*window
//
// A request is admitted when the pre-increment count is below the tier's
// request limit. Beyond that, a second counter in the same window grants up to
// Burst extra requests. Both counters expire with the window.
//
// # Emergency Mode
//
// When the externally supplied system error rate exceeds the configured
// threshold, the current window of each tier is latched into emergency mode
// and its request and burst ceilings are multiplied by the emergency factor
// until the window ends. Counts already taken are not penalized.
//
// # Failure Policy
//
// Counter store errors are returned to the caller, which denies the request.
package ratelimit
