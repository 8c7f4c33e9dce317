// Package retry applies bounded exponential backoff to store writes that must
// not be dropped, such as usage increments and circuit outcome reports.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"mercator-hq/costgate/pkg/apperrors"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 4
	MaxAttempts int

	// InitialInterval is the wait before the first retry.
	// Default: 50ms
	InitialInterval time.Duration

	// MaxInterval caps a single wait.
	// Default: 1s
	MaxInterval time.Duration

	// Multiplier grows the wait after each attempt.
	// Default: 2.0
	Multiplier float64

	// MaxElapsed caps the whole loop.
	// Default: 5s
	MaxElapsed time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		MaxElapsed:      5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}
	return p
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// is exhausted. Only errors for which apperrors.IsRetryable is true are retried.
// The last error is returned on exhaustion.
func Do(ctx context.Context, p Policy, logger *slog.Logger, name string, op func(ctx context.Context) error) error {
	p = p.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err != nil && !apperrors.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(p.MaxElapsed),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("retrying store operation",
				"operation", name,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}),
	)
	return err
}
