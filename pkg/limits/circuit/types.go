package circuit

import (
	"fmt"
	"time"
)

// Status is the state of a provider circuit.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// Settings configures one provider's breaker.
type Settings struct {
	// TripThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	TripThreshold int `yaml:"trip_threshold" json:"trip_threshold"`

	// CoolDown is how long the circuit stays open before a trial is allowed.
	// Default: 30s
	CoolDown time.Duration `yaml:"cool_down" json:"cool_down"`

	// MaxCoolDown caps the cool-down after repeated failed trials.
	// Default: 10 x CoolDown
	MaxCoolDown time.Duration `yaml:"max_cool_down" json:"max_cool_down"`

	// HalfOpenTrials is the number of trial requests admitted while half-open.
	// Default: 1
	HalfOpenTrials int `yaml:"half_open_trials" json:"half_open_trials"`
}

// DefaultSettings returns the default breaker settings.
func DefaultSettings() Settings {
	return Settings{
		TripThreshold:  5,
		CoolDown:       30 * time.Second,
		MaxCoolDown:    5 * time.Minute,
		HalfOpenTrials: 1,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.TripThreshold <= 0 {
		s.TripThreshold = d.TripThreshold
	}
	if s.CoolDown <= 0 {
		s.CoolDown = d.CoolDown
	}
	if s.MaxCoolDown <= 0 {
		s.MaxCoolDown = 10 * s.CoolDown
	}
	if s.MaxCoolDown < s.CoolDown {
		s.MaxCoolDown = s.CoolDown
	}
	if s.HalfOpenTrials <= 0 {
		s.HalfOpenTrials = d.HalfOpenTrials
	}
	return s
}

func (s Settings) validate(name string) error {
	if s.TripThreshold < 0 {
		return fmt.Errorf("%s: trip_threshold must not be negative", name)
	}
	if s.CoolDown < 0 || s.MaxCoolDown < 0 {
		return fmt.Errorf("%s: cool-down durations must not be negative", name)
	}
	if s.HalfOpenTrials < 0 {
		return fmt.Errorf("%s: half_open_trials must not be negative", name)
	}
	return nil
}

// Config holds the default settings and per-provider overrides. Zero fields
// take their defaults.
type Config struct {
	Defaults  Settings            `yaml:"defaults" json:"defaults"`
	Providers map[string]Settings `yaml:"providers" json:"providers,omitempty"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Defaults.validate("defaults"); err != nil {
		return err
	}
	for id, s := range c.Providers {
		if err := s.validate("providers." + id); err != nil {
			return err
		}
	}
	return nil
}

// State is the persisted state of one provider circuit.
type State struct {
	ProviderID          string    `json:"provider_id"`
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitzero"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
	HalfOpenAt          time.Time `json:"half_open_at,omitzero"`

	// TrialsRemaining is the number of unclaimed half-open trial slots.
	TrialsRemaining int `json:"trials_remaining"`

	// FailedCycles counts open -> half_open -> open cycles without recovery.
	FailedCycles int `json:"failed_cycles"`

	// CoolDown is the current cool-down; it grows with FailedCycles.
	CoolDown time.Duration `json:"cool_down"`
}

// RetryAt returns when the circuit may next admit a request. It is zero for a
// closed circuit.
func (s State) RetryAt() time.Time {
	switch s.Status {
	case StatusOpen:
		return s.OpenedAt.Add(s.CoolDown)
	case StatusHalfOpen:
		if s.TrialsRemaining == 0 {
			return s.HalfOpenAt.Add(s.CoolDown)
		}
	}
	return time.Time{}
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed bool

	// Status is the circuit status after the check.
	Status Status

	// Trial is true when the request holds a half-open trial slot.
	Trial bool

	// RetryAfter is the time until the circuit may admit again; set on rejection.
	RetryAfter time.Duration
}

// Listener is called after a state transition has been stored.
type Listener func(providerID string, from, to Status)
