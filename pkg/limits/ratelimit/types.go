package ratelimit

import (
	"fmt"
	"time"
)

// Tier is a rate limiting tier.
type Tier string

const (
	TierGlobal   Tier = "global"
	TierProvider Tier = "provider"
	TierUser     Tier = "user"
)

// GlobalKey is the counter key of the global tier.
const GlobalKey = "global"

// Limit is the ceiling of one tier.
type Limit struct {
	// Requests admitted per window before burst is consumed.
	Requests int64 `yaml:"requests" json:"requests"`

	// Window is the fixed window length.
	Window time.Duration `yaml:"window" json:"window"`

	// Burst is the extra allowance per window on top of Requests.
	Burst int64 `yaml:"burst" json:"burst"`
}

// EmergencyConfig configures error-rate driven throttling.
type EmergencyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Threshold is the error rate (0.0-1.0) above which emergency mode starts.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Factor scales requests and burst while in emergency mode.
	// Default: 0.5
	Factor float64 `yaml:"factor" json:"factor"`
}

// Config contains the limits of every tier. A nil tier is unlimited.
type Config struct {
	Global *Limit `yaml:"global" json:"global,omitempty"`

	// PerProvider holds limits for named providers.
	PerProvider map[string]Limit `yaml:"per_provider" json:"per_provider,omitempty"`

	// DefaultProvider applies to providers missing from PerProvider.
	DefaultProvider *Limit `yaml:"default_provider" json:"default_provider,omitempty"`

	PerUser *Limit `yaml:"per_user" json:"per_user,omitempty"`

	Emergency EmergencyConfig `yaml:"emergency" json:"emergency"`
}

// DefaultEmergencyFactor scales limits in emergency mode when none is configured.
const DefaultEmergencyFactor = 0.5

// Validate checks every configured tier.
func (c Config) Validate() error {
	check := func(name string, l *Limit) error {
		if l == nil {
			return nil
		}
		if l.Requests <= 0 {
			return fmt.Errorf("%s: requests must be greater than 0", name)
		}
		if l.Window <= 0 {
			return fmt.Errorf("%s: window must be greater than 0", name)
		}
		if l.Burst < 0 {
			return fmt.Errorf("%s: burst must not be negative", name)
		}
		return nil
	}

	if err := check("global", c.Global); err != nil {
		return err
	}
	if err := check("default_provider", c.DefaultProvider); err != nil {
		return err
	}
	for id, l := range c.PerProvider {
		l := l
		if err := check("per_provider."+id, &l); err != nil {
			return err
		}
	}
	if err := check("per_user", c.PerUser); err != nil {
		return err
	}

	if c.Emergency.Threshold < 0 || c.Emergency.Threshold > 1 {
		return fmt.Errorf("emergency: threshold must be within [0, 1]")
	}
	if c.Emergency.Factor < 0 || c.Emergency.Factor > 1 {
		return fmt.Errorf("emergency: factor must be within (0, 1]")
	}
	return nil
}

// Decision is the result of one tier check.
type Decision struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	Tier Tier
	Key  string

	// Limit is the effective request ceiling of the window, 0 when unlimited.
	Limit int64

	// Remaining is how many base requests remain in the window.
	Remaining int64

	// UsedBurst is true when the request was admitted from the burst allowance.
	UsedBurst bool

	// Emergency is true when the window is in emergency mode.
	Emergency bool

	// ResetAt is when the window ends.
	ResetAt time.Time

	// RetryAfter is the time until the window ends; set on rejection.
	RetryAfter time.Duration
}

// ErrorRateSource supplies the rolling system error rate (0.0-1.0).
type ErrorRateSource interface {
	ErrorRate() float64
}
