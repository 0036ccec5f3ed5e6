package session

import (
	"time"

	"github.com/jpillora/backoff"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Limits bounds the in-flight correlation table. MaxInFlight 0 means the
// default of 1024; a negative MaxInFlight means unbounded.
type Limits struct {
	MaxInFlight int
	CallTTL     time.Duration
}

// Config defines transport/session defaults shared by block transports.
type Config struct {
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Limits             Limits
}

// DefaultLimits keeps at most 1024 calls awaiting a reply and never expires
// them by age.
func DefaultLimits() Limits {
	return Limits{
		MaxInFlight: 1024,
		CallTTL:     0,
	}
}

// WithDefaults resolves a zero MaxInFlight to the default.
func (l Limits) WithDefaults() Limits {
	if l.MaxInFlight == 0 {
		l.MaxInFlight = DefaultLimits().MaxInFlight
	}
	return l
}

// Backoff returns a fresh retry schedule for one dial loop. Attempt 0 waits
// InitialDelay; each later attempt multiplies it, capped at MaxDelay. With
// Jitter the delay is drawn between InitialDelay and that value.
func (c BackoffConfig) Backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.InitialDelay,
		Max:    c.MaxDelay,
		Factor: c.Multiplier,
		Jitter: c.Jitter,
	}
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Limits: DefaultLimits(),
	}
}

// WithDefaults fills zero durations and limits from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}
