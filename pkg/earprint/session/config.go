package session

import (
	"errors"
	"fmt"
	"time"
)

// OverflowPolicy decides what happens when a buffer exceeds MaxDuration.
type OverflowPolicy string

const (
	// OverflowSlide evicts the oldest audio so exactly MaxDuration remains.
	OverflowSlide OverflowPolicy = "slide"
	// OverflowTrim keeps only the most recent TrimDuration.
	OverflowTrim OverflowPolicy = "trim"
	// OverflowReset discards everything buffered before the incoming chunk.
	OverflowReset OverflowPolicy = "reset"
)

type Config struct {
	MinDuration  time.Duration // audio required before the first attempt
	MaxDuration  time.Duration // retained audio never exceeds this
	TrimDuration time.Duration // target length for OverflowTrim
	RetryStep    time.Duration // new audio required between attempts
	Overflow     OverflowPolicy

	Workers     int
	QueueSize   int
	Synchronous bool // run attempts inside Ingest and return their result

	AttemptTimeout    time.Duration
	NotifyTimeout     time.Duration
	RepeatSuppression time.Duration // same recording is not re-notified within this window
	IdleTimeout       time.Duration
	ReapInterval      time.Duration

	MinSampleRate int
	MaxSampleRate int

	// SilenceRMS is the level below which a buffer is scored as no match
	// without consulting the identifier. Zero disables the gate.
	SilenceRMS float64
}

func DefaultConfig() Config {
	return Config{
		MinDuration:       10 * time.Second,
		MaxDuration:       60 * time.Second,
		TrimDuration:      30 * time.Second,
		RetryStep:         5 * time.Second,
		Overflow:          OverflowSlide,
		Workers:           4,
		QueueSize:         64,
		AttemptTimeout:    20 * time.Second,
		NotifyTimeout:     30 * time.Second,
		RepeatSuppression: 5 * time.Minute,
		IdleTimeout:       10 * time.Minute,
		ReapInterval:      time.Minute,
		MinSampleRate:     4000,
		MaxSampleRate:     96000,
		SilenceRMS:        1e-4,
	}
}

var ErrInvalidConfig = errors.New("invalid session config")

func (c Config) Validate() error {
	switch {
	case c.MinDuration <= 0:
		return fmt.Errorf("%w: min duration must be positive", ErrInvalidConfig)
	case c.MaxDuration < c.MinDuration:
		return fmt.Errorf("%w: max duration %s below min duration %s", ErrInvalidConfig, c.MaxDuration, c.MinDuration)
	case c.RetryStep <= 0:
		return fmt.Errorf("%w: retry step must be positive", ErrInvalidConfig)
	case c.Overflow != OverflowSlide && c.Overflow != OverflowTrim && c.Overflow != OverflowReset:
		return fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, c.Overflow)
	case c.Overflow == OverflowTrim && (c.TrimDuration <= 0 || c.TrimDuration > c.MaxDuration):
		return fmt.Errorf("%w: trim duration must be in (0, max duration]", ErrInvalidConfig)
	case !c.Synchronous && (c.Workers <= 0 || c.QueueSize <= 0):
		return fmt.Errorf("%w: workers and queue size must be positive", ErrInvalidConfig)
	case c.MinSampleRate <= 0 || c.MaxSampleRate < c.MinSampleRate:
		return fmt.Errorf("%w: bad sample rate bounds", ErrInvalidConfig)
	case c.SilenceRMS < 0 || c.SilenceRMS >= 1:
		return fmt.Errorf("%w: silence rms must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// ParseOverflowPolicy accepts "slide", "trim" or "reset".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case OverflowSlide, OverflowTrim, OverflowReset:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, s)
}
