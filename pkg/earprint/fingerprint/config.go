package fingerprint

import (
	"errors"
	"fmt"
)

const (
	// DefaultSampleRate is the rate every signal is resampled to before
	// analysis. 16 kHz with a 1024-sample window yields 512 bins, which fits
	// the 9-bit frequency fields of a hash.
	DefaultSampleRate = 16000
	WindowSize        = 1024
	HopSize           = 256

	MaxFreqBits  = 9
	MaxDeltaBits = 14
)

// Config holds the tunables of the fingerprint pipeline. Reference and query
// audio must be processed with the same Config for hashes to line up.
type Config struct {
	SampleRate int
	WindowSize int
	HopSize    int

	// Peak picking: a candidate must be the maximum of its
	// (2*TimeRadius+1) x (2*FreqRadius+1) neighbourhood, sit above
	// NoiseFloorDB (dBFS) and at least MinDBAboveMean dB above the frame's
	// band-maxima mean.
	TimeRadius     int
	FreqRadius     int
	NoiseFloorDB   float64
	MinDBAboveMean float64

	// Pairing: each anchor is paired with at most FanOut later peaks lying
	// MinDelta..MaxDelta seconds ahead and within MaxFreqDelta bins.
	FanOut       int
	MinDelta     float64
	MaxDelta     float64
	MaxFreqDelta int
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     DefaultSampleRate,
		WindowSize:     WindowSize,
		HopSize:        HopSize,
		TimeRadius:     2,
		FreqRadius:     3,
		NoiseFloorDB:   -70,
		MinDBAboveMean: 6,
		FanOut:         10,
		MinDelta:       0.03,
		MaxDelta:       3.0,
		MaxFreqDelta:   256,
	}
}

var ErrInvalidConfig = errors.New("invalid fingerprint config")

func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	case c.WindowSize <= 0 || c.HopSize <= 0:
		return fmt.Errorf("%w: window and hop sizes must be positive", ErrInvalidConfig)
	case c.HopSize > c.WindowSize:
		return fmt.Errorf("%w: hop size %d exceeds window size %d", ErrInvalidConfig, c.HopSize, c.WindowSize)
	case c.TimeRadius < 0 || c.FreqRadius < 0:
		return fmt.Errorf("%w: neighbourhood radii must not be negative", ErrInvalidConfig)
	case c.FanOut <= 0:
		return fmt.Errorf("%w: fan-out must be positive", ErrInvalidConfig)
	case c.MinDelta < 0 || c.MaxDelta <= c.MinDelta:
		return fmt.Errorf("%w: need 0 <= MinDelta < MaxDelta", ErrInvalidConfig)
	case c.MaxDelta*1000 > float64(maxDeltaMask):
		return fmt.Errorf("%w: MaxDelta %.2fs does not fit %d bits of milliseconds", ErrInvalidConfig, c.MaxDelta, MaxDeltaBits)
	case c.MaxFreqDelta <= 0:
		return fmt.Errorf("%w: MaxFreqDelta must be positive", ErrInvalidConfig)
	}
	return nil
}

// FrameDuration is the time between consecutive spectrogram frames.
func (c Config) FrameDuration() float64 {
	return float64(c.HopSize) / float64(c.SampleRate)
}

// BinWidth is the frequency resolution of one spectrogram bin in Hz.
func (c Config) BinWidth() float64 {
	return float64(c.SampleRate) / float64(c.WindowSize)
}
