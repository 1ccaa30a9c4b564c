package earprint

import (
	"os"

	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/matcher"
)

type Config struct {
	DBPath      string
	TempDir     string
	Logger      Logger
	Storage     Storage
	Fingerprint fingerprint.Config
	Matcher     matcher.Config
	// ProbeMetadata fills missing title/artist/album from container tags
	// via ffprobe when registering files.
	ProbeMetadata bool
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithSampleRate sets the analysis rate all audio is resampled to.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.Fingerprint.SampleRate = rate
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func WithFingerprintConfig(cfg fingerprint.Config) Option {
	return func(c *Config) {
		c.Fingerprint = cfg
	}
}

func WithMinScore(score int) Option {
	return func(c *Config) {
		c.Matcher.MinScore = score
	}
}

func WithOffsetQuantum(seconds float64) Option {
	return func(c *Config) {
		c.Matcher.OffsetQuantum = seconds
	}
}

func WithMetadataProbe(enabled bool) Option {
	return func(c *Config) {
		c.ProbeMetadata = enabled
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:        "earprint.sqlite3",
		TempDir:       os.TempDir(),
		Fingerprint:   fingerprint.DefaultConfig(),
		Matcher:       matcher.DefaultConfig(),
		ProbeMetadata: true,
	}
}
