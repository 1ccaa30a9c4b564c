// Package config loads settings for the EarPrint binaries from defaults, an
// optional YAML file, a .env file, environment variables and flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/fingerprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/matcher"
	"github.com/himanishpuri/EarPrint/pkg/earprint/notify"
	"github.com/himanishpuri/EarPrint/pkg/earprint/session"
	"github.com/himanishpuri/EarPrint/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "EARPRINT"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	DBPath    string `mapstructure:"db_path"`
	TempDir   string `mapstructure:"temp_dir"`

	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Session SessionConfig `mapstructure:"session"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxChunkBytes  int64         `mapstructure:"max_chunk_bytes"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type EngineConfig struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	MinScore      int     `mapstructure:"min_score"`
	OffsetQuantum float64 `mapstructure:"offset_quantum"`
	FanOut        int     `mapstructure:"fan_out"`
	ProbeMetadata bool    `mapstructure:"probe_metadata"`
}

type SessionConfig struct {
	MinDuration       time.Duration `mapstructure:"min_duration"`
	MaxDuration       time.Duration `mapstructure:"max_duration"`
	TrimDuration      time.Duration `mapstructure:"trim_duration"`
	RetryStep         time.Duration `mapstructure:"retry_step"`
	Overflow          string        `mapstructure:"overflow"`
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	Synchronous       bool          `mapstructure:"synchronous"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
	NotifyTimeout     time.Duration `mapstructure:"notify_timeout"`
	RepeatSuppression time.Duration `mapstructure:"repeat_suppression"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	SilenceRMS        float64       `mapstructure:"silence_rms"`
}

type NotifyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	AppID   string        `mapstructure:"app_id"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults seeds v with every key Load understands.
func SetDefaults(v *viper.Viper) {
	sess := session.DefaultConfig()
	fp := fingerprint.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("db_path", "earprint.sqlite3")
	v.SetDefault("temp_dir", os.TempDir())

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_chunk_bytes", 4<<20)
	v.SetDefault("server.max_upload_bytes", 100<<20)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_grace", "15s")

	v.SetDefault("engine.sample_rate", fp.SampleRate)
	v.SetDefault("engine.min_score", matcher.DefaultMinScore)
	v.SetDefault("engine.offset_quantum", matcher.DefaultOffsetQuantum)
	v.SetDefault("engine.fan_out", fp.FanOut)
	v.SetDefault("engine.probe_metadata", true)

	v.SetDefault("session.min_duration", sess.MinDuration)
	v.SetDefault("session.max_duration", sess.MaxDuration)
	v.SetDefault("session.trim_duration", sess.TrimDuration)
	v.SetDefault("session.retry_step", sess.RetryStep)
	v.SetDefault("session.overflow", string(sess.Overflow))
	v.SetDefault("session.workers", sess.Workers)
	v.SetDefault("session.queue_size", sess.QueueSize)
	v.SetDefault("session.synchronous", sess.Synchronous)
	v.SetDefault("session.attempt_timeout", sess.AttemptTimeout)
	v.SetDefault("session.notify_timeout", sess.NotifyTimeout)
	v.SetDefault("session.repeat_suppression", sess.RepeatSuppression)
	v.SetDefault("session.idle_timeout", sess.IdleTimeout)
	v.SetDefault("session.reap_interval", sess.ReapInterval)
	v.SetDefault("session.silence_rms", sess.SilenceRMS)

	v.SetDefault("notify.base_url", notify.DefaultBaseURL)
	v.SetDefault("notify.app_id", "")
	v.SetDefault("notify.api_key", "")
	v.SetDefault("notify.timeout", notify.DefaultTimeout)
}

// New returns a viper instance with defaults, env binding and the optional
// config file applied. configFile may be empty.
func New(configFile string) (*viper.Viper, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("earprint")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/earprint")
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// bindLegacyEnv maps the unprefixed variable names used by earlier
// deployments onto their keys.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("notify.app_id", EnvPrefix+"_NOTIFY_APP_ID", "OMI_APP_ID")
	_ = v.BindEnv("notify.api_key", EnvPrefix+"_NOTIFY_API_KEY", "OMI_API_KEY")
	_ = v.BindEnv("log_level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	// whole seconds, not duration strings
	for key, env := range map[string]string{
		"session.min_duration": "MIN_AUDIO_LENGTH",
		"session.max_duration": "MAX_BUFFER_DURATION",
	} {
		if s := os.Getenv(env); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				v.SetDefault(key, time.Duration(n)*time.Second)
			}
		}
	}
}

// BindFlags binds every flag in fs so flags override all other sources.
// Flags listed in keys bind to the mapped key; the rest bind to their own
// name with dashes turned into underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	var lastErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})
	return lastErr
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path is empty", ErrInvalid)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	case c.Server.MaxChunkBytes <= 0 || c.Server.MaxUploadBytes <= 0:
		return fmt.Errorf("%w: request size limits must be positive", ErrInvalid)
	case c.Engine.MinScore < 1:
		return fmt.Errorf("%w: engine.min_score must be at least 1", ErrInvalid)
	case c.Engine.OffsetQuantum <= 0:
		return fmt.Errorf("%w: engine.offset_quantum must be positive", ErrInvalid)
	}

	fp := c.FingerprintConfig()
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("%w: engine: %v", ErrInvalid, err)
	}
	sess, err := c.SessionConfig()
	if err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalid, err)
	}
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Config) FingerprintConfig() fingerprint.Config {
	fp := fingerprint.DefaultConfig()
	fp.SampleRate = c.Engine.SampleRate
	fp.FanOut = c.Engine.FanOut
	return fp
}

func (c *Config) SessionConfig() (session.Config, error) {
	policy, err := session.ParseOverflowPolicy(c.Session.Overflow)
	if err != nil {
		return session.Config{}, err
	}
	cfg := session.DefaultConfig()
	cfg.MinDuration = c.Session.MinDuration
	cfg.MaxDuration = c.Session.MaxDuration
	cfg.TrimDuration = c.Session.TrimDuration
	cfg.RetryStep = c.Session.RetryStep
	cfg.Overflow = policy
	cfg.Workers = c.Session.Workers
	cfg.QueueSize = c.Session.QueueSize
	cfg.Synchronous = c.Session.Synchronous
	cfg.AttemptTimeout = c.Session.AttemptTimeout
	cfg.NotifyTimeout = c.Session.NotifyTimeout
	cfg.RepeatSuppression = c.Session.RepeatSuppression
	cfg.IdleTimeout = c.Session.IdleTimeout
	cfg.ReapInterval = c.Session.ReapInterval
	cfg.SilenceRMS = c.Session.SilenceRMS
	return cfg, nil
}

// ServiceOptions returns the engine options for earprint.NewService.
func (c *Config) ServiceOptions(log earprint.Logger) []earprint.Option {
	return []earprint.Option{
		earprint.WithDBPath(c.DBPath),
		earprint.WithTempDir(c.TempDir),
		earprint.WithFingerprintConfig(c.FingerprintConfig()),
		earprint.WithMinScore(c.Engine.MinScore),
		earprint.WithOffsetQuantum(c.Engine.OffsetQuantum),
		earprint.WithMetadataProbe(c.Engine.ProbeMetadata),
		earprint.WithLogger(log),
	}
}

func (c *Config) NotifierConfig() notify.Config {
	return notify.Config{
		BaseURL: c.Notify.BaseURL,
		AppID:   c.Notify.AppID,
		APIKey:  c.Notify.APIKey,
		Timeout: c.Notify.Timeout,
	}
}

// Logger builds the process logger from log_level and log_format.
func (c *Config) Logger() *logger.Logger {
	lc := logger.DefaultConfig()
	lc.Level = logger.ParseLevel(c.LogLevel)
	if c.LogFormat == "json" {
		lc.JSON = true
		lc.Colorize = false
	}
	return logger.New(lc)
}
