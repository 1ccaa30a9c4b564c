package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/EarPrint/pkg/earprint/session"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, configFile string) *Config {
	t.Helper()
	v, err := New(configFile)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := load(t, "")

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 16000, cfg.Engine.SampleRate)
	assert.Equal(t, 10*time.Second, cfg.Session.MinDuration)
	assert.Equal(t, 60*time.Second, cfg.Session.MaxDuration)
	assert.Equal(t, "slide", cfg.Session.Overflow)
	assert.False(t, cfg.NotifierConfig().Configured())

	sess, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, session.DefaultConfig(), sess)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EARPRINT_SERVER_PORT", "9090")
	t.Setenv("EARPRINT_SESSION_OVERFLOW", "trim")
	t.Setenv("EARPRINT_SESSION_RETRY_STEP", "3s")
	t.Setenv("EARPRINT_ENGINE_MIN_SCORE", "12")
	t.Setenv("OMI_APP_ID", "app-1")
	t.Setenv("OMI_API_KEY", "secret")
	t.Setenv("MIN_AUDIO_LENGTH", "15")

	cfg := load(t, "")
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "trim", cfg.Session.Overflow)
	assert.Equal(t, 3*time.Second, cfg.Session.RetryStep)
	assert.Equal(t, 12, cfg.Engine.MinScore)
	assert.Equal(t, 15*time.Second, cfg.Session.MinDuration)
	assert.True(t, cfg.NotifierConfig().Configured())
	assert.Equal(t, "app-1", cfg.Notify.AppID)

	sess, err := cfg.SessionConfig()
	require.NoError(t, err)
	assert.Equal(t, session.OverflowTrim, sess.Overflow)
}

func TestConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "earprint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /data/prints.db
server:
  port: 7000
session:
  min_duration: 8s
  workers: 2
`), 0o644))

	v, err := New(path)
	require.NoError(t, err)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 0, "")
	fs.String("db", "", "")
	require.NoError(t, BindFlags(v, fs, map[string]string{"port": "server.port", "db": "db_path"}))
	require.NoError(t, fs.Parse([]string{"--port", "7100"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port, "flag beats file")
	assert.Equal(t, "/data/prints.db", cfg.DBPath, "unset flag does not mask file")
	assert.Equal(t, 8*time.Second, cfg.Session.MinDuration)
	assert.Equal(t, 2, cfg.Session.Workers)
}

func TestMissingExplicitConfigFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := map[string]struct {
		key   string
		value any
	}{
		"bad port":         {"server.port", 0},
		"zero min score":   {"engine.min_score", 0},
		"bad overflow":     {"session.overflow", "drop"},
		"max below min":    {"session.max_duration", "5s"},
		"zero sample rate": {"engine.sample_rate", 0},
		"negative quantum": {"engine.offset_quantum", -1.0},
		"empty db path":    {"db_path", ""},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			v, err := New("")
			require.NoError(t, err)
			v.Set(tt.key, tt.value)
			_, err = Load(v)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoggerFromConfig(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	assert.NotNil(t, cfg.Logger())
}
