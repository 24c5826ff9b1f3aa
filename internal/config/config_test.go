package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/bundlefix/pkg/errors"
	_ "github.com/davidthor/bundlefix/pkg/store/backend/local"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)
	assert.Equal(t, &Config{
		LogLevel:    "info",
		LogFormat:   "auto",
		Backend:     "local",
		Concurrency: 4,
	}, cfg)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
log_format: json
backend: local
backend_config:
  path: /tmp/store
concurrency: 8
who: ci
`), 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, map[string]string{"path": "/tmp/store"}, cfg.BackendConfig)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, "ci", cfg.Who)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{name: "bad level", cfg: Config{Backend: "local", LogLevel: "loud"}, field: KeyLogLevel},
		{name: "bad format", cfg: Config{Backend: "local", LogFormat: "xml"}, field: KeyLogFormat},
		{name: "missing backend", cfg: Config{}, field: KeyBackend},
		{name: "unknown backend", cfg: Config{Backend: "ftp"}, field: KeyBackend},
		{name: "negative concurrency", cfg: Config{Backend: "local", Concurrency: -1}, field: KeyConcurrency},
		{name: "huge concurrency", cfg: Config{Backend: "local", Concurrency: 1000}, field: KeyConcurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeValidation))

			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Details["field"])
		})
	}

	assert.Error(t, Validate(nil))
	assert.NoError(t, Validate(&Config{Backend: "local"}))
}

func TestValidate_UnknownBackendMessage(t *testing.T) {
	err := Validate(&Config{Backend: "ftp"})
	assert.ErrorContains(t, err, `unknown backend "ftp"`)
	assert.ErrorContains(t, err, "local")
}

func TestSet(t *testing.T) {
	v := newViper()

	require.NoError(t, Set(v, "log-level", "debug"))
	assert.Equal(t, "debug", v.GetString(KeyLogLevel))

	require.NoError(t, Set(v, "concurrency", "2"))
	assert.Equal(t, 2, v.GetInt(KeyConcurrency))

	require.NoError(t, Set(v, "backend_config.path", "/data"))
	assert.Equal(t, "/data", v.GetString("backend_config.path"))

	err := Set(v, "colour", "blue")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))

	err = Set(v, "log-format", "xml")
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	assert.Equal(t, "auto", v.GetString(KeyLogFormat), "rejected value must not be stored")

	err = Set(v, "backend_config.", "x")
	assert.Error(t, err)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "log_level", NormalizeKey("Log-Level"))
	assert.Equal(t, "backend", NormalizeKey("backend"))
}

func TestSettableKeys(t *testing.T) {
	keys := SettableKeys()
	require.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1][0], keys[i][0])
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("backend: local\n"), 0644))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	require.NoError(t, Set(v, "who", "release-bot"))
	require.NoError(t, Write(v))

	reread := newViper()
	reread.SetConfigFile(path)
	require.NoError(t, reread.ReadInConfig())
	assert.Equal(t, "release-bot", reread.GetString(KeyWho))
}
