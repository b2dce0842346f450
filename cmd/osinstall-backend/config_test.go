package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := parseConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "/run/osinstall", config.RuntimeDir)
	assert.Equal(t, "/cdrom", config.IsoDir)
	assert.Equal(t, "/var/lib/osinstall", config.LibDir)
	assert.Equal(t, "/target", config.TargetDir)
	assert.Equal(t, "info", config.LogLevel)
	assert.Nil(t, config.Sentry)
}

func TestParseConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime_dir = "/run/other"
log_level = "debug"

[sentry]
dsn = "https://key@sentry.example/1"

# front-end sections pass through without complaint
[webhook]
url = "https://hooks.example/done"
`), 0o600))

	config, err := parseConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/other", config.RuntimeDir)
	// defaults survive a partial config
	assert.Equal(t, "/cdrom", config.IsoDir)
	assert.Equal(t, "debug", config.LogLevel)
	require.NotNil(t, config.Sentry)
	assert.Equal(t, "https://key@sentry.example/1", config.Sentry.DSN)
}

func TestParseConfigBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.toml")
	require.NoError(t, os.WriteFile(path, []byte(`runtime_dir = [`), 0o600))

	_, err := parseConfig(path)
	assert.Error(t, err)
}

func TestSentryDSN(t *testing.T) {
	t.Setenv("SENTRY_DSN", "https://env@sentry.example/2")

	cases := map[string]struct {
		config driverConfig
		want   string
	}{
		"config wins": {
			config: driverConfig{Sentry: &sentryConfig{DSN: "https://cfg@sentry.example/1"}},
			want:   "https://cfg@sentry.example/1",
		},
		"environment fallback": {
			config: driverConfig{},
			want:   "https://env@sentry.example/2",
		},
		"empty section falls back": {
			config: driverConfig{Sentry: &sentryConfig{}},
			want:   "https://env@sentry.example/2",
		},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, sentryDSN(&c.config))
		})
	}
}
