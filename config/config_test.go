package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.env"), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_EnvFileThenFlags(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("COOP_MAX_ATTEMPTS=9\nCOOP_RETRY_INTERVAL=2s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("COOP_MAX_ATTEMPTS")
		os.Unsetenv("COOP_RETRY_INTERVAL")
	})

	c, err := Load(envFile, []string{"-max-attempts", "4", "-addr", ":9000"})
	require.NoError(t, err)
	assert.Equal(t, 4, c.MaxAttempts, "flag overrides .env")
	assert.Equal(t, 2*time.Second, c.RetryInterval)
	assert.Equal(t, ":9000", c.Addr)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("COOP_SWEEP_INTERVAL", "250ms")
	t.Setenv("COOP_LOG_STDERR", "true")

	c, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, c.SweepInterval)
	assert.True(t, c.LogStderr)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "unparsable duration", env: map[string]string{"COOP_RETRY_INTERVAL": "soon"}},
		{name: "unparsable int", env: map[string]string{"COOP_MAX_ATTEMPTS": "many"}},
		{name: "zero attempts", args: []string{"-max-attempts", "0"}},
		{name: "negative watchdog", args: []string{"-menu-watchdog", "-1s"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("", tc.args)
			assert.Error(t, err)
		})
	}
}
