package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := defaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	assert.Equal(t, "127.0.0.1:50051", c.GRPCAddr)
	assert.Equal(t, "sqlite", c.KeyStoreBackend)
	assert.Equal(t, uint64(3), c.RetryAttempts)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Empty(t, c.AccessToken)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}
	dotEnvFile = "does-not-exist.env"

	cfg := LoadConfig()

	require.NotNil(t, cfg)
	assert.Empty(t, cmp.Diff(defaults(), cfg))
}

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("overlays present keys only", func(t *testing.T) {
		path := writeTempJSON(t, map[string]any{
			"server_url":       "https://vault.example",
			"retry_base_delay": "1s",
			"keystore_backend": "memory",
		})
		os.Args = []string{"testbin", "-c", path}

		cfg := defaults()
		parseJson(cfg)

		want := defaults()
		want.ServerURL = "https://vault.example"
		want.RetryBaseDelay = time.Second
		want.KeyStoreBackend = "memory"
		assert.Empty(t, cmp.Diff(want, cfg))
	})

	t.Run("no file leaves config untouched", func(t *testing.T) {
		os.Args = []string{"testbin"}
		cfg := defaults()
		parseJson(cfg)
		assert.Empty(t, cmp.Diff(defaults(), cfg))
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))
		os.Args = []string{"testbin", "-config", bad}

		require.Panics(t, func() { parseJson(defaults()) })
	})
}

func TestParseEnv(t *testing.T) {
	dotEnvFile = "does-not-exist.env"
	t.Setenv("CLINICVAULT_CLIENT_SERVER_URL", "http://env:8080")
	t.Setenv("CLINICVAULT_CLIENT_TOKEN", "tok")
	t.Setenv("CLINICVAULT_CLIENT_RETRY_ATTEMPTS", "7")

	cfg := defaults()
	parseEnv(cfg)

	assert.Equal(t, "http://env:8080", cfg.ServerURL)
	assert.Equal(t, "tok", cfg.AccessToken)
	assert.Equal(t, uint64(7), cfg.RetryAttempts)
	assert.Equal(t, "127.0.0.1:50051", cfg.GRPCAddr)
}

func TestParseEnv_InvalidValuePanics(t *testing.T) {
	dotEnvFile = "does-not-exist.env"
	t.Setenv("CLINICVAULT_CLIENT_REQUEST_TIMEOUT", "later")

	require.Panics(t, func() { parseEnv(defaults()) })
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{"cmd", "-a", "http://h:1", "-r", "h:2", "-t", "abc", "-k", "memory", "-f", "x.db", "-i", "10"},
			expected: &Config{
				ServerURL: "http://h:1", GRPCAddr: "h:2", AccessToken: "abc",
				KeyStoreBackend: "memory", KeyStorePath: "x.db", OnlineCheckInterval: 10 * time.Second,
			},
		},
		{
			name: "restoration flags",
			args: []string{"cmd", "-w", "5s", "-n", "9", "-b", "1s", "-c", "client.json"},
			expected: &Config{
				RequestTimeout: 5 * time.Second, RetryAttempts: 9, RetryBaseDelay: time.Second,
			},
		},
		{name: "bad interval", args: []string{"cmd", "-i", "abc"}, expectPanic: true},
		{name: "dangling flag", args: []string{"cmd", "-n", "-1"}, expectPanic: true},
	}

	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
			os.Args = tt.args

			cfg := &Config{}
			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg) })
				return
			}
			require.NotPanics(t, func() { parseFlags(cfg) })
			assert.Empty(t, cmp.Diff(tt.expected, cfg))
		})
	}
}
