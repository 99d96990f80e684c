package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "tokens", cfg.Gmail.TokensDir)
	assert.Contains(t, cfg.Gmail.Scopes, "https://www.googleapis.com/auth/gmail.send")
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, cfg.Calendar.Scopes)
	assert.Equal(t, StoreFile, cfg.TokenStore)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sumeria.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gmail:
  credentials_file: /etc/sumeria/client_secret.json
  tokens_dir: /var/lib/sumeria/gmail
  default_account: x@y.com
calendar:
  scopes:
    - https://www.googleapis.com/auth/calendar.readonly
token_store: sqlite
token_store_path: /var/lib/sumeria/tokens.db
retry:
  max_attempts: 5
  base_delay: 500ms
  max_delay: 4s
log_format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/etc/sumeria/client_secret.json", cfg.Gmail.CredentialsFile)
	assert.Equal(t, "x@y.com", cfg.Gmail.DefaultAccount)
	// Fields absent from the file keep their defaults.
	assert.Len(t, cfg.Gmail.Scopes, 3)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar.readonly"}, cfg.Calendar.Scopes)
	assert.Equal(t, StoreSQLite, cfg.TokenStore)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"GMAIL_CREDENTIALS_FILE":   "/secrets/gmail.json",
		"GMAIL_SCOPES":             "scope-a, scope-b",
		"CALENDAR_TOKENS_DIR":      "/tokens/cal",
		"CALENDAR_DEFAULT_ACCOUNT": "a@example.com",
		"TOKEN_STORE":              "sqlite",
		"RETRY_MAX_ATTEMPTS":       "4",
		"RETRY_BASE_DELAY":         "1s",
		"LOG_LEVEL":                "debug",
		"METRICS_ADDR":             ":9090",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/secrets/gmail.json", cfg.Gmail.CredentialsFile)
	assert.Equal(t, []string{"scope-a", "scope-b"}, cfg.Gmail.Scopes)
	assert.Equal(t, "/tokens/cal", cfg.Calendar.TokensDir)
	assert.Equal(t, "a@example.com", cfg.Calendar.DefaultAccount)
	assert.Equal(t, StoreSQLite, cfg.TokenStore)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.applyEnv(envMap(map[string]string{"RETRY_MAX_ATTEMPTS": "many"})))

	cfg = Default()
	assert.Error(t, cfg.applyEnv(envMap(map[string]string{"RETRY_MAX_DELAY": "soon"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.TokenStore = "redis" }},
		{"sqlite without path", func(c *Config) { c.TokenStore = StoreSQLite; c.TokenStorePath = "" }},
		{"no tokens dir", func(c *Config) { c.Gmail.TokensDir = "" }},
		{"no scopes", func(c *Config) { c.Calendar.Scopes = nil }},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"max below base", func(c *Config) { c.Retry.MaxDelay = time.Second; c.Retry.BaseDelay = 2 * time.Second }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSetDefaultAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "sumeria.yaml")

	require.NoError(t, SetDefaultAccount(path, "gmail", "x@y.com"))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "x@y.com", cfg.Gmail.DefaultAccount)

	require.NoError(t, os.WriteFile(path, []byte("gmail:\n  tokens_dir: /data/gmail\nlog_level: debug\n"), 0o600))
	require.NoError(t, SetDefaultAccount(path, "calendar", "a@example.com"))

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", cfg.Calendar.DefaultAccount)
	assert.Equal(t, "/data/gmail", cfg.Gmail.TokensDir)
	assert.Equal(t, "debug", cfg.LogLevel)

	assert.Error(t, SetDefaultAccount(path, "drive", "a@example.com"))
}

func TestSetDefaultAccount_KeepsLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sumeria.yaml")
	original := `# sumeria configuration
log_level: debug
gmail:
  # work mailbox
  tokens_dir: /data/gmail
  default_account: old@example.com # replaced below
calendar:
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o600))

	require.NoError(t, SetDefaultAccount(path, "gmail", "new@example.com"))
	require.NoError(t, SetDefaultAccount(path, "calendar", "cal@example.com"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "# sumeria configuration")
	assert.Contains(t, out, "# work mailbox")
	assert.Equal(t, 1, strings.Count(out, "default_account: new@example.com"))
	assert.NotContains(t, out, "old@example.com")
	assert.Less(t, strings.Index(out, "log_level"), strings.Index(out, "gmail:"))
	assert.Less(t, strings.Index(out, "gmail:"), strings.Index(out, "calendar:"))
	assert.Contains(t, out, "\n  tokens_dir: /data/gmail\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", cfg.Gmail.DefaultAccount)
	assert.Equal(t, "cal@example.com", cfg.Calendar.DefaultAccount)
	assert.Equal(t, "/data/gmail", cfg.Gmail.TokensDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestSetDefaultAccount_RejectsNonMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sumeria.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- a\n- b\n"), 0o600))
	assert.Error(t, SetDefaultAccount(path, "gmail", "x@y.com"))
}
