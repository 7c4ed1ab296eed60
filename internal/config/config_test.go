package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Wizard.AutoFill)
	assert.Equal(t, "CR", cfg.Wizard.DefaultFormPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Handoff.TTL)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "casewise.yaml", `
db_path: /var/lib/casewise/cache.db
remote:
  url: https://sessions.example.com
  timeout: 3s
wizard:
  auto_fill: false
server:
  addr: ":9090"
accounts:
  burst: 5
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/casewise/cache.db", cfg.DBPath)
	assert.Equal(t, "https://sessions.example.com", cfg.Remote.URL)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Remote.ProbeTimeout, "unset keys keep defaults")
	assert.False(t, cfg.Wizard.AutoFill)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Accounts.Burst)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "casewise.yaml", "remote:\n  uri: https://typo.example.com\n")
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uri")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeFile(t, "casewise.yaml", "")
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, Default().DBPath, cfg.DBPath)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := writeFile(t, "casewise.yaml", "db_path: from-file.db\n")
	t.Setenv("CASEWISE_DB", "from-env.db")
	t.Setenv("CASEWISE_AUTOFILL", "false")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.False(t, cfg.Wizard.AutoFill)
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "CASEWISE_REDIS_ADDR=localhost:6390\n")
	t.Cleanup(func() { _ = os.Unsetenv("CASEWISE_REDIS_ADDR") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6390", cfg.Handoff.RedisAddr)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), ".env"))
	assert.NoError(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CASEWISE_REMOTE_URL":      "http://localhost:8080",
		"CASEWISE_REMOTE_TIMEOUT":  "750ms",
		"CASEWISE_ACCOUNT_BURST":   "2",
		"CASEWISE_HANDOFF_TTL":     "90s",
		"CASEWISE_FORM_PREFIX":     "aos",
		"CASEWISE_POSTGRES_DSN":    "postgres://casewise@db/casewise",
		"UNRELATED_REMOTE_TIMEOUT": "nonsense",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg, lookup))
	assert.Equal(t, "http://localhost:8080", cfg.Remote.URL)
	assert.Equal(t, 750*time.Millisecond, cfg.Remote.Timeout)
	assert.Equal(t, 2, cfg.Accounts.Burst)
	assert.Equal(t, 90*time.Second, cfg.Handoff.TTL)
	assert.Equal(t, "aos", cfg.Wizard.DefaultFormPrefix)
	assert.Equal(t, "postgres://casewise@db/casewise", cfg.Server.PostgresDSN)
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CASEWISE_REMOTE_TIMEOUT", "soon"},
		{"CASEWISE_ACCOUNT_BURST", "many"},
		{"CASEWISE_AUTOFILL", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := Default()
			err := ApplyEnv(&cfg, func(k string) (string, bool) {
				if k == tt.key {
					return tt.value, true
				}
				return "", false
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty db", func(c *Config) { c.DBPath = " " }, "db_path is required"},
		{"zero timeout", func(c *Config) { c.Remote.Timeout = 0 }, "remote.timeout must be greater than zero"},
		{"negative ttl", func(c *Config) { c.Handoff.TTL = -time.Second }, "handoff.ttl must be greater than zero"},
		{"zero burst", func(c *Config) { c.Accounts.Burst = 0 }, "accounts.burst must be at least 1"},
		{"bad prefix", func(c *Config) { c.Wizard.DefaultFormPrefix = "9X" }, "default_form_prefix"},
		{"bad scheme", func(c *Config) { c.Remote.URL = "ftp://example.com" }, "must be http or https"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
