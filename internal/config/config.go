// Package config loads casewise settings from a YAML file, a .env file,
// and CASEWISE_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/handoff"
	"github.com/roach88/casewise/internal/remote"
	"github.com/roach88/casewise/internal/wizard"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "CASEWISE_"

// Config holds every setting the CLI and the server read.
type Config struct {
	// DBPath is the local SQLite cache file.
	DBPath string `yaml:"db_path"`

	// CatalogDir holds the CUE questionnaire and form catalog.
	CatalogDir string `yaml:"catalog_dir"`

	Remote   RemoteConfig   `yaml:"remote"`
	Wizard   WizardConfig   `yaml:"wizard"`
	Server   ServerConfig   `yaml:"server"`
	Handoff  HandoffConfig  `yaml:"handoff"`
	Accounts AccountsConfig `yaml:"accounts"`
}

// RemoteConfig points the gateway at the session service. An empty URL
// runs local-only.
type RemoteConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// WizardConfig tunes the state machine.
type WizardConfig struct {
	AutoFill          bool          `yaml:"auto_fill"`
	AutoFillTimeout   time.Duration `yaml:"auto_fill_timeout"`
	DefaultFormPrefix string        `yaml:"default_form_prefix"`
}

// ServerConfig configures `casewise serve`. With PostgresDSN empty the
// server uses the SQLite cache at DBPath.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	AuthSecret  string        `yaml:"auth_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// HandoffConfig selects the handoff store. An empty RedisAddr keeps
// transfers in memory.
type HandoffConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

// AccountsConfig is the account-request guard: Burst attempts per email,
// refilled one per Every.
type AccountsConfig struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		DBPath: "casewise.db",
		Remote: RemoteConfig{
			Timeout:      remote.DefaultTimeout,
			ProbeTimeout: remote.DefaultProbeTimeout,
		},
		Wizard: WizardConfig{
			AutoFill:          true,
			AutoFillTimeout:   wizard.DefaultAutoFillTimeout,
			DefaultFormPrefix: domain.DefaultFormCasePrefix,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			TokenTTL: 24 * time.Hour,
		},
		Handoff: HandoffConfig{
			TTL: handoff.DefaultTTL,
		},
		Accounts: AccountsConfig{
			Every: time.Minute,
			Burst: 3,
		},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if
// path is non-empty), then envFile (skipped when missing), then the
// process environment. The result is validated.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode rejects keys that map to no field.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg from CASEWISE_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"DB", &cfg.DBPath},
		{"CATALOG", &cfg.CatalogDir},
		{"REMOTE_URL", &cfg.Remote.URL},
		{"REMOTE_TOKEN", &cfg.Remote.Token},
		{"FORM_PREFIX", &cfg.Wizard.DefaultFormPrefix},
		{"LISTEN", &cfg.Server.Addr},
		{"AUTH_SECRET", &cfg.Server.AuthSecret},
		{"POSTGRES_DSN", &cfg.Server.PostgresDSN},
		{"REDIS_ADDR", &cfg.Handoff.RedisAddr},
		{"REDIS_PASSWORD", &cfg.Handoff.RedisPassword},
	}
	for _, s := range strs {
		if v, ok := get(s.name); ok {
			*s.dst = v
		}
	}

	durs := []struct {
		name string
		dst  *time.Duration
	}{
		{"REMOTE_TIMEOUT", &cfg.Remote.Timeout},
		{"PROBE_TIMEOUT", &cfg.Remote.ProbeTimeout},
		{"AUTOFILL_TIMEOUT", &cfg.Wizard.AutoFillTimeout},
		{"TOKEN_TTL", &cfg.Server.TokenTTL},
		{"HANDOFF_TTL", &cfg.Handoff.TTL},
		{"ACCOUNT_EVERY", &cfg.Accounts.Every},
	}
	for _, d := range durs {
		v, ok := get(d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"REDIS_DB", &cfg.Handoff.RedisDB},
		{"ACCOUNT_BURST", &cfg.Accounts.Burst},
	}
	for _, n := range ints {
		v, ok := get(n.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, n.name, err)
		}
		*n.dst = parsed
	}

	if v, ok := get("AUTOFILL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAUTOFILL: %w", EnvPrefix, err)
		}
		cfg.Wizard.AutoFill = b
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	positive := []struct {
		name string
		v    time.Duration
	}{
		{"remote.timeout", c.Remote.Timeout},
		{"remote.probe_timeout", c.Remote.ProbeTimeout},
		{"wizard.auto_fill_timeout", c.Wizard.AutoFillTimeout},
		{"server.token_ttl", c.Server.TokenTTL},
		{"handoff.ttl", c.Handoff.TTL},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than zero", p.name))
		}
	}
	if c.Accounts.Every < 0 {
		errs = append(errs, errors.New("accounts.every must not be negative"))
	}
	if c.Accounts.Burst < 1 {
		errs = append(errs, errors.New("accounts.burst must be at least 1"))
	}
	if c.Handoff.RedisDB < 0 {
		errs = append(errs, errors.New("handoff.redis_db must not be negative"))
	}
	if p := c.Wizard.DefaultFormPrefix; p != "" && !domain.ValidFormCaseID(domain.FormatFormCaseID(p, 2000, 1)) {
		errs = append(errs, fmt.Errorf("wizard.default_form_prefix %q is not a valid prefix", p))
	}
	if c.Remote.URL != "" && !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
		errs = append(errs, fmt.Errorf("remote.url %q must be http or https", c.Remote.URL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
