// Package config loads the server configuration from an optional YAML file
// and environment variables. Environment variables win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sumeria/sumeria/internal/credentials"
	"github.com/sumeria/sumeria/internal/google"
	"github.com/sumeria/sumeria/internal/retry"
)

// Token store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// ServiceConfig configures the accounts of one Google service.
type ServiceConfig struct {
	CredentialsFile string          `yaml:"credentials_file"`
	TokensDir       string          `yaml:"tokens_dir"`
	Scopes          []string        `yaml:"scopes"`
	DefaultAccount  string          `yaml:"default_account"`
	RateLimit       retry.RateLimit `yaml:"rate_limit"`
}

// RetryConfig configures the retry policy of provider calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Policy converts c to a retry.Policy.
func (c RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.MaxAttempts
	p.BaseDelay = c.BaseDelay
	p.MaxDelay = c.MaxDelay
	return p
}

// Config is the complete server configuration.
type Config struct {
	Gmail    ServiceConfig `yaml:"gmail"`
	Calendar ServiceConfig `yaml:"calendar"`

	// TokenStore selects the record backend: "file" (default) or "sqlite".
	TokenStore string `yaml:"token_store"`
	// TokenStorePath is the database file used by the sqlite backend.
	TokenStorePath string `yaml:"token_store_path"`

	Retry RetryConfig `yaml:"retry"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MetricsAddr enables the Prometheus endpoint when set (e.g. ":9090").
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Gmail: ServiceConfig{
			TokensDir: "tokens",
			Scopes:    google.DefaultScopes(credentials.ProviderGmail),
			RateLimit: retry.RateLimit{RequestsPerSecond: 2, Burst: 5},
		},
		Calendar: ServiceConfig{
			TokensDir: filepath.Join("tokens", "calendar"),
			Scopes:    google.DefaultScopes(credentials.ProviderGoogleCalendar),
			RateLimit: retry.RateLimit{RequestsPerSecond: 5, Burst: 10},
		},
		TokenStore:     StoreFile,
		TokenStorePath: filepath.Join("tokens", "sumeria.db"),
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			MaxDelay:    retry.DefaultMaxDelay,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	applyServiceEnv(&c.Gmail, "GMAIL", lookup)
	applyServiceEnv(&c.Calendar, "CALENDAR", lookup)

	setString(&c.TokenStore, "TOKEN_STORE", lookup)
	setString(&c.TokenStorePath, "TOKEN_STORE_PATH", lookup)
	setString(&c.LogLevel, "LOG_LEVEL", lookup)
	setString(&c.LogFormat, "LOG_FORMAT", lookup)
	setString(&c.MetricsAddr, "METRICS_ADDR", lookup)

	if v, ok := lookup("RETRY_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RETRY_MAX_ATTEMPTS %q: %w", v, err)
		}
		c.Retry.MaxAttempts = n
	}
	for key, dst := range map[string]*time.Duration{
		"RETRY_BASE_DELAY": &c.Retry.BaseDelay,
		"RETRY_MAX_DELAY":  &c.Retry.MaxDelay,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = d
		}
	}
	return nil
}

func applyServiceEnv(s *ServiceConfig, prefix string, lookup func(string) (string, bool)) {
	setString(&s.CredentialsFile, prefix+"_CREDENTIALS_FILE", lookup)
	setString(&s.TokensDir, prefix+"_TOKENS_DIR", lookup)
	setString(&s.DefaultAccount, prefix+"_DEFAULT_ACCOUNT", lookup)
	if v, ok := lookup(prefix + "_SCOPES"); ok && v != "" {
		s.Scopes = splitList(v)
	}
}

func setString(dst *string, key string, lookup func(string) (string, bool)) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

// splitList accepts comma or whitespace separated values.
func splitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Validate checks the configuration for values that cannot work.
// A missing credentials file is not an error here; it surfaces when an
// account first needs interactive authorization.
func (c *Config) Validate() error {
	var errs []error
	for name, s := range map[string]ServiceConfig{"gmail": c.Gmail, "calendar": c.Calendar} {
		if s.TokensDir == "" {
			errs = append(errs, fmt.Errorf("%s tokens_dir must be set", name))
		}
		if len(s.Scopes) == 0 {
			errs = append(errs, fmt.Errorf("%s scopes must not be empty", name))
		}
		if s.RateLimit.RequestsPerSecond < 0 || s.RateLimit.Burst < 0 {
			errs = append(errs, fmt.Errorf("%s rate_limit must not be negative", name))
		}
	}
	switch c.TokenStore {
	case StoreFile:
	case StoreSQLite:
		if c.TokenStorePath == "" {
			errs = append(errs, errors.New("token_store_path is required for the sqlite token store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid token_store %q, must be one of: file, sqlite", c.TokenStore))
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log_format %q, must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SetDefaultAccount records account as the default account of service
// ("gmail" or "calendar") in the YAML file at path, creating it if needed.
// The file is edited in place: other keys, their order and comments are kept.
func SetDefaultAccount(path, service, account string) error {
	if service != "gmail" && service != "calendar" {
		return fmt.Errorf("unknown service %q", service)
	}
	var doc yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if doc.Kind != yaml.DocumentNode {
		doc = yaml.Node{Kind: yaml.DocumentNode, HeadComment: doc.HeadComment}
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config file %s: top level is not a mapping", path)
	}
	section := mappingEntry(root, service)
	if section.Kind != yaml.MappingNode {
		*section = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", HeadComment: section.HeadComment, LineComment: section.LineComment}
	}
	value := mappingEntry(section, "default_account")
	value.Kind, value.Tag, value.Value, value.Content = yaml.ScalarNode, "!!str", account, nil

	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// mappingEntry returns the value node for key in mapping, appending an empty
// one when key is absent.
func mappingEntry(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value)
	return value
}
