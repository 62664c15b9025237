package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadFromEnv.
const EnvPrefix = "DS_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid settings")

const (
	minIdentifierLen = 10
	minTimeout       = 1.0
	maxTimeout       = 300.0
	maxWorkers       = 32
	maxRetryAttempts = 20
)

// Settings holds the runtime configuration of one download run.
type Settings struct {
	AuthServer     string      `yaml:"auth_server"`
	IntegrationKey string      `yaml:"integration_key"`
	UserID         string      `yaml:"user_id"`
	PrivateKeyPath string      `yaml:"private_key_pem_path"`
	Scopes         string      `yaml:"scopes"`
	HTTPTimeout    float64     `yaml:"http_timeout_s"`
	Workers        int         `yaml:"workers"`
	Retry          RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for the remote data calls.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns Settings with every optional field populated.
func Default() Settings {
	return Settings{
		Scopes:      "signature impersonation",
		HTTPTimeout: 30,
		Workers:     1,
		Retry: RetryConfig{
			Attempts:   7,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// Load layers defaults, the optional YAML file at path, and the environment,
// then validates the result.
func Load(path string) (Settings, error) {
	cfg := Default()
	if path != "" {
		fromFile, err := LoadFromFile(path)
		if err != nil {
			return Settings{}, err
		}
		cfg = fromFile
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// yamlSettings is used for YAML unmarshaling with string durations.
type yamlSettings struct {
	AuthServer     string    `yaml:"auth_server"`
	IntegrationKey string    `yaml:"integration_key"`
	UserID         string    `yaml:"user_id"`
	PrivateKeyPath string    `yaml:"private_key_pem_path"`
	Scopes         string    `yaml:"scopes"`
	HTTPTimeout    float64   `yaml:"http_timeout_s"`
	Workers        int       `yaml:"workers"`
	Retry          yamlRetry `yaml:"retry"`
}

type yamlRetry struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads settings from a YAML file on top of Default().
func LoadFromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: read file: %w", err)
	}

	var ys yamlSettings
	if err := yaml.Unmarshal(data, &ys); err != nil {
		return Settings{}, fmt.Errorf("config: parse file: %w", err)
	}

	cfg := Default()
	if ys.AuthServer != "" {
		cfg.AuthServer = ys.AuthServer
	}
	if ys.IntegrationKey != "" {
		cfg.IntegrationKey = ys.IntegrationKey
	}
	if ys.UserID != "" {
		cfg.UserID = ys.UserID
	}
	if ys.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = ys.PrivateKeyPath
	}
	if ys.Scopes != "" {
		cfg.Scopes = ys.Scopes
	}
	if ys.HTTPTimeout != 0 {
		cfg.HTTPTimeout = ys.HTTPTimeout
	}
	if ys.Workers != 0 {
		cfg.Workers = ys.Workers
	}
	if ys.Retry.Attempts != 0 {
		cfg.Retry.Attempts = ys.Retry.Attempts
	}
	if ys.Retry.Backoff != "" {
		d, err := time.ParseDuration(ys.Retry.Backoff)
		if err != nil {
			return Settings{}, fmt.Errorf("config: parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if ys.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(ys.Retry.MaxBackoff)
		if err != nil {
			return Settings{}, fmt.Errorf("config: parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv overrides fields with any DS_-prefixed environment variables that are set.
func (c *Settings) LoadFromEnv() error {
	if v := getenv("AUTH_SERVER"); v != "" {
		c.AuthServer = v
	}
	if v := getenv("INTEGRATION_KEY"); v != "" {
		c.IntegrationKey = v
	}
	if v := getenv("USER_ID"); v != "" {
		c.UserID = v
	}
	if v := getenv("PRIVATE_KEY_PEM_PATH"); v != "" {
		c.PrivateKeyPath = v
	}
	if v := getenv("SCOPES"); v != "" {
		c.Scopes = v
	}
	if v := getenv("HTTP_TIMEOUT_S"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: parse %sHTTP_TIMEOUT_S: %w", EnvPrefix, err)
		}
		c.HTTPTimeout = f
	}
	if v := getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse %sWORKERS: %w", EnvPrefix, err)
		}
		c.Workers = n
	}
	if v := getenv("RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse %sRETRY_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Retry.Attempts = n
	}
	if v := getenv("RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: parse %sRETRY_BACKOFF: %w", EnvPrefix, err)
		}
		c.Retry.Backoff = d
	}
	if v := getenv("RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: parse %sRETRY_MAX_BACKOFF: %w", EnvPrefix, err)
		}
		c.Retry.MaxBackoff = d
	}
	return nil
}

// Validate checks every field and returns the first problem found, wrapping ErrInvalid.
func (c *Settings) Validate() error {
	u, err := url.Parse(c.AuthServer)
	if c.AuthServer == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: auth_server must be an absolute http(s) URL, got %q", ErrInvalid, c.AuthServer)
	}
	if len(c.IntegrationKey) < minIdentifierLen {
		return fmt.Errorf("%w: integration_key must be at least %d characters", ErrInvalid, minIdentifierLen)
	}
	if len(c.UserID) < minIdentifierLen {
		return fmt.Errorf("%w: user_id must be at least %d characters", ErrInvalid, minIdentifierLen)
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("%w: private_key_pem_path is required", ErrInvalid)
	}
	if err := checkReadable(expandHome(c.PrivateKeyPath)); err != nil {
		return fmt.Errorf("%w: private_key_pem_path: %v", ErrInvalid, err)
	}
	if c.HTTPTimeout < minTimeout || c.HTTPTimeout > maxTimeout {
		return fmt.Errorf("%w: http_timeout_s must be within [%g, %g], got %g", ErrInvalid, minTimeout, maxTimeout, c.HTTPTimeout)
	}
	if c.Workers < 1 || c.Workers > maxWorkers {
		return fmt.Errorf("%w: workers must be within [1, %d], got %d", ErrInvalid, maxWorkers, c.Workers)
	}
	if c.Retry.Attempts < 1 || c.Retry.Attempts > maxRetryAttempts {
		return fmt.Errorf("%w: retry.attempts must be within [1, %d], got %d", ErrInvalid, maxRetryAttempts, c.Retry.Attempts)
	}
	if c.Retry.Backoff <= 0 {
		return fmt.Errorf("%w: retry.backoff must be positive, got %s", ErrInvalid, c.Retry.Backoff)
	}
	if c.Retry.MaxBackoff < c.Retry.Backoff {
		return fmt.Errorf("%w: retry.max_backoff %s is below retry.backoff %s", ErrInvalid, c.Retry.MaxBackoff, c.Retry.Backoff)
	}
	return nil
}

// Timeout returns the per-request HTTP timeout.
func (c Settings) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout * float64(time.Second))
}

// PrivateKeyPEM reads the signing key from disk.
func (c Settings) PrivateKeyPEM() ([]byte, error) {
	data, err := os.ReadFile(expandHome(c.PrivateKeyPath))
	if err != nil {
		return nil, fmt.Errorf("config: read private key: %w", err)
	}
	return data, nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
