package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before the file and environment are consulted.
const (
	DefaultListenAddr         = ":8042"
	DefaultRootDir            = "storage"
	DefaultManagerURL         = "http://127.0.0.1:8000/api/manager"
	DefaultCallbackTTLSeconds = 600
	DefaultIdleTimeoutSeconds = 60
	DefaultArchiverBin        = "7z"
	DefaultLogLevel           = "info"
	callbackPathSuffix        = "/storage/transfer/callback"
	tokenEnvPrefix            = "OW_STORAGE_TOKEN_"
)

// Config holds the full process configuration. Values are resolved in
// order: defaults, YAML file, environment.
type Config struct {
	ListenAddr         string `yaml:"listen_addr"`
	RootDir            string `yaml:"root_dir"`
	ManagerURL         string `yaml:"manager_url"`
	ManagerCallbackURL string `yaml:"manager_callback_url"`

	TransferJWTSecret      string `yaml:"transfer_jwt_secret"`
	TransferCallbackTTLSec int    `yaml:"transfer_callback_ttl_seconds"`
	TransferMaxBytes       int64  `yaml:"transfer_max_bytes"`

	DownloadIdleTimeoutSec int    `yaml:"download_idle_timeout_seconds"`
	ArchiverBin            string `yaml:"archiver_bin"`

	// Tokens maps static token names to bcrypt hashes.
	Tokens           map[string]string `yaml:"tokens"`
	CheckAccessToken string            `yaml:"check_access_token"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a config populated with built-in defaults.
func Default() *Config {
	return &Config{
		ListenAddr:             DefaultListenAddr,
		RootDir:                DefaultRootDir,
		ManagerURL:             DefaultManagerURL,
		TransferCallbackTTLSec: DefaultCallbackTTLSeconds,
		DownloadIdleTimeoutSec: DefaultIdleTimeoutSeconds,
		ArchiverBin:            DefaultArchiverBin,
		Tokens:                 make(map[string]string),
		LogLevel:               DefaultLogLevel,
	}
}

// Load builds the configuration from an optional YAML file plus environment
// overrides. An empty path skips the file entirely; a named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if cfg.Tokens == nil {
			cfg.Tokens = make(map[string]string)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString(&c.ListenAddr, "OW_STORAGE_LISTEN_ADDR")
	envString(&c.RootDir, "OW_STORAGE_ROOT_DIR")
	envString(&c.ManagerURL, "OW_STORAGE_MANAGER_URL")
	envString(&c.ManagerCallbackURL, "OW_STORAGE_MANAGER_CALLBACK_URL")
	envString(&c.TransferJWTSecret, "TRANSFER_JWT_SECRET")
	envString(&c.ArchiverBin, "OW_STORAGE_ARCHIVER_BIN")
	envString(&c.CheckAccessToken, "OW_STORAGE_CHECK_ACCESS_TOKEN")
	envString(&c.LogLevel, "OW_STORAGE_LOG_LEVEL")

	if err := envInt(&c.TransferCallbackTTLSec, "TRANSFER_CALLBACK_TTL_SECONDS"); err != nil {
		return err
	}
	if err := envInt64(&c.TransferMaxBytes, "TRANSFER_MAX_BYTES"); err != nil {
		return err
	}
	if err := envInt(&c.DownloadIdleTimeoutSec, "OW_STORAGE_DOWNLOAD_IDLE_TIMEOUT"); err != nil {
		return err
	}
	if err := envBool(&c.LogJSON, "OW_STORAGE_LOG_JSON"); err != nil {
		return err
	}

	// OW_STORAGE_TOKEN_UPLOAD_FILE=<bcrypt-hash> adds or replaces the
	// static token named upload_file.
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, tokenEnvPrefix) {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, tokenEnvPrefix))
		if name == "" {
			continue
		}
		c.Tokens[name] = value
	}
	return nil
}

// Validate checks the parts of the configuration the service cannot run
// without. It creates the storage root when missing.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.RootDir == "" {
		return fmt.Errorf("root_dir must not be empty")
	}
	if _, err := exec.LookPath(c.ArchiverBin); err != nil {
		return fmt.Errorf("archiver binary %q not found: %w", c.ArchiverBin, err)
	}
	if err := os.MkdirAll(c.RootDir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}
	return nil
}

// CallbackURL returns the manager callback endpoint, defaulting to the
// transfer callback path under the manager base URL.
func (c *Config) CallbackURL() string {
	if c.ManagerCallbackURL != "" {
		return c.ManagerCallbackURL
	}
	return strings.TrimRight(c.ManagerURL, "/") + callbackPathSuffix
}

// CallbackTTL returns the signed callback token lifetime.
func (c *Config) CallbackTTL() time.Duration {
	if c.TransferCallbackTTLSec <= 0 {
		return DefaultCallbackTTLSeconds * time.Second
	}
	return time.Duration(c.TransferCallbackTTLSec) * time.Second
}

// DownloadIdleTimeout returns the per-read stall deadline for upstream
// downloads.
func (c *Config) DownloadIdleTimeout() time.Duration {
	if c.DownloadIdleTimeoutSec <= 0 {
		return DefaultIdleTimeoutSeconds * time.Second
	}
	return time.Duration(c.DownloadIdleTimeoutSec) * time.Second
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
