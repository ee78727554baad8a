package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8042", cfg.ListenAddr)
	assert.Equal(t, "storage", cfg.RootDir)
	assert.Equal(t, "http://127.0.0.1:8000/api/manager", cfg.ManagerURL)
	assert.Equal(t, "7z", cfg.ArchiverBin)
	assert.Equal(t, int64(0), cfg.TransferMaxBytes)
	assert.Equal(t, 600*time.Second, cfg.CallbackTTL())
	assert.Equal(t, 60*time.Second, cfg.DownloadIdleTimeout())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LogJSON)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen_addr: ":9100"
root_dir: /var/lib/ow-storage
manager_url: https://manager.example/api/manager
transfer_max_bytes: 1073741824
download_idle_timeout_seconds: 30
tokens:
  upload_file: $2a$10$abcdefghijklmnopqrstuv
log_level: debug
log_json: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/ow-storage", cfg.RootDir)
	assert.Equal(t, int64(1073741824), cfg.TransferMaxBytes)
	assert.Equal(t, 30*time.Second, cfg.DownloadIdleTimeout())
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuv", cfg.Tokens["upload_file"])
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)

	// Untouched keys keep their defaults.
	assert.Equal(t, "7z", cfg.ArchiverBin)
	assert.Equal(t, 600*time.Second, cfg.CallbackTTL())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8042", cfg.ListenAddr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9100\"\n"), 0o644))

	t.Setenv("OW_STORAGE_LISTEN_ADDR", ":9200")
	t.Setenv("TRANSFER_JWT_SECRET", "s3cret")
	t.Setenv("TRANSFER_CALLBACK_TTL_SECONDS", "120")
	t.Setenv("TRANSFER_MAX_BYTES", "2048")
	t.Setenv("OW_STORAGE_LOG_JSON", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9200", cfg.ListenAddr, "environment wins over file")
	assert.Equal(t, "s3cret", cfg.TransferJWTSecret)
	assert.Equal(t, 120*time.Second, cfg.CallbackTTL())
	assert.Equal(t, int64(2048), cfg.TransferMaxBytes)
	assert.True(t, cfg.LogJSON)
}

func TestEnvTokens(t *testing.T) {
	t.Setenv("OW_STORAGE_TOKEN_UPLOAD_FILE", "$2a$10$hash-a")
	t.Setenv("OW_STORAGE_TOKEN_STORAGE_MANAGE_TOKEN", "$2a$10$hash-b")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "$2a$10$hash-a", cfg.Tokens["upload_file"])
	assert.Equal(t, "$2a$10$hash-b", cfg.Tokens["storage_manage_token"])
}

func TestEnvInvalidNumber(t *testing.T) {
	t.Setenv("TRANSFER_MAX_BYTES", "not-a-number")

	_, err := Load("")
	assert.Error(t, err)
}

func TestCallbackURLDefaultsFromManagerURL(t *testing.T) {
	cfg := Default()
	cfg.ManagerURL = "https://manager.example/api/manager/"
	assert.Equal(t,
		"https://manager.example/api/manager/storage/transfer/callback",
		cfg.CallbackURL())

	cfg.ManagerCallbackURL = "https://hooks.example/transfer"
	assert.Equal(t, "https://hooks.example/transfer", cfg.CallbackURL())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RootDir = filepath.Join(t.TempDir(), "root")
	cfg.ArchiverBin = "ls" // always on PATH in the test environment

	require.NoError(t, cfg.Validate())

	info, err := os.Stat(cfg.RootDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "validate creates the storage root")
}

func TestValidateMissingArchiver(t *testing.T) {
	cfg := Default()
	cfg.RootDir = t.TempDir()
	cfg.ArchiverBin = "definitely-not-installed-archiver"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiver binary")
}

func TestValidateEmptyFields(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RootDir = ""
	assert.Error(t, cfg.Validate())
}
