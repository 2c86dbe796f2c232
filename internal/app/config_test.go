package app

import (
	"os"
	"path/filepath"
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

func TestDefaultServerConfigIsValid(t *testing.T) {
	cfg := DefaultServerConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":5000", cfg.Addr)
	assert.Equal(t, ByteSize(10<<20), cfg.MaxFileSize)
	assert.Equal(t, "fileshare-uploads", cfg.Cloudinary.Folder)

	schedule, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "every 5m0s", schedule.String())
}

func TestLoadServerConfigLayersYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "droproom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":7000"
upload_dir: /srv/uploads
max_file_size: 2MB
cleanup_interval: 90s
message_rate: 2.5
allowed_origins:
  - https://app.example
cloudinary:
  cloud_name: demo
  folder: custom
`), 0o600))

	cfg, err := loadServerConfig(path, envMap(map[string]string{
		"DROPROOM_UPLOAD_DIR":      "/data/uploads",
		"CLOUDINARY_API_KEY":       "key",
		"CLOUDINARY_API_SECRET":    "secret",
		"DROPROOM_LOG_LEVEL":       "debug",
		"DROPROOM_TRUSTED_PROXIES": "10.0.0.0/8, 127.0.0.1",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "/data/uploads", cfg.UploadDir)
	assert.Equal(t, ByteSize(2_000_000), cfg.MaxFileSize)
	assert.Equal(t, 90*time.Second, cfg.CleanupInterval)
	assert.Equal(t, 2.5, cfg.MessageRate)
	assert.Equal(t, []string{"https://app.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "custom", cfg.Cloudinary.Folder)
	assert.True(t, cfg.Cloudinary.Enabled())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.StorageTimeout)
}

func TestLoadServerConfigPortAndAddr(t *testing.T) {
	cfg, err := loadServerConfig("", envMap(map[string]string{"PORT": "8081"}))
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Addr)

	cfg, err = loadServerConfig("", envMap(map[string]string{
		"PORT":          "8081",
		"DROPROOM_ADDR": "127.0.0.1:9000",
	}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
}

func TestLoadServerConfigEnvErrors(t *testing.T) {
	_, err := loadServerConfig("", envMap(map[string]string{
		"DROPROOM_CLEANUP_INTERVAL": "soon",
		"DROPROOM_MESSAGE_BURST":    "many",
		"DROPROOM_MAX_FILE_SIZE":    "huge",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DROPROOM_CLEANUP_INTERVAL")
	assert.Contains(t, err.Error(), "DROPROOM_MESSAGE_BURST")
	assert.Contains(t, err.Error(), "DROPROOM_MAX_FILE_SIZE")
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := loadServerConfig(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil))
	require.Error(t, err)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*ServerConfig){
		"empty addr":       func(c *ServerConfig) { c.Addr = "" },
		"zero size":        func(c *ServerConfig) { c.MaxFileSize = 0 },
		"storage timeout":  func(c *ServerConfig) { c.StorageTimeout = 0 },
		"publish timeout":  func(c *ServerConfig) { c.PublishTimeout = -time.Second },
		"zero interval":    func(c *ServerConfig) { c.CleanupInterval = 0 },
		"bad cron":         func(c *ServerConfig) { c.CleanupCron = "every tuesday" },
		"negative rate":    func(c *ServerConfig) { c.UploadRate = -1 },
		"unknown loglevel": func(c *ServerConfig) { c.LogLevel = "loud" },
		"bad proxy":        func(c *ServerConfig) { c.TrustedProxies = []string{"10.0.0.0/33"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultServerConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCronOverridesInterval(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.CleanupInterval = 0
	cfg.CleanupCron = "*/10 * * * *"
	require.NoError(t, cfg.Validate())

	schedule, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "cron */10 * * * *", schedule.String())
}

func TestParseByteSize(t *testing.T) {
	n, err := ParseByteSize("1048576")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), n)

	n, err = ParseByteSize("10 MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), n)

	_, err = ParseByteSize("ten")
	assert.Error(t, err)
}

func TestDefaultDBPathHonorsDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DROPROOM_DATA_DIR", dir)
	assert.Equal(t, filepath.Join(dir, "droproom.db"), DefaultDBPath())
}
