package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	intrnl "droproom/internal"
	"droproom/internal/cleanup"
	"droproom/internal/filestore"
	"droproom/internal/logging"
)

const envPrefix = "DROPROOM_"

// ByteSize accepts plain byte counts or sizes like "10MB" in YAML.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// ParseByteSize parses "1048576", "10MB" or "512 KiB".
func ParseByteSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr          string                     `yaml:"addr"`
	DBPath        string                     `yaml:"db_path"`
	UploadDir     string                     `yaml:"upload_dir"`
	PublicBaseURL string                     `yaml:"public_base_url"`
	MaxFileSize   ByteSize                   `yaml:"max_file_size"`
	Cloudinary    filestore.CloudinaryConfig `yaml:"cloudinary"`

	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// CleanupCron replaces the interval when set.
	CleanupCron string `yaml:"cleanup_cron"`

	StorageTimeout time.Duration `yaml:"storage_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`

	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`
	UploadRate   float64 `yaml:"upload_rate"`
	UploadBurst  int     `yaml:"upload_burst"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies lists addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `yaml:"trusted_proxies"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// DefaultServerConfig returns the built-in settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":5000",
		DBPath:          DefaultDBPath(),
		UploadDir:       "uploads",
		MaxFileSize:     10 << 20,
		Cloudinary:      filestore.CloudinaryConfig{Folder: filestore.DefaultFolder},
		CleanupInterval: 5 * time.Minute,
		StorageTimeout:  10 * time.Second,
		PublishTimeout:  2 * time.Second,
		MessageRate:     5,
		MessageBurst:    10,
		UploadRate:      1,
		UploadBurst:     5,
		LogLevel:        "info",
	}
}

// LoadServerConfig layers the YAML file at path (optional) and the
// environment over the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	return loadServerConfig(path, os.LookupEnv)
}

func loadServerConfig(path string, lookup func(string) (string, bool)) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *ServerConfig) applyEnv(lookup func(string) (string, bool)) error {
	env := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := env(key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := env(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *float64) {
		if v, ok := env(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := env(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	// PORT is what most hosting platforms set.
	if port, ok := env("PORT"); ok {
		c.Addr = ":" + port
	}
	str(envPrefix+"ADDR", &c.Addr)
	str(envPrefix+"DB_PATH", &c.DBPath)
	str(envPrefix+"UPLOAD_DIR", &c.UploadDir)
	str(envPrefix+"PUBLIC_BASE_URL", &c.PublicBaseURL)
	if v, ok := env(envPrefix + "MAX_FILE_SIZE"); ok {
		n, err := ParseByteSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_FILE_SIZE: %w", envPrefix, err))
		} else {
			c.MaxFileSize = ByteSize(n)
		}
	}
	str("CLOUDINARY_CLOUD_NAME", &c.Cloudinary.CloudName)
	str("CLOUDINARY_API_KEY", &c.Cloudinary.APIKey)
	str("CLOUDINARY_API_SECRET", &c.Cloudinary.APISecret)
	str(envPrefix+"CLOUDINARY_FOLDER", &c.Cloudinary.Folder)
	dur(envPrefix+"CLEANUP_INTERVAL", &c.CleanupInterval)
	str(envPrefix+"CLEANUP_CRON", &c.CleanupCron)
	dur(envPrefix+"STORAGE_TIMEOUT", &c.StorageTimeout)
	dur(envPrefix+"PUBLISH_TIMEOUT", &c.PublishTimeout)
	num(envPrefix+"MESSAGE_RATE", &c.MessageRate)
	integer(envPrefix+"MESSAGE_BURST", &c.MessageBurst)
	num(envPrefix+"UPLOAD_RATE", &c.UploadRate)
	integer(envPrefix+"UPLOAD_BURST", &c.UploadBurst)
	if v, ok := env(envPrefix + "ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	if v, ok := env(envPrefix + "TRUSTED_PROXIES"); ok {
		c.TrustedProxies = splitList(v)
	}
	str(envPrefix+"LOG_LEVEL", &c.LogLevel)
	str(envPrefix+"LOG_FILE", &c.LogFile)
	return errors.Join(errs...)
}

// Validate rejects settings the server cannot run with.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max_file_size must be positive"))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("storage_timeout must be positive"))
	}
	if c.PublishTimeout <= 0 {
		errs = append(errs, errors.New("publish_timeout must be positive"))
	}
	if c.CleanupCron != "" {
		if !gronx.IsValid(c.CleanupCron) {
			errs = append(errs, fmt.Errorf("invalid cleanup_cron %q", c.CleanupCron))
		}
	} else if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup_interval must be positive"))
	}
	if c.MessageRate < 0 || c.UploadRate < 0 {
		errs = append(errs, errors.New("rates must not be negative"))
	}
	if _, err := intrnl.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, err)
	}
	if err := logging.SetLevel(new(slog.LevelVar), c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Schedule picks the cleanup schedule. Call after Validate.
func (c ServerConfig) Schedule() (cleanup.Schedule, error) {
	if c.CleanupCron != "" {
		return cleanup.Cron(c.CleanupCron)
	}
	return cleanup.Every(c.CleanupInterval), nil
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("DROPROOM_DATA_DIR"); env != "" {
		return filepath.Join(env, "droproom.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "droproom", "droproom.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Droproom", "droproom.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Droproom", "droproom.db")
		}
		return filepath.Join(home, ".local", "share", "droproom", "droproom.db")
	}
	return filepath.Join(".", ".droproom", "droproom.db")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
