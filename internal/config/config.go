// Package config loads daemon configuration from defaults, an optional YAML
// file and FETCHARR_* environment overrides, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML strings like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds every tunable of the daemon.
type Config struct {
	Listen             string   `yaml:"listen"`
	DataDir            string   `yaml:"data_dir"`
	DatabasePath       string   `yaml:"database_path"`
	DownloadDir        string   `yaml:"download_dir"`
	ArtworkDir         string   `yaml:"artwork_dir"`
	LogLevel           string   `yaml:"log_level"`
	YtDlpPath          string   `yaml:"ytdlp_path"`
	MaxSyncWorkers     int      `yaml:"max_sync_workers"`
	MaxDownloadWorkers int      `yaml:"max_download_workers"`
	PollInterval       Duration `yaml:"poll_interval"`
	SQLiteNetworkShare bool     `yaml:"sqlite_network_share"`
	WebhookURL         string   `yaml:"webhook_url"`

	// DataRetentionDays seeds the data_retention_days setting on first start.
	// The runtime value lives in the settings store; 0 leaves it unseeded.
	DataRetentionDays int `yaml:"data_retention_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:             ":8080",
		DataDir:            "./data",
		LogLevel:           "info",
		YtDlpPath:          "yt-dlp",
		MaxSyncWorkers:     2,
		MaxDownloadWorkers: 3,
		PollInterval:       Duration(30 * time.Second),
	}
}

// Load builds the effective configuration. path may be empty; a missing file
// at the default location is fine, an explicitly named missing file is not.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("FETCHARR_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "fetcharr.yml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus environment only.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	cfg.fillDerived()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("FETCHARR_LISTEN", &cfg.Listen)
	envStr("FETCHARR_DATA_DIR", &cfg.DataDir)
	envStr("FETCHARR_DATABASE_PATH", &cfg.DatabasePath)
	envStr("FETCHARR_DOWNLOAD_DIR", &cfg.DownloadDir)
	envStr("FETCHARR_ARTWORK_DIR", &cfg.ArtworkDir)
	envStr("FETCHARR_LOG_LEVEL", &cfg.LogLevel)
	envStr("FETCHARR_YTDLP_PATH", &cfg.YtDlpPath)
	envStr("FETCHARR_WEBHOOK_URL", &cfg.WebhookURL)
	envInt("FETCHARR_MAX_SYNC_WORKERS", &cfg.MaxSyncWorkers)
	envInt("FETCHARR_MAX_DOWNLOAD_WORKERS", &cfg.MaxDownloadWorkers)
	envInt("FETCHARR_DATA_RETENTION_DAYS", &cfg.DataRetentionDays)
	envBool("FETCHARR_SQLITE_NETWORK_SHARE", &cfg.SQLiteNetworkShare)
	envDuration("FETCHARR_POLL_INTERVAL", &cfg.PollInterval)
}

// fillDerived defaults the per-file paths under DataDir when unset.
func (c *Config) fillDerived() {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "fetcharr.db")
	}
	if c.DownloadDir == "" {
		c.DownloadDir = filepath.Join(c.DataDir, "media")
	}
	if c.ArtworkDir == "" {
		c.ArtworkDir = filepath.Join(c.DataDir, "artwork")
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.MaxSyncWorkers < 1 {
		return fmt.Errorf("config: max_sync_workers must be at least 1, got %d", c.MaxSyncWorkers)
	}
	if c.MaxDownloadWorkers < 1 {
		return fmt.Errorf("config: max_download_workers must be at least 1, got %d", c.MaxDownloadWorkers)
	}
	if c.PollInterval.Std() < time.Second {
		return fmt.Errorf("config: poll_interval must be at least 1s, got %s", c.PollInterval.Std())
	}
	if c.DataRetentionDays < 0 {
		return fmt.Errorf("config: data_retention_days must not be negative, got %d", c.DataRetentionDays)
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
