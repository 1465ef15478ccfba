// Package config loads configuration from a YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the cloud API endpoint.
const DefaultBaseURL = "https://cloud.supernote.com/api"

// Config holds all notemirror configuration.
type Config struct {
	// Remote API
	BaseURL       string        `yaml:"base_url"`
	Account       string        `yaml:"account"`
	Password      string        `yaml:"password,omitempty"`
	AccountID     string        `yaml:"account_id,omitempty"` // cache namespace, resolved on first use
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	// Local cache
	StorageDir  string        `yaml:"storage_dir"`
	MetadataTTL time.Duration `yaml:"metadata_ttl"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "notemirror", "config.yaml")
}

// DefaultStorageDir returns the default cache root.
func DefaultStorageDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "notemirror")
}

// Load reads the config file (if present), then applies environment variable
// overrides and defaults. Environment variables win over the file.
func Load() (*Config, error) {
	cfg := &Config{}

	path := envOr("NOTEMIRROR_CONFIG", DefaultPath())
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.BaseURL = envOr("NOTEMIRROR_BASE_URL", orDefault(cfg.BaseURL, DefaultBaseURL))
	cfg.Account = envOr("NOTEMIRROR_ACCOUNT", cfg.Account)
	cfg.Password = envOr("NOTEMIRROR_PASSWORD", cfg.Password)
	cfg.AccountID = envOr("NOTEMIRROR_ACCOUNT_ID", cfg.AccountID)
	cfg.StorageDir = envOr("NOTEMIRROR_STORAGE_DIR", orDefault(cfg.StorageDir, DefaultStorageDir()))
	cfg.RemoteTimeout = envDuration("NOTEMIRROR_REMOTE_TIMEOUT", orDurationDefault(cfg.RemoteTimeout, 30*time.Second))
	cfg.MetadataTTL = envDuration("NOTEMIRROR_METADATA_TTL", orDurationDefault(cfg.MetadataTTL, time.Hour))
	cfg.LogLevel = envOr("NOTEMIRROR_LOG_LEVEL", orDefault(cfg.LogLevel, "info"))
	cfg.LogFormat = envOr("NOTEMIRROR_LOG_FORMAT", orDefault(cfg.LogFormat, "console"))

	if cfg.MetadataTTL <= 0 {
		return nil, fmt.Errorf("metadata_ttl must be positive")
	}
	return cfg, nil
}

// Save writes the config file with restrictive permissions (it may hold the
// account password).
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Accept bare seconds as well
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orDurationDefault(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
