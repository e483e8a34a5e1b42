// Package config loads service configuration from the environment, with an
// optional YAML file overriding defaults. Environment variables win over the
// file so container deployments can tweak single values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// DataPath is the root for per-user databases, the system database, and
	// encrypted tokens.
	DataPath string `yaml:"data_path"`
	// ArchivePath is the root for exported files; each user gets a
	// user_<id>/ subdirectory.
	ArchivePath string `yaml:"archive_path"`
	LogLevel    string `yaml:"log_level"`
	// CacheTTL bounds the per-user store handle cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// TokenKey is the hex-encoded 32-byte AES key sealing OAuth tokens at
	// rest. Generated and persisted on first start when unset.
	TokenKey string `yaml:"token_key"`

	Google GoogleConfig `yaml:"google"`
}

// GoogleConfig holds the OAuth client settings for the Gmail provider.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	// CredentialsFile optionally points at a Google Cloud Console
	// credentials.json; it takes precedence over ClientID/ClientSecret.
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads the optional YAML file at path (empty means skip), then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv("ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TOKEN_KEY"); v != "" {
		cfg.TokenKey = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("GOOGLE_REDIRECT_URI"); v != "" {
		cfg.Google.RedirectURL = v
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.Google.CredentialsFile = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataPath == "" {
		cfg.DataPath = defaultDataDir()
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = filepath.Join(cfg.DataPath, "archives")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
}

func defaultDataDir() string {
	xdg := os.Getenv("XDG_DATA_HOME")
	if xdg == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		xdg = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(xdg, "mailsteward")
}

// UsersDir returns the directory holding per-user databases.
func (c *Config) UsersDir() string {
	return filepath.Join(c.DataPath, "users")
}

// SystemDBPath returns the path of the system database.
func (c *Config) SystemDBPath() string {
	return filepath.Join(c.DataPath, "system.db")
}

// TokensDir returns the directory holding encrypted OAuth tokens.
func (c *Config) TokensDir() string {
	return filepath.Join(c.DataPath, "tokens")
}
