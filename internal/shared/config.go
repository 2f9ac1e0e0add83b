package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig      `toml:"credentials"`
	Database    DatabaseConfig         `toml:"database"`
	Server      ServerConfig           `toml:"server"`
	Log         LogConfig              `toml:"log"`
	Quota       map[string]QuotaConfig `toml:"quota"`
	Store       StoreConfig            `toml:"store"`
	Matcher     MatcherConfig          `toml:"matcher"`
	Migration   MigrationConfig        `toml:"migration"`
	Sync        SyncConfig             `toml:"sync"`
}

// CredentialsConfig contains per-platform bearer credentials.
//
// Token acquisition is handled outside this program; expired tokens surface as [ErrAuthExpired].
type CredentialsConfig struct {
	Spotify PlatformCredentials `toml:"spotify"`
	YouTube PlatformCredentials `toml:"youtube"`
}

// PlatformCredentials holds a bearer token and the identifier quota is accounted against.
type PlatformCredentials struct {
	AccessToken  string `toml:"access_token"`
	CredentialID string `toml:"credential_id"`
	UserID       string `toml:"user_id"`
	BaseURL      string `toml:"base_url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LogConfig controls log level and optional file rotation.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// QuotaConfig is the daily write ceiling for one platform. A DailyLimit of zero means uncapped.
type QuotaConfig struct {
	DailyLimit int    `toml:"daily_limit"`
	Timezone   string `toml:"timezone"`
}

// StoreConfig selects where quota state lives.
type StoreConfig struct {
	QuotaBackend string `toml:"quota_backend"`
	RedisAddr    string `toml:"redis_addr"`
	RedisDB      int    `toml:"redis_db"`
}

// MatcherConfig holds the track scoring policy.
type MatcherConfig struct {
	TitleWeight           float64 `toml:"title_weight"`
	ArtistWeight          float64 `toml:"artist_weight"`
	DurationWeight        float64 `toml:"duration_weight"`
	DurationWindowSeconds float64 `toml:"duration_window_seconds"`
	AcceptThreshold       float64 `toml:"accept_threshold"`
	Margin                float64 `toml:"margin"`
	AmbiguousThreshold    float64 `toml:"ambiguous_threshold"`
	MaxAlternates         int     `toml:"max_alternates"`
	VersionPenalty        float64 `toml:"version_penalty"`
	SearchLimit           int     `toml:"search_limit"`
}

// MigrationConfig tunes retries and throughput of migration jobs.
type MigrationConfig struct {
	MaxAttempts       int     `toml:"max_attempts"`
	BaseBackoffMS     int     `toml:"base_backoff_ms"`
	MaxBackoffMS      int     `toml:"max_backoff_ms"`
	SearchWorkers     int     `toml:"search_workers"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SyncConfig toggles the recurring sync scheduler.
type SyncConfig struct {
	Enabled             bool `toml:"enabled"`
	PollIntervalSeconds int  `toml:"poll_interval_seconds"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file fall back to the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// QuotaFor returns the quota settings for a platform name, defaulting to uncapped UTC.
func (c *Config) QuotaFor(platform string) QuotaConfig {
	q, ok := c.Quota[platform]
	if !ok {
		return QuotaConfig{Timezone: "UTC"}
	}
	if q.Timezone == "" {
		q.Timezone = "UTC"
	}
	return q
}

// ApplyEnv overrides secrets and addresses from PLAYBRIDGE_* environment variables.
func (c *Config) ApplyEnv() error {
	overrides := []struct {
		key    string
		target *string
	}{
		{"PLAYBRIDGE_SPOTIFY_ACCESS_TOKEN", &c.Credentials.Spotify.AccessToken},
		{"PLAYBRIDGE_SPOTIFY_USER_ID", &c.Credentials.Spotify.UserID},
		{"PLAYBRIDGE_YOUTUBE_ACCESS_TOKEN", &c.Credentials.YouTube.AccessToken},
		{"PLAYBRIDGE_DATABASE_PATH", &c.Database.Path},
		{"PLAYBRIDGE_REDIS_ADDR", &c.Store.RedisAddr},
		{"PLAYBRIDGE_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.target = v
		}
	}

	if v, ok := os.LookupEnv("PLAYBRIDGE_SERVER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PLAYBRIDGE_SERVER_PORT=%q", ErrInvalidConfig, v)
		}
		c.Server.Port = port
	}
	return nil
}
