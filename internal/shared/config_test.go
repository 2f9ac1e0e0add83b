package shared

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./playbridge.db" {
			t.Errorf("expected database path ./playbridge.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if got := config.QuotaFor("youtube").DailyLimit; got != 100 {
			t.Errorf("expected youtube daily limit 100, got %d", got)
		}

		if got := config.QuotaFor("spotify").DailyLimit; got != 0 {
			t.Errorf("expected spotify to be uncapped, got %d", got)
		}

		if config.Matcher.AcceptThreshold != 0.82 || config.Matcher.Margin != 0.05 {
			t.Errorf("unexpected matcher thresholds: %+v", config.Matcher)
		}

		if config.Store.QuotaBackend != "sqlite" {
			t.Errorf("expected sqlite quota backend, got %s", config.Store.QuotaBackend)
		}
	})

	t.Run("QuotaFor unknown platform", func(t *testing.T) {
		q := DefaultConfig().QuotaFor("tidal")
		if q.DailyLimit != 0 || q.Timezone != "UTC" {
			t.Errorf("expected uncapped UTC default, got %+v", q)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 20
max_idle_conns = 10

[server]
host = "0.0.0.0"
port = 8080

[credentials.spotify]
access_token = "spotify-token"
credential_id = "alice"

[quota.youtube]
daily_limit = 50
timezone = "America/Los_Angeles"

[matcher]
accept_threshold = 0.9
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if config.Credentials.Spotify.CredentialID != "alice" {
			t.Errorf("expected spotify credential alice, got %s", config.Credentials.Spotify.CredentialID)
		}

		if q := config.QuotaFor("youtube"); q.DailyLimit != 50 || q.Timezone != "America/Los_Angeles" {
			t.Errorf("unexpected youtube quota %+v", q)
		}

		if config.Matcher.AcceptThreshold != 0.9 {
			t.Errorf("expected accept threshold override, got %v", config.Matcher.AcceptThreshold)
		}

		if config.Matcher.Margin != 0.05 {
			t.Errorf("expected unset margin to keep default, got %v", config.Matcher.Margin)
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv("PLAYBRIDGE_YOUTUBE_ACCESS_TOKEN", "yt-token")
		t.Setenv("PLAYBRIDGE_SERVER_PORT", "9999")

		config := DefaultConfig()
		if err := config.ApplyEnv(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if config.Credentials.YouTube.AccessToken != "yt-token" {
			t.Errorf("expected youtube token from env, got %q", config.Credentials.YouTube.AccessToken)
		}
		if config.Server.Port != 9999 {
			t.Errorf("expected port 9999, got %d", config.Server.Port)
		}
	})

	t.Run("ApplyEnv invalid port", func(t *testing.T) {
		t.Setenv("PLAYBRIDGE_SERVER_PORT", "not-a-port")

		if err := DefaultConfig().ApplyEnv(); err == nil {
			t.Error("expected error for invalid port")
		}
	})
}

func TestNewRotatingLogger(t *testing.T) {
	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "playbridge.log")

		logger, err := NewRotatingLogger(LogConfig{File: path, Level: "debug", MaxSizeMB: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		logger.Info("hello", "key", "value")

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected log file: %v", err)
		}
		if len(data) == 0 {
			t.Error("expected log output in file")
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		if _, err := NewRotatingLogger(LogConfig{Level: "loud"}); err == nil {
			t.Error("expected error for invalid level")
		}
	})
}
