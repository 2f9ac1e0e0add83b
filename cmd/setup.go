package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/shared"
)

// Setup writes config.toml from the embedded template when it is missing, then initializes
// the database and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	config := r.config
	if _, err := os.Stat(configPath); err == nil {
		if config, err = shared.LoadConfig(configPath); err != nil {
			r.logger.Warn("failed to load config, using defaults", "error", err)
			config = shared.DefaultConfig()
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
		}
	}
	if err := config.ApplyEnv(); err != nil {
		return err
	}

	db := r.db
	if db == nil {
		r.logger.Info("initializing database", "path", config.Database.Path)
		var err error
		if db, err = shared.NewDatabase(config.Database.Path); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		defer db.Close()
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	}

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	statuses, err := shared.MigrationsStatus(db)
	if err != nil {
		return err
	}
	r.writePlainHeader("Database")
	r.writePlain("Path: %s\n", config.Database.Path)
	for _, s := range statuses {
		mark := "✓"
		if !s.Applied {
			mark = "✗"
		}
		r.writePlain("  %s %04d %s\n", mark, s.Version, s.Name)
	}

	r.writePlainln("Platforms:")
	for _, p := range []struct {
		name  string
		creds shared.PlatformCredentials
	}{
		{"Spotify", config.Credentials.Spotify},
		{"YouTube", config.Credentials.YouTube},
	} {
		state := "missing access token"
		if p.creds.AccessToken != "" {
			state = "configured"
		}
		r.writePlain("  %s: %s\n", p.name, state)
	}
	return nil
}
