package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/server"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/tasks"
)

// Serve runs the JSON API until interrupted. The sync scheduler runs alongside unless disabled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if r.config.Log.File != "" {
		fileLogger, err := shared.NewRotatingLogger(r.config.Log)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		r.SetLogger(fileLogger)
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	host := cmd.String("host")
	if host == "" {
		host = r.config.Server.Host
	}
	port := cmd.Int("port")
	if port == 0 {
		port = r.config.Server.Port
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var scheduler *tasks.Scheduler
	if r.config.Sync.Enabled && !cmd.Bool("no-sync") {
		interval := time.Duration(r.config.Sync.PollIntervalSeconds) * time.Second
		scheduler = tasks.NewScheduler(r.engine, interval, shared.WithLogger(r.logger, "component", "scheduler"))
	}

	srv, err := server.New(addr, server.Dependencies{
		Engine:         r.engine,
		Syncs:          r.syncs,
		Catalogs:       r.catalogs,
		Governor:       r.governor,
		Logger:         r.logger,
		AllowedOrigins: r.config.Server.AllowedOrigins,
	}, scheduler)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.writePlain("Listening on http://%s (platforms: %v)\n", addr, r.catalogs.Platforms())
	return srv.Run(ctx)
}
