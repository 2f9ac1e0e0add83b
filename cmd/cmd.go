// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func platformFlag(name, value, usage string) *cli.StringFlag {
	return &cli.StringFlag{Name: name, Aliases: []string{name[:1]}, Usage: usage, Value: value}
}

func outputFlags(prettyDefault bool) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
		&cli.BoolFlag{Name: "pretty", Usage: "Pretty-print JSON output", Value: prettyDefault},
	}
}

func jobArg() cli.Argument {
	return &cli.StringArg{Name: "job"}
}

// setupCommand handles setup operations for the configuration file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create config.toml if missing, initialize the database and run migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// playlistsCommand handles playlist management on either platform.
func playlistsCommand(r *Runner) *cli.Command {
	platform := func() cli.Flag { return platformFlag("platform", "spotify", "Platform (spotify or youtube)") }
	return &cli.Command{
		Name:    "playlists",
		Aliases: []string{"pl"},
		Usage:   "Browse and manage playlists",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List playlists owned by the account",
				Flags:  append([]cli.Flag{platform()}, outputFlags(false)...),
				Action: r.PlaylistsList,
			},
			{
				Name:  "rename",
				Usage: "Rename a playlist",
				Flags: []cli.Flag{platform()},
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "playlist"},
					&cli.StringArg{Name: "name"},
				},
				Action: r.PlaylistsRename,
			},
			{
				Name:      "delete",
				Usage:     "Delete a playlist and the sync registrations that name it",
				Flags:     []cli.Flag{platform()},
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Action:    r.PlaylistsDelete,
			},
			{
				Name:      "empty",
				Usage:     "Remove every track from a playlist",
				Flags:     []cli.Flag{platform()},
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Action:    r.PlaylistsEmpty,
			},
			{
				Name:  "remove-track",
				Usage: "Remove one track from a playlist",
				Flags: []cli.Flag{platform()},
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "playlist"},
					&cli.StringArg{Name: "track"},
				},
				Action: r.PlaylistsRemoveTrack,
			},
		},
	}
}

// migrateCommand handles migration jobs.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "migrate",
		Aliases: []string{"mg"},
		Usage:   "Migrate playlists between platforms",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Migrate one playlist and wait for the result",
				Flags: []cli.Flag{
					platformFlag("from", "spotify", "Source platform"),
					platformFlag("to", "youtube", "Target platform"),
					&cli.StringFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Source playlist ID",
						Required: true,
					},
					&cli.StringFlag{Name: "target", Usage: "Existing target playlist ID to append to"},
					&cli.StringFlag{Name: "name", Usage: "Name for the created target playlist (defaults to the source name)"},
					&cli.BoolFlag{Name: "keep-in-sync", Usage: "Register the pair for recurring sync after completion"},
					&cli.StringFlag{Name: "frequency", Usage: "Sync frequency (hourly, every-3-hours, daily)", Value: "daily"},
					&cli.BoolFlag{Name: "json", Usage: "Output the final job as JSON"},
				},
				Action: r.MigrateRun,
			},
			{
				Name:      "status",
				Usage:     "Show a job's state and results",
				Flags:     outputFlags(true),
				Arguments: []cli.Argument{jobArg()},
				Action:    r.MigrateStatus,
			},
			{
				Name:  "list",
				Usage: "List recent jobs with quick stats",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "state", Usage: "Filter by state"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of jobs", Value: 20},
				}, outputFlags(false)...),
				Action: r.MigrateList,
			},
			{
				Name:      "retry",
				Usage:     "Retry the failed tracks of a completed job",
				Arguments: []cli.Argument{jobArg()},
				Action:    r.MigrateRetry,
			},
			{
				Name:      "revert",
				Usage:     "Remove the tracks a job added and delete the job",
				Arguments: []cli.Argument{jobArg()},
				Action:    r.MigrateRevert,
			},
			{
				Name:      "resume",
				Usage:     "Resume a cancelled, quota-blocked or interrupted job",
				Arguments: []cli.Argument{jobArg()},
				Action:    r.MigrateResume,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending or blocked job",
				Arguments: []cli.Argument{jobArg()},
				Action:    r.MigrateCancel,
			},
			{
				Name:  "resolve",
				Usage: "Pin the target track for a failed source track",
				Arguments: []cli.Argument{
					jobArg(),
					&cli.StringArg{Name: "source-track"},
					&cli.StringArg{Name: "target-track"},
				},
				Action: r.MigrateResolve,
			},
			{
				Name:  "skip",
				Usage: "Mark a failed track as skipped so retries ignore it",
				Arguments: []cli.Argument{
					jobArg(),
					&cli.StringArg{Name: "source-track"},
				},
				Action: r.MigrateSkip,
			},
			{
				Name:  "report",
				Usage: "Export a job report",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "csv, markdown or text", Value: "text"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Base path for the report files; prints to stdout when empty"},
				},
				Arguments: []cli.Argument{jobArg()},
				Action:    r.MigrateReport,
			},
		},
	}
}

// syncCommand handles recurring sync registrations.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Keep playlist pairs in sync",
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "Register a source and target playlist pair",
				Flags: []cli.Flag{
					platformFlag("from", "spotify", "Source platform"),
					platformFlag("to", "youtube", "Target platform"),
					&cli.StringFlag{Name: "source", Usage: "Source playlist ID", Required: true},
					&cli.StringFlag{Name: "target", Usage: "Target playlist ID", Required: true},
					&cli.StringFlag{Name: "frequency", Usage: "hourly, every-3-hours or daily", Value: "daily"},
				},
				Action: r.SyncRegister,
			},
			{
				Name:   "list",
				Usage:  "List sync registrations",
				Flags:  outputFlags(false),
				Action: r.SyncList,
			},
			{
				Name:  "remove",
				Usage: "Delete a sync registration",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "disable", Usage: "Disable instead of deleting"},
				},
				Arguments: []cli.Argument{&cli.StringArg{Name: "registration"}},
				Action:    r.SyncRemove,
			},
			{
				Name:   "clear",
				Usage:  "Delete every sync registration",
				Action: r.SyncClear,
			},
			{
				Name:      "run",
				Usage:     "Apply one registration now, or every due registration when none is given",
				Arguments: []cli.Argument{&cli.StringArg{Name: "registration"}},
				Action:    r.SyncRun,
			},
		},
	}
}

// quotaCommand reports the daily write ledger.
func quotaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Daily write quota",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Show today's quota usage per platform",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "platform", Aliases: []string{"p"}, Usage: "Only this platform"},
				}, outputFlags(false)...),
				Action: r.QuotaShow,
			},
		},
	}
}

// serveCommand runs the HTTP API and sync scheduler.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the JSON API and the sync scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Listen host (defaults to [server] host)"},
			&cli.IntFlag{Name: "port", Usage: "Listen port (defaults to [server] port)"},
			&cli.BoolFlag{Name: "no-sync", Usage: "Do not start the sync scheduler"},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command for interactive playlist migration.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch interactive TUI for playlist migration",
		Flags: []cli.Flag{
			platformFlag("from", "spotify", "Source platform"),
			platformFlag("to", "youtube", "Target platform"),
		},
		Action: r.TUI,
	}
}
