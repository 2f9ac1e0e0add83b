package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/syncs"
)

// SyncRegister registers a playlist pair for recurring sync.
func (r *Runner) SyncRegister(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}

	req := syncs.Request{
		SourcePlatform:   models.Platform(cmd.String("from")),
		SourcePlaylistID: cmd.String("source"),
		TargetPlatform:   models.Platform(cmd.String("to")),
		TargetPlaylistID: cmd.String("target"),
		Frequency:        models.SyncFrequency(cmd.String("frequency")),
	}
	reg, err := r.syncs.Register(ctx, req, nil)
	if err != nil {
		return err
	}

	r.writePlain("✓ Registered %s\n", reg.ID)
	r.writePlain("  %s %s → %s %s (%s)\n",
		reg.SourcePlatform.DisplayName(), reg.SourcePlaylistID,
		reg.TargetPlatform.DisplayName(), reg.TargetPlaylistID, reg.Frequency)
	return r.writePlain("  Known tracks: %d\n", len(reg.KnownTracks))
}

// SyncList prints every registration.
func (r *Runner) SyncList(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}

	regs, err := r.syncs.List()
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(regs, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Sync registrations (%d)", len(regs)))
	for _, reg := range regs {
		status := "enabled"
		if !reg.Enabled {
			status = "disabled"
		}
		last := "never"
		if reg.LastRunAt != nil {
			last = reg.LastRunAt.Format(time.DateTime)
		}
		r.writePlain("%s  %s:%s → %s:%s  %s, %s, %d tracks, last run %s\n",
			reg.ID, reg.SourcePlatform, reg.SourcePlaylistID, reg.TargetPlatform, reg.TargetPlaylistID,
			reg.Frequency, status, len(reg.KnownTracks), last)
	}
	return nil
}

// SyncRemove deletes or disables a registration.
func (r *Runner) SyncRemove(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "registration")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	if cmd.Bool("disable") {
		if _, err := r.syncs.Disable(args[0]); err != nil {
			return err
		}
		return r.writePlain("✓ Disabled %s\n", args[0])
	}
	if err := r.syncs.Delete(args[0]); err != nil {
		return err
	}
	return r.writePlain("✓ Removed %s\n", args[0])
}

// SyncClear deletes every registration.
func (r *Runner) SyncClear(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}

	n, err := r.syncs.Clear()
	if err != nil {
		return err
	}
	return r.writePlain("✓ Removed %d registrations\n", n)
}

// SyncRun applies one registration now, or every due registration when no ID is given.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}

	var regs []*models.SyncRegistration
	if id := cmd.StringArg("registration"); id != "" {
		reg, err := r.syncs.Get(id)
		if err != nil {
			return err
		}
		regs = append(regs, reg)
	} else {
		due, err := r.syncs.DueForRun(r.now())
		if err != nil {
			return err
		}
		regs = due
	}

	if len(regs) == 0 {
		return r.writePlain("Nothing is due.\n")
	}

	var failed int
	for _, reg := range regs {
		progressCh, wait := r.progressPrinter(true)
		job, err := r.engine.RunSync(ctx, reg, progressCh)
		close(progressCh)
		wait()

		switch {
		case err != nil:
			failed++
			r.logger.Error("sync run failed", "registration", reg.ID, "err", err)
			r.writePlain("✗ %s: %v\n", reg.ID, err)
		case job == nil:
			r.writePlain("✓ %s: up to date\n", reg.ID)
		default:
			r.writePlain("✓ %s: %s\n", reg.ID, job.StatusMessage())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sync runs failed", failed, len(regs))
	}
	return nil
}
