package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/formatter"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/tasks"
)

// progressPrinter prints engine updates until the returned channel is closed. The returned
// func blocks until the last update is written.
func (r *Runner) progressPrinter(enabled bool) (chan tasks.ProgressUpdate, func()) {
	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			if !enabled {
				continue
			}
			switch update.Phase {
			case tasks.FetchSource, tasks.Reconcile:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.CreatePlaylist:
				r.writePlain("\n📝 %s\n\n", update.Message)
			case tasks.MatchTracks, tasks.AddTracks, tasks.RemoveTracks:
				r.writePlain("   %s\n", update.Message)
			case tasks.QuotaBlocked:
				r.writePlain("\n⏸  %s\n", update.Message)
			}
		}
	}()
	return progressCh, func() { <-done }
}

// MigrateRun submits a migration and runs it in the foreground.
func (r *Runner) MigrateRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}
	useJSON := cmd.Bool("json")

	req := models.MigrationRequest{
		SourcePlatform:     models.Platform(cmd.String("from")),
		SourcePlaylistID:   cmd.String("playlist"),
		TargetPlatform:     models.Platform(cmd.String("to")),
		TargetPlaylistID:   cmd.String("target"),
		TargetPlaylistName: cmd.String("name"),
		KeepInSync:         cmd.Bool("keep-in-sync"),
	}
	if req.KeepInSync {
		req.Frequency = models.SyncFrequency(cmd.String("frequency"))
	}

	job, err := r.engine.Submit(ctx, req)
	if err != nil {
		return err
	}
	r.logger.Info("starting migration", "job_id", job.ID, "source", req.SourcePlaylistID)
	if !useJSON {
		r.writePlain("Starting migration %s\n", job.ID)
		r.writePlain("%s → %s\n\n", job.SourcePlatform.DisplayName(), job.TargetPlatform.DisplayName())
	}

	progressCh, wait := r.progressPrinter(!useJSON)
	job, err = r.engine.Run(ctx, job.ID, progressCh)
	close(progressCh)
	wait()
	if err != nil {
		return err
	}

	if useJSON {
		if err := r.writeJSON(job.Snapshot(), true); err != nil {
			return err
		}
	} else {
		r.printJob(job)
	}
	if job.State == models.StateFailed {
		return fmt.Errorf("migration %s %s", job.ID, job.StatusMessage())
	}
	return nil
}

// printJob writes the human readable job summary.
func (r *Runner) printJob(job *models.MigrationJob) {
	result := job.Result()

	r.writePlain("\n")
	r.writePlainHeader(job.StatusMessage())
	r.writePlain("Job: %s (%s)\n", job.ID, job.Kind)
	r.writePlain("Source: %s %s", job.SourcePlatform.DisplayName(), job.SourcePlaylistID)
	if job.SourcePlaylistName != "" {
		r.writePlain(" (%s)", job.SourcePlaylistName)
	}
	r.writePlain("\n")
	if job.TargetPlaylistID != "" {
		r.writePlain("Target: %s %s (%s)\n", job.TargetPlatform.DisplayName(), result.PlaylistID, result.PlaylistName)
	}
	r.writePlain("Added: %d/%d\n", job.SuccessCount, job.TotalTracks)
	if job.SyncRegistrationID != "" {
		r.writePlain("Sync registration: %s\n", job.SyncRegistrationID)
	}

	if len(job.FailedTracks) == 0 {
		return
	}
	r.writePlain("\nNeeds attention (%d):\n", len(job.FailedTracks))
	for _, f := range job.FailedTracks {
		skipped := ""
		if f.Skipped {
			skipped = " [skipped]"
		}
		r.writePlain("  - %s  %s - %s: %s%s\n", f.Track.ID, f.Track.Artist(), f.Track.Title, f.Reason, skipped)
		for _, c := range f.Result.Candidates {
			r.writePlain("      %s  %s - %s (%.2f)\n", c.Track.ID, c.Track.Artist(), c.Track.Title, c.Score)
		}
	}
	r.writePlainln("Resolve with 'migrate resolve %s <source-track> <target-track>' then 'migrate retry %s'.", job.ID, job.ID)
}

// MigrateStatus prints a job.
func (r *Runner) MigrateStatus(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	job, err := r.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(job.Snapshot(), cmd.Bool("pretty"))
	}
	r.printJob(job)
	return nil
}

// MigrateList prints recent jobs and per-state counts.
func (r *Runner) MigrateList(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}

	criteria := map[string]any{"limit": cmd.Int("limit")}
	if s := cmd.String("state"); s != "" {
		state, err := models.ParseJobState(s)
		if err != nil {
			return err
		}
		criteria["state"] = state
	}

	jobs, err := r.engine.List(ctx, criteria)
	if err != nil {
		return err
	}
	stats, err := r.engine.Stats(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		snapshots := make([]models.JobSnapshot, len(jobs))
		for i, j := range jobs {
			snapshots[i] = j.Snapshot()
		}
		return r.writeJSON(map[string]any{"jobs": snapshots, "stats": stats}, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Jobs (%d)", len(jobs)))
	for _, j := range jobs {
		r.writePlain("%s  %-9s %-20s %3d/%-3d %s\n",
			j.ID, j.Kind, j.Outcome(), j.SuccessCount, j.TotalTracks, j.UpdatedAt.Format(time.DateTime))
	}
	r.writePlain("\n")
	for _, state := range []models.JobState{
		models.StatePending, models.StateInProgress, models.StateQuotaBlocked,
		models.StateCompleted, models.StateCancelled, models.StateFailed,
	} {
		if n := stats[state]; n > 0 {
			r.writePlain("%s: %d  ", state, n)
		}
	}
	r.writePlain("\n")
	return nil
}

// MigrateRetry retries the failed tracks of a completed job.
func (r *Runner) MigrateRetry(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	progressCh, wait := r.progressPrinter(true)
	job, err := r.engine.RetryFailed(ctx, args[0], progressCh)
	close(progressCh)
	wait()
	if err != nil {
		return err
	}
	r.printJob(job)
	return nil
}

// MigrateRevert removes the tracks a job added and deletes the job.
func (r *Runner) MigrateRevert(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	if err := r.engine.Revert(ctx, args[0]); err != nil {
		return err
	}
	return r.writePlain("✓ Reverted %s\n", args[0])
}

// MigrateResume restarts a resumable job and waits for it to stop.
func (r *Runner) MigrateResume(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	progressCh, wait := r.progressPrinter(true)
	if _, err := r.engine.Resume(ctx, args[0], progressCh); err != nil {
		close(progressCh)
		wait()
		return err
	}
	r.engine.Wait()
	close(progressCh)
	wait()

	job, err := r.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}
	r.printJob(job)
	return nil
}

// MigrateCancel cancels a job.
func (r *Runner) MigrateCancel(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	job, err := r.engine.Cancel(ctx, args[0])
	if err != nil {
		return err
	}
	return r.writePlain("%s: %s\n", job.ID, job.StatusMessage())
}

// MigrateResolve pins a target track for one failed source track.
func (r *Runner) MigrateResolve(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job", "source-track", "target-track")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	override, err := r.engine.Resolve(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	r.writePlain("✓ %s will map to %s on %s\n", args[1], override.TargetTrackID, override.TargetPlatform.DisplayName())
	return r.writePlain("Run 'migrate retry %s' to add it.\n", args[0])
}

// MigrateSkip marks a failed track as skipped.
func (r *Runner) MigrateSkip(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job", "source-track")
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	job, err := r.engine.Skip(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return r.writePlain("✓ Skipped %s (%d still need attention)\n", args[1], len(job.RetryableFailures()))
}

// MigrateReport exports a job report to stdout or files.
func (r *Runner) MigrateReport(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "job")
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.init(ctx); err != nil {
		return err
	}

	job, err := r.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "" {
		data, err := formatter.Export(job, format)
		if err != nil {
			return err
		}
		_, err = r.output.Write(data)
		return err
	}

	result, err := formatter.WriteExport(job, format, output)
	if err != nil {
		return err
	}
	r.writePlain("✓ Report written to %s\n", result.ReportFile)
	return r.writePlain("  Metadata: %s\n", result.MetadataFile)
}
