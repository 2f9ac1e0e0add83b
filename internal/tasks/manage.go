package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/shared"
)

// Resume runs a paused job (quota-blocked, cancelled or pending) in the background.
func (e *MigrationEngine) Resume(ctx context.Context, jobID string, progress chan<- ProgressUpdate) (*models.MigrationJob, error) {
	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.State == models.StateCompleted || !job.State.Resumable() {
		return nil, fmt.Errorf("%w: job %s is %s", shared.ErrInvalidState, job.ID, job.State)
	}
	if job.Kind == models.KindSync && job.State == models.StateCancelled {
		return nil, fmt.Errorf("%w: sync job %s was cancelled, the next sync run applies the rest", shared.ErrInvalidState, job.ID)
	}
	if err := e.Start(ctx, jobID, progress); err != nil {
		return nil, err
	}
	return job, nil
}

// RetryFailed re-runs the loop for the job's non-skipped failed tracks and merges the outcome
// into the same job. Successful retries leave the failed list; the rest stay with their latest
// result.
func (e *MigrationEngine) RetryFailed(ctx context.Context, jobID string, progress chan<- ProgressUpdate) (*models.MigrationJob, error) {
	a, release, err := e.acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.StateCompleted {
		return nil, fmt.Errorf("%w: only completed jobs can retry failed tracks (job is %s)", shared.ErrInvalidState, job.State)
	}

	retry := []models.Track{}
	for _, f := range job.RetryableFailures() {
		if strings.HasPrefix(f.Track.ID, "remove:") {
			continue
		}
		retry = append(retry, f.Track)
	}
	if len(retry) == 0 {
		return job, nil
	}

	e.logger.Info("retrying failed tracks", "job_id", job.ID, "count", len(retry))
	return e.execute(ctx, jobID, a, retry, progress)
}

// Resolve pins a failed track of the job to a target track chosen by the user. The next retry
// and every later job or sync run use the pinned match.
func (e *MigrationEngine) Resolve(ctx context.Context, jobID, sourceTrackID, targetTrackID string) (*models.MatchOverride, error) {
	if sourceTrackID == "" || targetTrackID == "" {
		return nil, fmt.Errorf("%w: sourceTrackId and targetTrackId", shared.ErrMissingArgument)
	}
	if e.overrides == nil {
		return nil, fmt.Errorf("%w: match overrides are not configured", shared.ErrInvalidConfig)
	}

	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	failure, ok := job.FindFailure(sourceTrackID)
	if !ok {
		return nil, fmt.Errorf("%w: track %s is not in the failed list of job %s", shared.ErrNotFound, sourceTrackID, jobID)
	}

	o := models.NewMatchOverride(failure.Track, job.TargetPlatform, targetTrackID, e.now())
	if err := e.overrides.Create(o); err != nil {
		return nil, fmt.Errorf("failed to save override: %w", err)
	}
	e.logger.Info("match pinned", "job_id", jobID, "track", sourceTrackID, "target", targetTrackID)
	return o, nil
}

// Skip marks a failed track as intentionally skipped so retries ignore it.
func (e *MigrationEngine) Skip(ctx context.Context, jobID, sourceTrackID string) (*models.MigrationJob, error) {
	_, release, err := e.acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if err := job.SkipFailure(sourceTrackID); err != nil {
		return nil, err
	}
	if err := e.persist(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Revert removes every track the job added to its target playlist, newest first, then discards
// the job. Tracks already gone count as removed.
//
// Removals are quota-gated. When the quota runs out the job keeps the tracks not yet removed,
// and calling Revert again continues from there.
func (e *MigrationEngine) Revert(ctx context.Context, jobID string) error {
	_, release, err := e.acquire(jobID)
	if err != nil {
		return err
	}
	defer release()

	job, err := e.jobs.Get(jobID)
	if err != nil {
		return err
	}
	logger := e.logger.With("job_id", job.ID)

	if len(job.AddedTracks) > 0 {
		target, err := e.catalogs.Get(job.TargetPlatform)
		if err != nil {
			return err
		}
		added := slices.Clone(job.AddedTracks)
		err = e.removeAdded(ctx, job, target)
		e.forgetSynced(job, added[len(job.AddedTracks):])
		if err != nil {
			if perr := e.persist(job); perr != nil {
				logger.Error("failed to save partial revert", "err", perr)
			}
			return err
		}
	}

	if job.SyncRegistrationID != "" && job.Kind == models.KindMigration && e.syncs != nil {
		if err := e.syncs.Delete(job.SyncRegistrationID); err != nil && !errors.Is(err, shared.ErrRegistrationGone) {
			logger.Warn("failed to remove sync registration", "registration", job.SyncRegistrationID, "err", err)
		}
	}
	if err := e.jobs.Delete(job.ID); err != nil {
		return fmt.Errorf("failed to discard job: %w", err)
	}
	logger.Info("job reverted")
	return nil
}

// forgetSynced drops reverted tracks from a sync job's registration so the next run sees them
// as missing from the target.
func (e *MigrationEngine) forgetSynced(job *models.MigrationJob, removed []models.AddedTrack) {
	if job.Kind != models.KindSync || e.syncs == nil || len(removed) == 0 {
		return
	}
	if err := e.syncs.Forget(job.SyncRegistrationID, removed); err != nil && !errors.Is(err, shared.ErrRegistrationGone) {
		e.logger.Warn("failed to update sync registration", "job_id", job.ID, "registration", job.SyncRegistrationID, "err", err)
	}
}

// removeAdded removes the job's added tracks from the end, shrinking AddedTracks as it goes.
func (e *MigrationEngine) removeAdded(ctx context.Context, job *models.MigrationJob, target catalog.Client) error {
	for len(job.AddedTracks) > 0 {
		last := job.AddedTracks[len(job.AddedTracks)-1]

		resv, err := e.governor.Reserve(ctx, job.TargetPlatform, job.CredentialID, 1)
		if err != nil {
			var exceeded *quota.ExceededError
			if errors.As(err, &exceeded) {
				return fmt.Errorf("revert paused with %d tracks left: %w", len(job.AddedTracks), err)
			}
			return err
		}

		if err := catalog.IgnoreNotFound(target.RemoveEntry(ctx, job.TargetPlaylistID, last.TargetTrackID, last.EntryID)); err != nil {
			if rerr := e.governor.Release(ctx, resv); rerr != nil {
				e.logger.Warn("failed to release quota", "err", rerr)
			}
			return fmt.Errorf("failed to remove %s: %w", last.TargetTrackID, err)
		}
		if err := e.governor.Commit(ctx, resv); err != nil {
			e.logger.Warn("failed to commit quota", "err", err)
		}

		job.AddedTracks = slices.Delete(job.AddedTracks, len(job.AddedTracks)-1, len(job.AddedTracks))
		job.SuccessCount = max(0, job.SuccessCount-1)
	}
	return nil
}
