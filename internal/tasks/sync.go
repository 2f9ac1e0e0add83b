package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/syncs"
)

// SubmitSync computes the registration's diff and persists it as a pending sync job.
//
// A nil job with a nil error means the source did not change; the run is recorded on the
// registration and nothing needs to be started.
func (e *MigrationEngine) SubmitSync(ctx context.Context, reg *models.SyncRegistration) (*models.MigrationJob, error) {
	if e.syncs == nil {
		return nil, fmt.Errorf("%w: sync registry is not configured", shared.ErrInvalidConfig)
	}
	if reg.PendingJobID != "" {
		return nil, fmt.Errorf("%w: registration %s is applied by job %s", shared.ErrJobRunning, reg.ID, reg.PendingJobID)
	}

	diff, err := e.syncs.ComputeDiff(ctx, reg)
	if err != nil {
		return nil, err
	}
	if diff.Empty() {
		if err := e.syncs.Skip(reg, diff); err != nil {
			return nil, err
		}
		e.logger.Debug("sync pair unchanged", "registration", reg.ID)
		return nil, nil
	}

	now := e.now()
	job := models.NewMigrationJob(models.MigrationRequest{
		SourcePlatform:   reg.SourcePlatform,
		SourcePlaylistID: reg.SourcePlaylistID,
		TargetPlatform:   reg.TargetPlatform,
		TargetPlaylistID: reg.TargetPlaylistID,
	}, e.CredentialFor(reg.TargetPlatform), now)
	job.Kind = models.KindSync
	job.SyncRegistrationID = reg.ID
	job.WorkTracks = diff.ToAdd
	job.Removals = diff.ToRemove
	job.TotalTracks = len(diff.ToAdd) + len(diff.ToRemove)

	if err := e.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}
	if err := e.syncs.Begin(reg, job.ID, diff); err != nil {
		return nil, err
	}
	e.logger.Info("sync job submitted", "job_id", job.ID, "registration", reg.ID, "add", len(diff.ToAdd), "remove", len(diff.ToRemove))
	return job, nil
}

// RunSync submits and runs one registration's diff synchronously.
func (e *MigrationEngine) RunSync(ctx context.Context, reg *models.SyncRegistration, progress chan<- ProgressUpdate) (*models.MigrationJob, error) {
	job, err := e.SubmitSync(ctx, reg)
	if err != nil || job == nil {
		return nil, err
	}
	return e.Run(ctx, job.ID, progress)
}

func registrationRequest(job *models.MigrationJob) syncs.Request {
	return syncs.Request{
		SourcePlatform:   job.SourcePlatform,
		SourcePlaylistID: job.SourcePlaylistID,
		TargetPlatform:   job.TargetPlatform,
		TargetPlaylistID: job.TargetPlaylistID,
		Frequency:        job.Frequency,
	}
}
