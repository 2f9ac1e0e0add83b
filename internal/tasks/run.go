package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/shared"
)

var (
	// errStopped ends the track loop when the job was asked to cancel.
	errStopped = errors.New("job stopped")
	// errShutdown ends the track loop when the engine is shutting down.
	errShutdown = errors.New("engine shutting down")
)

// run holds the per-execution state of one job.
type run struct {
	e        *MigrationEngine
	job      *models.MigrationJob
	active   *activeRun
	progress chan<- ProgressUpdate
	logger   *log.Logger
	source   catalog.Client
	target   catalog.Client

	// retry re-processes the listed tracks even though they are already in the processed set.
	retry bool

	// onTarget holds target track ids found on the playlist while recovering from a crash.
	onTarget map[string]bool
}

// lookup is one prefetched track resolution.
type lookup struct {
	track  models.Track
	done   chan struct{}
	result models.MatchResult
	err    error
}

// execute loads the job and drives it until it completes, pauses, fails or is stopped.
//
// retry, when non-nil, replaces the work list and bypasses the processed check.
func (e *MigrationEngine) execute(ctx context.Context, jobID string, a *activeRun, retry []models.Track, progress chan<- ProgressUpdate) (*models.MigrationJob, error) {
	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if retry == nil {
		switch {
		case job.State == models.StateCompleted:
			return job, nil
		case !job.State.Resumable():
			return job, fmt.Errorf("%w: job %s is %s", shared.ErrInvalidState, job.ID, job.State)
		case job.Kind == models.KindSync && job.State == models.StateCancelled:
			return job, fmt.Errorf("%w: sync job %s was cancelled, the next sync run applies the rest", shared.ErrInvalidState, job.ID)
		}
	}

	r := &run{
		e:        e,
		job:      job,
		active:   a,
		progress: progress,
		logger:   shared.WithLogger(e.logger, "job_id", job.ID, "platform", job.TargetPlatform),
		retry:    retry != nil,
	}
	if r.source, err = e.catalogs.Get(job.SourcePlatform); err != nil {
		return job, err
	}
	if r.target, err = e.catalogs.Get(job.TargetPlatform); err != nil {
		return job, err
	}

	recovering := job.State == models.StateInProgress && retry == nil
	if err := job.Transition(models.StateInProgress, e.now()); err != nil {
		return job, err
	}
	if err := e.persist(job); err != nil {
		return job, err
	}
	r.logger.Info("job started", "kind", job.Kind, "direction", direction(job), "recovering", recovering)

	tracks := retry
	if tracks == nil {
		if tracks, err = r.sourceTracks(ctx); err != nil {
			return r.interrupt(ctx, err)
		}
	}
	if recovering && job.TargetPlaylistID != "" {
		if err := r.reconcile(ctx); err != nil {
			return r.interrupt(ctx, err)
		}
	}

	if err := r.addTracks(ctx, tracks); err != nil {
		return r.interrupt(ctx, err)
	}
	if err := r.removeTracks(ctx); err != nil {
		return r.interrupt(ctx, err)
	}
	return r.complete(ctx)
}

func (e *MigrationEngine) persist(job *models.MigrationJob) error {
	job.Touch(e.now())
	if err := e.jobs.Update(job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// sourceTracks returns the work list: the source playlist for migrations, the diff for sync runs.
func (r *run) sourceTracks(ctx context.Context) ([]models.Track, error) {
	job := r.job
	if job.Kind == models.KindSync {
		return job.WorkTracks, nil
	}

	sendProgress(r.progress, fetchSourceUpdate(job))
	ref, err := r.source.GetPlaylist(ctx, job.SourcePlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source playlist: %w", err)
	}
	tracks, err := r.source.ListTracks(ctx, job.SourcePlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source tracks: %w", err)
	}

	job.SourcePlaylistName = ref.Name
	job.TotalTracks = len(tracks)
	pending := 0
	for _, t := range tracks {
		if !job.IsProcessed(t.ID) {
			pending++
		}
	}
	sendProgress(r.progress, foundPlaylistUpdate(job, pending))
	return tracks, r.e.persist(job)
}

// reconcile lists the target playlist so writes sent before a crash are not sent twice.
func (r *run) reconcile(ctx context.Context) error {
	present, err := r.target.ListTracks(ctx, r.job.TargetPlaylistID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			r.logger.Warn("target playlist is gone, a new one will be created", "playlist", r.job.TargetPlaylistID)
			r.job.TargetPlaylistID = ""
			return nil
		}
		return fmt.Errorf("failed to list target playlist: %w", err)
	}
	r.onTarget = make(map[string]bool, len(present))
	for _, t := range present {
		r.onTarget[t.ID] = true
	}
	sendProgress(r.progress, reconcileUpdate(r.job, len(present)))
	return nil
}

// prefetch resolves tracks ahead of the write loop, bounded by the engine's worker count.
// A slot is freed only when the loop consumes the lookup, so at most that many results wait.
func (r *run) prefetch(ctx context.Context, tracks []models.Track) ([]*lookup, *semaphore.Weighted) {
	lookups := make([]*lookup, len(tracks))
	for i, t := range tracks {
		lookups[i] = &lookup{track: t, done: make(chan struct{})}
	}
	sem := semaphore.NewWeighted(int64(r.e.workers))
	platform := r.job.TargetPlatform

	go func() {
		for i, l := range lookups {
			if err := sem.Acquire(ctx, 1); err != nil {
				for _, rest := range lookups[i:] {
					rest.err = err
					close(rest.done)
				}
				return
			}
			go func() {
				defer close(l.done)
				l.result, l.err = r.e.resolve(ctx, r.target, platform, l.track)
			}()
		}
	}()
	return lookups, sem
}

// resolve returns the pinned override for a track, or searches the target and scores the candidates.
func (e *MigrationEngine) resolve(ctx context.Context, target catalog.Client, platform models.Platform, t models.Track) (models.MatchResult, error) {
	if e.overrides != nil {
		o, err := e.overrides.Find(t.Fingerprint(), platform)
		switch {
		case err == nil:
			res := models.NewMatched(o.TargetTrackID, 1)
			res.Pinned = true
			return res, nil
		case !errors.Is(err, shared.ErrNotFound):
			return models.MatchResult{}, err
		}
	}

	candidates, err := target.SearchTrack(ctx, t)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return models.NewUnmatched("no search results"), nil
		}
		return models.MatchResult{}, fmt.Errorf("search for %q failed: %w", t.Title, err)
	}
	return e.matcher.Match(t, candidates), nil
}

// addTracks is the per-track loop: resolve, reserve, append, record, persist.
func (r *run) addTracks(ctx context.Context, tracks []models.Track) error {
	job := r.job
	var work []models.Track
	for _, t := range tracks {
		if r.retry || !job.IsProcessed(t.ID) {
			work = append(work, t)
		}
	}
	if len(work) == 0 {
		return nil
	}

	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lookups, sem := r.prefetch(lookupCtx, work)

	offset := len(tracks) - len(work)
	for i, l := range lookups {
		if err := r.active.err(); err != nil {
			return err
		}

		<-l.done
		sem.Release(1)
		if l.err != nil {
			return l.err
		}

		step := offset + i + 1
		if err := r.apply(ctx, l.track, l.result); err != nil {
			return err
		}
		job.MarkProcessed(l.track.ID)
		if err := r.e.persist(job); err != nil {
			return err
		}
		sendProgress(r.progress, trackUpdate(job, step, len(tracks), l.track, l.result))
	}
	return nil
}

// apply writes one resolved track. Soft failures are recorded; the returned error aborts the loop.
func (r *run) apply(ctx context.Context, t models.Track, res models.MatchResult) error {
	job := r.job
	if !res.IsMatched() {
		job.RecordFailure(t, res, res.Reason)
		r.logger.Debug("track not matched", "track", t.ID, "kind", res.Kind)
		return nil
	}

	if r.onTarget[res.TargetTrackID] && !job.HasAdded(res.TargetTrackID) {
		job.RecordAdded(t, res.TargetTrackID, "")
		job.ClearFailure(t.ID)
		r.logger.Info("track already on target, recorded without a write", "track", t.ID, "target", res.TargetTrackID)
		return nil
	}

	resv, err := r.reserve(ctx)
	if err != nil {
		return err
	}
	if err := r.ensurePlaylist(ctx); err != nil {
		r.release(ctx, resv)
		return err
	}

	result, err := r.target.AddTracks(ctx, job.TargetPlaylistID, []string{res.TargetTrackID})
	if err != nil {
		r.release(ctx, resv)
		if errors.Is(err, shared.ErrQuotaExceeded) {
			return &quota.ExceededError{Platform: job.TargetPlatform, ResumesAt: r.e.governor.NextReset(job.TargetPlatform)}
		}
		return fmt.Errorf("failed to add %q: %w", t.Title, err)
	}

	outcome, ok := result.Outcome(res.TargetTrackID)
	if !ok || !outcome.Accepted {
		r.release(ctx, resv)
		reason := outcome.Reason
		if reason == "" {
			reason = "rejected by " + job.TargetPlatform.DisplayName()
		}
		job.RecordFailure(t, res, reason)
		r.logger.Warn("track rejected", "track", t.ID, "target", res.TargetTrackID, "reason", reason)
		return nil
	}

	if err := r.e.governor.Commit(ctx, resv); err != nil {
		r.logger.Warn("failed to commit quota", "err", err)
	}
	job.RecordAdded(t, res.TargetTrackID, outcome.EntryID)
	job.ClearFailure(t.ID)
	return nil
}

func (r *run) reserve(ctx context.Context) (*quota.Reservation, error) {
	return r.e.governor.Reserve(ctx, r.job.TargetPlatform, r.job.CredentialID, 1)
}

func (r *run) release(ctx context.Context, resv *quota.Reservation) {
	if err := r.e.governor.Release(ctx, resv); err != nil {
		r.logger.Warn("failed to release quota", "err", err)
	}
}

// ensurePlaylist creates the target playlist on first use.
func (r *run) ensurePlaylist(ctx context.Context) error {
	job := r.job
	if job.TargetPlaylistID != "" {
		return nil
	}

	name := job.TargetPlaylistName
	if name == "" {
		name = job.SourcePlaylistName
	}
	if name == "" {
		name = job.SourcePlaylistID
	}
	description := fmt.Sprintf("Migrated from %s by playbridge", job.SourcePlatform.DisplayName())

	ref, err := r.target.CreatePlaylist(ctx, name, description)
	if err != nil {
		return fmt.Errorf("failed to create target playlist: %w", err)
	}
	job.TargetPlaylistID = ref.ID
	job.TargetPlaylistName = ref.Name
	if err := r.e.persist(job); err != nil {
		return err
	}
	r.logger.Info("target playlist created", "playlist", ref.ID, "name", ref.Name)
	sendProgress(r.progress, createPlaylistUpdate(job, ref))
	return nil
}

// removeTracks applies a sync job's removals after its additions.
func (r *run) removeTracks(ctx context.Context) error {
	job := r.job
	if job.Kind != models.KindSync || r.retry {
		return nil
	}

	total := len(job.Removals)
	for i, rm := range job.Removals {
		if err := r.active.err(); err != nil {
			return err
		}
		key := rm.ProcessedKey()
		if job.IsProcessed(key) {
			continue
		}

		if rm.TargetTrackID == "" {
			job.RecordFailure(
				models.Track{ID: key, Title: rm.Title, Artists: rm.Artists},
				models.NewUnmatched("removed from source, not found on target"),
				"could not locate the target track to remove",
			)
		} else {
			resv, err := r.reserve(ctx)
			if err != nil {
				return err
			}
			if err := catalog.IgnoreNotFound(r.target.RemoveTrack(ctx, job.TargetPlaylistID, rm.TargetTrackID)); err != nil {
				r.release(ctx, resv)
				return fmt.Errorf("failed to remove %q: %w", rm.Title, err)
			}
			if err := r.e.governor.Commit(ctx, resv); err != nil {
				r.logger.Warn("failed to commit quota", "err", err)
			}
		}

		job.MarkProcessed(key)
		if err := r.e.persist(job); err != nil {
			return err
		}
		sendProgress(r.progress, removeTrackUpdate(job, i+1, total, rm))
	}
	return nil
}

// complete moves the job to Completed and updates its sync registration.
func (r *run) complete(ctx context.Context) (*models.MigrationJob, error) {
	e, job := r.e, r.job
	if err := job.Transition(models.StateCompleted, e.now()); err != nil {
		return job, err
	}

	if e.syncs != nil {
		switch {
		case job.Kind == models.KindSync:
			if err := e.syncs.Complete(job); err != nil {
				r.logger.Error("failed to record sync run", "registration", job.SyncRegistrationID, "err", err)
			}
		case job.KeepInSync && job.SyncRegistrationID == "" && job.TargetPlaylistID == "":
			r.logger.Warn("no track was added, nothing to keep in sync")
		case job.KeepInSync && job.SyncRegistrationID == "":
			reg, err := e.syncs.Register(ctx, registrationRequest(job), job)
			if err != nil {
				r.logger.Error("failed to register sync pair", "err", err)
			} else {
				job.SyncRegistrationID = reg.ID
			}
		}
	}

	if err := e.persist(job); err != nil {
		return job, err
	}
	r.logger.Info("job finished", "outcome", job.Outcome(), "added", job.SuccessCount, "failed", len(job.FailedTracks))
	sendProgress(r.progress, finishedUpdate(job))
	return job, nil
}

// interrupt settles a run that ended early. Cancellation and quota exhaustion pause the job.
// Shutdown or a dead parent context leaves it InProgress for recovery. Anything else fails it.
func (r *run) interrupt(ctx context.Context, cause error) (*models.MigrationJob, error) {
	e, job := r.e, r.job
	now := e.now()

	var exceeded *quota.ExceededError
	switch {
	case errors.Is(cause, errShutdown):
		r.logger.Info("job paused for shutdown", "processed", len(job.ProcessedTrackIDs))
		return job, e.persist(job)
	case errors.Is(cause, errStopped):
		if err := job.Transition(models.StateCancelled, now); err != nil {
			return job, err
		}
		r.logger.Info("job cancelled", "processed", len(job.ProcessedTrackIDs))
		e.abandonSync(job)
	case errors.As(cause, &exceeded):
		if err := job.Transition(models.StateQuotaBlocked, now); err != nil {
			return job, err
		}
		resume := exceeded.ResumesAt
		job.ResumeAfter = &resume
		r.logger.Info("job paused on quota", "resumes_at", resume.Format(time.DateOnly))
		sendProgress(r.progress, quotaBlockedUpdate(job, resume))
	case ctx.Err() != nil:
		r.logger.Warn("job interrupted", "err", cause)
		if err := e.persist(job); err != nil {
			return job, err
		}
		return job, ctx.Err()
	default:
		if err := job.Transition(models.StateFailed, now); err != nil {
			return job, err
		}
		job.ErrorMessage = cause.Error()
		r.logger.Error("job failed", "err", cause)
		e.abandonSync(job)
	}

	if err := e.persist(job); err != nil {
		return job, err
	}
	sendProgress(r.progress, finishedUpdate(job))
	return job, nil
}
