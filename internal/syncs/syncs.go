// Package syncs keeps registered playlist pairs in sync, with the source playlist as truth.
//
// A registration remembers the fingerprint of every source track it has seen. Each run diffs
// the source playlist against that set; the diff is applied by a sync job and the new set is
// stored together with the run time.
package syncs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/matcher"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

// Store persists registrations. Implemented by repositories.SyncRepository.
type Store interface {
	models.Repository[*models.SyncRegistration]
	GetByPair(sourcePlaylistID, targetPlaylistID string) (*models.SyncRegistration, error)
	SetPending(id, jobID string, pending map[string]models.KnownTrack, now time.Time) error
	Complete(id string, known map[string]models.KnownTrack, lastRunAt time.Time) error
	DeleteByPlaylist(platform models.Platform, playlistID string) (int, error)
	Clear() (int, error)
}

// Request registers a playlist pair.
type Request struct {
	SourcePlatform   models.Platform      `json:"sourcePlatform"`
	SourcePlaylistID string               `json:"sourcePlaylistId"`
	TargetPlatform   models.Platform      `json:"targetPlatform"`
	TargetPlaylistID string               `json:"targetPlaylistId"`
	Frequency        models.SyncFrequency `json:"frequency"`
}

// Validate normalizes platforms and frequency in place.
func (r *Request) Validate() error {
	src, err := models.ParsePlatform(string(r.SourcePlatform))
	if err != nil {
		return err
	}
	dst, err := models.ParsePlatform(string(r.TargetPlatform))
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("%w: source and target platform must differ", shared.ErrInvalidInput)
	}
	if r.SourcePlaylistID == "" || r.TargetPlaylistID == "" {
		return fmt.Errorf("%w: sourcePlaylistId and targetPlaylistId", shared.ErrMissingArgument)
	}
	freq, err := models.ParseFrequency(string(r.Frequency))
	if err != nil {
		return err
	}
	r.SourcePlatform, r.TargetPlatform, r.Frequency = src, dst, freq
	return nil
}

// Diff is the work a sync run has to apply.
type Diff struct {
	ToAdd    []models.Track
	ToRemove []models.Removal
	// Current is the source fingerprint set the registration holds once the diff is applied.
	Current map[string]models.KnownTrack
}

// Empty reports whether the source playlist is unchanged.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Registry manages sync registrations.
type Registry struct {
	store    Store
	catalogs *catalog.Registry
	matcher  *matcher.Matcher
	now      func() time.Time
	logger   *log.Logger
}

// Option configures a [Registry].
type Option func(*Registry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store Store, catalogs *catalog.Registry, m *matcher.Matcher, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		catalogs: catalogs,
		matcher:  m,
		now:      time.Now,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates or refreshes the registration for a pair.
//
// The fingerprint set is seeded from the current source listing. When job is the migration
// that populated the target, its added tracks supply the known target ids.
func (r *Registry) Register(ctx context.Context, req Request, job *models.MigrationJob) (*models.SyncRegistration, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	source, err := r.catalogs.Get(req.SourcePlatform)
	if err != nil {
		return nil, err
	}
	tracks, err := source.ListTracks(ctx, req.SourcePlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source playlist: %w", err)
	}

	known, _ := snapshot(tracks, nil)
	if job != nil {
		for _, a := range job.AddedTracks {
			if k, ok := known[a.Fingerprint]; ok {
				k.TargetTrackID = a.TargetTrackID
				known[a.Fingerprint] = k
			}
		}
	}

	now := r.now()
	existing, err := r.store.GetByPair(req.SourcePlaylistID, req.TargetPlaylistID)
	switch {
	case err == nil:
		for fp, k := range known {
			if old, ok := existing.KnownTracks[fp]; ok && k.TargetTrackID == "" {
				k.TargetTrackID = old.TargetTrackID
				known[fp] = k
			}
		}
		existing.Frequency = req.Frequency
		existing.Enabled = true
		existing.KnownTracks = known
		existing.LastRunAt = &now
		existing.PendingJobID = ""
		existing.PendingTracks = nil
		existing.Touch(now)
		if err := r.store.Update(existing); err != nil {
			return nil, err
		}
		r.logger.Info("sync registration refreshed", "id", existing.ID, "tracks", len(known))
		return existing, nil
	case !errors.Is(err, shared.ErrRegistrationGone):
		return nil, err
	}

	reg := &models.SyncRegistration{
		SourcePlatform:   req.SourcePlatform,
		SourcePlaylistID: req.SourcePlaylistID,
		TargetPlatform:   req.TargetPlatform,
		TargetPlaylistID: req.TargetPlaylistID,
		Frequency:        req.Frequency,
		Enabled:          true,
		LastRunAt:        &now,
		KnownTracks:      known,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := r.store.Create(reg); err != nil {
		return nil, err
	}
	r.logger.Info("sync registration created", "id", reg.ID, "source", reg.SourcePlaylistID, "target", reg.TargetPlaylistID, "frequency", reg.Frequency)
	return reg, nil
}

// Get returns a registration by id.
func (r *Registry) Get(id string) (*models.SyncRegistration, error) {
	return r.store.Get(id)
}

// List returns every registration.
func (r *Registry) List() ([]*models.SyncRegistration, error) {
	return r.store.List(map[string]any{})
}

// DueForRun returns the enabled registrations whose lastRunAt + frequency <= now.
func (r *Registry) DueForRun(now time.Time) ([]*models.SyncRegistration, error) {
	regs, err := r.store.List(map[string]any{"enabled": true})
	if err != nil {
		return nil, err
	}
	var due []*models.SyncRegistration
	for _, reg := range regs {
		if reg.Due(now) {
			due = append(due, reg)
		}
	}
	return due, nil
}

// ComputeDiff compares the current source playlist against the known fingerprint set.
//
// Removed tracks carry the target id recorded when they were added. When none was recorded the
// target playlist is searched with the matcher; removals that still cannot be located keep an
// empty TargetTrackID.
func (r *Registry) ComputeDiff(ctx context.Context, reg *models.SyncRegistration) (Diff, error) {
	source, err := r.catalogs.Get(reg.SourcePlatform)
	if err != nil {
		return Diff{}, err
	}
	tracks, err := source.ListTracks(ctx, reg.SourcePlaylistID)
	if err != nil {
		return Diff{}, fmt.Errorf("failed to list source playlist: %w", err)
	}

	current, added := snapshot(tracks, reg.KnownTracks)
	diff := Diff{ToAdd: added, Current: current}

	unresolved := 0
	for _, fp := range reg.Fingerprints() {
		if _, ok := current[fp]; ok {
			continue
		}
		k := reg.KnownTracks[fp]
		diff.ToRemove = append(diff.ToRemove, models.Removal{
			Fingerprint:   fp,
			TargetTrackID: k.TargetTrackID,
			Title:         k.Title,
			Artists:       k.Artists,
		})
		if k.TargetTrackID == "" {
			unresolved++
		}
	}

	if unresolved > 0 {
		if err := r.locateRemovals(ctx, reg, diff.ToRemove); err != nil {
			return Diff{}, err
		}
	}
	return diff, nil
}

func (r *Registry) locateRemovals(ctx context.Context, reg *models.SyncRegistration, removals []models.Removal) error {
	target, err := r.catalogs.Get(reg.TargetPlatform)
	if err != nil {
		return err
	}
	onTarget, err := target.ListTracks(ctx, reg.TargetPlaylistID)
	if err != nil {
		return fmt.Errorf("failed to list target playlist: %w", err)
	}

	for i, rm := range removals {
		if rm.TargetTrackID != "" {
			continue
		}
		res := r.matcher.Match(models.Track{Title: rm.Title, Artists: rm.Artists}, onTarget)
		if res.IsMatched() {
			removals[i].TargetTrackID = res.TargetTrackID
			continue
		}
		r.logger.Warn("removed track not found on target", "registration", reg.ID, "title", rm.Title)
	}
	return nil
}

// Begin marks a sync job as applying diff for reg. The registration is not due while pending.
func (r *Registry) Begin(reg *models.SyncRegistration, jobID string, diff Diff) error {
	return r.store.SetPending(reg.ID, jobID, diff.Current, r.now())
}

// Skip records a run that found nothing to apply.
func (r *Registry) Skip(reg *models.SyncRegistration, diff Diff) error {
	return r.store.Complete(reg.ID, diff.Current, r.now())
}

// Complete stores the fingerprint set produced by a finished sync job, with the target ids it
// added, and the run time.
func (r *Registry) Complete(job *models.MigrationJob) error {
	reg, err := r.store.Get(job.SyncRegistrationID)
	if err != nil {
		return err
	}

	known := reg.PendingTracks
	if known == nil {
		known = maps.Clone(reg.KnownTracks)
	}
	for _, a := range job.AddedTracks {
		if k, ok := known[a.Fingerprint]; ok {
			k.TargetTrackID = a.TargetTrackID
			known[a.Fingerprint] = k
		}
	}

	if err := r.store.Complete(reg.ID, known, r.now()); err != nil {
		return err
	}
	r.logger.Info("sync run recorded", "registration", reg.ID, "job_id", job.ID, "tracks", len(known))
	return nil
}

// Abandon clears the pending marker of a sync job that will not finish. The additions and
// removals the job already applied are folded into the known set; the rest of its diff shows
// up again on the next run. LastRunAt is left alone so the pair stays due.
func (r *Registry) Abandon(job *models.MigrationJob) error {
	reg, err := r.store.Get(job.SyncRegistrationID)
	if err != nil {
		return err
	}
	if reg.PendingJobID != job.ID {
		return nil
	}

	known := maps.Clone(reg.KnownTracks)
	if known == nil {
		known = map[string]models.KnownTrack{}
	}
	for _, a := range job.AddedTracks {
		known[a.Fingerprint] = models.KnownTrack{Title: a.Title, Artists: a.Artists, TargetTrackID: a.TargetTrackID}
	}
	for _, rm := range job.Removals {
		if job.IsProcessed(rm.ProcessedKey()) {
			delete(known, rm.Fingerprint)
		}
	}

	reg.KnownTracks = known
	reg.PendingJobID = ""
	reg.PendingTracks = nil
	reg.Touch(r.now())
	if err := r.store.Update(reg); err != nil {
		return err
	}
	r.logger.Info("sync run abandoned", "registration", reg.ID, "job_id", job.ID, "added", len(job.AddedTracks))
	return nil
}

// Forget drops reverted tracks from the known set so the next run adds them again.
func (r *Registry) Forget(id string, reverted []models.AddedTrack) error {
	reg, err := r.store.Get(id)
	if err != nil {
		return err
	}
	for _, a := range reverted {
		if k, ok := reg.KnownTracks[a.Fingerprint]; ok && k.TargetTrackID == a.TargetTrackID {
			delete(reg.KnownTracks, a.Fingerprint)
		}
	}
	reg.Touch(r.now())
	return r.store.Update(reg)
}

// Disable stops a registration from running without forgetting its state.
func (r *Registry) Disable(id string) (*models.SyncRegistration, error) {
	reg, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	reg.Enabled = false
	reg.Touch(r.now())
	return reg, r.store.Update(reg)
}

// Delete removes a registration.
func (r *Registry) Delete(id string) error {
	return r.store.Delete(id)
}

// RemoveForPlaylist deletes every registration naming a playlist that was deleted.
func (r *Registry) RemoveForPlaylist(platform models.Platform, playlistID string) (int, error) {
	return r.store.DeleteByPlaylist(platform, playlistID)
}

// Clear deletes every registration.
func (r *Registry) Clear() (int, error) {
	return r.store.Clear()
}

// snapshot builds the fingerprint set of tracks, keeping target ids from known. Tracks whose
// fingerprint is not in known are returned in playlist order, each fingerprint once.
func snapshot(tracks []models.Track, known map[string]models.KnownTrack) (map[string]models.KnownTrack, []models.Track) {
	current := make(map[string]models.KnownTrack, len(tracks))
	var added []models.Track
	for _, t := range tracks {
		fp := t.Fingerprint()
		if _, seen := current[fp]; seen {
			continue
		}
		prev, ok := known[fp]
		current[fp] = models.KnownTrack{Title: t.Title, Artists: t.Artists, TargetTrackID: prev.TargetTrackID}
		if !ok {
			added = append(added, t)
		}
	}
	return current, added
}
