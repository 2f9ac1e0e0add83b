package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/matcher"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/repositories"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/syncs"
	tu "github.com/desertthunder/playbridge/internal/testing"
)

var day1 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

var favorites = []models.Track{
	{ID: "sp-1", Title: "Yellow", Artists: []string{"Coldplay"}, DurationMillis: 269000},
	{ID: "sp-2", Title: "Clocks", Artists: []string{"Coldplay"}, DurationMillis: 307000},
	{ID: "sp-3", Title: "Fix You", Artists: []string{"Coldplay"}, DurationMillis: 295000},
	{ID: "sp-4", Title: "Viva La Vida", Artists: []string{"Coldplay"}, DurationMillis: 242000},
	{ID: "sp-5", Title: "Paradise", Artists: []string{"Coldplay"}, DurationMillis: 278000},
}

// onYouTube returns the target-side copy of a source track: same metadata, id "yt-N".
func onYouTube(t models.Track) models.Track {
	t.ID = "yt-" + t.ID[len("sp-"):]
	return t
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine    *MigrationEngine
	jobs      *repositories.JobRepository
	overrides *repositories.OverrideRepository
	registry  *syncs.Registry
	governor  *quota.Governor
	spotify   *tu.MockCatalog
	youtube   *tu.MockCatalog
	clock     *clock
}

func setup(t *testing.T, youtubeLimit int) *fixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	f := &fixture{
		jobs:      repositories.NewJobRepository(db),
		overrides: repositories.NewOverrideRepository(db),
		spotify:   tu.NewMockCatalog(models.Spotify),
		youtube:   tu.NewMockCatalog(models.YouTube),
		clock:     &clock{now: day1},
	}

	cfg := &shared.Config{Quota: map[string]shared.QuotaConfig{
		"youtube": {DailyLimit: youtubeLimit, Timezone: "UTC"},
	}}
	f.governor, err = quota.NewGovernor(quota.NewSQLiteStore(db), cfg, quota.WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("failed to create governor: %v", err)
	}

	catalogs := catalog.NewRegistry(f.spotify, f.youtube)
	m := matcher.New(matcher.DefaultPolicy())
	f.registry = syncs.NewRegistry(repositories.NewSyncRepository(db), catalogs, m, syncs.WithClock(f.clock.Now))
	f.engine = NewMigrationEngine(f.jobs, f.overrides, catalogs, m, f.governor,
		WithClock(f.clock.Now),
		WithSearchWorkers(3),
		WithSyncRegistry(f.registry),
	)

	f.spotify.SeedPlaylist("sp-fav", "Favorites", favorites...)
	for _, tr := range favorites {
		f.youtube.Index(onYouTube(tr))
	}
	return f
}

func (f *fixture) submit(t *testing.T, sourcePlaylistID string) *models.MigrationJob {
	t.Helper()
	job, err := f.engine.Submit(context.Background(), models.MigrationRequest{
		SourcePlatform:   models.Spotify,
		SourcePlaylistID: sourcePlaylistID,
		TargetPlatform:   models.YouTube,
	})
	if err != nil {
		t.Fatalf("failed to submit job: %v", err)
	}
	return job
}

func (f *fixture) run(t *testing.T, jobID string) *models.MigrationJob {
	t.Helper()
	job, err := f.engine.Run(context.Background(), jobID, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return job
}

func (f *fixture) used(t *testing.T) int {
	t.Helper()
	s, err := f.governor.Status(context.Background(), models.YouTube, "default")
	if err != nil {
		t.Fatalf("failed to read quota: %v", err)
	}
	return s.Used
}

func trackIDs(tracks []models.Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name    string
		req     models.MigrationRequest
		wantErr error
	}{
		{
			name:    "same platform",
			req:     models.MigrationRequest{SourcePlatform: "spotify", SourcePlaylistID: "p", TargetPlatform: "spotify"},
			wantErr: shared.ErrInvalidInput,
		},
		{
			name:    "unknown platform",
			req:     models.MigrationRequest{SourcePlatform: "tidal", SourcePlaylistID: "p", TargetPlatform: "youtube"},
			wantErr: shared.ErrInvalidPlatform,
		},
		{
			name:    "missing playlist",
			req:     models.MigrationRequest{SourcePlatform: "spotify", TargetPlatform: "youtube"},
			wantErr: shared.ErrMissingArgument,
		},
		{
			name: "bad frequency",
			req: models.MigrationRequest{
				SourcePlatform: "spotify", SourcePlaylistID: "p", TargetPlatform: "youtube",
				KeepInSync: true, Frequency: "weekly",
			},
			wantErr: shared.ErrInvalidFrequency,
		},
	}

	f := setup(t, 100)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.Submit(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("missing client", func(t *testing.T) {
		db, err := shared.NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create test database: %v", err)
		}
		defer db.Close()
		if err := shared.RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		e := NewMigrationEngine(repositories.NewJobRepository(db), nil, catalog.NewRegistry(f.spotify),
			matcher.New(matcher.DefaultPolicy()), f.governor)
		_, err = e.Submit(context.Background(), models.MigrationRequest{
			SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
		})
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("normalizes aliases", func(t *testing.T) {
		job, err := f.engine.Submit(context.Background(), models.MigrationRequest{
			SourcePlatform: "Spotify", SourcePlaylistID: "sp-fav", TargetPlatform: "ytmusic",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.TargetPlatform != models.YouTube || job.State != models.StatePending || job.CredentialID != "default" {
			t.Errorf("unexpected job: %+v", job)
		}
	})
}

func TestRun(t *testing.T) {
	t.Run("clean five track migration", func(t *testing.T) {
		f := setup(t, 100)
		job := f.run(t, f.submit(t, "sp-fav").ID)

		if job.State != models.StateCompleted || job.Outcome() != "complete" {
			t.Fatalf("expected complete, got %s (%s)", job.State, job.ErrorMessage)
		}
		if job.SuccessCount != 5 || len(job.FailedTracks) != 0 || len(job.ProcessedTrackIDs) != 5 {
			t.Errorf("unexpected counts: success=%d failed=%d processed=%d", job.SuccessCount, len(job.FailedTracks), len(job.ProcessedTrackIDs))
		}
		if job.TargetPlaylistName != "Favorites" || job.CompletedAt == nil {
			t.Errorf("unexpected target: %q completed=%v", job.TargetPlaylistName, job.CompletedAt)
		}

		want := []string{"yt-1", "yt-2", "yt-3", "yt-4", "yt-5"}
		if got := trackIDs(f.youtube.Tracks(job.TargetPlaylistID)); !slices.Equal(got, want) {
			t.Errorf("expected %v in order, got %v", want, got)
		}
		if used := f.used(t); used != 5 {
			t.Errorf("expected 5 quota units used, got %d", used)
		}

		stored, err := f.engine.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if stored.State != models.StateCompleted || stored.SuccessCount != 5 {
			t.Errorf("persisted job out of date: %s %d", stored.State, stored.SuccessCount)
		}
	})

	t.Run("custom target name", func(t *testing.T) {
		f := setup(t, 100)
		submitted, err := f.engine.Submit(context.Background(), models.MigrationRequest{
			SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
			TargetPlaylistName: "Road Trip",
		})
		if err != nil {
			t.Fatalf("failed to submit: %v", err)
		}
		job := f.run(t, submitted.ID)
		if job.TargetPlaylistName != "Road Trip" {
			t.Errorf("expected custom name, got %q", job.TargetPlaylistName)
		}
	})

	t.Run("existing target playlist is reused", func(t *testing.T) {
		f := setup(t, 100)
		f.youtube.SeedPlaylist("yt-existing", "Mine")
		submitted, err := f.engine.Submit(context.Background(), models.MigrationRequest{
			SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
			TargetPlaylistID: "yt-existing",
		})
		if err != nil {
			t.Fatalf("failed to submit: %v", err)
		}
		f.run(t, submitted.ID)
		if n := f.youtube.Calls("CreatePlaylist"); n != 0 {
			t.Errorf("expected no playlist creation, got %d", n)
		}
		if n := len(f.youtube.Tracks("yt-existing")); n != 5 {
			t.Errorf("expected 5 tracks on the existing playlist, got %d", n)
		}
	})

	t.Run("live recording is ambiguous against studio", func(t *testing.T) {
		f := setup(t, 100)
		live := models.Track{ID: "sp-6", Title: "Bohemian Rhapsody (Live at Wembley)", Artists: []string{"Queen"}, DurationMillis: 360000}
		f.spotify.SeedPlaylist("sp-mix", "Mix", append(slices.Clone(favorites[:2]), live)...)
		f.youtube.Index(models.Track{ID: "yt-studio", Title: "Bohemian Rhapsody", Artists: []string{"Queen"}, DurationMillis: 355000})

		job := f.run(t, f.submit(t, "sp-mix").ID)
		if job.State != models.StateCompleted || job.Outcome() != "partially complete" {
			t.Fatalf("expected partially complete, got %s", job.Outcome())
		}
		if len(job.FailedTracks) != 1 {
			t.Fatalf("expected one failed track, got %d", len(job.FailedTracks))
		}
		failed := job.FailedTracks[0]
		if failed.Result.Kind != models.Ambiguous || failed.Track.ID != "sp-6" {
			t.Errorf("expected ambiguous sp-6, got %+v", failed)
		}
		if len(failed.Result.Candidates) == 0 || failed.Result.Candidates[0].Track.ID != "yt-studio" {
			t.Errorf("expected studio version ranked first, got %+v", failed.Result.Candidates)
		}
		if !job.IsProcessed("sp-6") {
			t.Error("ambiguous track should be processed")
		}
		if used := f.used(t); used != 2 {
			t.Errorf("ambiguous tracks must not consume quota, used %d", used)
		}
	})

	t.Run("rejected add is a soft failure", func(t *testing.T) {
		f := setup(t, 100)
		f.youtube.Reject("yt-3", "region blocked")

		job := f.run(t, f.submit(t, "sp-fav").ID)
		if job.State != models.StateCompleted || job.SuccessCount != 4 {
			t.Fatalf("expected completion with 4 added, got %s %d", job.State, job.SuccessCount)
		}
		if len(job.FailedTracks) != 1 || job.FailedTracks[0].Reason != "region blocked" {
			t.Errorf("expected rejection reason recorded, got %+v", job.FailedTracks)
		}
		if used := f.used(t); used != 4 {
			t.Errorf("rejected add should release its unit, used %d", used)
		}
	})

	t.Run("expired credentials fail the job", func(t *testing.T) {
		f := setup(t, 100)
		f.youtube.FailNext("SearchTrack", fmt.Errorf("%w: token revoked", shared.ErrAuthExpired))

		id := f.submit(t, "sp-fav").ID
		job := f.run(t, id)
		if job.State != models.StateFailed || job.ErrorMessage == "" {
			t.Fatalf("expected failed job with message, got %s %q", job.State, job.ErrorMessage)
		}
		if _, err := f.engine.Run(context.Background(), id, nil); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("failed jobs cannot be resumed, got %v", err)
		}
	})

	t.Run("completed job is not re-run", func(t *testing.T) {
		f := setup(t, 100)
		id := f.submit(t, "sp-fav").ID
		f.run(t, id)
		searches, adds := f.youtube.Calls("SearchTrack"), f.youtube.Calls("AddTracks")

		job := f.run(t, id)
		if job.State != models.StateCompleted {
			t.Errorf("expected completed, got %s", job.State)
		}
		if f.youtube.Calls("SearchTrack") != searches || f.youtube.Calls("AddTracks") != adds {
			t.Error("re-running a completed job must not touch the catalog")
		}
	})
}

func TestQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("exhausted quota blocks before any write", func(t *testing.T) {
		f := setup(t, 100)
		resv, err := f.governor.Reserve(ctx, models.YouTube, "default", 100)
		if err != nil {
			t.Fatalf("failed to consume quota: %v", err)
		}
		if err := f.governor.Commit(ctx, resv); err != nil {
			t.Fatalf("failed to commit: %v", err)
		}

		id := f.submit(t, "sp-fav").ID
		job := f.run(t, id)
		if job.State != models.StateQuotaBlocked {
			t.Fatalf("expected quota blocked, got %s", job.State)
		}
		if len(job.ProcessedTrackIDs) != 0 {
			t.Errorf("expected empty processed set, got %v", job.ProcessedTrackIDs)
		}
		if job.TargetPlaylistID != "" || f.youtube.Calls("CreatePlaylist") != 0 || f.youtube.Calls("AddTracks") != 0 {
			t.Error("no write may happen while quota is exhausted")
		}
		wantResume := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
		if job.ResumeAfter == nil || !job.ResumeAfter.Equal(wantResume) {
			t.Errorf("expected resume at %v, got %v", wantResume, job.ResumeAfter)
		}
		if job.StatusMessage() != "quota blocked, resumes on/after 2026-03-15" {
			t.Errorf("unexpected status message %q", job.StatusMessage())
		}

		f.clock.Advance(24 * time.Hour)
		job = f.run(t, id)
		if job.State != models.StateCompleted || job.SuccessCount != 5 {
			t.Errorf("expected next-day completion, got %s with %d added", job.State, job.SuccessCount)
		}
	})

	t.Run("resume never re-adds a track", func(t *testing.T) {
		f := setup(t, 3)
		id := f.submit(t, "sp-fav").ID

		job := f.run(t, id)
		if job.State != models.StateQuotaBlocked || job.SuccessCount != 3 || len(job.ProcessedTrackIDs) != 3 {
			t.Fatalf("expected pause after 3 tracks, got %s success=%d processed=%d", job.State, job.SuccessCount, len(job.ProcessedTrackIDs))
		}

		f.clock.Advance(24 * time.Hour)
		job = f.run(t, id)
		if job.State != models.StateCompleted {
			t.Fatalf("expected completion, got %s", job.State)
		}
		want := []string{"yt-1", "yt-2", "yt-3", "yt-4", "yt-5"}
		if got := trackIDs(f.youtube.Tracks(job.TargetPlaylistID)); !slices.Equal(got, want) {
			t.Errorf("expected %v without duplicates, got %v", want, got)
		}
		if used := f.used(t); used != 2 {
			t.Errorf("expected 2 units used on day two, got %d", used)
		}
	})

	t.Run("platform quota error pauses the job", func(t *testing.T) {
		f := setup(t, 100)
		f.youtube.FailNext("AddTracks", fmt.Errorf("%w: quotaExceeded", shared.ErrQuotaExceeded))

		job := f.run(t, f.submit(t, "sp-fav").ID)
		if job.State != models.StateQuotaBlocked || job.ResumeAfter == nil {
			t.Fatalf("expected quota blocked with a resume date, got %s", job.State)
		}
		if used := f.used(t); used != 0 {
			t.Errorf("failed write should release its unit, used %d", used)
		}
	})

	t.Run("concurrent jobs share one ceiling", func(t *testing.T) {
		f := setup(t, 60)
		var ids []string
		for _, pl := range []string{"a", "b"} {
			tracks := make([]models.Track, 50)
			for i := range tracks {
				tracks[i] = models.Track{
					ID:             fmt.Sprintf("sp-%s%02d", pl, i),
					Title:          fmt.Sprintf("Song %s%02d", pl, i),
					Artists:        []string{fmt.Sprintf("Artist %s%02d", pl, i)},
					DurationMillis: 200000 + i*1000,
				}
				f.youtube.Index(onYouTube(tracks[i]))
			}
			f.spotify.SeedPlaylist("sp-"+pl, "Playlist "+pl, tracks...)
			ids = append(ids, f.submit(t, "sp-"+pl).ID)
		}

		results := make([]*models.MigrationJob, len(ids))
		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				job, err := f.engine.Run(ctx, id, nil)
				if err != nil {
					t.Errorf("run %s failed: %v", id, err)
					return
				}
				results[i] = job
			}()
		}
		wg.Wait()

		total, blocked := 0, 0
		for _, job := range results {
			if job == nil {
				t.Fatal("missing result")
			}
			if job.SuccessCount > 50 {
				t.Errorf("job %s added %d tracks", job.ID, job.SuccessCount)
			}
			total += job.SuccessCount
			if job.State == models.StateQuotaBlocked {
				blocked++
			}
		}
		if total != 60 {
			t.Errorf("expected exactly 60 adds across jobs, got %d", total)
		}
		if blocked == 0 {
			t.Error("expected at least one job to be quota blocked")
		}
		if used := f.used(t); used != 60 {
			t.Errorf("expected 60 units used, got %d", used)
		}
	})
}

func TestRecovery(t *testing.T) {
	f := setup(t, 100)
	ctx := context.Background()
	job := f.submit(t, "sp-fav")

	// Simulate a crash right after the first append was sent but before it was recorded.
	ref, err := f.youtube.CreatePlaylist(ctx, "Favorites", "")
	if err != nil {
		t.Fatalf("failed to create playlist: %v", err)
	}
	if _, err := f.youtube.AddTracks(ctx, ref.ID, []string{"yt-1"}); err != nil {
		t.Fatalf("failed to add track: %v", err)
	}
	if err := job.Transition(models.StateInProgress, day1); err != nil {
		t.Fatalf("failed to transition: %v", err)
	}
	job.TargetPlaylistID = ref.ID
	if err := f.jobs.Update(job); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	started, err := f.engine.Recover(ctx)
	if err != nil || started != 1 {
		t.Fatalf("expected one recovered job, got %d (%v)", started, err)
	}
	f.engine.wg.Wait()

	done, err := f.engine.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if done.State != models.StateCompleted || done.SuccessCount != 5 {
		t.Fatalf("expected completion with 5 tracks, got %s %d", done.State, done.SuccessCount)
	}
	want := []string{"yt-1", "yt-2", "yt-3", "yt-4", "yt-5"}
	if got := trackIDs(f.youtube.Tracks(ref.ID)); !slices.Equal(got, want) {
		t.Errorf("expected %v without duplicates, got %v", want, got)
	}
	if used := f.used(t); used != 4 {
		t.Errorf("recovered write should not consume quota, used %d", used)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending job", func(t *testing.T) {
		f := setup(t, 100)
		id := f.submit(t, "sp-fav").ID

		job, err := f.engine.Cancel(ctx, id)
		if err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if job.State != models.StateCancelled {
			t.Errorf("expected cancelled, got %s", job.State)
		}

		job = f.run(t, id)
		if job.State != models.StateCompleted || job.SuccessCount != 5 {
			t.Errorf("cancelled job should resume to completion, got %s %d", job.State, job.SuccessCount)
		}
	})

	t.Run("running job stops between tracks", func(t *testing.T) {
		f := setup(t, 100)
		id := f.submit(t, "sp-fav").ID
		f.engine.workers = 1
		f.youtube.SearchFunc = func(query models.Track, index []models.Track) []models.Track {
			if query.ID == "sp-2" {
				if _, err := f.engine.Cancel(ctx, id); err != nil {
					t.Errorf("cancel failed: %v", err)
				}
			}
			return slices.DeleteFunc(index, func(c models.Track) bool { return c.Title != query.Title })
		}

		job := f.run(t, id)
		if job.State != models.StateCancelled {
			t.Fatalf("expected cancelled, got %s", job.State)
		}
		if n := len(job.ProcessedTrackIDs); n < 1 || n >= 5 {
			t.Errorf("expected a partial run, processed %d", n)
		}

		f.youtube.SearchFunc = nil
		job = f.run(t, id)
		if job.State != models.StateCompleted || len(f.youtube.Tracks(job.TargetPlaylistID)) != 5 {
			t.Errorf("expected resumed run to finish with 5 tracks, got %s", job.State)
		}
	})

	t.Run("concurrent run is rejected", func(t *testing.T) {
		f := setup(t, 100)
		id := f.submit(t, "sp-fav").ID
		release := make(chan struct{})
		f.youtube.SearchFunc = func(query models.Track, index []models.Track) []models.Track {
			<-release
			return slices.DeleteFunc(index, func(c models.Track) bool { return c.Title != query.Title })
		}

		if err := f.engine.Start(ctx, id, nil); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if _, err := f.engine.Run(ctx, id, nil); !errors.Is(err, shared.ErrJobRunning) {
			t.Errorf("expected ErrJobRunning, got %v", err)
		}
		if !f.engine.IsRunning(id) {
			t.Error("expected job to be running")
		}
		close(release)
		f.engine.wg.Wait()

		job, err := f.engine.Get(ctx, id)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if job.State != models.StateCompleted {
			t.Errorf("expected completion, got %s", job.State)
		}
	})
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	live := models.Track{ID: "sp-6", Title: "Bohemian Rhapsody (Live at Wembley)", Artists: []string{"Queen"}, DurationMillis: 360000}
	studio := models.Track{ID: "yt-studio", Title: "Bohemian Rhapsody", Artists: []string{"Queen"}, DurationMillis: 355000}
	missing := models.Track{ID: "sp-7", Title: "Somebody to Love", Artists: []string{"Queen"}, DurationMillis: 296000}

	setupMix := func(t *testing.T) (*fixture, string) {
		f := setup(t, 100)
		f.spotify.SeedPlaylist("sp-mix", "Mix", favorites[0], live, missing)
		f.youtube.Index(studio)
		job := f.run(t, f.submit(t, "sp-mix").ID)
		if len(job.FailedTracks) != 2 {
			t.Fatalf("expected two failed tracks, got %+v", job.FailedTracks)
		}
		return f, job.ID
	}

	t.Run("resolved and newly found tracks merge into the job", func(t *testing.T) {
		f, id := setupMix(t)

		override, err := f.engine.Resolve(ctx, id, "sp-6", "yt-studio")
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if override.SourceFingerprint != live.Fingerprint() {
			t.Errorf("override keyed by the wrong fingerprint")
		}
		f.youtube.Index(onYouTube(missing))

		job, err := f.engine.RetryFailed(ctx, id, nil)
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if job.ID != id || job.State != models.StateCompleted {
			t.Fatalf("expected the same job completed, got %s %s", job.ID, job.State)
		}
		if job.SuccessCount != 3 || len(job.FailedTracks) != 0 {
			t.Errorf("expected all 3 tracks added, got success=%d failed=%d", job.SuccessCount, len(job.FailedTracks))
		}
		want := []string{"yt-1", "yt-studio", "yt-7"}
		if got := trackIDs(f.youtube.Tracks(job.TargetPlaylistID)); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("still failing tracks keep the latest result", func(t *testing.T) {
		f, id := setupMix(t)
		job, err := f.engine.RetryFailed(ctx, id, nil)
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if len(job.FailedTracks) != 2 || job.SuccessCount != 1 {
			t.Errorf("expected failures to remain, got success=%d failed=%d", job.SuccessCount, len(job.FailedTracks))
		}
	})

	t.Run("skipped tracks are not retried", func(t *testing.T) {
		f, id := setupMix(t)
		for _, src := range []string{"sp-6", "sp-7"} {
			if _, err := f.engine.Skip(ctx, id, src); err != nil {
				t.Fatalf("skip failed: %v", err)
			}
		}
		searches := f.youtube.Calls("SearchTrack")

		job, err := f.engine.RetryFailed(ctx, id, nil)
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if f.youtube.Calls("SearchTrack") != searches {
			t.Error("skipped tracks must not be searched again")
		}
		if len(job.RetryableFailures()) != 0 {
			t.Errorf("expected no retryable failures, got %d", len(job.RetryableFailures()))
		}
	})

	t.Run("errors", func(t *testing.T) {
		f, id := setupMix(t)
		if _, err := f.engine.Resolve(ctx, id, "sp-1", "yt-1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("resolving a track that did not fail: expected ErrNotFound, got %v", err)
		}
		if _, err := f.engine.Skip(ctx, id, "sp-1"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("skipping a track that did not fail: expected ErrNotFound, got %v", err)
		}

		pending := f.submit(t, "sp-fav")
		if _, err := f.engine.RetryFailed(ctx, pending.ID, nil); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState for a pending job, got %v", err)
		}
	})
}

func TestRevert(t *testing.T) {
	ctx := context.Background()

	t.Run("removes exactly the added tracks", func(t *testing.T) {
		f := setup(t, 100)
		f.youtube.SeedPlaylist("yt-existing", "Mine", models.Track{ID: "yt-keep", Title: "Keep Me"})
		submitted, err := f.engine.Submit(ctx, models.MigrationRequest{
			SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
			TargetPlaylistID: "yt-existing",
		})
		if err != nil {
			t.Fatalf("failed to submit: %v", err)
		}
		f.run(t, submitted.ID)

		// A track the user already removed by hand must not fail the revert.
		if err := f.youtube.RemoveTrack(ctx, "yt-existing", "yt-3"); err != nil {
			t.Fatalf("failed to remove track: %v", err)
		}

		if err := f.engine.Revert(ctx, submitted.ID); err != nil {
			t.Fatalf("revert failed: %v", err)
		}
		if got := trackIDs(f.youtube.Tracks("yt-existing")); !slices.Equal(got, []string{"yt-keep"}) {
			t.Errorf("expected only the pre-existing track, got %v", got)
		}
		if _, err := f.engine.Get(ctx, submitted.ID); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected reverted job to be discarded, got %v", err)
		}
	})

	t.Run("quota exhaustion keeps the remaining tracks", func(t *testing.T) {
		f := setup(t, 7)
		id := f.submit(t, "sp-fav").ID
		job := f.run(t, id)

		err := f.engine.Revert(ctx, id)
		if !errors.Is(err, shared.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}
		stored, err := f.engine.Get(ctx, id)
		if err != nil {
			t.Fatalf("job should survive a partial revert: %v", err)
		}
		if len(stored.AddedTracks) != 3 {
			t.Errorf("expected 3 tracks left to remove, got %d", len(stored.AddedTracks))
		}

		f.clock.Advance(24 * time.Hour)
		if err := f.engine.Revert(ctx, id); err != nil {
			t.Fatalf("second revert failed: %v", err)
		}
		if n := len(f.youtube.Tracks(job.TargetPlaylistID)); n != 0 {
			t.Errorf("expected an empty playlist, got %d tracks", n)
		}
	})
}

func TestKeepInSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)

	submitted, err := f.engine.Submit(ctx, models.MigrationRequest{
		SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
		KeepInSync: true, Frequency: "hourly",
	})
	if err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	job := f.run(t, submitted.ID)
	if job.SyncRegistrationID == "" {
		t.Fatal("expected a sync registration")
	}

	reg, err := f.registry.Get(job.SyncRegistrationID)
	if err != nil {
		t.Fatalf("failed to get registration: %v", err)
	}
	if len(reg.KnownTracks) != 5 || reg.KnownTracks[favorites[1].Fingerprint()].TargetTrackID != "yt-2" {
		t.Fatalf("expected seeded fingerprints with target ids, got %+v", reg.KnownTracks)
	}

	sched := NewScheduler(f.engine, time.Minute, nil)
	if n := sched.Tick(ctx); n != 0 {
		t.Errorf("nothing is due yet, started %d", n)
	}

	added := models.Track{ID: "sp-8", Title: "Speed of Sound", Artists: []string{"Coldplay"}, DurationMillis: 288000}
	f.youtube.Index(onYouTube(added))
	f.spotify.SetTracks("sp-fav", favorites[0], favorites[2], favorites[3], favorites[4], added)
	f.clock.Advance(time.Hour)

	if n := sched.Tick(ctx); n != 1 {
		t.Fatalf("expected one sync run, started %d", n)
	}
	f.engine.wg.Wait()

	runs, err := f.engine.List(ctx, map[string]any{"kind": string(models.KindSync)})
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one sync job, got %d (%v)", len(runs), err)
	}
	syncJob := runs[0]
	if syncJob.State != models.StateCompleted || syncJob.SuccessCount != 1 {
		t.Errorf("expected sync job to add one track, got %s %d", syncJob.State, syncJob.SuccessCount)
	}

	want := []string{"yt-1", "yt-3", "yt-4", "yt-5", "yt-8"}
	if got := trackIDs(f.youtube.Tracks(job.TargetPlaylistID)); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	reg, err = f.registry.Get(reg.ID)
	if err != nil {
		t.Fatalf("failed to get registration: %v", err)
	}
	if reg.PendingJobID != "" || len(reg.KnownTracks) != 5 || !reg.LastRunAt.Equal(f.clock.Now()) {
		t.Errorf("registration not updated: pending=%q known=%d last=%v", reg.PendingJobID, len(reg.KnownTracks), reg.LastRunAt)
	}
	if reg.KnownTracks[added.Fingerprint()].TargetTrackID != "yt-8" {
		t.Error("expected the added track's target id to be remembered")
	}

	diff, err := f.registry.ComputeDiff(ctx, reg)
	if err != nil {
		t.Fatalf("failed to diff: %v", err)
	}
	if !diff.Empty() {
		t.Errorf("expected no drift after applying the diff, got %+v", diff)
	}
}

func TestScheduler(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 2)
	id := f.submit(t, "sp-fav").ID
	if job := f.run(t, id); job.State != models.StateQuotaBlocked {
		t.Fatalf("expected quota blocked, got %s", job.State)
	}

	sched := NewScheduler(f.engine, time.Minute, nil)
	if n := sched.Tick(ctx); n != 0 {
		t.Errorf("blocked job resumed before its reset, started %d", n)
	}

	f.clock.Advance(12 * time.Hour)
	if n := sched.Tick(ctx); n != 1 {
		t.Fatalf("expected the blocked job to resume, started %d", n)
	}
	f.engine.wg.Wait()

	job, err := f.engine.Get(ctx, id)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if job.State != models.StateQuotaBlocked || job.SuccessCount != 4 {
		t.Errorf("expected a second partial day, got %s with %d added", job.State, job.SuccessCount)
	}
}

func TestShutdownLeavesJobForRecovery(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)
	id := f.submit(t, "sp-fav").ID
	f.engine.workers = 1
	f.youtube.SearchFunc = func(query models.Track, index []models.Track) []models.Track {
		if query.ID == "sp-3" {
			expired, cancel := context.WithCancel(ctx)
			cancel()
			f.engine.Shutdown(expired)
		}
		return slices.DeleteFunc(index, func(c models.Track) bool { return c.Title != query.Title })
	}

	job := f.run(t, id)
	if job.State != models.StateInProgress {
		t.Fatalf("expected the job to stay in progress, got %s", job.State)
	}
	if n := len(job.ProcessedTrackIDs); n < 1 || n >= 5 {
		t.Fatalf("expected a partial run, processed %d", n)
	}

	f.youtube.SearchFunc = nil
	started, err := f.engine.Recover(ctx)
	if err != nil || started != 1 {
		t.Fatalf("expected one recovered job, got %d (%v)", started, err)
	}
	f.engine.wg.Wait()

	job, err = f.engine.Get(ctx, id)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if job.State != models.StateCompleted || job.SuccessCount != 5 {
		t.Fatalf("expected completion with 5 tracks, got %s %d", job.State, job.SuccessCount)
	}
	want := []string{"yt-1", "yt-2", "yt-3", "yt-4", "yt-5"}
	if got := trackIDs(f.youtube.Tracks(job.TargetPlaylistID)); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if used := f.used(t); used != 5 {
		t.Errorf("expected 5 units used, got %d", used)
	}
}

func TestUnmatchedRunCreatesNoPlaylist(t *testing.T) {
	f := setup(t, 100)
	f.spotify.SeedPlaylist("sp-rare", "Rare", models.Track{ID: "sp-9", Title: "Unreleased Demo", Artists: []string{"Nobody"}})

	job := f.run(t, f.submit(t, "sp-rare").ID)
	if job.State != models.StateCompleted || len(job.FailedTracks) != 1 {
		t.Fatalf("expected completion with one failed track, got %s %d", job.State, len(job.FailedTracks))
	}
	if job.TargetPlaylistID != "" {
		t.Errorf("expected no target playlist, got %q", job.TargetPlaylistID)
	}
	if n := f.youtube.Calls("CreatePlaylist"); n != 0 {
		t.Errorf("expected no playlist creation, got %d", n)
	}
}

func TestRevertKeepsPreexistingCopies(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 100)
	f.youtube.SeedPlaylist("yt-existing", "Mine", onYouTube(favorites[0]))
	submitted, err := f.engine.Submit(ctx, models.MigrationRequest{
		SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
		TargetPlaylistID: "yt-existing",
	})
	if err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	f.run(t, submitted.ID)
	if n := len(f.youtube.Tracks("yt-existing")); n != 6 {
		t.Fatalf("expected 6 tracks before revert, got %d", n)
	}

	if err := f.engine.Revert(ctx, submitted.ID); err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if got := trackIDs(f.youtube.Tracks("yt-existing")); !slices.Equal(got, []string{"yt-1"}) {
		t.Errorf("expected the user's own copy to survive, got %v", got)
	}
}

// keepFavoritesInSync migrates sp-fav with keep-in-sync and returns the registration.
func keepFavoritesInSync(t *testing.T, f *fixture) *models.SyncRegistration {
	t.Helper()
	submitted, err := f.engine.Submit(context.Background(), models.MigrationRequest{
		SourcePlatform: models.Spotify, SourcePlaylistID: "sp-fav", TargetPlatform: models.YouTube,
		KeepInSync: true, Frequency: "hourly",
	})
	if err != nil {
		t.Fatalf("failed to submit: %v", err)
	}
	job := f.run(t, submitted.ID)
	reg, err := f.registry.Get(job.SyncRegistrationID)
	if err != nil {
		t.Fatalf("failed to get registration: %v", err)
	}
	return reg
}

func TestSyncJobLifecycle(t *testing.T) {
	ctx := context.Background()
	added := models.Track{ID: "sp-8", Title: "Speed of Sound", Artists: []string{"Coldplay"}, DurationMillis: 288000}

	t.Run("cancelled sync job releases its registration", func(t *testing.T) {
		f := setup(t, 100)
		reg := keepFavoritesInSync(t, f)
		f.youtube.Index(onYouTube(added))
		f.spotify.SetTracks("sp-fav", append(slices.Clone(favorites), added)...)

		job, err := f.engine.SubmitSync(ctx, reg)
		if err != nil || job == nil {
			t.Fatalf("failed to submit sync job: %v", err)
		}
		if _, err := f.engine.Cancel(ctx, job.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if _, err := f.engine.Resume(ctx, job.ID, nil); !errors.Is(err, shared.ErrInvalidState) {
			t.Errorf("expected ErrInvalidState resuming a cancelled sync job, got %v", err)
		}

		reg, err = f.registry.Get(reg.ID)
		if err != nil {
			t.Fatalf("failed to get registration: %v", err)
		}
		if reg.PendingJobID != "" {
			t.Fatalf("expected pending job cleared, got %q", reg.PendingJobID)
		}

		f.clock.Advance(time.Hour)
		rerun, err := f.engine.RunSync(ctx, reg, nil)
		if err != nil || rerun == nil {
			t.Fatalf("expected the pair to sync again, got %v", err)
		}
		if rerun.State != models.StateCompleted || rerun.SuccessCount != 1 {
			t.Errorf("expected one track added, got %s %d", rerun.State, rerun.SuccessCount)
		}
	})

	t.Run("reverted sync job is re-added on the next run", func(t *testing.T) {
		f := setup(t, 100)
		reg := keepFavoritesInSync(t, f)
		f.youtube.Index(onYouTube(added))
		f.spotify.SetTracks("sp-fav", append(slices.Clone(favorites), added)...)

		job, err := f.engine.RunSync(ctx, reg, nil)
		if err != nil || job == nil || job.SuccessCount != 1 {
			t.Fatalf("expected one track synced, got %+v (%v)", job, err)
		}
		if err := f.engine.Revert(ctx, job.ID); err != nil {
			t.Fatalf("revert failed: %v", err)
		}

		reg, err = f.registry.Get(reg.ID)
		if err != nil {
			t.Fatalf("failed to get registration: %v", err)
		}
		if _, ok := reg.KnownTracks[added.Fingerprint()]; ok {
			t.Error("reverted track should be forgotten")
		}
		diff, err := f.registry.ComputeDiff(ctx, reg)
		if err != nil {
			t.Fatalf("failed to diff: %v", err)
		}
		if len(diff.ToAdd) != 1 || diff.ToAdd[0].ID != added.ID {
			t.Errorf("expected the reverted track to be added again, got %+v", diff.ToAdd)
		}
	})
}
