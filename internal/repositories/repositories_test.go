package repositories

import (
	"database/sql"
	"testing"
	"time"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func newJob() *models.MigrationJob {
	return models.NewMigrationJob(models.MigrationRequest{
		SourcePlatform:   models.Spotify,
		SourcePlaylistID: "sp-playlist",
		TargetPlatform:   models.YouTube,
	}, "default", now)
}

func newRegistration() *models.SyncRegistration {
	return &models.SyncRegistration{
		SourcePlatform:   models.Spotify,
		SourcePlaylistID: "sp-playlist",
		TargetPlatform:   models.YouTube,
		TargetPlaylistID: "yt-playlist",
		Frequency:        models.Daily,
		Enabled:          true,
		KnownTracks:      map[string]models.KnownTrack{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(db, "migration_jobs")
		if err != nil {
			t.Fatalf("failed to get sequence: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}
}

func TestJobRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := newJob()

		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if job.ID == "" {
			t.Error("job ID should be set after creation")
		}
		if job.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", job.Sequence)
		}
	})

	t.Run("Get round-trips progress", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := newJob()
		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		track := models.Track{ID: "t1", Title: "Yellow", Artists: []string{"Coldplay"}, DurationMillis: 269000}
		job.TargetPlaylistID = "yt-1"
		job.TotalTracks = 2
		job.Transition(models.StateInProgress, now)
		job.RecordAdded(track, "v1", "")
		job.MarkProcessed("t1")
		job.RecordFailure(models.Track{ID: "t2", Title: "Obscure"}, models.NewUnmatched("no candidates found"), "no candidates found")
		job.MarkProcessed("t2")
		resume := now.Add(12 * time.Hour)
		job.Transition(models.StateQuotaBlocked, now)
		job.ResumeAfter = &resume

		if err := repo.Update(job); err != nil {
			t.Fatalf("failed to update job: %v", err)
		}

		got, err := repo.Get(job.ID)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}

		if got.State != models.StateQuotaBlocked {
			t.Errorf("expected quota_blocked, got %s", got.State)
		}
		if got.TargetPlaylistID != "yt-1" {
			t.Errorf("expected target yt-1, got %q", got.TargetPlaylistID)
		}
		if !got.IsProcessed("t1") || !got.IsProcessed("t2") {
			t.Errorf("processed set not restored: %v", got.ProcessedTrackIDs)
		}
		if got.SuccessCount != 1 || len(got.AddedTracks) != 1 || got.AddedTracks[0].TargetTrackID != "v1" {
			t.Errorf("added tracks not restored: %+v", got.AddedTracks)
		}
		if len(got.FailedTracks) != 1 || got.FailedTracks[0].Result.Kind != models.Unmatched {
			t.Errorf("failed tracks not restored: %+v", got.FailedTracks)
		}
		if got.ResumeAfter == nil || !got.ResumeAfter.Equal(resume) {
			t.Errorf("expected resume after %v, got %v", resume, got.ResumeAfter)
		}
	})

	t.Run("Sync job work list", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := newJob()
		job.Kind = models.KindSync
		job.SyncRegistrationID = "reg-1"
		job.WorkTracks = []models.Track{{ID: "t9", Title: "New Song", Artists: []string{"Band"}}}
		job.Removals = []models.Removal{{Fingerprint: "fp", TargetTrackID: "v7", Title: "Old Song"}}
		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		got, err := repo.Get(job.ID)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if len(got.WorkTracks) != 1 || got.WorkTracks[0].ID != "t9" {
			t.Errorf("work tracks not restored: %+v", got.WorkTracks)
		}
		if len(got.Removals) != 1 || got.Removals[0].TargetTrackID != "v7" {
			t.Errorf("removals not restored: %+v", got.Removals)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := newJob()
		if err := repo.Create(job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if err := repo.Delete(job.ID); err != nil {
			t.Fatalf("failed to delete job: %v", err)
		}
		if _, err := repo.Get(job.ID); err == nil {
			t.Error("expected error getting a discarded job")
		}
	})

	t.Run("List", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		states := []models.JobState{models.StatePending, models.StateInProgress, models.StateInProgress}
		for _, s := range states {
			job := newJob()
			job.State = s
			if err := repo.Create(job); err != nil {
				t.Fatalf("failed to create job: %v", err)
			}
		}

		all, err := repo.List(map[string]any{})
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 jobs, got %d", len(all))
		}
		if all[0].Sequence < all[1].Sequence {
			t.Error("expected newest first")
		}

		running, err := repo.List(map[string]any{"state": string(models.StateInProgress)})
		if err != nil {
			t.Fatalf("failed to list jobs: %v", err)
		}
		if len(running) != 2 {
			t.Errorf("expected 2 in-progress jobs, got %d", len(running))
		}

		either, _ := repo.List(map[string]any{"state": []models.JobState{models.StatePending, models.StateInProgress}, "limit": 2})
		if len(either) != 2 {
			t.Errorf("expected limit to apply, got %d", len(either))
		}

		stats, err := repo.Stats()
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats[models.StateInProgress] != 2 || stats[models.StatePending] != 1 {
			t.Errorf("unexpected stats: %v", stats)
		}
	})
}

func TestSyncRepository(t *testing.T) {
	t.Run("Create and GetByPair", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRepository(db)
		reg := newRegistration()
		reg.KnownTracks["fp1"] = models.KnownTrack{Title: "Yellow", Artists: []string{"Coldplay"}, TargetTrackID: "v1"}
		if err := repo.Create(reg); err != nil {
			t.Fatalf("failed to create registration: %v", err)
		}

		got, err := repo.GetByPair("sp-playlist", "yt-playlist")
		if err != nil {
			t.Fatalf("failed to get registration: %v", err)
		}
		if got.ID != reg.ID {
			t.Errorf("expected ID %s, got %s", reg.ID, got.ID)
		}
		if got.LastRunAt != nil {
			t.Error("expected a registration that never ran")
		}
		if got.KnownTracks["fp1"].TargetTrackID != "v1" {
			t.Errorf("known tracks not restored: %+v", got.KnownTracks)
		}
	})

	t.Run("Pending then Complete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRepository(db)
		reg := newRegistration()
		if err := repo.Create(reg); err != nil {
			t.Fatalf("failed to create registration: %v", err)
		}

		pending := map[string]models.KnownTrack{"fp2": {Title: "New"}}
		if err := repo.SetPending(reg.ID, "job-1", pending, now); err != nil {
			t.Fatalf("failed to set pending: %v", err)
		}
		got, _ := repo.Get(reg.ID)
		if got.PendingJobID != "job-1" || len(got.PendingTracks) != 1 {
			t.Errorf("pending state not stored: %+v", got)
		}
		if got.Due(now.Add(48 * time.Hour)) {
			t.Error("a registration with a pending job must not be due")
		}

		ran := now.Add(time.Hour)
		if err := repo.Complete(reg.ID, pending, ran); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}
		got, _ = repo.Get(reg.ID)
		if got.PendingJobID != "" || got.PendingTracks != nil {
			t.Error("complete should clear the pending job")
		}
		if got.LastRunAt == nil || !got.LastRunAt.Equal(ran) {
			t.Errorf("expected last run %v, got %v", ran, got.LastRunAt)
		}
		if _, ok := got.KnownTracks["fp2"]; !ok {
			t.Errorf("expected fingerprints to be replaced, got %v", got.Fingerprints())
		}
	})

	t.Run("List and delete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRepository(db)
		a := newRegistration()
		b := newRegistration()
		b.TargetPlaylistID = "yt-other"
		b.Enabled = false
		for _, r := range []*models.SyncRegistration{a, b} {
			if err := repo.Create(r); err != nil {
				t.Fatalf("failed to create registration: %v", err)
			}
		}

		enabled, err := repo.List(map[string]any{"enabled": true})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(enabled) != 1 || enabled[0].ID != a.ID {
			t.Errorf("expected only the enabled registration, got %d", len(enabled))
		}

		n, err := repo.DeleteByPlaylist(models.YouTube, "yt-other")
		if err != nil || n != 1 {
			t.Fatalf("expected 1 deletion, got %d (%v)", n, err)
		}

		n, err = repo.Clear()
		if err != nil || n != 1 {
			t.Fatalf("expected 1 cleared, got %d (%v)", n, err)
		}
	})
}

func TestOverrideRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOverrideRepository(db)
	source := models.Track{ID: "t1", Title: "Song (Live at Wembley)", Artists: []string{"Band"}}

	o := models.NewMatchOverride(source, models.YouTube, "v-live", now)
	if err := repo.Create(o); err != nil {
		t.Fatalf("failed to create override: %v", err)
	}

	o2 := models.NewMatchOverride(source, models.YouTube, "v-studio", now.Add(time.Minute))
	if err := repo.Create(o2); err != nil {
		t.Fatalf("failed to replace override: %v", err)
	}

	got, err := repo.Find(source.Fingerprint(), models.YouTube)
	if err != nil {
		t.Fatalf("failed to find override: %v", err)
	}
	if got.TargetTrackID != "v-studio" {
		t.Errorf("expected replaced target, got %s", got.TargetTrackID)
	}

	byKey, err := repo.Get(o.Key())
	if err != nil || byKey.TargetTrackID != "v-studio" {
		t.Errorf("expected lookup by key, got %v (%v)", byKey, err)
	}

	all, _ := repo.List(map[string]any{"target_platform": "youtube"})
	if len(all) != 1 {
		t.Errorf("expected one override, got %d", len(all))
	}

	if err := repo.Delete(o.Key()); err != nil {
		t.Fatalf("failed to delete override: %v", err)
	}
	if _, err := repo.Find(source.Fingerprint(), models.YouTube); err == nil {
		t.Error("expected override to be gone")
	}
}
