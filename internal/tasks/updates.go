package tasks

import (
	"fmt"
	"time"

	"github.com/desertthunder/playbridge/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	JobID   string // Job the update belongs to
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchSource Phase = iota
	Reconcile
	MatchTracks
	CreatePlaylist
	AddTracks
	RemoveTracks
	QuotaBlocked
	Finished
)

func (p Phase) String() string {
	switch p {
	case FetchSource:
		return "fetch_source"
	case Reconcile:
		return "reconcile"
	case MatchTracks:
		return "match_tracks"
	case CreatePlaylist:
		return "create_playlist"
	case AddTracks:
		return "add_tracks"
	case RemoveTracks:
		return "remove_tracks"
	case QuotaBlocked:
		return "quota_blocked"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchSourceUpdate(job *models.MigrationJob) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   FetchSource,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching source playlist from %s...", job.SourcePlatform.DisplayName()),
	}
}

func foundPlaylistUpdate(job *models.MigrationJob, pending int) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   FetchSource,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found playlist: %s (%d tracks, %d to process)", job.SourcePlaylistName, job.TotalTracks, pending),
	}
}

func reconcileUpdate(job *models.MigrationJob, present int) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   Reconcile,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Recovering interrupted job: %d tracks already on the target playlist", present),
	}
}

func createPlaylistUpdate(job *models.MigrationJob, ref models.PlaylistRef) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   CreatePlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Playlist created: %s (ID: %s)", ref.Name, ref.ID),
		Data:    ref,
	}
}

func trackUpdate(job *models.MigrationJob, step, total int, tr models.Track, res models.MatchResult) ProgressUpdate {
	phase := AddTracks
	mark := "✓"
	if !res.IsMatched() {
		phase = MatchTracks
		mark = "✗"
	}
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s - %s", step, total, mark, tr.Artist(), tr.Title),
		Data:    res,
	}
}

func removeTrackUpdate(job *models.MigrationJob, step, total int, r models.Removal) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   RemoveTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Removing: %s", step, total, r.Title),
	}
}

func quotaBlockedUpdate(job *models.MigrationJob, resumeAt time.Time) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   QuotaBlocked,
		Message: fmt.Sprintf("%s write quota reached, resumes on/after %s", job.TargetPlatform.DisplayName(), resumeAt.Format(time.DateOnly)),
		Data:    job.Snapshot(),
	}
}

func finishedUpdate(job *models.MigrationJob) ProgressUpdate {
	return ProgressUpdate{
		JobID:   job.ID,
		Phase:   Finished,
		Step:    1,
		Total:   1,
		Message: job.StatusMessage(),
		Data:    job.Snapshot(),
	}
}
