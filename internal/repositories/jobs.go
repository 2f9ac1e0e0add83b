package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

const jobColumns = `
	id, sequence, kind, source_platform, source_playlist_id, source_playlist_name,
	target_platform, target_playlist_id, target_playlist_name, credential_id, state,
	processed_track_ids, added_tracks, failed_tracks, work_tracks, removals,
	success_count, total_tracks, sync_registration_id, keep_in_sync, frequency,
	error_message, resume_after, created_at, updated_at, completed_at, deleted_at
`

// JobRepository implements models.Repository[*models.MigrationJob].
//
// The processed set, added tracks and failed tracks are stored as JSON columns and written
// together with the state in a single UPDATE, so a reader never observes a half-recorded track.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job with a generated ID and sequence
func (r *JobRepository) Create(job *models.MigrationJob) error {
	sequence, err := NextSequence(r.db, "migration_jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if job.ID == "" {
		job.ID = shared.GenerateID()
	}
	job.Sequence = sequence

	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	args, err := jobArgs(job)
	if err != nil {
		return err
	}

	query := `INSERT INTO migration_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	full := append([]any{job.ID, job.Sequence}, args...)
	full = append(full, job.CreatedAt, job.UpdatedAt, nullTime(job.CompletedAt), nullTime(job.DeletedAt))
	if _, err := r.db.Exec(query, full...); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID, excluding discarded jobs
func (r *JobRepository) Get(id string) (*models.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, id))
}

// Update persists the job's progress and state.
func (r *JobRepository) Update(job *models.MigrationJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if job.UpdatedAt.IsZero() {
		job.Touch(time.Now())
	}

	args, err := jobArgs(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE migration_jobs
		SET kind = ?, source_platform = ?, source_playlist_id = ?, source_playlist_name = ?,
			target_platform = ?, target_playlist_id = ?, target_playlist_name = ?, credential_id = ?,
			state = ?, processed_track_ids = ?, added_tracks = ?, failed_tracks = ?,
			work_tracks = ?, removals = ?, success_count = ?, total_tracks = ?,
			sync_registration_id = ?, keep_in_sync = ?, frequency = ?, error_message = ?,
			resume_after = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	args = append(args, job.UpdatedAt, nullTime(job.CompletedAt), job.ID)
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, job.ID)
	}
	return nil
}

// Delete soft-deletes a job by ID. Discarded jobs are invisible to Get and List.
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE migration_jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return nil
}

// List retrieves jobs matching the given criteria, newest first.
//
// Supported criteria: "state" (string or []models.JobState), "kind", "source_playlist_id",
// "sync_registration_id" and "limit" (int).
func (r *JobRepository) List(criteria map[string]any) ([]*models.MigrationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM migration_jobs WHERE deleted_at IS NULL`
	args := []any{}

	switch state := criteria["state"].(type) {
	case string:
		if state != "" {
			query += " AND state = ?"
			args = append(args, state)
		}
	case models.JobState:
		query += " AND state = ?"
		args = append(args, string(state))
	case []models.JobState:
		if len(state) > 0 {
			query += " AND state IN (?" + strings.Repeat(", ?", len(state)-1) + ")"
			for _, s := range state {
				args = append(args, string(s))
			}
		}
	}

	for _, col := range []string{"kind", "source_playlist_id", "sync_registration_id"} {
		if v, ok := criteria[col].(string); ok && v != "" {
			query += " AND " + col + " = ?"
			args = append(args, v)
		}
	}

	query += " ORDER BY sequence DESC"
	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.MigrationJob
	for rows.Next() {
		job, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// Stats counts live jobs per state.
func (r *JobRepository) Stats() (map[models.JobState]int, error) {
	rows, err := r.db.Query(`SELECT state, COUNT(*) FROM migration_jobs WHERE deleted_at IS NULL GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	stats := make(map[models.JobState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		stats[models.JobState(state)] = n
	}
	return stats, rows.Err()
}

// jobArgs returns the mutable columns in UPDATE order, kind through resume_after.
func jobArgs(job *models.MigrationJob) ([]any, error) {
	processed, err := jsonColumn(job.ProcessedTrackIDs)
	if err != nil {
		return nil, err
	}
	added, err := jsonColumn(job.AddedTracks)
	if err != nil {
		return nil, err
	}
	failed, err := jsonColumn(job.FailedTracks)
	if err != nil {
		return nil, err
	}
	work, err := optionalJSON(job.WorkTracks, len(job.WorkTracks) == 0)
	if err != nil {
		return nil, err
	}
	removals, err := optionalJSON(job.Removals, len(job.Removals) == 0)
	if err != nil {
		return nil, err
	}

	return []any{
		string(job.Kind), string(job.SourcePlatform), job.SourcePlaylistID, nullString(job.SourcePlaylistName),
		string(job.TargetPlatform), nullString(job.TargetPlaylistID), nullString(job.TargetPlaylistName), job.CredentialID,
		string(job.State), processed, added, failed,
		work, removals, job.SuccessCount, job.TotalTracks,
		nullString(job.SyncRegistrationID), job.KeepInSync, nullString(string(job.Frequency)), nullString(job.ErrorMessage),
		nullTime(job.ResumeAfter),
	}, nil
}

// scanOne scans a single [sql.Row] into a [models.MigrationJob]
func (r *JobRepository) scanOne(row *sql.Row) (*models.MigrationJob, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrJobNotFound
	}
	return job, err
}

// scanRow scans a row from [sql.Rows] into a [models.MigrationJob]
func (r *JobRepository) scanRow(rows *sql.Rows) (*models.MigrationJob, error) {
	return scanJob(rows)
}

func scanJob(s scanner) (*models.MigrationJob, error) {
	var (
		job                models.MigrationJob
		kind, state        string
		sourcePlatform     string
		targetPlatform     string
		sourcePlaylistName sql.NullString
		targetPlaylistID   sql.NullString
		targetPlaylistName sql.NullString
		processed, added   sql.NullString
		failed, work       sql.NullString
		removals           sql.NullString
		syncID, frequency  sql.NullString
		errorMessage       sql.NullString
		resumeAfter        sql.NullTime
		completedAt        sql.NullTime
		deletedAt          sql.NullTime
	)

	err := s.Scan(
		&job.ID, &job.Sequence, &kind, &sourcePlatform, &job.SourcePlaylistID, &sourcePlaylistName,
		&targetPlatform, &targetPlaylistID, &targetPlaylistName, &job.CredentialID, &state,
		&processed, &added, &failed, &work, &removals,
		&job.SuccessCount, &job.TotalTracks, &syncID, &job.KeepInSync, &frequency,
		&errorMessage, &resumeAfter, &job.CreatedAt, &job.UpdatedAt, &completedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Kind = models.JobKind(kind)
	job.State = models.JobState(state)
	job.SourcePlatform = models.Platform(sourcePlatform)
	job.TargetPlatform = models.Platform(targetPlatform)
	job.SourcePlaylistName = sourcePlaylistName.String
	job.TargetPlaylistID = targetPlaylistID.String
	job.TargetPlaylistName = targetPlaylistName.String
	job.SyncRegistrationID = syncID.String
	job.Frequency = models.SyncFrequency(frequency.String)
	job.ErrorMessage = errorMessage.String
	job.ResumeAfter = timePtr(resumeAfter)
	job.CompletedAt = timePtr(completedAt)
	job.DeletedAt = timePtr(deletedAt)

	job.ProcessedTrackIDs = []string{}
	job.AddedTracks = []models.AddedTrack{}
	job.FailedTracks = []models.FailedTrack{}
	for _, col := range []struct {
		raw sql.NullString
		v   any
	}{
		{processed, &job.ProcessedTrackIDs},
		{added, &job.AddedTracks},
		{failed, &job.FailedTracks},
		{work, &job.WorkTracks},
		{removals, &job.Removals},
	} {
		if err := decodeJSON(col.raw, col.v); err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}

	return &job, nil
}
