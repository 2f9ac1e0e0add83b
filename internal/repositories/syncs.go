package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

const syncColumns = `
	id, sequence, source_platform, source_playlist_id, target_platform, target_playlist_id,
	frequency, enabled, last_run_at, known_tracks, pending_job_id, pending_tracks,
	created_at, updated_at
`

// SyncRepository implements models.Repository[*models.SyncRegistration].
//
// Registrations are hard deleted; disabling is an Update with Enabled false.
type SyncRepository struct {
	db *sql.DB
}

// NewSyncRepository creates a new SyncRepository with the given database connection
func NewSyncRepository(db *sql.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// Create inserts a registration. A second registration for the same pair is rejected.
func (r *SyncRepository) Create(reg *models.SyncRegistration) error {
	sequence, err := NextSequence(r.db, "sync_registrations")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if reg.ID == "" {
		reg.ID = shared.GenerateID()
	}
	reg.Sequence = sequence

	if err := reg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	known, err := jsonColumn(knownOrEmpty(reg.KnownTracks))
	if err != nil {
		return err
	}
	pending, err := optionalJSON(reg.PendingTracks, reg.PendingTracks == nil)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_registrations (` + syncColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.Exec(query,
		reg.ID, reg.Sequence,
		string(reg.SourcePlatform), reg.SourcePlaylistID,
		string(reg.TargetPlatform), reg.TargetPlaylistID,
		string(reg.Frequency), reg.Enabled, nullTime(reg.LastRunAt),
		known, nullString(reg.PendingJobID), pending,
		reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync registration: %w", err)
	}
	return nil
}

// Get retrieves a registration by ID
func (r *SyncRepository) Get(id string) (*models.SyncRegistration, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_registrations WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByPair finds the registration for a (source, target) playlist pair.
func (r *SyncRepository) GetByPair(sourcePlaylistID, targetPlaylistID string) (*models.SyncRegistration, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_registrations WHERE source_playlist_id = ? AND target_playlist_id = ?`
	return r.scanOne(r.db.QueryRow(query, sourcePlaylistID, targetPlaylistID))
}

// Update rewrites every mutable column of a registration.
func (r *SyncRepository) Update(reg *models.SyncRegistration) error {
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	known, err := jsonColumn(knownOrEmpty(reg.KnownTracks))
	if err != nil {
		return err
	}
	pending, err := optionalJSON(reg.PendingTracks, reg.PendingTracks == nil)
	if err != nil {
		return err
	}

	query := `
		UPDATE sync_registrations
		SET frequency = ?, enabled = ?, last_run_at = ?, known_tracks = ?,
			pending_job_id = ?, pending_tracks = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query,
		string(reg.Frequency), reg.Enabled, nullTime(reg.LastRunAt), known,
		nullString(reg.PendingJobID), pending, reg.UpdatedAt, reg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync registration: %w", err)
	}
	return expectRow(result, reg.ID)
}

// SetPending records the sync job currently applying a diff and the fingerprints it will produce.
func (r *SyncRepository) SetPending(id, jobID string, pending map[string]models.KnownTrack, now time.Time) error {
	encoded, err := jsonColumn(knownOrEmpty(pending))
	if err != nil {
		return err
	}
	result, err := r.db.Exec(
		`UPDATE sync_registrations SET pending_job_id = ?, pending_tracks = ?, updated_at = ? WHERE id = ?`,
		jobID, encoded, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark sync registration pending: %w", err)
	}
	return expectRow(result, id)
}

// Complete stores the new fingerprint set and run time in one statement and clears the pending job.
func (r *SyncRepository) Complete(id string, known map[string]models.KnownTrack, lastRunAt time.Time) error {
	encoded, err := jsonColumn(knownOrEmpty(known))
	if err != nil {
		return err
	}
	result, err := r.db.Exec(`
		UPDATE sync_registrations
		SET known_tracks = ?, last_run_at = ?, pending_job_id = NULL, pending_tracks = NULL, updated_at = ?
		WHERE id = ?
	`, encoded, lastRunAt, lastRunAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete sync registration: %w", err)
	}
	return expectRow(result, id)
}

// Delete removes a registration by ID
func (r *SyncRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sync_registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sync registration: %w", err)
	}
	return expectRow(result, id)
}

// DeleteByPlaylist removes every registration naming the playlist on either side.
func (r *SyncRepository) DeleteByPlaylist(platform models.Platform, playlistID string) (int, error) {
	result, err := r.db.Exec(`
		DELETE FROM sync_registrations
		WHERE (source_platform = ? AND source_playlist_id = ?)
		   OR (target_platform = ? AND target_playlist_id = ?)
	`, string(platform), playlistID, string(platform), playlistID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sync registrations: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Clear removes every registration.
func (r *SyncRepository) Clear() (int, error) {
	result, err := r.db.Exec(`DELETE FROM sync_registrations`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear sync registrations: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// List retrieves registrations matching the given criteria, oldest first.
//
// Supported criteria: "enabled" (bool), "source_playlist_id", "target_playlist_id".
func (r *SyncRepository) List(criteria map[string]any) ([]*models.SyncRegistration, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_registrations WHERE 1 = 1`
	args := []any{}

	if enabled, ok := criteria["enabled"].(bool); ok {
		query += " AND enabled = ?"
		args = append(args, enabled)
	}
	for _, col := range []string{"source_playlist_id", "target_playlist_id"} {
		if v, ok := criteria[col].(string); ok && v != "" {
			query += " AND " + col + " = ?"
			args = append(args, v)
		}
	}
	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync registrations: %w", err)
	}
	defer rows.Close()

	var regs []*models.SyncRegistration
	for rows.Next() {
		reg, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return regs, nil
}

func (r *SyncRepository) scanOne(row *sql.Row) (*models.SyncRegistration, error) {
	reg, err := scanSync(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrRegistrationGone
	}
	return reg, err
}

func (r *SyncRepository) scanRow(rows *sql.Rows) (*models.SyncRegistration, error) {
	return scanSync(rows)
}

func scanSync(s scanner) (*models.SyncRegistration, error) {
	var (
		reg            models.SyncRegistration
		sourcePlatform string
		targetPlatform string
		frequency      string
		lastRunAt      sql.NullTime
		known          sql.NullString
		pendingJobID   sql.NullString
		pending        sql.NullString
	)

	err := s.Scan(
		&reg.ID, &reg.Sequence, &sourcePlatform, &reg.SourcePlaylistID, &targetPlatform, &reg.TargetPlaylistID,
		&frequency, &reg.Enabled, &lastRunAt, &known, &pendingJobID, &pending,
		&reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync registration: %w", err)
	}

	reg.SourcePlatform = models.Platform(sourcePlatform)
	reg.TargetPlatform = models.Platform(targetPlatform)
	reg.Frequency = models.SyncFrequency(frequency)
	reg.LastRunAt = timePtr(lastRunAt)
	reg.PendingJobID = pendingJobID.String

	reg.KnownTracks = map[string]models.KnownTrack{}
	if err := decodeJSON(known, &reg.KnownTracks); err != nil {
		return nil, fmt.Errorf("sync registration %s: %w", reg.ID, err)
	}
	if err := decodeJSON(pending, &reg.PendingTracks); err != nil {
		return nil, fmt.Errorf("sync registration %s: %w", reg.ID, err)
	}
	return &reg, nil
}

func knownOrEmpty(m map[string]models.KnownTrack) map[string]models.KnownTrack {
	if m == nil {
		return map[string]models.KnownTrack{}
	}
	return m
}

func expectRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrRegistrationGone, id)
	}
	return nil
}
