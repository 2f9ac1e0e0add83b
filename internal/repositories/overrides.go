package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

const overrideColumns = `
	source_fingerprint, target_platform, target_track_id, source_title, source_artists,
	created_at, updated_at
`

// OverrideRepository implements models.Repository[*models.MatchOverride].
//
// Overrides are keyed by "<fingerprint>:<platform>", see [models.MatchOverride.Key].
type OverrideRepository struct {
	db *sql.DB
}

// NewOverrideRepository creates a new OverrideRepository with the given database connection
func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Create pins an override. Pinning the same source track again replaces the target.
func (r *OverrideRepository) Create(o *models.MatchOverride) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	artists, err := jsonColumn(o.SourceArtists)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO match_overrides (`+overrideColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_fingerprint, target_platform) DO UPDATE SET
			target_track_id = excluded.target_track_id,
			source_title = excluded.source_title,
			source_artists = excluded.source_artists,
			updated_at = excluded.updated_at
	`, o.SourceFingerprint, string(o.TargetPlatform), o.TargetTrackID, o.SourceTitle, artists, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save match override: %w", err)
	}
	return nil
}

// Update is Create; overrides are upserted.
func (r *OverrideRepository) Update(o *models.MatchOverride) error {
	return r.Create(o)
}

// Get retrieves an override by its key.
func (r *OverrideRepository) Get(key string) (*models.MatchOverride, error) {
	fingerprint, platform, err := splitOverrideKey(key)
	if err != nil {
		return nil, err
	}
	return r.Find(fingerprint, platform)
}

// Find returns the override pinned for a source fingerprint on a target platform.
func (r *OverrideRepository) Find(fingerprint string, platform models.Platform) (*models.MatchOverride, error) {
	row := r.db.QueryRow(
		`SELECT `+overrideColumns+` FROM match_overrides WHERE source_fingerprint = ? AND target_platform = ?`,
		fingerprint, string(platform),
	)
	o, err := scanOverride(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no override for %s", shared.ErrNotFound, fingerprint)
	}
	return o, err
}

// Delete removes an override by key.
func (r *OverrideRepository) Delete(key string) error {
	fingerprint, platform, err := splitOverrideKey(key)
	if err != nil {
		return err
	}
	result, err := r.db.Exec(
		`DELETE FROM match_overrides WHERE source_fingerprint = ? AND target_platform = ?`,
		fingerprint, string(platform),
	)
	if err != nil {
		return fmt.Errorf("failed to delete match override: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: no override %s", shared.ErrNotFound, key)
	}
	return nil
}

// List returns overrides, optionally filtered by "target_platform".
func (r *OverrideRepository) List(criteria map[string]any) ([]*models.MatchOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM match_overrides WHERE 1 = 1`
	args := []any{}
	if p, ok := criteria["target_platform"].(string); ok && p != "" {
		query += " AND target_platform = ?"
		args = append(args, p)
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query match overrides: %w", err)
	}
	defer rows.Close()

	var out []*models.MatchOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOverride(s scanner) (*models.MatchOverride, error) {
	var (
		o        models.MatchOverride
		platform string
		artists  sql.NullString
	)
	if err := s.Scan(&o.SourceFingerprint, &platform, &o.TargetTrackID, &o.SourceTitle, &artists, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.TargetPlatform = models.Platform(platform)
	if err := decodeJSON(artists, &o.SourceArtists); err != nil {
		return nil, err
	}
	return &o, nil
}

func splitOverrideKey(key string) (string, models.Platform, error) {
	i := strings.LastIndex(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("%w: override key %q", shared.ErrInvalidArgument, key)
	}
	return key[:i], models.Platform(key[i+1:]), nil
}
