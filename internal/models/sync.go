package models

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/desertthunder/playbridge/internal/shared"
)

// SyncFrequency is how often a registered pair is re-synced.
type SyncFrequency string

const (
	Hourly      SyncFrequency = "hourly"
	Every3Hours SyncFrequency = "every-3-hours"
	Daily       SyncFrequency = "daily"
)

// ParseFrequency validates a frequency string. "3h" and "every_3_hours" are accepted aliases.
func ParseFrequency(s string) (SyncFrequency, error) {
	switch s {
	case "hourly", "1h":
		return Hourly, nil
	case "every-3-hours", "every_3_hours", "3h":
		return Every3Hours, nil
	case "daily", "24h":
		return Daily, nil
	default:
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidFrequency, s)
	}
}

// Interval returns the period between runs.
func (f SyncFrequency) Interval() time.Duration {
	switch f {
	case Hourly:
		return time.Hour
	case Every3Hours:
		return 3 * time.Hour
	case Daily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// KnownTrack is what the registry remembers about one source track it has synced.
type KnownTrack struct {
	Title         string   `json:"title"`
	Artists       []string `json:"artists"`
	TargetTrackID string   `json:"targetTrackId,omitempty"`
}

// SyncRegistration is a persisted "keep in sync" pair.
//
// KnownTracks and LastRunAt are always written together.
type SyncRegistration struct {
	ID               string                `json:"id"`
	Sequence         int                   `json:"-"`
	SourcePlatform   Platform              `json:"sourcePlatform"`
	SourcePlaylistID string                `json:"sourcePlaylistId"`
	TargetPlatform   Platform              `json:"targetPlatform"`
	TargetPlaylistID string                `json:"targetPlaylistId"`
	Frequency        SyncFrequency         `json:"frequency"`
	Enabled          bool                  `json:"enabled"`
	LastRunAt        *time.Time            `json:"lastRunAt,omitempty"`
	KnownTracks      map[string]KnownTrack `json:"knownTracks"`
	PendingJobID     string                `json:"pendingJobId,omitempty"`
	PendingTracks    map[string]KnownTrack `json:"-"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

func (s *SyncRegistration) Key() string         { return s.ID }
func (s *SyncRegistration) Created() time.Time  { return s.CreatedAt }
func (s *SyncRegistration) Touch(now time.Time) { s.UpdatedAt = now }

func (s *SyncRegistration) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: registration id is required", shared.ErrInvalidInput)
	}
	if s.SourcePlaylistID == "" || s.TargetPlaylistID == "" {
		return fmt.Errorf("%w: source and target playlist ids are required", shared.ErrInvalidInput)
	}
	if _, err := ParsePlatform(string(s.SourcePlatform)); err != nil {
		return err
	}
	if _, err := ParsePlatform(string(s.TargetPlatform)); err != nil {
		return err
	}
	if _, err := ParseFrequency(string(s.Frequency)); err != nil {
		return err
	}
	return nil
}

// Due reports whether the pair should run at now. A pair that never ran is always due.
func (s *SyncRegistration) Due(now time.Time) bool {
	if !s.Enabled || s.PendingJobID != "" {
		return false
	}
	if s.LastRunAt == nil {
		return true
	}
	return !s.LastRunAt.Add(s.Frequency.Interval()).After(now)
}

// Fingerprints returns the sorted known fingerprint set.
func (s *SyncRegistration) Fingerprints() []string {
	return slices.Sorted(maps.Keys(s.KnownTracks))
}

// NextRunAt is when the pair next becomes due, nil when it has never run.
func (s *SyncRegistration) NextRunAt() *time.Time {
	if s.LastRunAt == nil {
		return nil
	}
	next := s.LastRunAt.Add(s.Frequency.Interval())
	return &next
}
