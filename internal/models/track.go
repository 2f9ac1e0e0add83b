package models

import (
	"strings"

	"github.com/desertthunder/playbridge/internal/shared"
)

// Track is an immutable description of a recording on one platform.
//
// Equality across platforms is never exact; see the matcher package.
type Track struct {
	ID             string   `json:"id"` // platform specific id
	Title          string   `json:"title"`
	Artists        []string `json:"artists"`
	Album          string   `json:"album,omitempty"`
	DurationMillis int      `json:"durationMillis,omitempty"` // 0 when unknown
	ISRC           string   `json:"isrc,omitempty"`
}

// Artist returns the credited artists joined for display.
func (t Track) Artist() string {
	return strings.Join(t.Artists, ", ")
}

// HasDuration reports whether the duration is known.
func (t Track) HasDuration() bool {
	return t.DurationMillis > 0
}

// Fingerprint is the stable metadata hash used for sync diffs and overrides.
func (t Track) Fingerprint() string {
	return shared.Fingerprint(t.Title, t.Artists)
}

// PlaylistRef is a read-only snapshot of a playlist fetched from a catalog.
type PlaylistRef struct {
	Platform    Platform `json:"platform"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	TrackCount  int      `json:"trackCount"`
	Public      bool     `json:"public"`
}

// AddOutcome is the per-track result of adding to a playlist.
type AddOutcome struct {
	TrackID  string `json:"trackId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`

	// EntryID identifies the inserted playlist entry on platforms that issue one.
	EntryID string `json:"entryId,omitempty"`
}

// AddResult reports, per submitted track id, whether the platform accepted it.
type AddResult struct {
	Outcomes []AddOutcome `json:"outcomes"`
}

// Outcome returns the outcome for a track id.
func (r AddResult) Outcome(trackID string) (AddOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.TrackID == trackID {
			return o, true
		}
	}
	return AddOutcome{}, false
}

// Accepted counts accepted tracks.
func (r AddResult) Accepted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Accepted {
			n++
		}
	}
	return n
}
