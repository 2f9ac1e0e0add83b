package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/playbridge/internal/shared"
)

// MatchOverride pins a source track to a target track chosen by a user.
//
// Keyed by (SourceFingerprint, TargetPlatform), so the same source track resolves
// the same way in every later job and sync run.
type MatchOverride struct {
	SourceFingerprint string    `json:"sourceFingerprint"`
	TargetPlatform    Platform  `json:"targetPlatform"`
	TargetTrackID     string    `json:"targetTrackId"`
	SourceTitle       string    `json:"sourceTitle"`
	SourceArtists     []string  `json:"sourceArtists"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// NewMatchOverride pins source to targetTrackID on platform.
func NewMatchOverride(source Track, platform Platform, targetTrackID string, now time.Time) *MatchOverride {
	return &MatchOverride{
		SourceFingerprint: source.Fingerprint(),
		TargetPlatform:    platform,
		TargetTrackID:     targetTrackID,
		SourceTitle:       source.Title,
		SourceArtists:     source.Artists,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (o *MatchOverride) Key() string         { return o.SourceFingerprint + ":" + string(o.TargetPlatform) }
func (o *MatchOverride) Created() time.Time  { return o.CreatedAt }
func (o *MatchOverride) Touch(now time.Time) { o.UpdatedAt = now }

func (o *MatchOverride) Validate() error {
	if o.SourceFingerprint == "" || o.TargetTrackID == "" {
		return fmt.Errorf("%w: override needs a source fingerprint and a target track", shared.ErrInvalidInput)
	}
	_, err := ParsePlatform(string(o.TargetPlatform))
	return err
}
