package models

import (
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/playbridge/internal/shared"
)

// JobState is the lifecycle state of a [MigrationJob].
type JobState string

const (
	StatePending      JobState = "pending"
	StateInProgress   JobState = "in_progress"
	StateQuotaBlocked JobState = "quota_blocked"
	StateCancelled    JobState = "cancelled"
	StateCompleted    JobState = "completed"
	StateFailed       JobState = "failed"
)

var transitions = map[JobState][]JobState{
	StatePending:      {StateInProgress, StateCancelled},
	StateInProgress:   {StateInProgress, StateCompleted, StateQuotaBlocked, StateCancelled, StateFailed},
	StateQuotaBlocked: {StateInProgress, StateCancelled},
	StateCancelled:    {StateInProgress},
	StateCompleted:    {StateInProgress}, // retry-failed re-enters the loop
	StateFailed:       {},
}

// ParseJobState validates a state string.
func ParseJobState(s string) (JobState, error) {
	state := JobState(s)
	if _, ok := transitions[state]; !ok {
		return "", fmt.Errorf("%w: unknown job state %q", shared.ErrInvalidInput, s)
	}
	return state, nil
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobState) CanTransition(next JobState) bool {
	return slices.Contains(transitions[s], next)
}

// Resumable reports whether a run may pick the job up again.
func (s JobState) Resumable() bool {
	switch s {
	case StatePending, StateQuotaBlocked, StateCancelled, StateInProgress:
		return true
	}
	return false
}

// JobKind distinguishes one-shot migrations from incremental sync runs.
type JobKind string

const (
	KindMigration JobKind = "migration"
	KindSync      JobKind = "sync"
)

// AddedTrack records a target track this job appended, used by revert and sync bookkeeping.
type AddedTrack struct {
	SourceTrackID string   `json:"sourceTrackId"`
	TargetTrackID string   `json:"targetTrackId"`
	EntryID       string   `json:"entryId,omitempty"`
	Fingerprint   string   `json:"fingerprint"`
	Title         string   `json:"title,omitempty"`
	Artists       []string `json:"artists,omitempty"`
}

// FailedTrack is a per-track soft failure kept for manual reconciliation.
type FailedTrack struct {
	Track   Track       `json:"track"`
	Result  MatchResult `json:"result"`
	Reason  string      `json:"reason"`
	Skipped bool        `json:"skipped,omitempty"`
}

// Removal is a target track a sync run must remove because it left the source playlist.
type Removal struct {
	Fingerprint   string   `json:"fingerprint"`
	TargetTrackID string   `json:"targetTrackId"`
	Title         string   `json:"title"`
	Artists       []string `json:"artists"`
}

// ProcessedKey is the processed-set key for a removal. A removal whose target track could not
// be located is keyed by fingerprint.
func (r Removal) ProcessedKey() string {
	if r.TargetTrackID == "" {
		return "remove:fp:" + r.Fingerprint
	}
	return "remove:" + r.TargetTrackID
}

// MigrationRequest is a caller's request to move one playlist.
type MigrationRequest struct {
	SourcePlatform     Platform      `json:"sourcePlatform"`
	SourcePlaylistID   string        `json:"sourcePlaylistId"`
	TargetPlatform     Platform      `json:"targetPlatform"`
	TargetPlaylistID   string        `json:"targetPlaylistId,omitempty"`
	TargetPlaylistName string        `json:"targetPlaylistName,omitempty"`
	KeepInSync         bool          `json:"keepInSync,omitempty"`
	Frequency          SyncFrequency `json:"frequency,omitempty"`
}

// Validate checks the request before a job is created.
func (r MigrationRequest) Validate() error {
	if _, err := ParsePlatform(string(r.SourcePlatform)); err != nil {
		return err
	}
	if _, err := ParsePlatform(string(r.TargetPlatform)); err != nil {
		return err
	}
	if r.SourcePlatform == r.TargetPlatform {
		return fmt.Errorf("%w: source and target platform must differ", shared.ErrInvalidInput)
	}
	if r.SourcePlaylistID == "" {
		return fmt.Errorf("%w: sourcePlaylistId", shared.ErrMissingArgument)
	}
	if r.KeepInSync {
		if _, err := ParseFrequency(string(r.Frequency)); err != nil {
			return err
		}
	}
	return nil
}

// MigrationJob tracks one playlist migration or sync run through its lifecycle.
//
// Only the migration engine mutates a job; everything else reads snapshots.
type MigrationJob struct {
	ID                 string        `json:"id"`
	Sequence           int           `json:"-"`
	Kind               JobKind       `json:"kind"`
	SourcePlatform     Platform      `json:"sourcePlatform"`
	SourcePlaylistID   string        `json:"sourcePlaylistId"`
	SourcePlaylistName string        `json:"sourcePlaylistName,omitempty"`
	TargetPlatform     Platform      `json:"targetPlatform"`
	TargetPlaylistID   string        `json:"targetPlaylistId,omitempty"`
	TargetPlaylistName string        `json:"targetPlaylistName,omitempty"`
	CredentialID       string        `json:"credentialId"`
	State              JobState      `json:"state"`
	ProcessedTrackIDs  []string      `json:"processedTrackIds"`
	AddedTracks        []AddedTrack  `json:"addedTracks"`
	FailedTracks       []FailedTrack `json:"failedTracks"`
	WorkTracks         []Track       `json:"workTracks,omitempty"`
	Removals           []Removal     `json:"removals,omitempty"`
	SuccessCount       int           `json:"successCount"`
	TotalTracks        int           `json:"totalTracks"`
	SyncRegistrationID string        `json:"syncRegistrationId,omitempty"`
	KeepInSync         bool          `json:"keepInSync,omitempty"`
	Frequency          SyncFrequency `json:"frequency,omitempty"`
	ErrorMessage       string        `json:"errorMessage,omitempty"`
	ResumeAfter        *time.Time    `json:"resumeAfter,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
	DeletedAt          *time.Time    `json:"-"`

	processed map[string]struct{}
}

// NewMigrationJob creates a pending job for a validated request.
func NewMigrationJob(req MigrationRequest, credentialID string, now time.Time) *MigrationJob {
	return &MigrationJob{
		Kind:               KindMigration,
		SourcePlatform:     req.SourcePlatform,
		SourcePlaylistID:   req.SourcePlaylistID,
		TargetPlatform:     req.TargetPlatform,
		TargetPlaylistID:   req.TargetPlaylistID,
		TargetPlaylistName: req.TargetPlaylistName,
		CredentialID:       credentialID,
		KeepInSync:         req.KeepInSync,
		Frequency:          req.Frequency,
		State:              StatePending,
		ProcessedTrackIDs:  []string{},
		AddedTracks:        []AddedTrack{},
		FailedTracks:       []FailedTrack{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (j *MigrationJob) Key() string        { return j.ID }
func (j *MigrationJob) Created() time.Time { return j.CreatedAt }
func (j *MigrationJob) Touch(now time.Time) {
	j.UpdatedAt = now
}

// Validate checks the job's invariants before persistence.
func (j *MigrationJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job id is required", shared.ErrInvalidInput)
	}
	if j.SourcePlaylistID == "" {
		return fmt.Errorf("%w: source playlist id is required", shared.ErrInvalidInput)
	}
	if _, err := ParsePlatform(string(j.SourcePlatform)); err != nil {
		return err
	}
	if _, err := ParsePlatform(string(j.TargetPlatform)); err != nil {
		return err
	}
	if _, err := ParseJobState(string(j.State)); err != nil {
		return err
	}
	if j.Kind != KindMigration && j.Kind != KindSync {
		return fmt.Errorf("%w: unknown job kind %q", shared.ErrInvalidInput, j.Kind)
	}
	return nil
}

// Transition moves the job to next, enforcing the state machine.
func (j *MigrationJob) Transition(next JobState, now time.Time) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidState, j.State, next)
	}
	j.State = next
	j.UpdatedAt = now
	switch next {
	case StateCompleted, StateFailed:
		t := now
		j.CompletedAt = &t
		j.ResumeAfter = nil
	case StateInProgress:
		j.ResumeAfter = nil
		j.ErrorMessage = ""
	}
	return nil
}

// IsProcessed reports whether a key is already in the processed set.
func (j *MigrationJob) IsProcessed(key string) bool {
	j.indexProcessed()
	_, ok := j.processed[key]
	return ok
}

// MarkProcessed adds a key to the processed set. The set only grows.
func (j *MigrationJob) MarkProcessed(key string) {
	j.indexProcessed()
	if _, ok := j.processed[key]; ok {
		return
	}
	j.processed[key] = struct{}{}
	j.ProcessedTrackIDs = append(j.ProcessedTrackIDs, key)
}

func (j *MigrationJob) indexProcessed() {
	if j.processed != nil {
		return
	}
	j.processed = make(map[string]struct{}, len(j.ProcessedTrackIDs))
	for _, id := range j.ProcessedTrackIDs {
		j.processed[id] = struct{}{}
	}
}

// RecordAdded records a successfully appended track.
func (j *MigrationJob) RecordAdded(source Track, targetID, entryID string) {
	j.AddedTracks = append(j.AddedTracks, AddedTrack{
		SourceTrackID: source.ID,
		TargetTrackID: targetID,
		EntryID:       entryID,
		Fingerprint:   source.Fingerprint(),
		Title:         source.Title,
		Artists:       source.Artists,
	})
	j.SuccessCount++
}

// RecordFailure appends a soft failure, replacing an earlier entry for the same source track in place.
func (j *MigrationJob) RecordFailure(track Track, result MatchResult, reason string) {
	failure := FailedTrack{Track: track, Result: result, Reason: reason}
	if i := j.failureIndex(track.ID); i >= 0 {
		j.FailedTracks[i] = failure
		return
	}
	j.FailedTracks = append(j.FailedTracks, failure)
}

// ClearFailure drops the failure entry for a source track, if any.
func (j *MigrationJob) ClearFailure(sourceTrackID string) {
	if i := j.failureIndex(sourceTrackID); i >= 0 {
		j.FailedTracks = slices.Delete(j.FailedTracks, i, i+1)
	}
}

// FindFailure returns the failure entry for a source track.
func (j *MigrationJob) FindFailure(sourceTrackID string) (FailedTrack, bool) {
	if i := j.failureIndex(sourceTrackID); i >= 0 {
		return j.FailedTracks[i], true
	}
	return FailedTrack{}, false
}

// SkipFailure marks a failed track as intentionally skipped so retries ignore it.
func (j *MigrationJob) SkipFailure(sourceTrackID string) error {
	i := j.failureIndex(sourceTrackID)
	if i < 0 {
		return fmt.Errorf("%w: track %s is not in the failed list", shared.ErrNotFound, sourceTrackID)
	}
	j.FailedTracks[i].Skipped = true
	return nil
}

// RetryableFailures returns the failed tracks that are not skipped, in order.
func (j *MigrationJob) RetryableFailures() []FailedTrack {
	var out []FailedTrack
	for _, f := range j.FailedTracks {
		if !f.Skipped {
			out = append(out, f)
		}
	}
	return out
}

// HasAdded reports whether the job already appended a target track.
func (j *MigrationJob) HasAdded(targetID string) bool {
	return slices.ContainsFunc(j.AddedTracks, func(a AddedTrack) bool { return a.TargetTrackID == targetID })
}

func (j *MigrationJob) failureIndex(sourceTrackID string) int {
	return slices.IndexFunc(j.FailedTracks, func(f FailedTrack) bool { return f.Track.ID == sourceTrackID })
}

// Outcome is the user-facing summary of the job state.
func (j *MigrationJob) Outcome() string {
	switch j.State {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in progress"
	case StateQuotaBlocked:
		return "quota blocked"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	case StateCompleted:
		if len(j.FailedTracks) > 0 {
			return "partially complete"
		}
		return "complete"
	default:
		return string(j.State)
	}
}

// StatusMessage renders the outcome with the resume date for quota-blocked jobs.
func (j *MigrationJob) StatusMessage() string {
	switch {
	case j.State == StateQuotaBlocked && j.ResumeAfter != nil:
		return fmt.Sprintf("quota blocked, resumes on/after %s", j.ResumeAfter.Format(time.DateOnly))
	case j.State == StateFailed && j.ErrorMessage != "":
		return "failed: " + j.ErrorMessage
	case j.State == StateCompleted && len(j.FailedTracks) > 0:
		return fmt.Sprintf("partially complete: %d added, %d need attention", j.SuccessCount, len(j.FailedTracks))
	default:
		return j.Outcome()
	}
}

// MigrationResult is the terminal per-playlist summary.
type MigrationResult struct {
	PlaylistID   string        `json:"playlistId"`
	PlaylistName string        `json:"playlistName"`
	SuccessCount int           `json:"successCount"`
	FailedTracks []FailedTrack `json:"failedTracks"`
}

// Result builds the [MigrationResult] for the target playlist.
func (j *MigrationJob) Result() MigrationResult {
	name := j.TargetPlaylistName
	if name == "" {
		name = j.SourcePlaylistName
	}
	failed := j.FailedTracks
	if failed == nil {
		failed = []FailedTrack{}
	}
	return MigrationResult{
		PlaylistID:   j.TargetPlaylistID,
		PlaylistName: name,
		SuccessCount: j.SuccessCount,
		FailedTracks: failed,
	}
}

// JobSnapshot is the read-only view returned to pollers.
type JobSnapshot struct {
	*MigrationJob
	Outcome       string          `json:"outcome"`
	StatusMessage string          `json:"statusMessage"`
	Result        MigrationResult `json:"result"`
}

// Snapshot builds a [JobSnapshot].
func (j *MigrationJob) Snapshot() JobSnapshot {
	return JobSnapshot{
		MigrationJob:  j,
		Outcome:       j.Outcome(),
		StatusMessage: j.StatusMessage(),
		Result:        j.Result(),
	}
}
