package models

// MatchKind tags the variant held by a [MatchResult].
type MatchKind string

const (
	Matched   MatchKind = "matched"
	Ambiguous MatchKind = "ambiguous"
	Unmatched MatchKind = "unmatched"
)

// ScoredCandidate is a target track with its confidence score.
type ScoredCandidate struct {
	Track Track   `json:"track"`
	Score float64 `json:"score"`
}

// MatchResult is the outcome of resolving one source track against the target catalog.
//
// Matched carries TargetTrackID and Confidence, Ambiguous carries ranked Candidates,
// Unmatched carries Reason.
type MatchResult struct {
	Kind          MatchKind         `json:"kind"`
	TargetTrackID string            `json:"targetTrackId,omitempty"`
	Confidence    float64           `json:"confidence,omitempty"`
	Candidates    []ScoredCandidate `json:"candidates,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Pinned        bool              `json:"pinned,omitempty"`
}

// NewMatched builds a Matched result.
func NewMatched(targetID string, confidence float64) MatchResult {
	return MatchResult{Kind: Matched, TargetTrackID: targetID, Confidence: confidence}
}

// NewAmbiguous builds an Ambiguous result with ranked alternates.
func NewAmbiguous(candidates []ScoredCandidate) MatchResult {
	return MatchResult{Kind: Ambiguous, Candidates: candidates, Reason: "ambiguous match, manual resolution required"}
}

// NewUnmatched builds an Unmatched result.
func NewUnmatched(reason string) MatchResult {
	return MatchResult{Kind: Unmatched, Reason: reason}
}

// IsMatched reports whether the result resolved to a target track.
func (m MatchResult) IsMatched() bool {
	return m.Kind == Matched && m.TargetTrackID != ""
}
