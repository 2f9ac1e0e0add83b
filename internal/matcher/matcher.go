// Package matcher resolves a source track against target catalog search results.
package matcher

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

const (
	reasonNoCandidates = "no candidates found"
	reasonBelow        = "no candidate above confidence threshold"
	epsilon            = 1e-9
)

// Policy holds the scoring weights and decision thresholds.
type Policy struct {
	TitleWeight        float64
	ArtistWeight       float64
	DurationWeight     float64
	DurationWindow     float64 // seconds
	AcceptThreshold    float64
	Margin             float64
	AmbiguousThreshold float64
	MaxAlternates      int
	VersionPenalty     float64
}

// DefaultPolicy is 0.6/0.3/0.1 weighting, a 30s window, accept at 0.82 with a 0.05 lead,
// ambiguous from 0.6 with 3 alternates.
func DefaultPolicy() Policy {
	return Policy{
		TitleWeight:        0.6,
		ArtistWeight:       0.3,
		DurationWeight:     0.1,
		DurationWindow:     30,
		AcceptThreshold:    0.82,
		Margin:             0.05,
		AmbiguousThreshold: 0.6,
		MaxAlternates:      3,
		VersionPenalty:     0.4,
	}
}

// PolicyFromConfig builds a policy, falling back to defaults for unset fields.
func PolicyFromConfig(cfg shared.MatcherConfig) (Policy, error) {
	p := DefaultPolicy()
	set := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	set(&p.TitleWeight, cfg.TitleWeight)
	set(&p.ArtistWeight, cfg.ArtistWeight)
	set(&p.DurationWeight, cfg.DurationWeight)
	set(&p.DurationWindow, cfg.DurationWindowSeconds)
	set(&p.AcceptThreshold, cfg.AcceptThreshold)
	set(&p.Margin, cfg.Margin)
	set(&p.AmbiguousThreshold, cfg.AmbiguousThreshold)
	set(&p.VersionPenalty, cfg.VersionPenalty)
	if cfg.MaxAlternates > 0 {
		p.MaxAlternates = cfg.MaxAlternates
	}
	return p, p.Validate()
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	if sum := p.TitleWeight + p.ArtistWeight + p.DurationWeight; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("%w: matcher weights must sum to 1, got %.3f", shared.ErrInvalidConfig, sum)
	}
	if p.AmbiguousThreshold > p.AcceptThreshold {
		return fmt.Errorf("%w: ambiguous threshold %.2f is above accept threshold %.2f",
			shared.ErrInvalidConfig, p.AmbiguousThreshold, p.AcceptThreshold)
	}
	if p.VersionPenalty < 0 || p.VersionPenalty > 1 {
		return fmt.Errorf("%w: version penalty must be within [0,1]", shared.ErrInvalidConfig)
	}
	if p.DurationWindow <= 0 {
		return fmt.Errorf("%w: duration window must be positive", shared.ErrInvalidConfig)
	}
	return nil
}

// Matcher scores candidates deterministically under a [Policy].
type Matcher struct {
	policy Policy
}

func New(policy Policy) *Matcher {
	return &Matcher{policy: policy}
}

func (m *Matcher) Policy() Policy { return m.policy }

// Match resolves source against candidates given in platform relevance order.
func (m *Matcher) Match(source models.Track, candidates []models.Track) models.MatchResult {
	if len(candidates) == 0 {
		return models.NewUnmatched(reasonNoCandidates)
	}

	ranked := m.Rank(source, candidates)
	top := ranked[0]

	leads := len(ranked) == 1 || top.Score-ranked[1].Score >= m.policy.Margin-epsilon
	if top.Score >= m.policy.AcceptThreshold-epsilon && leads {
		return models.NewMatched(top.Track.ID, top.Score)
	}

	if top.Score >= m.policy.AmbiguousThreshold-epsilon {
		n := min(len(ranked), m.policy.MaxAlternates)
		return models.NewAmbiguous(slices.Clone(ranked[:n]))
	}

	return models.NewUnmatched(reasonBelow)
}

// Rank scores every candidate and sorts by score, keeping platform order on ties.
func (m *Matcher) Rank(source models.Track, candidates []models.Track) []models.ScoredCandidate {
	ranked := make([]models.ScoredCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = models.ScoredCandidate{Track: c, Score: m.Score(source, c)}
	}
	slices.SortStableFunc(ranked, func(a, b models.ScoredCandidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return ranked
}

// Score is titleSim*w1 + artistSim*w2 + durationCloseness*w3.
func (m *Matcher) Score(source, candidate models.Track) float64 {
	p := m.policy
	return p.TitleWeight*m.titleSimilarity(source.Title, candidate.Title) +
		p.ArtistWeight*artistSimilarity(source.Artists, candidate.Artists) +
		p.DurationWeight*m.durationCloseness(source.DurationMillis, candidate.DurationMillis)
}

// titleSimilarity compares normalized titles and applies the version penalty when
// exactly one side is a live/acoustic/remix/... recording.
func (m *Matcher) titleSimilarity(a, b string) float64 {
	sim := Similarity(shared.NormalizeTitle(a), shared.NormalizeTitle(b))
	if !slices.Equal(shared.VersionMarkers(a), shared.VersionMarkers(b)) {
		sim *= 1 - m.policy.VersionPenalty
	}
	return sim
}

// durationCloseness is 1 - |diff|/window clamped at zero, or 0.5 when either duration is unknown.
func (m *Matcher) durationCloseness(a, b int) float64 {
	if a <= 0 || b <= 0 {
		return 0.5
	}
	diff := math.Abs(float64(a-b)) / 1000
	return math.Max(0, 1-diff/m.policy.DurationWindow)
}

// artistSimilarity compares credits as sets and by primary artist, taking the best.
// Missing credits on either side score a neutral 0.5.
func artistSimilarity(a, b []string) float64 {
	na, nb := shared.NormalizeArtists(a), shared.NormalizeArtists(b)
	if len(na) == 0 || len(nb) == 0 {
		return 0.5
	}

	best := jaccard(na, nb)
	if len(a) > 0 && len(b) > 0 {
		best = max(best, Similarity(shared.NormalizeArtist(a[0]), shared.NormalizeArtist(b[0])))
	}
	return best
}
