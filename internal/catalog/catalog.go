// Package catalog wraps the external streaming platforms behind one [Client] interface.
//
// Implementations: Spotify (zmb3/spotify) and YouTube (YouTube Data API v3).
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

// Client is the contract implemented once per platform.
//
// Errors are normalized to the shared taxonomy: [shared.ErrAuthExpired], [*RateLimitedError],
// [shared.ErrUnavailable], [shared.ErrNotFound] and [shared.ErrQuotaExceeded].
// Every method is safe to retry.
type Client interface {
	Platform() models.Platform

	// ListPlaylists returns the playlists owned by the authenticated user.
	ListPlaylists(ctx context.Context) ([]models.PlaylistRef, error)

	// GetPlaylist returns a snapshot of one playlist.
	GetPlaylist(ctx context.Context, playlistID string) (models.PlaylistRef, error)

	// ListTracks pages through the playlist and returns the full ordered track list.
	ListTracks(ctx context.Context, playlistID string) ([]models.Track, error)

	// SearchTrack returns candidates in platform relevance order, bounded by the configured limit.
	SearchTrack(ctx context.Context, query models.Track) ([]models.Track, error)

	CreatePlaylist(ctx context.Context, name, description string) (models.PlaylistRef, error)

	// AddTracks appends tracks in order and reports acceptance per id.
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) (models.AddResult, error)

	DeletePlaylist(ctx context.Context, playlistID string) error
	RenamePlaylist(ctx context.Context, playlistID, name string) error
	RemoveTrack(ctx context.Context, playlistID, trackID string) error

	// RemoveEntry removes a single occurrence of trackID: the entry issued on add when entryID
	// is set, otherwise the last occurrence in the playlist.
	RemoveEntry(ctx context.Context, playlistID, trackID, entryID string) error
	EmptyPlaylist(ctx context.Context, playlistID string) error
}

// Registry is the Platform to [Client] lookup table.
type Registry struct {
	clients map[models.Platform]Client
}

// NewRegistry indexes clients by their platform. A later client replaces an earlier one.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[models.Platform]Client, len(clients))}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the client for its platform.
func (r *Registry) Register(c Client) {
	r.clients[c.Platform()] = c
}

// Get returns the client for a platform.
func (r *Registry) Get(p models.Platform) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("%w: no %s client configured", shared.ErrMissingCredentials, p.DisplayName())
	}
	return c, nil
}

// Platforms lists the platforms with a configured client.
func (r *Registry) Platforms() []models.Platform {
	var out []models.Platform
	for _, p := range models.Platforms() {
		if _, ok := r.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Wrap replaces every registered client with wrap(client).
func (r *Registry) Wrap(wrap func(Client) Client) {
	for p, c := range r.clients {
		r.clients[p] = wrap(c)
	}
}

// SearchQuery builds a free-text query from a track's core title and primary artist.
func SearchQuery(t models.Track) string {
	core, _ := shared.SplitTitle(t.Title)
	parts := append([]string{core}, shared.VersionMarkers(t.Title)...)
	if len(t.Artists) > 0 {
		parts = append(parts, t.Artists[0])
	}
	return strings.Join(parts, " ")
}

// Accepted builds an [models.AddResult] where every id was accepted.
func Accepted(trackIDs []string) models.AddResult {
	outcomes := make([]models.AddOutcome, len(trackIDs))
	for i, id := range trackIDs {
		outcomes[i] = models.AddOutcome{TrackID: id, Accepted: true}
	}
	return models.AddResult{Outcomes: outcomes}
}
