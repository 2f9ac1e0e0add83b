package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

const spotifyBatchSize = 100

// SpotifyClient implements [Client] on the Spotify Web API.
type SpotifyClient struct {
	api         *spotify.Client
	userID      string
	searchLimit int
	logger      *log.Logger
}

// NewSpotifyClient builds a client from a bearer token. BaseURL overrides the API root for tests.
func NewSpotifyClient(ctx context.Context, creds shared.PlatformCredentials, searchLimit int, logger *log.Logger) (*SpotifyClient, error) {
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: spotify access token", shared.ErrMissingCredentials)
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken}))
	return newSpotifyClient(httpClient, creds.BaseURL, creds.UserID, searchLimit, logger), nil
}

func newSpotifyClient(httpClient *http.Client, baseURL, userID string, searchLimit int, logger *log.Logger) *SpotifyClient {
	opts := []spotify.ClientOption{spotify.WithRetry(false)}
	if baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/"))
	}
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &SpotifyClient{
		api:         spotify.New(httpClient, opts...),
		userID:      userID,
		searchLimit: searchLimit,
		logger:      logger,
	}
}

func (c *SpotifyClient) Platform() models.Platform { return models.Spotify }

func (c *SpotifyClient) currentUserID(ctx context.Context) (string, error) {
	if c.userID != "" {
		return c.userID, nil
	}
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return "", spotifyError(err)
	}
	c.userID = user.ID
	return c.userID, nil
}

func (c *SpotifyClient) ListPlaylists(ctx context.Context) ([]models.PlaylistRef, error) {
	page, err := c.api.CurrentUsersPlaylists(ctx, spotify.Limit(50))
	if err != nil {
		return nil, spotifyError(err)
	}

	var playlists []models.PlaylistRef
	for {
		for _, p := range page.Playlists {
			playlists = append(playlists, spotifyPlaylistRef(p))
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, spotifyError(err)
		}
	}
	return playlists, nil
}

func (c *SpotifyClient) GetPlaylist(ctx context.Context, playlistID string) (models.PlaylistRef, error) {
	p, err := c.api.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		return models.PlaylistRef{}, spotifyError(err)
	}
	ref := spotifyPlaylistRef(p.SimplePlaylist)
	ref.TrackCount = int(p.Tracks.Total)
	return ref, nil
}

// ListTracks skips podcast episodes. Local files have no id and are keyed by fingerprint.
func (c *SpotifyClient) ListTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(100))
	if err != nil {
		return nil, spotifyError(err)
	}

	var tracks []models.Track
	for {
		for _, item := range page.Items {
			if item.Track.Track == nil {
				continue
			}
			t := spotifyTrack(*item.Track.Track)
			if t.ID == "" {
				t.ID = "local:" + t.Fingerprint()
			}
			tracks = append(tracks, t)
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, spotifyError(err)
		}
	}
	return tracks, nil
}

func (c *SpotifyClient) SearchTrack(ctx context.Context, query models.Track) ([]models.Track, error) {
	res, err := c.api.Search(ctx, SearchQuery(query), spotify.SearchTypeTrack, spotify.Limit(c.searchLimit))
	if err != nil {
		return nil, spotifyError(err)
	}
	if res.Tracks == nil {
		return nil, nil
	}

	candidates := make([]models.Track, 0, len(res.Tracks.Tracks))
	for _, t := range res.Tracks.Tracks {
		candidates = append(candidates, spotifyTrack(t))
	}
	return candidates, nil
}

func (c *SpotifyClient) CreatePlaylist(ctx context.Context, name, description string) (models.PlaylistRef, error) {
	userID, err := c.currentUserID(ctx)
	if err != nil {
		return models.PlaylistRef{}, err
	}
	p, err := c.api.CreatePlaylistForUser(ctx, userID, name, description, false, false)
	if err != nil {
		return models.PlaylistRef{}, spotifyError(err)
	}
	return spotifyPlaylistRef(p.SimplePlaylist), nil
}

// AddTracks appends in batches of 100. A batch rejected as a bad request is retried one id
// at a time so only the offending tracks are reported rejected.
func (c *SpotifyClient) AddTracks(ctx context.Context, playlistID string, trackIDs []string) (models.AddResult, error) {
	var result models.AddResult
	for start := 0; start < len(trackIDs); start += spotifyBatchSize {
		batch := trackIDs[start:min(start+spotifyBatchSize, len(trackIDs))]

		_, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), spotifyIDs(batch)...)
		switch {
		case err == nil:
			result.Outcomes = append(result.Outcomes, Accepted(batch).Outcomes...)
		case spotifyStatus(err) == http.StatusBadRequest:
			outcomes, err := c.addOneByOne(ctx, playlistID, batch)
			if err != nil {
				return result, err
			}
			result.Outcomes = append(result.Outcomes, outcomes...)
		default:
			return result, spotifyError(err)
		}
	}
	return result, nil
}

func (c *SpotifyClient) addOneByOne(ctx context.Context, playlistID string, ids []string) ([]models.AddOutcome, error) {
	outcomes := make([]models.AddOutcome, 0, len(ids))
	for _, id := range ids {
		_, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), spotify.ID(id))
		switch {
		case err == nil:
			outcomes = append(outcomes, models.AddOutcome{TrackID: id, Accepted: true})
		case spotifyStatus(err) == http.StatusBadRequest:
			c.logger.Warn("spotify rejected track", "playlist", playlistID, "track", id, "error", err)
			outcomes = append(outcomes, models.AddOutcome{TrackID: id, Reason: err.Error()})
		default:
			return outcomes, spotifyError(err)
		}
	}
	return outcomes, nil
}

// DeletePlaylist unfollows the playlist, which is how Spotify deletes an owned playlist.
func (c *SpotifyClient) DeletePlaylist(ctx context.Context, playlistID string) error {
	return spotifyError(c.api.UnfollowPlaylist(ctx, spotify.ID(playlistID)))
}

func (c *SpotifyClient) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	return spotifyError(c.api.ChangePlaylistName(ctx, spotify.ID(playlistID), name))
}

func (c *SpotifyClient) RemoveTrack(ctx context.Context, playlistID, trackID string) error {
	_, err := c.api.RemoveTracksFromPlaylist(ctx, spotify.ID(playlistID), spotify.ID(trackID))
	return spotifyError(err)
}

// RemoveEntry removes the last occurrence of trackID by position. Spotify issues no entry ids,
// so entryID is ignored.
func (c *SpotifyClient) RemoveEntry(ctx context.Context, playlistID, trackID, entryID string) error {
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(100))
	if err != nil {
		return spotifyError(err)
	}

	last, pos := -1, 0
	for {
		for _, item := range page.Items {
			if item.Track.Track != nil && string(item.Track.Track.ID) == trackID {
				last = pos
			}
			pos++
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return spotifyError(err)
		}
	}
	if last < 0 {
		return fmt.Errorf("%w: track %s in playlist %s", shared.ErrNotFound, trackID, playlistID)
	}

	tracks := []spotify.TrackToRemove{spotify.NewTrackToRemove(trackID, []int{last})}
	_, err = c.api.RemoveTracksFromPlaylistOpt(ctx, spotify.ID(playlistID), tracks, "")
	return spotifyError(err)
}

// EmptyPlaylist replaces the playlist contents with nothing in one call.
func (c *SpotifyClient) EmptyPlaylist(ctx context.Context, playlistID string) error {
	return spotifyError(c.api.ReplacePlaylistTracks(ctx, spotify.ID(playlistID)))
}

func spotifyIDs(ids []string) []spotify.ID {
	out := make([]spotify.ID, len(ids))
	for i, id := range ids {
		out[i] = spotify.ID(id)
	}
	return out
}

func spotifyTrack(t spotify.FullTrack) models.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}
	return models.Track{
		ID:             t.ID.String(),
		Title:          t.Name,
		Artists:        artists,
		Album:          t.Album.Name,
		DurationMillis: int(t.Duration),
	}
}

func spotifyPlaylistRef(p spotify.SimplePlaylist) models.PlaylistRef {
	return models.PlaylistRef{
		Platform:    models.Spotify,
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		TrackCount:  int(p.Tracks.Total),
		Public:      p.IsPublic,
	}
}

func spotifyStatus(err error) int {
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status
	}
	var sp *spotify.Error
	if errors.As(err, &sp) {
		return sp.Status
	}
	return 0
}

// spotifyError maps client errors to the shared taxonomy. Errors without a status are transport failures.
func spotifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	status := spotifyStatus(err)
	if status == http.StatusForbidden {
		return fmt.Errorf("spotify: %w", err)
	}
	return classifyStatus(status, 0, fmt.Errorf("spotify: %w", err))
}
