package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

const (
	youtubePageSize = 50
	musicCategoryID = "10"
)

var (
	topicSuffix    = regexp.MustCompile(`\s+-\s+Topic$`)
	artistTitleSep = regexp.MustCompile(`^(.+?)\s+[-–]\s+(.+)$`)
)

// YouTubeClient implements [Client] on the YouTube Data API v3.
//
// Every playlist item insert is one write against the 100/day track-add budget.
type YouTubeClient struct {
	svc         *youtube.Service
	searchLimit int
	logger      *log.Logger
}

// NewYouTubeClient builds a client from a bearer token. BaseURL overrides the API root for tests.
func NewYouTubeClient(ctx context.Context, creds shared.PlatformCredentials, searchLimit int, logger *log.Logger) (*YouTubeClient, error) {
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: youtube access token", shared.ErrMissingCredentials)
	}

	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken})),
	}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(creds.BaseURL, "/")+"/"))
	}
	return newYouTubeClient(ctx, searchLimit, logger, opts...)
}

func newYouTubeClient(ctx context.Context, searchLimit int, logger *log.Logger, opts ...option.ClientOption) (*YouTubeClient, error) {
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &YouTubeClient{svc: svc, searchLimit: searchLimit, logger: logger}, nil
}

func (c *YouTubeClient) Platform() models.Platform { return models.YouTube }

func (c *YouTubeClient) ListPlaylists(ctx context.Context) ([]models.PlaylistRef, error) {
	var playlists []models.PlaylistRef
	call := c.svc.Playlists.List([]string{"snippet", "contentDetails", "status"}).Mine(true).MaxResults(youtubePageSize)
	err := call.Pages(ctx, func(resp *youtube.PlaylistListResponse) error {
		for _, p := range resp.Items {
			playlists = append(playlists, youtubePlaylistRef(p))
		}
		return nil
	})
	if err != nil {
		return nil, youtubeError(err)
	}
	return playlists, nil
}

func (c *YouTubeClient) GetPlaylist(ctx context.Context, playlistID string) (models.PlaylistRef, error) {
	resp, err := c.svc.Playlists.List([]string{"snippet", "contentDetails", "status"}).Id(playlistID).Context(ctx).Do()
	if err != nil {
		return models.PlaylistRef{}, youtubeError(err)
	}
	if len(resp.Items) == 0 {
		return models.PlaylistRef{}, fmt.Errorf("%w: youtube playlist %s", shared.ErrNotFound, playlistID)
	}
	return youtubePlaylistRef(resp.Items[0]), nil
}

// ListTracks returns tracks keyed by video id, with durations looked up in batches.
// Deleted and private videos are skipped.
func (c *YouTubeClient) ListTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	items, err := c.playlistItems(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(items))
	for _, item := range items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil || item.Snippet.ResourceId.VideoId == "" {
			continue
		}
		if item.Snippet.Title == "Deleted video" || item.Snippet.Title == "Private video" {
			continue
		}
		tracks = append(tracks, youtubeTrack(item.Snippet.ResourceId.VideoId, item.Snippet.Title, item.Snippet.VideoOwnerChannelTitle))
	}

	if err := c.fillDurations(ctx, tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

func (c *YouTubeClient) playlistItems(ctx context.Context, playlistID string) ([]*youtube.PlaylistItem, error) {
	var items []*youtube.PlaylistItem
	call := c.svc.PlaylistItems.List([]string{"snippet"}).PlaylistId(playlistID).MaxResults(youtubePageSize)
	err := call.Pages(ctx, func(resp *youtube.PlaylistItemListResponse) error {
		items = append(items, resp.Items...)
		return nil
	})
	if err != nil {
		return nil, youtubeError(err)
	}
	return items, nil
}

func (c *YouTubeClient) fillDurations(ctx context.Context, tracks []models.Track) error {
	for start := 0; start < len(tracks); start += youtubePageSize {
		batch := tracks[start:min(start+youtubePageSize, len(tracks))]
		ids := make([]string, len(batch))
		for i, t := range batch {
			ids[i] = t.ID
		}

		resp, err := c.svc.Videos.List([]string{"contentDetails"}).Id(ids...).Context(ctx).Do()
		if err != nil {
			return youtubeError(err)
		}

		durations := make(map[string]int, len(resp.Items))
		for _, v := range resp.Items {
			if v.ContentDetails == nil {
				continue
			}
			if d, err := parseISODuration(v.ContentDetails.Duration); err == nil {
				durations[v.Id] = int(d.Milliseconds())
			}
		}
		for i := range batch {
			batch[i].DurationMillis = durations[batch[i].ID]
		}
	}
	return nil
}

// SearchTrack searches the music category and resolves durations for the returned videos.
func (c *YouTubeClient) SearchTrack(ctx context.Context, query models.Track) ([]models.Track, error) {
	resp, err := c.svc.Search.List([]string{"snippet"}).
		Q(SearchQuery(query)).
		Type("video").
		VideoCategoryId(musicCategoryID).
		MaxResults(int64(c.searchLimit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, youtubeError(err)
	}

	candidates := make([]models.Track, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		candidates = append(candidates, youtubeTrack(item.Id.VideoId, item.Snippet.Title, item.Snippet.ChannelTitle))
	}

	if err := c.fillDurations(ctx, candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (c *YouTubeClient) CreatePlaylist(ctx context.Context, name, description string) (models.PlaylistRef, error) {
	p := &youtube.Playlist{
		Snippet: &youtube.PlaylistSnippet{Title: name, Description: description},
		Status:  &youtube.PlaylistStatus{PrivacyStatus: "private"},
	}
	created, err := c.svc.Playlists.Insert([]string{"snippet", "status"}, p).Context(ctx).Do()
	if err != nil {
		return models.PlaylistRef{}, youtubeError(err)
	}
	return youtubePlaylistRef(created), nil
}

// AddTracks inserts one playlist item per video. The API has no batch insert, so each id
// gets its own outcome; a video the API refuses is rejected without failing the rest.
func (c *YouTubeClient) AddTracks(ctx context.Context, playlistID string, trackIDs []string) (models.AddResult, error) {
	var result models.AddResult
	for _, id := range trackIDs {
		item := &youtube.PlaylistItem{
			Snippet: &youtube.PlaylistItemSnippet{
				PlaylistId: playlistID,
				ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: id},
			},
		}
		inserted, err := c.svc.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do()
		if err == nil {
			result.Outcomes = append(result.Outcomes, models.AddOutcome{TrackID: id, Accepted: true, EntryID: inserted.Id})
			continue
		}

		if reason, ok := rejectedVideo(err); ok {
			c.logger.Warn("youtube rejected video", "playlist", playlistID, "video", id, "reason", reason)
			result.Outcomes = append(result.Outcomes, models.AddOutcome{TrackID: id, Reason: reason})
			continue
		}
		return result, youtubeError(err)
	}
	return result, nil
}

func (c *YouTubeClient) DeletePlaylist(ctx context.Context, playlistID string) error {
	return youtubeError(c.svc.Playlists.Delete(playlistID).Context(ctx).Do())
}

// RenamePlaylist updates the snippet, which requires resending the existing description.
func (c *YouTubeClient) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	resp, err := c.svc.Playlists.List([]string{"snippet"}).Id(playlistID).Context(ctx).Do()
	if err != nil {
		return youtubeError(err)
	}
	if len(resp.Items) == 0 {
		return fmt.Errorf("%w: youtube playlist %s", shared.ErrNotFound, playlistID)
	}

	p := resp.Items[0]
	p.Snippet.Title = name
	_, err = c.svc.Playlists.Update([]string{"snippet"}, p).Context(ctx).Do()
	return youtubeError(err)
}

// RemoveTrack deletes every playlist item for the video. A video not in the playlist is NotFound.
func (c *YouTubeClient) RemoveTrack(ctx context.Context, playlistID, trackID string) error {
	items, err := c.playlistItems(ctx, playlistID)
	if err != nil {
		return err
	}

	removed := 0
	for _, item := range items {
		if item.Snippet == nil || item.Snippet.ResourceId == nil || item.Snippet.ResourceId.VideoId != trackID {
			continue
		}
		if err := youtubeError(c.svc.PlaylistItems.Delete(item.Id).Context(ctx).Do()); IgnoreNotFound(err) != nil {
			return err
		}
		removed++
	}
	if removed == 0 {
		return fmt.Errorf("%w: video %s in playlist %s", shared.ErrNotFound, trackID, playlistID)
	}
	return nil
}

// EmptyPlaylist removes items one at a time since the API has no bulk delete.
func (c *YouTubeClient) RemoveEntry(ctx context.Context, playlistID, trackID, entryID string) error {
	if entryID != "" {
		return youtubeError(c.svc.PlaylistItems.Delete(entryID).Context(ctx).Do())
	}

	items, err := c.playlistItems(ctx, playlistID)
	if err != nil {
		return err
	}
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		if item.Snippet == nil || item.Snippet.ResourceId == nil || item.Snippet.ResourceId.VideoId != trackID {
			continue
		}
		return youtubeError(c.svc.PlaylistItems.Delete(item.Id).Context(ctx).Do())
	}
	return fmt.Errorf("%w: video %s in playlist %s", shared.ErrNotFound, trackID, playlistID)
}

func (c *YouTubeClient) EmptyPlaylist(ctx context.Context, playlistID string) error {
	items, err := c.playlistItems(ctx, playlistID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := youtubeError(c.svc.PlaylistItems.Delete(item.Id).Context(ctx).Do()); IgnoreNotFound(err) != nil {
			return err
		}
	}
	return nil
}

// youtubeTrack derives artist and title from a video title and channel.
// Auto-generated "Artist - Topic" channels carry the artist; otherwise "Artist - Title" is split.
func youtubeTrack(videoID, title, channel string) models.Track {
	artist := topicSuffix.ReplaceAllString(channel, "")
	if !topicSuffix.MatchString(channel) {
		if m := artistTitleSep.FindStringSubmatch(title); m != nil {
			artist, title = m[1], m[2]
		}
	}

	var artists []string
	if artist = strings.TrimSpace(artist); artist != "" {
		artists = []string{artist}
	}
	return models.Track{ID: videoID, Title: strings.TrimSpace(title), Artists: artists}
}

func youtubePlaylistRef(p *youtube.Playlist) models.PlaylistRef {
	ref := models.PlaylistRef{Platform: models.YouTube, ID: p.Id}
	if p.Snippet != nil {
		ref.Name = p.Snippet.Title
		ref.Description = p.Snippet.Description
	}
	if p.ContentDetails != nil {
		ref.TrackCount = int(p.ContentDetails.ItemCount)
	}
	if p.Status != nil {
		ref.Public = p.Status.PrivacyStatus == "public"
	}
	return ref
}

func googleError(err error) (*googleapi.Error, bool) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

// rejectedVideo reports whether an insert failed because of the video itself.
func rejectedVideo(err error) (string, bool) {
	gerr, ok := googleError(err)
	if !ok {
		return "", false
	}
	if gerr.Code == http.StatusNotFound && hasReason(gerr, "videoNotFound") {
		return "video not found", true
	}
	if gerr.Code == http.StatusForbidden && hasReason(gerr, "forbidden", "playlistContainsMaximumNumberOfVideos") {
		return gerr.Message, true
	}
	if gerr.Code == http.StatusBadRequest {
		return gerr.Message, true
	}
	return "", false
}

// youtubeError maps googleapi errors to the shared taxonomy.
//
// A 403 quotaExceeded is the project's daily API quota and pauses the job like the local governor.
func youtubeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	gerr, ok := googleError(err)
	if !ok {
		return fmt.Errorf("%w: youtube: %w", shared.ErrUnavailable, err)
	}

	cause := fmt.Errorf("youtube: %w", err)
	switch {
	case gerr.Code == http.StatusForbidden && hasReason(gerr, "quotaExceeded", "dailyLimitExceeded"):
		return fmt.Errorf("%w: %w", shared.ErrQuotaExceeded, cause)
	case gerr.Code == http.StatusForbidden && hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded"):
		return &RateLimitedError{RetryAfter: parseRetryAfter(gerr.Header.Get("Retry-After")), Err: cause}
	case gerr.Code == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(gerr.Header.Get("Retry-After")), Err: cause}
	default:
		return classifyStatus(gerr.Code, 0, cause)
	}
}
