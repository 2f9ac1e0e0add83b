package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

type mockPlaylist struct {
	ref     models.PlaylistRef
	tracks  []models.Track
	entries []string
}

// MockCatalog is an in-memory catalog client.
//
// Playlists and the search index are seeded by tests; failures are queued per operation
// name (the method name, e.g. "AddTracks") and returned by the next matching call.
type MockCatalog struct {
	mu        sync.Mutex
	platform  models.Platform
	playlists map[string]*mockPlaylist
	order     []string
	index     []models.Track
	rejected  map[string]string
	failures  map[string][]error
	afterAdd  []error
	calls     map[string]int
	nextID    int
	nextEntry int

	// SearchFunc replaces the default title/artist lookup over the index.
	SearchFunc func(query models.Track, index []models.Track) []models.Track
}

// NewMockCatalog creates an empty catalog for platform.
func NewMockCatalog(platform models.Platform) *MockCatalog {
	return &MockCatalog{
		platform:  platform,
		playlists: make(map[string]*mockPlaylist),
		rejected:  make(map[string]string),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
	}
}

// SeedPlaylist stores a playlist with the given tracks and returns its ref.
func (m *MockCatalog) SeedPlaylist(id, name string, tracks ...models.Track) models.PlaylistRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := models.PlaylistRef{Platform: m.platform, ID: id, Name: name, TrackCount: len(tracks)}
	if _, ok := m.playlists[id]; !ok {
		m.order = append(m.order, id)
	}
	m.playlists[id] = &mockPlaylist{ref: ref, tracks: slices.Clone(tracks), entries: m.newEntries(len(tracks))}
	return ref
}

// SetTracks replaces a seeded playlist's tracks.
func (m *MockCatalog) SetTracks(playlistID string, tracks ...models.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.playlists[playlistID]; ok {
		p.tracks = slices.Clone(tracks)
		p.entries = m.newEntries(len(tracks))
	}
}

// Index makes tracks discoverable by SearchTrack.
func (m *MockCatalog) Index(tracks ...models.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = append(m.index, tracks...)
}

// Reject makes AddTracks refuse a track id with reason.
func (m *MockCatalog) Reject(trackID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[trackID] = reason
}

// FailNext queues errors for the next calls of op.
func (m *MockCatalog) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// FailAfterAdd queues errors returned by AddTracks after the tracks were appended.
func (m *MockCatalog) FailAfterAdd(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterAdd = append(m.afterAdd, errs...)
}

// Calls returns how many times op was invoked.
func (m *MockCatalog) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Tracks returns a copy of a playlist's current tracks.
func (m *MockCatalog) Tracks(playlistID string) []models.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.playlists[playlistID]; ok {
		return slices.Clone(p.tracks)
	}
	return nil
}

// HasPlaylist reports whether a playlist exists.
func (m *MockCatalog) HasPlaylist(playlistID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.playlists[playlistID]
	return ok
}

// enter records the call and pops a queued failure. Callers hold m.mu.
func (m *MockCatalog) enter(op string) error {
	m.calls[op]++
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

// newEntries issues n playlist entry ids. Callers hold m.mu.
func (m *MockCatalog) newEntries(n int) []string {
	entries := make([]string, n)
	for i := range entries {
		m.nextEntry++
		entries[i] = fmt.Sprintf("entry-%d", m.nextEntry)
	}
	return entries
}

func (p *mockPlaylist) removeAt(i int) {
	p.tracks = slices.Delete(p.tracks, i, i+1)
	p.entries = slices.Delete(p.entries, i, i+1)
}

func (m *MockCatalog) playlist(id string) (*mockPlaylist, error) {
	p, ok := m.playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrNotFound, id)
	}
	return p, nil
}

func (m *MockCatalog) Platform() models.Platform { return m.platform }

func (m *MockCatalog) ListPlaylists(ctx context.Context) ([]models.PlaylistRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListPlaylists"); err != nil {
		return nil, err
	}
	refs := make([]models.PlaylistRef, 0, len(m.order))
	for _, id := range m.order {
		p := m.playlists[id]
		p.ref.TrackCount = len(p.tracks)
		refs = append(refs, p.ref)
	}
	return refs, nil
}

func (m *MockCatalog) GetPlaylist(ctx context.Context, playlistID string) (models.PlaylistRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPlaylist"); err != nil {
		return models.PlaylistRef{}, err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return models.PlaylistRef{}, err
	}
	p.ref.TrackCount = len(p.tracks)
	return p.ref, nil
}

func (m *MockCatalog) ListTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListTracks"); err != nil {
		return nil, err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.tracks), nil
}

// SearchTrack returns indexed tracks with the same normalized title or primary artist, in index order.
func (m *MockCatalog) SearchTrack(ctx context.Context, query models.Track) ([]models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SearchTrack"); err != nil {
		return nil, err
	}
	if m.SearchFunc != nil {
		return m.SearchFunc(query, slices.Clone(m.index)), nil
	}

	title := shared.NormalizeTitle(query.Title)
	var artist string
	if len(query.Artists) > 0 {
		artist = shared.NormalizeArtist(query.Artists[0])
	}

	var out []models.Track
	for _, t := range m.index {
		sameTitle := shared.NormalizeTitle(t.Title) == title
		sameArtist := artist != "" && len(t.Artists) > 0 && shared.NormalizeArtist(t.Artists[0]) == artist
		if sameTitle || sameArtist {
			out = append(out, t)
		}
		if len(out) == 10 {
			break
		}
	}
	return out, nil
}

func (m *MockCatalog) CreatePlaylist(ctx context.Context, name, description string) (models.PlaylistRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreatePlaylist"); err != nil {
		return models.PlaylistRef{}, err
	}
	m.nextID++
	id := fmt.Sprintf("%s-pl-%d", m.platform, m.nextID)
	ref := models.PlaylistRef{Platform: m.platform, ID: id, Name: name, Description: description}
	m.playlists[id] = &mockPlaylist{ref: ref}
	m.order = append(m.order, id)
	return ref, nil
}

func (m *MockCatalog) AddTracks(ctx context.Context, playlistID string, trackIDs []string) (models.AddResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddTracks"); err != nil {
		return models.AddResult{}, err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return models.AddResult{}, err
	}

	var result models.AddResult
	for _, id := range trackIDs {
		if reason, ok := m.rejected[id]; ok {
			result.Outcomes = append(result.Outcomes, models.AddOutcome{TrackID: id, Reason: reason})
			continue
		}
		track := models.Track{ID: id}
		if i := slices.IndexFunc(m.index, func(t models.Track) bool { return t.ID == id }); i >= 0 {
			track = m.index[i]
		}
		entry := m.newEntries(1)[0]
		p.tracks = append(p.tracks, track)
		p.entries = append(p.entries, entry)
		result.Outcomes = append(result.Outcomes, models.AddOutcome{TrackID: id, Accepted: true, EntryID: entry})
	}

	if len(m.afterAdd) > 0 {
		err := m.afterAdd[0]
		m.afterAdd = m.afterAdd[1:]
		return models.AddResult{}, err
	}
	return result, nil
}

func (m *MockCatalog) DeletePlaylist(ctx context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeletePlaylist"); err != nil {
		return err
	}
	if _, err := m.playlist(playlistID); err != nil {
		return err
	}
	delete(m.playlists, playlistID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == playlistID })
	return nil
}

func (m *MockCatalog) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RenamePlaylist"); err != nil {
		return err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return err
	}
	p.ref.Name = name
	return nil
}

// RemoveTrack removes every occurrence of trackID, or returns NotFound when none exist.
func (m *MockCatalog) RemoveTrack(ctx context.Context, playlistID, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveTrack"); err != nil {
		return err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return err
	}
	removed := 0
	for i := len(p.tracks) - 1; i >= 0; i-- {
		if p.tracks[i].ID == trackID {
			p.removeAt(i)
			removed++
		}
	}
	if removed == 0 {
		return fmt.Errorf("%w: track %s", shared.ErrNotFound, trackID)
	}
	return nil
}

// RemoveEntry removes the entry issued by AddTracks, or the last occurrence when entryID is empty.
func (m *MockCatalog) RemoveEntry(ctx context.Context, playlistID, trackID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("RemoveEntry"); err != nil {
		return err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return err
	}

	i := -1
	if entryID != "" {
		i = slices.Index(p.entries, entryID)
	} else {
		for j := len(p.tracks) - 1; j >= 0 && i < 0; j-- {
			if p.tracks[j].ID == trackID {
				i = j
			}
		}
	}
	if i < 0 {
		return fmt.Errorf("%w: entry %s of track %s", shared.ErrNotFound, entryID, trackID)
	}
	p.removeAt(i)
	return nil
}

func (m *MockCatalog) EmptyPlaylist(ctx context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("EmptyPlaylist"); err != nil {
		return err
	}
	p, err := m.playlist(playlistID)
	if err != nil {
		return err
	}
	p.tracks = nil
	p.entries = nil
	return nil
}
