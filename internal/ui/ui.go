package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	TrackListView
	ConfirmView
	MigrateView
	ResultView
)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	source       catalog.Client
	target       models.Platform
	engine       *tasks.MigrationEngine
	width        int
	height       int
	loaded       bool
	playlistList list.Model
	trackList    list.Model
	selected     *playlistPreview
	jobID        string
	progressChan chan tasks.ProgressUpdate
	doneChan     chan migrationComplete
	progress     tasks.ProgressUpdate
	job          *models.MigrationJob
	cancelling   bool
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a TUI that migrates playlists from source to the target platform.
func NewModel(ctx context.Context, engine *tasks.MigrationEngine, source catalog.Client, target models.Platform) *Model {
	return &Model{
		ctx:    ctx,
		view:   PlaylistListView,
		source: source,
		target: target,
		engine: engine,
		help:   help.New(),
		keys:   newKeyMap(),
	}
}

// Init fetches the playlists on the source platform.
func (m *Model) Init() tea.Cmd {
	return m.fetchPlaylists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.loaded {
			m.playlistList.SetSize(msg.Width-4, msg.Height-8)
		}
		if m.selected != nil {
			m.trackList.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case TrackListView:
			return m.handleTrackListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case MigrateView:
			return m.handleMigrateKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsFetched:
		data := msg.data.(playlistsFetched)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.playlists))
		for i, pl := range data.playlists {
			items[i] = playlistItem{playlist: pl}
		}
		m.playlistList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.playlistList.Title = fmt.Sprintf("%s Playlists", m.source.Platform().DisplayName())
		m.playlistList.SetSize(m.width-4, m.height-8)
		m.loaded = true
		return m, nil

	case MsgTracksFetched:
		data := msg.data.(tracksFetched)
		if data.err != nil {
			m.err = data.err
			m.view = PlaylistListView
			return m, nil
		}
		m.selected = data.preview
		items := make([]list.Item, len(data.preview.tracks))
		for i, track := range data.preview.tracks {
			items[i] = trackItem{track: track}
		}
		m.trackList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.trackList.Title = fmt.Sprintf("Tracks in '%s'", data.preview.playlist.Name)
		m.trackList.SetSize(m.width-4, m.height-8)
		m.view = TrackListView
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		if m.jobID == "" {
			m.jobID = m.progress.JobID
		}
		return m, m.waitForProgress()

	case MsgMigrationComplete:
		data := msg.data.(migrationComplete)
		m.job = data.job
		m.err = data.err
		m.view = ResultView
		m.progressChan = nil
		m.doneChan = nil
		m.cancelling = false
		return m, nil

	case MsgCancelRequested:
		if err, _ := msg.data.(error); err != nil {
			m.progress.Message = fmt.Sprintf("cancel failed: %v", err)
			m.cancelling = false
		}
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case PlaylistListView:
		return m.renderPlaylistList()
	case TrackListView:
		return m.renderTrackList()
	case ConfirmView:
		return m.renderConfirm()
	case MigrateView:
		return m.renderMigrate()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case !m.loaded:
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if pl, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			return m, m.fetchTracks(pl.playlist.ID)
		}
	}

	var cmd tea.Cmd
	m.playlistList, cmd = m.playlistList.Update(msg)
	return m, cmd
}

func (m *Model) handleTrackListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = PlaylistListView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		m.view = ConfirmView
		return m, nil
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit), key.Matches(msg, m.keys.no):
		m.view = TrackListView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = MigrateView
		return m, m.startMigration()
	}
	return m, nil
}

// handleMigrateKeys only allows cancelling; the engine stops at the next track boundary and the
// completion message moves to the result view.
func (m *Model) handleMigrateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.cancel) && !m.cancelling && m.jobID != "" {
		m.cancelling = true
		return m, m.cancelMigration()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = PlaylistListView
		m.selected = nil
		m.job = nil
		m.jobID = ""
		m.progress = tasks.ProgressUpdate{}
		m.err = nil
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch {
	case m.view == PlaylistListView && m.loaded:
		m.playlistList, cmd = m.playlistList.Update(msg)
	case m.view == TrackListView && m.selected != nil:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		playlists, err := m.source.ListPlaylists(m.ctx)
		return playlistsFetchedMsg(playlists, err)
	}
}

func (m *Model) fetchTracks(playlistID string) tea.Cmd {
	return func() tea.Msg {
		ref, err := m.source.GetPlaylist(m.ctx, playlistID)
		if err != nil {
			return tracksFetchedMsg(nil, err)
		}
		tracks, err := m.source.ListTracks(m.ctx, playlistID)
		if err != nil {
			return tracksFetchedMsg(nil, err)
		}
		return tracksFetchedMsg(&playlistPreview{playlist: ref, tracks: tracks}, nil)
	}
}

// startMigration submits the selected playlist and runs it on a goroutine that reports through
// progressChan and delivers the final job on doneChan.
func (m *Model) startMigration() tea.Cmd {
	job, err := m.engine.Submit(m.ctx, models.MigrationRequest{
		SourcePlatform:   m.source.Platform(),
		SourcePlaylistID: m.selected.playlist.ID,
		TargetPlatform:   m.target,
	})
	if err != nil {
		return func() tea.Msg { return migrationCompleteMsg(nil, err) }
	}
	m.jobID = job.ID

	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan migrationComplete, 1)
	m.progressChan = progress
	m.doneChan = done

	go func() {
		result, err := m.engine.Run(m.ctx, job.ID, progress)
		done <- migrationComplete{job: result, err: err}
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.doneChan
	return func() tea.Msg {
		if progress == nil {
			return migrationCompleteMsg(nil, nil)
		}
		update, ok := <-progress
		if !ok {
			result := <-done
			return migrationCompleteMsg(result.job, result.err)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) cancelMigration() tea.Cmd {
	jobID := m.jobID
	return func() tea.Msg {
		_, err := m.engine.Cancel(m.ctx, jobID)
		return cancelRequestedMsg(err)
	}
}

func (m *Model) renderPlaylistList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.playlistList.View(), helpView)
}

func (m *Model) renderTrackList() string {
	migrateKey := key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "migrate"),
	)
	helpKeys := []key.Binding{migrateKey, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.trackList.View(), helpView)
}

func (m *Model) renderConfirm() string {
	name := m.selected.playlist.Name
	title := styles.title.Render(fmt.Sprintf("Migrate '%s' to %s?", name, m.target.DisplayName()))
	info := fmt.Sprintf("\nPlaylist: %s\nTracks: %d\n", name, len(m.selected.tracks))

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderMigrate() string {
	title := styles.title.Render("Migrating Playlist")

	var phase string
	switch m.progress.Phase {
	case tasks.FetchSource:
		phase = "Fetching source playlist..."
	case tasks.Reconcile:
		phase = "Reconciling with the target playlist..."
	case tasks.MatchTracks, tasks.AddTracks:
		phase = fmt.Sprintf("Matching and adding tracks (%d/%d)", m.progress.Step, m.progress.Total)
	case tasks.CreatePlaylist:
		phase = fmt.Sprintf("Creating playlist on %s...", m.target.DisplayName())
	case tasks.QuotaBlocked:
		phase = styles.warn.Render("Daily quota reached")
	default:
		phase = "Processing..."
	}

	status := m.progress.Message
	if m.cancelling {
		status = styles.warn.Render("Cancelling after the current track...")
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.cancel})
	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", title, phase, status, helpView)
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})

	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Migration failed: %v", m.err)) + "\n\n" + helpView
	}
	if m.job == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}

	job := m.job
	title := styles.outcome(job).Render(resultTitle(job))
	result := job.Result()
	info := fmt.Sprintf(
		"\nSource: %s (%d tracks)\nDestination: %s\nAdded: %d/%d",
		job.SourcePlaylistName,
		job.TotalTracks,
		result.PlaylistName,
		job.SuccessCount,
		job.TotalTracks,
	)

	var failed strings.Builder
	if pending := job.RetryableFailures(); len(pending) > 0 {
		failed.WriteString("\n\n")
		failed.WriteString(styles.warn.Render(fmt.Sprintf("%d tracks need attention:", len(pending))))
		for _, f := range pending {
			fmt.Fprintf(&failed, "\n  • %s - %s (%s)", f.Track.Artist(), f.Track.Title, f.Result.Kind)
		}
		failed.WriteString("\n\n")
		failed.WriteString(styles.help.Render(fmt.Sprintf("Resolve with: playbridge migrate resolve %s <source-track> <target-track>", job.ID)))
	}

	return fmt.Sprintf("%s\n%s%s\n\n%s", title, info, failed.String(), helpView)
}

func resultTitle(job *models.MigrationJob) string {
	switch {
	case job.State == models.StateCompleted && len(job.FailedTracks) == 0:
		return "✓ Migration complete"
	case job.State == models.StateCompleted:
		return "✓ Migration partially complete"
	case job.State == models.StateQuotaBlocked && job.ResumeAfter != nil:
		return fmt.Sprintf("Quota blocked, resumes on/after %s", job.ResumeAfter.Format(time.DateOnly))
	default:
		return "✗ " + job.StatusMessage()
	}
}
