package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPlaylistsFetched MsgKind = iota
	MsgTracksFetched
	MsgProgressUpdate
	MsgMigrationComplete
	MsgCancelRequested
)

type playlistsFetched struct {
	playlists []models.PlaylistRef
	err       error
}

type playlistPreview struct {
	playlist models.PlaylistRef
	tracks   []models.Track
}

type tracksFetched struct {
	preview *playlistPreview
	err     error
}

type migrationComplete struct {
	job *models.MigrationJob
	err error
}

// playlistsFetchedMsg is the constructor for [MsgPlaylistsFetched]
func playlistsFetchedMsg(playlists []models.PlaylistRef, err error) Msg {
	return Msg{kind: MsgPlaylistsFetched, data: playlistsFetched{playlists, err}}
}

// tracksFetchedMsg is the constructor for [MsgTracksFetched]
func tracksFetchedMsg(preview *playlistPreview, err error) Msg {
	return Msg{kind: MsgTracksFetched, data: tracksFetched{preview, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// migrationCompleteMsg is the constructor for [MsgMigrationComplete]
func migrationCompleteMsg(job *models.MigrationJob, err error) Msg {
	return Msg{kind: MsgMigrationComplete, data: migrationComplete{job, err}}
}

// cancelRequestedMsg is the constructor for [MsgCancelRequested]
func cancelRequestedMsg(err error) Msg {
	return Msg{kind: MsgCancelRequested, data: err}
}
