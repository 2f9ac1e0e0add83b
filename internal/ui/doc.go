// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a multi-view workflow for playlist migration:
//  1. [PlaylistListView] : Browse and select playlists on the source platform
//  2. [TrackListView] : Preview tracks before migrating
//  3. [ConfirmView] : Confirm the migration
//  4. [MigrateView] : Monitor progress reported by the migration engine
//  5. [ResultView] : Show the outcome and the tracks that need attention
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the MigrationEngine, so the view never blocks on catalog calls.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, c, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
