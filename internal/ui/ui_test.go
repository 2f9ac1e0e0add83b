package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/matcher"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/repositories"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/tasks"
	tu "github.com/desertthunder/playbridge/internal/testing"
)

func newTestModel(t *testing.T) (*Model, *tu.MockCatalog) {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	spotify := tu.NewMockCatalog(models.Spotify)
	youtube := tu.NewMockCatalog(models.YouTube)
	spotify.SeedPlaylist("sp-fav", "Favorites",
		models.Track{ID: "sp-1", Title: "Yellow", Artists: []string{"Coldplay"}, DurationMillis: 269000},
		models.Track{ID: "sp-2", Title: "Clocks", Artists: []string{"Coldplay"}, DurationMillis: 307000},
	)
	youtube.Index(
		models.Track{ID: "yt-1", Title: "Yellow", Artists: []string{"Coldplay"}, DurationMillis: 269000},
		models.Track{ID: "yt-2", Title: "Clocks", Artists: []string{"Coldplay"}, DurationMillis: 307000},
	)

	governor, err := quota.NewGovernor(quota.NewSQLiteStore(db), &shared.Config{})
	if err != nil {
		t.Fatalf("failed to create governor: %v", err)
	}
	engine := tasks.NewMigrationEngine(repositories.NewJobRepository(db), repositories.NewOverrideRepository(db),
		catalog.NewRegistry(spotify, youtube), matcher.New(matcher.DefaultPolicy()), governor)

	return NewModel(context.Background(), engine, spotify, models.YouTube), youtube
}

func keyPress(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
}

// drive runs cmd and feeds every resulting message back into the model until no command is left.
func drive(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	for i := 0; cmd != nil; i++ {
		if i > 200 {
			t.Fatal("too many messages")
		}
		msg := cmd()
		if msg == nil {
			return
		}
		_, cmd = m.Update(msg)
	}
}

func TestModel(t *testing.T) {
	t.Run("full migration flow", func(t *testing.T) {
		m, youtube := newTestModel(t)
		m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

		drive(t, m, m.Init())
		if !m.loaded {
			t.Fatal("expected playlists to load")
		}

		_, cmd := m.Update(keyPress("enter"))
		drive(t, m, cmd)
		if m.view != TrackListView || len(m.selected.tracks) != 2 {
			t.Fatalf("expected track preview, got view %d", m.view)
		}

		m.Update(keyPress("enter"))
		if m.view != ConfirmView {
			t.Fatalf("expected confirm view, got %d", m.view)
		}
		if !strings.Contains(m.View(), "Migrate 'Favorites' to YouTube?") {
			t.Errorf("unexpected confirm view: %s", m.View())
		}

		_, cmd = m.Update(keyPress("y"))
		drive(t, m, cmd)
		if m.view != ResultView {
			t.Fatalf("expected result view, got %d", m.view)
		}
		if m.err != nil || m.job == nil || m.job.Outcome() != "complete" {
			t.Fatalf("expected complete job, got %+v err %v", m.job, m.err)
		}
		if got := len(youtube.Tracks(m.job.TargetPlaylistID)); got != 2 {
			t.Errorf("expected 2 tracks on target, got %d", got)
		}
		if !strings.Contains(m.View(), "Migration complete") {
			t.Errorf("unexpected result view: %s", m.View())
		}

		m.Update(keyPress("r"))
		if m.view != PlaylistListView || m.job != nil || m.selected != nil {
			t.Error("restart should reset to the playlist list")
		}
	})

	t.Run("declining returns to the preview", func(t *testing.T) {
		m, _ := newTestModel(t)
		drive(t, m, m.Init())
		_, cmd := m.Update(keyPress("enter"))
		drive(t, m, cmd)
		m.Update(keyPress("enter"))

		m.Update(keyPress("n"))
		if m.view != TrackListView {
			t.Errorf("expected track list, got %d", m.view)
		}
		m.Update(keyPress("esc"))
		if m.view != PlaylistListView {
			t.Errorf("expected playlist list, got %d", m.view)
		}
	})

	t.Run("fetch errors are shown", func(t *testing.T) {
		m, _ := newTestModel(t)
		m.Update(playlistsFetchedMsg(nil, errors.New("token expired")))

		if !strings.Contains(m.View(), "token expired") {
			t.Errorf("expected error view, got %s", m.View())
		}
		_, cmd := m.Update(keyPress("q"))
		if cmd == nil {
			t.Error("q should quit")
		}
	})

	t.Run("keys before playlists load are ignored", func(t *testing.T) {
		m, _ := newTestModel(t)
		_, cmd := m.Update(keyPress("enter"))
		if cmd != nil || m.view != PlaylistListView {
			t.Error("enter should do nothing before playlists load")
		}
	})
}

func TestResultTitle(t *testing.T) {
	job := &models.MigrationJob{State: models.StateCompleted}
	if got := resultTitle(job); got != "✓ Migration complete" {
		t.Errorf("got %q", got)
	}

	job.FailedTracks = []models.FailedTrack{{Track: models.Track{ID: "sp-9"}}}
	if got := resultTitle(job); got != "✓ Migration partially complete" {
		t.Errorf("got %q", got)
	}

	job = &models.MigrationJob{State: models.StateFailed, ErrorMessage: "auth expired"}
	if got := resultTitle(job); got != "✗ failed: auth expired" {
		t.Errorf("got %q", got)
	}
}
