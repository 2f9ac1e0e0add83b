package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/ui"
)

// TUI launches the interactive terminal UI for playlist migration.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/playbridge-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	source, err := r.client(ctx, cmd.String("from"))
	if err != nil {
		return err
	}
	target, err := models.ParsePlatform(cmd.String("to"))
	if err != nil {
		return err
	}
	if _, err := r.catalogs.Get(target); err != nil {
		return err
	}

	model := ui.NewModel(ctx, r.engine, source, target)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
