package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/playbridge/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

// outcome picks the style for a job's final state.
func (p *Palette) outcome(job *models.MigrationJob) lipgloss.Style {
	switch {
	case job.State == models.StateCompleted && len(job.FailedTracks) == 0:
		return p.ok
	case job.State == models.StateCompleted, job.State == models.StateQuotaBlocked:
		return p.warn.Bold(true)
	default:
		return p.err
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
