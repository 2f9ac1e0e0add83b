// Package formatter exports migration job reports to CSV, Markdown and plain text.
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

// Format is a report output format.
type Format string

const (
	CSV      Format = "csv"
	Markdown Format = "markdown"
	Text     Format = "text"
)

// ParseFormat accepts a format name or its usual file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	case "text", "txt", "":
		return Text, nil
	default:
		return "", fmt.Errorf("%w: unknown report format %q (csv, markdown or text)", shared.ErrInvalidArgument, s)
	}
}

// status labels a failed track for reports.
func status(f models.FailedTrack) string {
	switch {
	case f.Skipped:
		return "skipped"
	case f.Result.Kind == models.Unmatched && strings.HasPrefix(f.Track.ID, "remove:"):
		return "removal"
	case f.Result.Kind == models.Matched:
		return "rejected"
	default:
		return string(f.Result.Kind)
	}
}

// candidates renders the ranked alternates of an ambiguous match as "id (score)" pairs.
func candidates(r models.MatchResult) string {
	parts := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", c.Track.ID, c.Score))
	}
	return strings.Join(parts, "; ")
}

// formatDuration renders milliseconds as m:ss, or "-" when unknown.
func formatDuration(ms int) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// ExportToCSV writes one row per failed track with columns:
// Status, Source ID, Title, Artist, Album, Duration, ISRC, Reason, Candidates
func ExportToCSV(job *models.MigrationJob) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Status", "Source ID", "Title", "Artist", "Album", "Duration", "ISRC", "Reason", "Candidates"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, f := range job.FailedTracks {
		record := []string{
			status(f),
			f.Track.ID,
			f.Track.Title,
			f.Track.Artist(),
			f.Track.Album,
			strconv.Itoa(f.Track.DurationMillis),
			f.Track.ISRC,
			f.Reason,
			candidates(f.Result),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func playlistName(job *models.MigrationJob) string {
	if name := job.Result().PlaylistName; name != "" {
		return name
	}
	return job.SourcePlaylistID
}

// ExportToMarkdown renders a job summary followed by the tracks that need attention.
func ExportToMarkdown(job *models.MigrationJob) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", playlistName(job))
	fmt.Fprintf(&buf, "**Job**: `%s` (%s)\n", job.ID, job.Kind)
	fmt.Fprintf(&buf, "**Direction**: %s -> %s\n", job.SourcePlatform.DisplayName(), job.TargetPlatform.DisplayName())
	fmt.Fprintf(&buf, "**Status**: %s\n", job.StatusMessage())
	fmt.Fprintf(&buf, "**Added**: %d of %d\n", job.SuccessCount, job.TotalTracks)
	if job.TargetPlaylistID != "" {
		fmt.Fprintf(&buf, "**Target playlist**: `%s`\n", job.TargetPlaylistID)
	}
	buf.WriteString("\n")

	if len(job.FailedTracks) == 0 {
		buf.WriteString("Every track was migrated.\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("## Needs attention\n\n")
	buf.WriteString("| # | Status | Track | Duration | Reason |\n")
	buf.WriteString("|---|--------|-------|----------|--------|\n")
	for i, f := range job.FailedTracks {
		track := f.Track.Title
		if artist := f.Track.Artist(); artist != "" {
			track = artist + " - " + track
		}
		fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s |\n",
			i+1, status(f), escapeCell(track), formatDuration(f.Track.DurationMillis), escapeCell(f.Reason))
	}

	var ambiguous []models.FailedTrack
	for _, f := range job.FailedTracks {
		if f.Result.Kind == models.Ambiguous && len(f.Result.Candidates) > 0 && !f.Skipped {
			ambiguous = append(ambiguous, f)
		}
	}
	if len(ambiguous) > 0 {
		buf.WriteString("\n## Candidates\n\n")
		for _, f := range ambiguous {
			fmt.Fprintf(&buf, "### %s (`%s`)\n\n", f.Track.Title, f.Track.ID)
			for _, c := range f.Result.Candidates {
				fmt.Fprintf(&buf, "- `%s` %s - %s [%s] score %.2f\n",
					c.Track.ID, c.Track.Artist(), c.Track.Title, formatDuration(c.Track.DurationMillis), c.Score)
			}
			buf.WriteString("\n")
		}
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ExportToText renders a plain text summary of the job.
func ExportToText(job *models.MigrationJob) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlist: %s\n", playlistName(job))
	fmt.Fprintf(&buf, "Job: %s\n", job.ID)
	fmt.Fprintf(&buf, "Status: %s\n", job.StatusMessage())
	fmt.Fprintf(&buf, "Added: %d of %d\n", job.SuccessCount, job.TotalTracks)
	if len(job.FailedTracks) > 0 {
		fmt.Fprintf(&buf, "\nNeeds attention: %d\n\n", len(job.FailedTracks))
	}

	for i, f := range job.FailedTracks {
		fmt.Fprintf(&buf, "%d. [%s] %s - %s: %s\n", i+1, status(f), f.Track.Artist(), f.Track.Title, f.Reason)
	}
	return buf.Bytes(), nil
}

// Export renders a job report in the given format.
func Export(job *models.MigrationJob, format Format) ([]byte, error) {
	switch format {
	case CSV:
		return ExportToCSV(job)
	case Markdown:
		return ExportToMarkdown(job)
	case Text:
		return ExportToText(job)
	default:
		return nil, fmt.Errorf("%w: unknown report format %q", shared.ErrInvalidArgument, format)
	}
}

// ToMetadataJSON generates the job snapshot without its per-track bookkeeping.
func ToMetadataJSON(job *models.MigrationJob) ([]byte, error) {
	meta := *job
	meta.ProcessedTrackIDs = nil
	meta.WorkTracks = nil
	meta.Removals = nil
	return json.MarshalIndent(meta.Snapshot(), "", "  ")
}

// ExportResult lists the files written by [WriteExport].
type ExportResult struct {
	ReportFile   string
	MetadataFile string
}

func extension(format Format) string {
	switch format {
	case CSV:
		return ".csv"
	case Markdown:
		return ".md"
	default:
		return ".txt"
	}
}

// WriteExport writes a report and its metadata JSON next to each other.
//
// Defaults to the job ID as the base path and creates {base}_report.{ext} and {base}_job.json.
func WriteExport(job *models.MigrationJob, format Format, basePath string) (*ExportResult, error) {
	if basePath == "" {
		basePath = job.ID
	}
	if dir := filepath.Dir(basePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := Export(job, format)
	if err != nil {
		return nil, err
	}
	reportFile := basePath + "_report" + extension(format)
	if err := os.WriteFile(reportFile, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write report file: %w", err)
	}

	metadata, err := ToMetadataJSON(job)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}
	metadataFile := basePath + "_job.json"
	if err := os.WriteFile(metadataFile, metadata, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &ExportResult{ReportFile: reportFile, MetadataFile: metadataFile}, nil
}
