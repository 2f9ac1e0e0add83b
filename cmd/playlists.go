package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/shared"
)

func requireArgs(cmd *cli.Command, names ...string) ([]string, error) {
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = cmd.StringArg(name)
		if values[i] == "" {
			return nil, fmt.Errorf("%w: <%s>", shared.ErrMissingArgument, name)
		}
	}
	return values, nil
}

// PlaylistsList lists the account's playlists on a platform.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	client, err := r.client(ctx, cmd.String("platform"))
	if err != nil {
		return err
	}

	playlists, err := client.ListPlaylists(ctx)
	if err != nil {
		return fmt.Errorf("failed to list playlists: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%s playlists (%d)", client.Platform().DisplayName(), len(playlists)))
	for _, pl := range playlists {
		r.writePlain("%-40s %5d tracks  %s\n", pl.Name, pl.TrackCount, pl.ID)
	}
	return nil
}

// PlaylistsRename renames a playlist.
func (r *Runner) PlaylistsRename(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "playlist", "name")
	if err != nil {
		return err
	}
	client, err := r.client(ctx, cmd.String("platform"))
	if err != nil {
		return err
	}

	if err := client.RenamePlaylist(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("failed to rename playlist: %w", err)
	}
	r.logger.Info("playlist renamed", "playlist", args[0], "name", args[1])
	return r.writePlain("✓ Renamed %s to %q\n", args[0], args[1])
}

// PlaylistsDelete deletes a playlist and every sync registration naming it.
func (r *Runner) PlaylistsDelete(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "playlist")
	if err != nil {
		return err
	}
	client, err := r.client(ctx, cmd.String("platform"))
	if err != nil {
		return err
	}

	if err := client.DeletePlaylist(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	removed, err := r.syncs.RemoveForPlaylist(client.Platform(), args[0])
	if err != nil {
		return err
	}
	r.logger.Info("playlist deleted", "playlist", args[0], "registrations_removed", removed)

	r.writePlain("✓ Deleted %s\n", args[0])
	if removed > 0 {
		r.writePlain("  Removed %d sync registration(s)\n", removed)
	}
	return nil
}

// PlaylistsEmpty removes every track from a playlist.
func (r *Runner) PlaylistsEmpty(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "playlist")
	if err != nil {
		return err
	}
	client, err := r.client(ctx, cmd.String("platform"))
	if err != nil {
		return err
	}

	if err := client.EmptyPlaylist(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to empty playlist: %w", err)
	}
	return r.writePlain("✓ Emptied %s\n", args[0])
}

// PlaylistsRemoveTrack removes one track from a playlist.
func (r *Runner) PlaylistsRemoveTrack(ctx context.Context, cmd *cli.Command) error {
	args, err := requireArgs(cmd, "playlist", "track")
	if err != nil {
		return err
	}
	client, err := r.client(ctx, cmd.String("platform"))
	if err != nil {
		return err
	}

	if err := client.RemoveTrack(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("failed to remove track: %w", err)
	}
	return r.writePlain("✓ Removed %s from %s\n", args[1], args[0])
}
