package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
)

// QuotaShow prints today's write usage for every configured platform.
func (r *Runner) QuotaShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.init(ctx); err != nil {
		return err
	}

	platforms := r.catalogs.Platforms()
	if p := cmd.String("platform"); p != "" {
		platform, err := models.ParsePlatform(p)
		if err != nil {
			return err
		}
		platforms = []models.Platform{platform}
	}

	statuses := make([]quota.Status, 0, len(platforms))
	for _, p := range platforms {
		s, err := r.governor.Status(ctx, p, r.engine.CredentialFor(p))
		if err != nil {
			return err
		}
		statuses = append(statuses, s)
	}

	if cmd.Bool("json") {
		return r.writeJSON(statuses, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Daily quota")
	for _, s := range statuses {
		if s.Unlimited {
			r.writePlain("%-8s %-10s %d used (no limit)\n", s.Platform.DisplayName(), s.CredentialID, s.Used)
			continue
		}
		r.writePlain("%-8s %-10s %d/%d used, %d remaining, resets %s\n",
			s.Platform.DisplayName(), s.CredentialID, s.Used, s.Limit, s.Remaining, s.ResetsAt.Format(time.DateTime))
	}
	return nil
}
