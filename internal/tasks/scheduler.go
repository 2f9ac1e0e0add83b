package tasks

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

// Scheduler periodically starts due sync runs and resumes quota-blocked jobs.
type Scheduler struct {
	engine   *MigrationEngine
	interval time.Duration
	logger   *log.Logger
}

// NewScheduler creates a scheduler polling every interval (one minute when not positive).
func NewScheduler(engine *MigrationEngine, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scheduler{engine: engine, interval: interval, logger: logger}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass and returns the number of jobs started.
func (s *Scheduler) Tick(ctx context.Context) int {
	return s.resumeBlocked(ctx) + s.runDueSyncs(ctx)
}

func (s *Scheduler) resumeBlocked(ctx context.Context) int {
	e := s.engine
	jobs, err := e.jobs.List(map[string]any{"state": string(models.StateQuotaBlocked)})
	if err != nil {
		s.logger.Error("failed to list quota-blocked jobs", "err", err)
		return 0
	}

	now := e.now()
	started := 0
	for _, job := range jobs {
		if job.ResumeAfter != nil && now.Before(*job.ResumeAfter) {
			continue
		}
		if err := e.Start(ctx, job.ID, nil); err != nil {
			if !errors.Is(err, shared.ErrJobRunning) {
				s.logger.Error("failed to resume job", "job_id", job.ID, "err", err)
			}
			continue
		}
		s.logger.Info("resuming quota-blocked job", "job_id", job.ID)
		started++
	}
	return started
}

func (s *Scheduler) runDueSyncs(ctx context.Context) int {
	e := s.engine
	if e.syncs == nil {
		return 0
	}
	due, err := e.syncs.DueForRun(e.now())
	if err != nil {
		s.logger.Error("failed to list due sync registrations", "err", err)
		return 0
	}

	started := 0
	for _, reg := range due {
		job, err := e.SubmitSync(ctx, reg)
		if err != nil {
			s.logger.Error("failed to submit sync run", "registration", reg.ID, "err", err)
			continue
		}
		if job == nil {
			continue
		}
		if err := e.Start(ctx, job.ID, nil); err != nil {
			s.logger.Error("failed to start sync run", "job_id", job.ID, "err", err)
			continue
		}
		started++
	}
	return started
}
