package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/matcher"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/syncs"
)

// JobStore persists migration jobs. Implemented by repositories.JobRepository.
type JobStore interface {
	models.Repository[*models.MigrationJob]
	Stats() (map[models.JobState]int, error)
}

// OverrideStore persists pinned match resolutions. Implemented by repositories.OverrideRepository.
type OverrideStore interface {
	Find(fingerprint string, platform models.Platform) (*models.MatchOverride, error)
	Create(o *models.MatchOverride) error
}

// MigrationEngine drives migration and sync jobs.
//
// Each run owns its job exclusively: a job-id keyed table rejects a second concurrent run, and
// readers always load a fresh copy from the store.
type MigrationEngine struct {
	jobs        JobStore
	overrides   OverrideStore
	catalogs    *catalog.Registry
	matcher     *matcher.Matcher
	governor    *quota.Governor
	syncs       *syncs.Registry
	credentials map[models.Platform]string
	workers     int
	logger      *log.Logger
	now         func() time.Time

	mu      sync.Mutex
	running map[string]*activeRun
	wg      sync.WaitGroup
}

// activeRun is the stop handle of a job being executed in this process.
type activeRun struct {
	stop   chan struct{}
	once   sync.Once
	reason error
}

// cancel asks the run to stop before its next track. The first reason wins.
func (a *activeRun) cancel(reason error) {
	a.once.Do(func() {
		a.reason = reason
		close(a.stop)
	})
}

// err returns the stop reason, or nil while the run may continue.
func (a *activeRun) err() error {
	select {
	case <-a.stop:
		return a.reason
	default:
		return nil
	}
}

// Option configures a [MigrationEngine].
type Option func(*MigrationEngine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *MigrationEngine) { e.now = now }
}

// WithLogger sets the engine logger. Each job logs through a child logger carrying its id.
func WithLogger(l *log.Logger) Option {
	return func(e *MigrationEngine) { e.logger = l }
}

// WithSearchWorkers bounds how many searches run ahead of the write loop.
func WithSearchWorkers(n int) Option {
	return func(e *MigrationEngine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSyncRegistry enables keep-in-sync registration and sync runs.
func WithSyncRegistry(r *syncs.Registry) Option {
	return func(e *MigrationEngine) { e.syncs = r }
}

// WithCredentials sets the credential id quota is accounted against, per target platform.
func WithCredentials(ids map[models.Platform]string) Option {
	return func(e *MigrationEngine) {
		for p, id := range ids {
			if id != "" {
				e.credentials[p] = id
			}
		}
	}
}

// NewMigrationEngine creates an engine. overrides may be nil to disable pinned matches.
func NewMigrationEngine(jobs JobStore, overrides OverrideStore, catalogs *catalog.Registry, m *matcher.Matcher, governor *quota.Governor, opts ...Option) *MigrationEngine {
	e := &MigrationEngine{
		jobs:        jobs,
		overrides:   overrides,
		catalogs:    catalogs,
		matcher:     m,
		governor:    governor,
		credentials: map[models.Platform]string{},
		workers:     1,
		logger:      log.New(io.Discard),
		now:         time.Now,
		running:     make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CredentialFor returns the credential id writes to platform p are accounted against.
func (e *MigrationEngine) CredentialFor(p models.Platform) string {
	if id, ok := e.credentials[p]; ok {
		return id
	}
	return "default"
}

// Submit validates a request and persists a pending job. It does not start the job.
func (e *MigrationEngine) Submit(ctx context.Context, req models.MigrationRequest) (*models.MigrationJob, error) {
	var err error
	if req.SourcePlatform, err = models.ParsePlatform(string(req.SourcePlatform)); err != nil {
		return nil, err
	}
	if req.TargetPlatform, err = models.ParsePlatform(string(req.TargetPlatform)); err != nil {
		return nil, err
	}
	if req.KeepInSync {
		if req.Frequency, err = models.ParseFrequency(string(req.Frequency)); err != nil {
			return nil, err
		}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	for _, p := range []models.Platform{req.SourcePlatform, req.TargetPlatform} {
		if _, err := e.catalogs.Get(p); err != nil {
			return nil, err
		}
	}

	job := models.NewMigrationJob(req, e.CredentialFor(req.TargetPlatform), e.now())
	if err := e.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	e.logger.Info("job submitted", "job_id", job.ID, "source", job.SourcePlaylistID, "direction", direction(job))
	return job, nil
}

// Get returns the current persisted state of a job.
func (e *MigrationEngine) Get(ctx context.Context, jobID string) (*models.MigrationJob, error) {
	return e.jobs.Get(jobID)
}

// List returns jobs matching criteria, newest first. See repositories.JobRepository.List.
func (e *MigrationEngine) List(ctx context.Context, criteria map[string]any) ([]*models.MigrationJob, error) {
	return e.jobs.List(criteria)
}

// Stats counts jobs per state.
func (e *MigrationEngine) Stats(ctx context.Context) (map[models.JobState]int, error) {
	return e.jobs.Stats()
}

// IsRunning reports whether the job is executing in this process.
func (e *MigrationEngine) IsRunning(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[jobID]
	return ok
}

// acquire claims the job id for one run. The returned func releases it.
func (e *MigrationEngine) acquire(jobID string) (*activeRun, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[jobID]; ok {
		return nil, nil, fmt.Errorf("%w: %s", shared.ErrJobRunning, jobID)
	}
	a := &activeRun{stop: make(chan struct{})}
	e.running[jobID] = a
	return a, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.running, jobID)
	}, nil
}

// Run executes (or resumes) a job to a terminal or paused state and returns it.
//
// A job already InProgress when Run starts was interrupted by a crash and is reconciled
// against the target playlist before continuing.
func (e *MigrationEngine) Run(ctx context.Context, jobID string, progress chan<- ProgressUpdate) (*models.MigrationJob, error) {
	a, release, err := e.acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.execute(ctx, jobID, a, nil, progress)
}

// Start runs a job in the background. The id is claimed before Start returns, so a second
// Start for the same job fails with [shared.ErrJobRunning].
func (e *MigrationEngine) Start(ctx context.Context, jobID string, progress chan<- ProgressUpdate) error {
	a, release, err := e.acquire(jobID)
	if err != nil {
		return err
	}
	if _, err := e.jobs.Get(jobID); err != nil {
		release()
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer release()
		if _, err := e.execute(context.WithoutCancel(ctx), jobID, a, nil, progress); err != nil {
			e.logger.Error("job run ended with error", "job_id", jobID, "err", err)
		}
	}()
	return nil
}

// Cancel stops a job. A running job stops before its next track; a pending or quota-blocked
// job is cancelled immediately.
func (e *MigrationEngine) Cancel(ctx context.Context, jobID string) (*models.MigrationJob, error) {
	e.mu.Lock()
	a, ok := e.running[jobID]
	e.mu.Unlock()
	if ok {
		a.cancel(errStopped)
		return e.jobs.Get(jobID)
	}

	_, release, err := e.acquire(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := e.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.State == models.StateCancelled {
		return job, nil
	}
	if err := job.Transition(models.StateCancelled, e.now()); err != nil {
		return nil, err
	}
	if err := e.jobs.Update(job); err != nil {
		return nil, err
	}
	e.abandonSync(job)
	return job, nil
}

// Recover restarts jobs that were InProgress when the process stopped.
func (e *MigrationEngine) Recover(ctx context.Context) (int, error) {
	jobs, err := e.jobs.List(map[string]any{"state": string(models.StateInProgress)})
	if err != nil {
		return 0, err
	}
	started := 0
	for _, job := range jobs {
		if err := e.Start(ctx, job.ID, nil); err != nil {
			if errors.Is(err, shared.ErrJobRunning) {
				continue
			}
			return started, err
		}
		started++
	}
	if started > 0 {
		e.logger.Info("recovering interrupted jobs", "count", started)
	}
	return started, nil
}

// Shutdown asks every running job to stop at its next track and waits for them. Stopped jobs
// stay InProgress so the next [MigrationEngine.Recover] picks them up.
func (e *MigrationEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, a := range e.running {
		a.cancel(errShutdown)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has returned.
func (e *MigrationEngine) Wait() {
	e.wg.Wait()
}

// abandonSync releases the registration of a sync job that will not run to completion, keeping
// the tracks it already applied.
func (e *MigrationEngine) abandonSync(job *models.MigrationJob) {
	if job.Kind != models.KindSync || e.syncs == nil {
		return
	}
	if err := e.syncs.Abandon(job); err != nil {
		e.logger.Warn("failed to release sync registration", "job_id", job.ID, "registration", job.SyncRegistrationID, "err", err)
	}
}

func direction(job *models.MigrationJob) string {
	return fmt.Sprintf("%s -> %s", job.SourcePlatform, job.TargetPlatform)
}
