package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/playbridge/internal/catalog"
	"github.com/desertthunder/playbridge/internal/matcher"
	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/quota"
	"github.com/desertthunder/playbridge/internal/repositories"
	"github.com/desertthunder/playbridge/internal/shared"
	"github.com/desertthunder/playbridge/internal/syncs"
	"github.com/desertthunder/playbridge/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, catalogs and engine are built on first use so commands like setup work without
// credentials.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	db         *sql.DB
	catalogs   *catalog.Registry
	quotaStore quota.Store
	now        func() time.Time

	once     sync.Once
	initErr  error
	governor *quota.Governor
	syncs    *syncs.Registry
	engine   *tasks.MigrationEngine
	closers  []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB           // opened from [database] when nil
	Catalogs   *catalog.Registry // built from [credentials] when nil
	QuotaStore quota.Store       // chosen by [store] quota_backend when nil
	Clock      func() time.Time
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
		catalogs:   opts.Catalogs,
		quotaStore: opts.QuotaStore,
		now:        opts.Clock,
	}
}

// SetLogger replaces the logger. Must be called before the first command builds the engine.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, playlistsCommand, migrateCommand, syncCommand, quotaCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// init builds the shared services once per process.
func (r *Runner) init(ctx context.Context) error {
	r.once.Do(func() { r.initErr = r.build(ctx) })
	return r.initErr
}

func (r *Runner) build(ctx context.Context) error {
	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		r.closers = append(r.closers, db.Close)
		r.db = db
	}
	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if r.catalogs == nil {
		catalogs, err := r.buildCatalogs(ctx)
		if err != nil {
			return err
		}
		r.catalogs = catalogs
	}

	store, err := r.buildQuotaStore(ctx)
	if err != nil {
		return err
	}
	governor, err := quota.NewGovernor(store, r.config, quota.WithClock(r.now), quota.WithLogger(r.logger))
	if err != nil {
		return err
	}
	r.governor = governor

	policy, err := matcher.PolicyFromConfig(r.config.Matcher)
	if err != nil {
		return err
	}
	m := matcher.New(policy)

	r.syncs = syncs.NewRegistry(repositories.NewSyncRepository(r.db), r.catalogs, m,
		syncs.WithClock(r.now), syncs.WithLogger(r.logger))
	r.engine = tasks.NewMigrationEngine(
		repositories.NewJobRepository(r.db),
		repositories.NewOverrideRepository(r.db),
		r.catalogs, m, governor,
		tasks.WithClock(r.now),
		tasks.WithLogger(r.logger),
		tasks.WithSearchWorkers(r.config.Migration.SearchWorkers),
		tasks.WithSyncRegistry(r.syncs),
		tasks.WithCredentials(r.credentialIDs()),
	)
	return nil
}

// buildCatalogs creates a client for every platform with a token, each wrapped in a [catalog.Retrier].
func (r *Runner) buildCatalogs(ctx context.Context) (*catalog.Registry, error) {
	creds := r.config.Credentials
	searchLimit := r.config.Matcher.SearchLimit
	registry := catalog.NewRegistry()

	spotify, err := catalog.NewSpotifyClient(ctx, creds.Spotify, searchLimit, shared.WithLogger(r.logger, "platform", models.Spotify))
	switch {
	case err == nil:
		registry.Register(spotify)
	case errors.Is(err, shared.ErrMissingCredentials):
		r.logger.Debug("spotify not configured")
	default:
		return nil, err
	}

	youtube, err := catalog.NewYouTubeClient(ctx, creds.YouTube, searchLimit, shared.WithLogger(r.logger, "platform", models.YouTube))
	switch {
	case err == nil:
		registry.Register(youtube)
	case errors.Is(err, shared.ErrMissingCredentials):
		r.logger.Debug("youtube not configured")
	default:
		return nil, err
	}

	policy := catalog.NewRetryPolicy(r.config.Migration)
	registry.Wrap(func(c catalog.Client) catalog.Client {
		return catalog.NewRetrier(c, policy, r.config.Migration.RequestsPerSecond,
			shared.WithLogger(r.logger, "platform", c.Platform()))
	})
	return registry, nil
}

func (r *Runner) buildQuotaStore(ctx context.Context) (quota.Store, error) {
	if r.quotaStore != nil {
		return r.quotaStore, nil
	}
	switch r.config.Store.QuotaBackend {
	case "", "sqlite":
		return quota.NewSQLiteStore(r.db), nil
	case "redis":
		store, err := quota.NewRedisStoreFromAddr(ctx, r.config.Store.RedisAddr, r.config.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown quota backend %q", shared.ErrInvalidConfig, r.config.Store.QuotaBackend)
	}
}

func (r *Runner) credentialIDs() map[models.Platform]string {
	ids := map[models.Platform]string{}
	if id := r.config.Credentials.Spotify.CredentialID; id != "" {
		ids[models.Spotify] = id
	}
	if id := r.config.Credentials.YouTube.CredentialID; id != "" {
		ids[models.YouTube] = id
	}
	return ids
}

// Close releases the database and quota store opened by the runner.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// client returns the catalog for a platform flag value.
func (r *Runner) client(ctx context.Context, platform string) (catalog.Client, error) {
	if err := r.init(ctx); err != nil {
		return nil, err
	}
	p, err := models.ParsePlatform(platform)
	if err != nil {
		return nil, err
	}
	return r.catalogs.Get(p)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
