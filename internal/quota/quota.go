// Package quota enforces per-platform daily write ceilings.
//
// Reservations are a conditional increment against persisted state, so concurrent jobs
// sharing a platform credential can never push the day's usage past the limit.
package quota

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

// Key addresses one day of usage for one platform credential.
type Key struct {
	Platform     models.Platform
	CredentialID string
	Date         string // YYYY-MM-DD in the platform timezone
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Platform, k.CredentialID, k.Date)
}

// Store persists daily usage. Reserve must be a single atomic compare-and-increment.
type Store interface {
	// Reserve adds count to the day's usage if the result stays within limit.
	// It returns the units still available after the attempt.
	Reserve(ctx context.Context, key Key, count, limit int) (available int, ok bool, err error)
	// Release subtracts count, never going below zero.
	Release(ctx context.Context, key Key, count int) error
	// Usage returns the units consumed so far.
	Usage(ctx context.Context, key Key) (int, error)
}

// ExceededError is returned by [Governor.Reserve] when the day's ceiling is reached.
type ExceededError struct {
	Platform  models.Platform
	Available int
	Limit     int
	ResumesAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: %s has %d of %d writes left, resumes on/after %s",
		shared.ErrQuotaExceeded, e.Platform.DisplayName(), e.Available, e.Limit, e.ResumesAt.Format(time.DateOnly))
}

func (e *ExceededError) Unwrap() error { return shared.ErrQuotaExceeded }

// Reservation is a claim on write units for one day.
type Reservation struct {
	Key       Key
	Count     int
	Unlimited bool

	mu      sync.Mutex
	settled bool
}

func (r *Reservation) settle() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return fmt.Errorf("%w: reservation %s already settled", shared.ErrInvalidState, r.Key)
	}
	r.settled = true
	return nil
}

// Status is a read-only view of the current day's usage.
type Status struct {
	Platform     models.Platform `json:"platform"`
	CredentialID string          `json:"credentialId"`
	Date         string          `json:"date"`
	Used         int             `json:"used"`
	Limit        int             `json:"limit"`
	Remaining    int             `json:"remaining"`
	Unlimited    bool            `json:"unlimited"`
	ResetsAt     time.Time       `json:"resetsAt"`
}

type platformLimit struct {
	limit    int
	location *time.Location
}

// Governor gates mutating catalog operations against the daily ceilings.
type Governor struct {
	store  Store
	limits map[models.Platform]platformLimit
	now    func() time.Time
	logger *log.Logger
}

// Option configures a [Governor].
type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the logger used for reservation events.
func WithLogger(l *log.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// NewGovernor builds a governor from the per-platform quota config. Platforms without an
// entry, or with a daily limit of zero, are unlimited.
func NewGovernor(store Store, cfg *shared.Config, opts ...Option) (*Governor, error) {
	g := &Governor{
		store:  store,
		limits: make(map[models.Platform]platformLimit),
		now:    time.Now,
		logger: log.New(io.Discard),
	}
	for _, p := range models.Platforms() {
		q := cfg.QuotaFor(string(p))
		loc, err := time.LoadLocation(q.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: quota timezone for %s: %w", shared.ErrInvalidConfig, p, err)
		}
		if q.DailyLimit < 0 {
			return nil, fmt.Errorf("%w: negative daily limit for %s", shared.ErrInvalidConfig, p)
		}
		g.limits[p] = platformLimit{limit: q.DailyLimit, location: loc}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Governor) limitFor(p models.Platform) platformLimit {
	if l, ok := g.limits[p]; ok {
		return l
	}
	return platformLimit{location: time.UTC}
}

// key resolves the current day lazily on every call, which is how rollover happens.
func (g *Governor) key(p models.Platform, credentialID string) Key {
	l := g.limitFor(p)
	return Key{Platform: p, CredentialID: credentialID, Date: g.now().In(l.location).Format(time.DateOnly)}
}

// NextReset returns the start of the next day in the platform's timezone.
func (g *Governor) NextReset(p models.Platform) time.Time {
	l := g.limitFor(p)
	now := g.now().In(l.location)
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, l.location)
}

// Reserve claims count write units for today, or returns an [*ExceededError].
func (g *Governor) Reserve(ctx context.Context, p models.Platform, credentialID string, count int) (*Reservation, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: reservation count must be positive", shared.ErrInvalidArgument)
	}

	key := g.key(p, credentialID)
	l := g.limitFor(p)
	if l.limit == 0 {
		return &Reservation{Key: key, Count: count, Unlimited: true}, nil
	}

	available, ok, err := g.store.Reserve(ctx, key, count, l.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve quota for %s: %w", key, err)
	}
	if !ok {
		g.logger.Info("quota exhausted", "platform", p, "credential", credentialID, "date", key.Date, "available", available)
		return nil, &ExceededError{Platform: p, Available: available, Limit: l.limit, ResumesAt: g.NextReset(p)}
	}

	g.logger.Debug("quota reserved", "platform", p, "date", key.Date, "count", count, "available", available)
	return &Reservation{Key: key, Count: count}, nil
}

// Commit confirms the reserved units were consumed by a successful write.
func (g *Governor) Commit(ctx context.Context, r *Reservation) error {
	return r.settle()
}

// Release returns the reserved units to the reservation's own day.
func (g *Governor) Release(ctx context.Context, r *Reservation) error {
	if err := r.settle(); err != nil {
		return err
	}
	if r.Unlimited {
		return nil
	}
	if err := g.store.Release(ctx, r.Key, r.Count); err != nil {
		return fmt.Errorf("failed to release quota for %s: %w", r.Key, err)
	}
	g.logger.Debug("quota released", "key", r.Key, "count", r.Count)
	return nil
}

// Status reports today's usage for a platform credential.
func (g *Governor) Status(ctx context.Context, p models.Platform, credentialID string) (Status, error) {
	key := g.key(p, credentialID)
	l := g.limitFor(p)
	s := Status{
		Platform:     p,
		CredentialID: credentialID,
		Date:         key.Date,
		Limit:        l.limit,
		Unlimited:    l.limit == 0,
		ResetsAt:     g.NextReset(p),
	}
	if s.Unlimited {
		return s, nil
	}

	used, err := g.store.Usage(ctx, key)
	if err != nil {
		return s, fmt.Errorf("failed to read quota for %s: %w", key, err)
	}
	s.Used = used
	s.Remaining = max(0, l.limit-used)
	return s, nil
}
