package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
)

// RetryPolicy bounds retries of transient catalog failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// NewRetryPolicy reads the policy from the migration config.
func NewRetryPolicy(cfg shared.MigrationConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: time.Duration(cfg.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Backoff returns the wait before attempt n (1-based retry count): base * 2^(n-1), capped.
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Retrier decorates a [Client] with bounded retries and search throttling.
//
// RateLimited waits for RetryAfter when given, otherwise backs off like Unavailable.
// AuthExpired, NotFound and QuotaExceeded are returned immediately.
type Retrier struct {
	Client
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrier wraps c. A requestsPerSecond of zero disables throttling.
func NewRetrier(c Client, policy RetryPolicy, requestsPerSecond float64, logger *log.Logger) *Retrier {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Retrier{
		Client:  c,
		policy:  policy,
		limiter: limiter,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retry runs fn until it succeeds, fails permanently or the attempts run out.
func retry[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := r.policy.Backoff(attempt - 1)
			if after, ok := RetryAfter(lastErr); ok && after > 0 {
				wait = after
			}
			r.logger.Warn("retrying catalog call",
				"platform", r.Platform(), "op", op, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := r.sleep(ctx, wait); err != nil {
				return zero, err
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	if errors.Is(lastErr, shared.ErrUnavailable) {
		return zero, fmt.Errorf("%s failed after %d attempts: %w", op, r.policy.MaxAttempts, lastErr)
	}
	return zero, fmt.Errorf("%w: %s failed after %d attempts: %w", shared.ErrUnavailable, op, r.policy.MaxAttempts, lastErr)
}

func (r *Retrier) exec(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := retry(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Unwrap returns the decorated client.
func (r *Retrier) Unwrap() Client { return r.Client }

func (r *Retrier) ListPlaylists(ctx context.Context) ([]models.PlaylistRef, error) {
	return retry(ctx, r, "list playlists", r.Client.ListPlaylists)
}

func (r *Retrier) GetPlaylist(ctx context.Context, playlistID string) (models.PlaylistRef, error) {
	return retry(ctx, r, "get playlist", func(ctx context.Context) (models.PlaylistRef, error) {
		return r.Client.GetPlaylist(ctx, playlistID)
	})
}

func (r *Retrier) ListTracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	return retry(ctx, r, "list tracks", func(ctx context.Context) ([]models.Track, error) {
		return r.Client.ListTracks(ctx, playlistID)
	})
}

// SearchTrack waits on the per-platform limiter before every attempt.
func (r *Retrier) SearchTrack(ctx context.Context, query models.Track) ([]models.Track, error) {
	return retry(ctx, r, "search", func(ctx context.Context) ([]models.Track, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return r.Client.SearchTrack(ctx, query)
	})
}

func (r *Retrier) CreatePlaylist(ctx context.Context, name, description string) (models.PlaylistRef, error) {
	return retry(ctx, r, "create playlist", func(ctx context.Context) (models.PlaylistRef, error) {
		return r.Client.CreatePlaylist(ctx, name, description)
	})
}

// AddTracks re-checks the playlist after an ambiguous failure so a retried append is
// not duplicated: ids already present are reported accepted and not sent again.
func (r *Retrier) AddTracks(ctx context.Context, playlistID string, trackIDs []string) (models.AddResult, error) {
	var confirmed []string
	pending := slices.Clone(trackIDs)
	uncertain := false

	result, err := retry(ctx, r, "add tracks", func(ctx context.Context) (models.AddResult, error) {
		if uncertain {
			present, err := r.Client.ListTracks(ctx, playlistID)
			if err != nil {
				return models.AddResult{}, err
			}
			pending = slices.DeleteFunc(pending, func(id string) bool {
				if slices.ContainsFunc(present, func(t models.Track) bool { return t.ID == id }) {
					confirmed = append(confirmed, id)
					return true
				}
				return false
			})
			if len(pending) == 0 {
				return models.AddResult{}, nil
			}
		}
		res, err := r.Client.AddTracks(ctx, playlistID, pending)
		if errors.Is(err, shared.ErrUnavailable) {
			uncertain = true
		}
		return res, err
	})
	if err != nil {
		return models.AddResult{}, err
	}

	if len(confirmed) == 0 {
		return result, nil
	}
	merged := Accepted(confirmed)
	merged.Outcomes = append(merged.Outcomes, result.Outcomes...)
	slices.SortStableFunc(merged.Outcomes, func(a, b models.AddOutcome) int {
		return slices.Index(trackIDs, a.TrackID) - slices.Index(trackIDs, b.TrackID)
	})
	return merged, nil
}

func (r *Retrier) DeletePlaylist(ctx context.Context, playlistID string) error {
	return r.exec(ctx, "delete playlist", func(ctx context.Context) error {
		return r.Client.DeletePlaylist(ctx, playlistID)
	})
}

func (r *Retrier) RenamePlaylist(ctx context.Context, playlistID, name string) error {
	return r.exec(ctx, "rename playlist", func(ctx context.Context) error {
		return r.Client.RenamePlaylist(ctx, playlistID, name)
	})
}

func (r *Retrier) RemoveTrack(ctx context.Context, playlistID, trackID string) error {
	return r.exec(ctx, "remove track", func(ctx context.Context) error {
		return r.Client.RemoveTrack(ctx, playlistID, trackID)
	})
}

func (r *Retrier) RemoveEntry(ctx context.Context, playlistID, trackID, entryID string) error {
	return r.exec(ctx, "remove entry", func(ctx context.Context) error {
		return r.Client.RemoveEntry(ctx, playlistID, trackID, entryID)
	})
}

func (r *Retrier) EmptyPlaylist(ctx context.Context, playlistID string) error {
	return r.exec(ctx, "empty playlist", func(ctx context.Context) error {
		return r.Client.EmptyPlaylist(ctx, playlistID)
	})
}
