package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/playbridge/internal/models"
	"github.com/desertthunder/playbridge/internal/shared"
	tu "github.com/desertthunder/playbridge/internal/testing"
)

func unavailable() error {
	return fmt.Errorf("%w: connection reset", shared.ErrUnavailable)
}

func newTestRetrier(c Client) (*Retrier, *[]time.Duration) {
	policy := RetryPolicy{MaxAttempts: 4, BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}
	r := NewRetrier(c, policy, 0, nil)
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func TestRegistry(t *testing.T) {
	spotify := tu.NewMockCatalog(models.Spotify)
	registry := NewRegistry(spotify)

	t.Run("Get", func(t *testing.T) {
		c, err := registry.Get(models.Spotify)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.Platform() != models.Spotify {
			t.Errorf("expected spotify client, got %s", c.Platform())
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		if _, err := registry.Get(models.YouTube); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		registry.Register(tu.NewMockCatalog(models.YouTube))
		registry.Wrap(func(c Client) Client { return NewRetrier(c, RetryPolicy{MaxAttempts: 1}, 0, nil) })

		for _, p := range registry.Platforms() {
			c, _ := registry.Get(p)
			if _, ok := c.(*Retrier); !ok {
				t.Errorf("%s client was not wrapped", p)
			}
		}
		if got := len(registry.Platforms()); got != 2 {
			t.Errorf("expected 2 platforms, got %d", got)
		}
	})
}

func TestSearchQuery(t *testing.T) {
	tests := []struct {
		name  string
		track models.Track
		want  string
	}{
		{"plain", models.Track{Title: "Yellow", Artists: []string{"Coldplay", "Other"}}, "Yellow Coldplay"},
		{"remaster stripped", models.Track{Title: "Heroes - 2017 Remaster", Artists: []string{"David Bowie"}}, "Heroes David Bowie"},
		{"live kept", models.Track{Title: "Song (Live at Wembley)", Artists: []string{"Artist"}}, "Song live Artist"},
		{"no artist", models.Track{Title: "Untitled"}, "Untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SearchQuery(tt.track); got != tt.want {
				t.Errorf("SearchQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	t.Run("RateLimitedError unwraps", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", &RateLimitedError{RetryAfter: 3 * time.Second})
		if !errors.Is(err, shared.ErrRateLimited) {
			t.Error("expected errors.Is ErrRateLimited")
		}
		if d, ok := RetryAfter(err); !ok || d != 3*time.Second {
			t.Errorf("expected 3s retry after, got %v %v", d, ok)
		}
		if !Retryable(err) {
			t.Error("rate limit should be retryable")
		}
	})

	t.Run("IgnoreNotFound", func(t *testing.T) {
		if err := IgnoreNotFound(fmt.Errorf("%w: gone", shared.ErrNotFound)); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		if err := IgnoreNotFound(shared.ErrAuthExpired); !errors.Is(err, shared.ErrAuthExpired) {
			t.Errorf("expected auth error to pass through, got %v", err)
		}
	})

	t.Run("classifyStatus", func(t *testing.T) {
		cause := errors.New("cause")
		tests := []struct {
			status int
			want   error
		}{
			{401, shared.ErrAuthExpired},
			{404, shared.ErrNotFound},
			{429, shared.ErrRateLimited},
			{503, shared.ErrUnavailable},
			{0, shared.ErrUnavailable},
		}
		for _, tt := range tests {
			if err := classifyStatus(tt.status, 0, cause); !errors.Is(err, tt.want) {
				t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
			}
		}
		if err := classifyStatus(400, 0, cause); err != cause {
			t.Errorf("status 400 should return the cause unchanged, got %v", err)
		}
	})

	t.Run("parseRetryAfter", func(t *testing.T) {
		if d := parseRetryAfter("12"); d != 12*time.Second {
			t.Errorf("expected 12s, got %v", d)
		}
		if d := parseRetryAfter("soon"); d != 0 {
			t.Errorf("expected 0, got %v", d)
		}
	})
}

func TestRetrier(t *testing.T) {
	ctx := context.Background()

	t.Run("honors RetryAfter", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.YouTube)
		mock.Index(models.Track{ID: "v1", Title: "Yellow", Artists: []string{"Coldplay"}})
		mock.FailNext("SearchTrack", &RateLimitedError{RetryAfter: 7 * time.Second})

		r, waits := newTestRetrier(mock)
		got, err := r.SearchTrack(ctx, models.Track{Title: "Yellow", Artists: []string{"Coldplay"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 candidate, got %d", len(got))
		}
		if len(*waits) != 1 || (*waits)[0] != 7*time.Second {
			t.Errorf("expected a single 7s wait, got %v", *waits)
		}
	})

	t.Run("backs off exponentially", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.Spotify)
		mock.SeedPlaylist("p1", "Mix")
		mock.FailNext("ListTracks", unavailable(), unavailable(), unavailable())

		r, waits := newTestRetrier(mock)
		if _, err := r.ListTracks(ctx, "p1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
		if fmt.Sprint(*waits) != fmt.Sprint(want) {
			t.Errorf("expected waits %v, got %v", want, *waits)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.Spotify)
		mock.FailNext("ListPlaylists", unavailable(), unavailable(), unavailable(), unavailable())

		r, _ := newTestRetrier(mock)
		_, err := r.ListPlaylists(ctx)
		if !errors.Is(err, shared.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if calls := mock.Calls("ListPlaylists"); calls != 4 {
			t.Errorf("expected 4 calls, got %d", calls)
		}
	})

	t.Run("exhausted rate limit surfaces as unavailable", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.Spotify)
		for range 4 {
			mock.FailNext("ListPlaylists", &RateLimitedError{})
		}

		r, _ := newTestRetrier(mock)
		_, err := r.ListPlaylists(ctx)
		if !errors.Is(err, shared.ErrUnavailable) || !errors.Is(err, shared.ErrRateLimited) {
			t.Errorf("expected both ErrUnavailable and ErrRateLimited, got %v", err)
		}
	})

	t.Run("does not retry auth errors", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.Spotify)
		mock.FailNext("ListPlaylists", fmt.Errorf("%w: token expired", shared.ErrAuthExpired))

		r, waits := newTestRetrier(mock)
		if _, err := r.ListPlaylists(ctx); !errors.Is(err, shared.ErrAuthExpired) {
			t.Fatalf("expected ErrAuthExpired, got %v", err)
		}
		if mock.Calls("ListPlaylists") != 1 || len(*waits) != 0 {
			t.Errorf("auth errors must not be retried")
		}
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.Spotify)
		mock.FailNext("ListPlaylists", unavailable(), unavailable())

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		r := NewRetrier(mock, RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Hour}, 0, nil)
		if _, err := r.ListPlaylists(cctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("AddTracks does not duplicate an applied write", func(t *testing.T) {
		mock := tu.NewMockCatalog(models.YouTube)
		mock.SeedPlaylist("pl", "Target")
		mock.FailAfterAdd(unavailable())

		r, _ := newTestRetrier(mock)
		result, err := r.AddTracks(ctx, "pl", []string{"v1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Accepted() != 1 {
			t.Errorf("expected v1 accepted, got %+v", result)
		}
		if got := len(mock.Tracks("pl")); got != 1 {
			t.Errorf("expected exactly one copy of v1, got %d", got)
		}
		if mock.Calls("AddTracks") != 1 {
			t.Errorf("expected a single insert, got %d", mock.Calls("AddTracks"))
		}
	})
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(shared.MigrationConfig{MaxAttempts: 0, BaseBackoffMS: 1000, MaxBackoffMS: 30000})
	if p.MaxAttempts != 1 {
		t.Errorf("expected attempts clamped to 1, got %d", p.MaxAttempts)
	}
	if d := p.Backoff(1); d != time.Second {
		t.Errorf("expected 1s, got %v", d)
	}
	if d := p.Backoff(10); d != 30*time.Second {
		t.Errorf("expected cap of 30s, got %v", d)
	}
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"PT3M42S", 3*time.Minute + 42*time.Second, false},
		{"PT1H2M", time.Hour + 2*time.Minute, false},
		{"PT45S", 45 * time.Second, false},
		{"P1DT1S", 24*time.Hour + time.Second, false},
		{"PT0S", 0, false},
		{"", 0, true},
		{"PT", 0, true},
		{"3:42", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseISODuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
