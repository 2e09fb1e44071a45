// internal/source/breaker_test.go
package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
	"activity-sync/internal/source/feed"
	"activity-sync/internal/source/github"
)

type stubSource struct {
	name  string
	err   error
	calls int
}

func (s *stubSource) FetchUpdates(context.Context, *time.Time) ([]model.Update, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []model.Update{{Title: "ok"}}, nil
}

func (s *stubSource) Type() model.SourceType { return model.SourceGitHub }
func (s *stubSource) Name() string           { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakers_OpensAfterRepeatedFailures(t *testing.T) {
	breakers := NewBreakers(BreakerSettings{MinRequests: 3, FailureRatio: 0.5, OpenTimeout: time.Hour, Interval: time.Hour}, testLogger())
	stub := &stubSource{
		name: "test/breaker-opens",
		err:  custom_errors.NewSourceError(custom_errors.SourceNetwork, "test/breaker-opens", errors.New("connection refused")),
	}
	src := breakers.Wrap(stub)

	for i := 0; i < 3; i++ {
		_, err := src.FetchUpdates(context.Background(), nil)
		require.Error(t, err)
	}
	assert.Equal(t, 3, stub.calls)

	_, err := src.FetchUpdates(context.Background(), nil)
	assert.ErrorIs(t, err, custom_errors.ErrSource)
	assert.Equal(t, 3, stub.calls, "an open breaker must not reach the upstream")
	assert.Equal(t, "test/breaker-opens", src.Name())
}

func TestBreakers_IgnoresNotFound(t *testing.T) {
	breakers := NewBreakers(BreakerSettings{MinRequests: 1, FailureRatio: 0.1, OpenTimeout: time.Hour, Interval: time.Hour}, testLogger())
	stub := &stubSource{
		name: "test/breaker-not-found",
		err:  custom_errors.NewSourceError(custom_errors.SourceNotFound, "test/breaker-not-found", errors.New("404")),
	}
	src := breakers.Wrap(stub)

	for i := 0; i < 3; i++ {
		_, err := src.FetchUpdates(context.Background(), nil)
		var srcErr *custom_errors.SourceError
		require.True(t, errors.As(err, &srcErr))
		assert.Equal(t, custom_errors.SourceNotFound, srcErr.Kind)
	}
	assert.Equal(t, 3, stub.calls)
}

func TestBreakers_SharedPerName(t *testing.T) {
	breakers := NewBreakers(DefaultBreakerSettings, testLogger())
	a := breakers.Wrap(&stubSource{name: "test/shared"}).(*breakerSource)
	b := breakers.Wrap(&stubSource{name: "test/shared"}).(*breakerSource)
	assert.Same(t, a.cb, b.cb)

	updates, err := a.FetchUpdates(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, updates, 1)
}

func TestRegistry_BuildsClosedSetOfSources(t *testing.T) {
	gh, err := github.NewClient("", "", time.Second, testLogger())
	require.NoError(t, err)
	fc := feed.NewClient("https://hnrss.org", time.Second, testLogger())
	reg := NewRegistry(gh, fc, nil, testLogger())

	src, err := reg.ForRepository(model.NewRepository("golang", "go"))
	require.NoError(t, err)
	assert.Equal(t, model.SourceGitHub, src.Type())
	assert.Equal(t, "golang/go", src.Name())

	feedRepo := feed.NewRepository(fc.BaseURL(), feed.Show)
	src, err = reg.ForSubscription(feedRepo, model.Subscription{SourceConfig: model.SourceConfig{Feed: "show"}})
	require.NoError(t, err)
	assert.Equal(t, model.SourceFeed, src.Type())
	assert.Equal(t, "HackerNews: Show HN", src.Name())

	_, err = reg.ForRepository(model.Repository{SourceType: "gitlab", Owner: "a", Name: "b"})
	assert.ErrorIs(t, err, custom_errors.ErrValidation)

	bad := feed.NewRepository(fc.BaseURL(), feed.Show)
	bad.Name = "top"
	_, err = reg.ForRepository(bad)
	assert.ErrorIs(t, err, custom_errors.ErrValidation)
}

func TestRegistry_WrapsWithBreakers(t *testing.T) {
	gh, err := github.NewClient("", "", time.Second, testLogger())
	require.NoError(t, err)
	reg := NewRegistry(gh, feed.NewClient("https://hnrss.org", time.Second, testLogger()), NewBreakers(DefaultBreakerSettings, testLogger()), testLogger())

	src, err := reg.ForRepository(model.NewRepository("golang", "tools"))
	require.NoError(t, err)
	_, ok := src.(*breakerSource)
	assert.True(t, ok)
}
