//go:build integration

// internal/storage/postgres/store_integration_test.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
	"activity-sync/internal/storage"
)

func setupTestStore(ctx context.Context, t *testing.T) *Store {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("test-db"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(context.Background()))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	version, err := RunMigrations(connStr)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return New(pool, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := setupTestStore(ctx, t)

	t.Run("repository ids and uniqueness", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))

		repo, err := s.SaveRepository(ctx, model.NewRepository("golang", "go"))
		require.NoError(t, err)
		assert.NotZero(t, repo.ID)

		_, err = s.SaveRepository(ctx, model.NewRepository("golang", "go"))
		assert.ErrorIs(t, err, custom_errors.ErrAlreadyExists)

		got, err := s.GetRepositoryByName(ctx, model.SourceGitHub, "golang", "go")
		require.NoError(t, err)
		assert.Equal(t, repo.ID, got.ID)
	})

	t.Run("subscription requires live repository", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))

		_, err := s.SaveSubscription(ctx, model.Subscription{SourceID: 424242})
		assert.ErrorIs(t, err, custom_errors.ErrReferenceIntegrity)

		subs, err := s.ListSubscriptions(ctx)
		require.NoError(t, err)
		assert.Empty(t, subs)
	})

	t.Run("save update is idempotent", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		repo, err := s.SaveRepository(ctx, model.NewRepository("golang", "tools"))
		require.NoError(t, err)

		u := model.Update{
			SourceType:     model.SourceGitHub,
			SourceID:       repo.ID,
			EventType:      model.EventIssue,
			Title:          "bug",
			EventDate:      time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
			AdditionalData: model.AdditionalData{model.DataNumber: 42},
		}
		first, inserted, err := s.SaveUpdate(ctx, u)
		require.NoError(t, err)
		require.True(t, inserted)

		u.Title = "bug (retitled)"
		again, inserted, err := s.SaveUpdate(ctx, u)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Equal(t, first.ID, again.ID)

		stored, err := s.GetUpdate(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "bug", stored.Title)
		number, ok := stored.AdditionalData.Int(model.DataNumber)
		assert.True(t, ok)
		assert.Equal(t, int64(42), number)
	})

	t.Run("cascade delete counts", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		repo, err := s.SaveRepository(ctx, model.NewRepository("golang", "net"))
		require.NoError(t, err)
		sub, err := s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID, Tags: []string{"go"}})
		require.NoError(t, err)

		for i := 0; i < 12; i++ {
			subID := int64(0)
			if i < 8 {
				subID = sub.ID
			}
			_, _, err := s.SaveUpdate(ctx, model.Update{
				SourceID:       repo.ID,
				SubscriptionID: subID,
				EventType:      model.EventCommit,
				Title:          fmt.Sprintf("c%d", i),
				EventDate:      time.Now(),
				AdditionalData: model.AdditionalData{model.DataSHA: fmt.Sprintf("sha-%d", i)},
			})
			require.NoError(t, err)
		}

		tagged, err := s.ListSubscriptionsByTag(ctx, "go")
		require.NoError(t, err)
		assert.Len(t, tagged, 1)

		err = s.DeleteRepository(ctx, repo.ID)
		var depErr *custom_errors.DependentsError
		require.True(t, errors.As(err, &depErr))
		assert.Equal(t, 1, depErr.Subscriptions)
		assert.Equal(t, 12, depErr.Updates)

		res, err := s.CascadeDeleteRepository(ctx, repo.ID)
		require.NoError(t, err)
		assert.Equal(t, storage.CascadeResult{Subscriptions: 1, Updates: 12}, res)

		updates, err := s.ListUpdates(ctx)
		require.NoError(t, err)
		assert.Empty(t, updates)
	})

	t.Run("concurrent subscribe and cascade leaves no orphans", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		repo, err := s.SaveRepository(ctx, model.NewRepository("golang", "sync"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID})
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CascadeDeleteRepository(ctx, repo.ID)
		}()
		wg.Wait()

		subs, err := s.ListSubscriptions(ctx)
		require.NoError(t, err)
		for _, sub := range subs {
			_, err := s.GetRepository(ctx, sub.SourceID)
			assert.NoError(t, err)
		}
	})

	t.Run("update after cascade does not re-create", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		repo, err := s.SaveRepository(ctx, model.NewRepository("golang", "exp"))
		require.NoError(t, err)
		sub, err := s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID, Tags: []string{"go"}})
		require.NoError(t, err)

		at := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
		updated, err := s.UpdateSubscription(ctx, sub.ID, func(sub *model.Subscription) { sub.LastFetched = &at })
		require.NoError(t, err)
		assert.Equal(t, []string{"go"}, updated.Tags)
		require.NotNil(t, updated.LastFetched)

		_, err = s.CascadeDeleteRepository(ctx, repo.ID)
		require.NoError(t, err)

		_, err = s.UpdateSubscription(ctx, sub.ID, func(sub *model.Subscription) { sub.LastFetched = &at })
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)
		_, err = s.UpdateRepository(ctx, repo.ID, func(r *model.Repository) { r.LastFetched = &at })
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)

		_, err = s.GetRepository(ctx, repo.ID)
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)
		_, err = s.GetSubscription(ctx, sub.ID)
		assert.ErrorIs(t, err, custom_errors.ErrNotFound)
	})
}
