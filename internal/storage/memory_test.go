// internal/storage/memory_test.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

func seedRepo(t *testing.T, s *MemoryStore, owner, name string) model.Repository {
	t.Helper()
	repo, err := s.SaveRepository(context.Background(), model.NewRepository(owner, name))
	require.NoError(t, err)
	return repo
}

func seedSub(t *testing.T, s *MemoryStore, repo model.Repository) model.Subscription {
	t.Helper()
	sub := model.NewSubscription(repo, model.SourceConfig{Owner: repo.Owner, Repo: repo.Name}, []string{"go"}, model.FrequencyDaily, nil)
	sub, err := s.SaveSubscription(context.Background(), sub)
	require.NoError(t, err)
	return sub
}

func seedUpdates(t *testing.T, s *MemoryStore, sourceID, subID int64, n int) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, inserted, err := s.SaveUpdate(context.Background(), model.Update{
			SourceType:     model.SourceGitHub,
			SourceID:       sourceID,
			SubscriptionID: subID,
			EventType:      model.EventCommit,
			Title:          fmt.Sprintf("commit %d", i),
			EventDate:      base.Add(time.Duration(i) * time.Minute),
			AdditionalData: model.AdditionalData{model.DataSHA: fmt.Sprintf("%d-%d-%d", sourceID, subID, i)},
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}
}

func TestMemoryStore_SaveRepository(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	repo := seedRepo(t, s, "golang", "go")
	assert.Equal(t, int64(1), repo.ID)
	assert.Equal(t, "https://github.com/golang/go", repo.URL)

	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo, got)

	byName, err := s.GetRepositoryByName(ctx, model.SourceGitHub, "golang", "go")
	require.NoError(t, err)
	assert.Equal(t, repo.ID, byName.ID)

	_, err = s.SaveRepository(ctx, model.NewRepository("golang", "go"))
	assert.ErrorIs(t, err, custom_errors.ErrAlreadyExists)

	_, err = s.SaveRepository(ctx, model.Repository{Owner: "x"})
	assert.ErrorIs(t, err, custom_errors.ErrValidation)

	_, err = s.GetRepository(ctx, 99)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestMemoryStore_ConcurrentIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const n = 50
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo, err := s.SaveRepository(ctx, model.NewRepository("owner", fmt.Sprintf("repo-%d", i)))
			assert.NoError(t, err)
			ids <- repo.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "id %d allocated twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryStore_ExplicitIDReservesCounter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	repo := model.NewRepository("a", "b")
	repo.ID = 10
	_, err := s.SaveRepository(ctx, repo)
	require.NoError(t, err)

	next := seedRepo(t, s, "c", "d")
	assert.Equal(t, int64(11), next.ID)
}

func TestMemoryStore_SubscriptionReferenceIntegrity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	orphan := model.Subscription{Name: "orphan", SourceType: model.SourceGitHub, SourceID: 999}
	_, err := s.SaveSubscription(ctx, orphan)
	require.Error(t, err)

	var refErr *custom_errors.ReferenceIntegrityError
	require.True(t, errors.As(err, &refErr))
	assert.Equal(t, "999", refErr.RefID)

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	assert.ErrorIs(t, s.VerifySourceExists(ctx, 999), custom_errors.ErrReferenceIntegrity)
}

func TestMemoryStore_SaveSubscriptionDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")

	sub, err := s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(1), sub.ID)
	assert.Equal(t, "golang/go", sub.Name)
	assert.Equal(t, model.SourceGitHub, sub.SourceType)
	assert.Equal(t, model.FrequencyDaily, sub.UpdateFrequency)
	assert.Equal(t, []model.UpdateType{model.TrackAll}, sub.UpdateTypes)
	assert.False(t, sub.CreatedAt.IsZero())

	_, err = s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID, SourceType: model.SourceFeed})
	assert.ErrorIs(t, err, custom_errors.ErrValidation)

	_, err = s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID, UpdateFrequency: "hourly"})
	assert.ErrorIs(t, err, custom_errors.ErrValidation)
}

func TestMemoryStore_ListSubscriptionsByTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	seedSub(t, s, repo)

	other := model.NewSubscription(repo, model.SourceConfig{}, []string{"rust"}, model.FrequencyWeekly, nil)
	_, err := s.SaveSubscription(ctx, other)
	require.NoError(t, err)

	tagged, err := s.ListSubscriptionsByTag(ctx, "rust")
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, model.FrequencyWeekly, tagged[0].UpdateFrequency)
}

func TestMemoryStore_SaveUpdateDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")

	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	first, inserted, err := s.SaveUpdate(ctx, model.Update{
		SourceType:     model.SourceGitHub,
		SourceID:       repo.ID,
		EventType:      model.EventCommit,
		Title:          "initial",
		EventDate:      at,
		AdditionalData: model.AdditionalData{model.DataSHA: "abc"},
	})
	require.NoError(t, err)
	require.True(t, inserted)
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.False(t, first.FetchedAt.IsZero())

	again, inserted, err := s.SaveUpdate(ctx, model.Update{
		SourceType:     model.SourceGitHub,
		SourceID:       repo.ID,
		EventType:      model.EventCommit,
		Title:          "amended title",
		EventDate:      at.Add(time.Hour),
		AdditionalData: model.AdditionalData{model.DataSHA: "abc"},
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "initial", again.Title)

	all, err := s.ListUpdates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_SaveUpdateReferenceIntegrity(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _, err := s.SaveUpdate(ctx, model.Update{SourceID: 5, EventType: model.EventCommit, Title: "x"})
	assert.ErrorIs(t, err, custom_errors.ErrReferenceIntegrity)

	a := seedRepo(t, s, "a", "a")
	b := seedRepo(t, s, "b", "b")
	subB := seedSub(t, s, b)

	_, _, err = s.SaveUpdate(ctx, model.Update{SourceID: a.ID, SubscriptionID: subB.ID, EventType: model.EventCommit, Title: "x"})
	assert.ErrorIs(t, err, custom_errors.ErrReferenceIntegrity)
}

func TestMemoryStore_CascadeDeleteSubscription(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	subA := seedSub(t, s, repo)
	subB := seedSub(t, s, repo)

	seedUpdates(t, s, repo.ID, subA.ID, 6)
	seedUpdates(t, s, repo.ID, subB.ID, 3)

	n, err := s.CascadeDeleteSubscription(ctx, subA.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = s.GetSubscription(ctx, subA.ID)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)

	remaining, err := s.GetUpdatesForSubscription(ctx, subB.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 3)

	_, err = s.CascadeDeleteSubscription(ctx, subA.ID)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestMemoryStore_CascadeDeleteRepository(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	other := seedRepo(t, s, "golang", "tools")
	sub := seedSub(t, s, repo)
	otherSub := seedSub(t, s, other)

	seedUpdates(t, s, repo.ID, sub.ID, 8)
	seedUpdates(t, s, repo.ID, 0, 4)
	seedUpdates(t, s, other.ID, otherSub.ID, 2)

	related, err := s.FindRelatedSubscriptions(ctx, repo.ID)
	require.NoError(t, err)
	assert.Len(t, related, 1)

	res, err := s.CascadeDeleteRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, CascadeResult{Subscriptions: 1, Updates: 12}, res)

	_, err = s.GetRepository(ctx, repo.ID)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)

	left, err := s.ListUpdates(ctx)
	require.NoError(t, err)
	assert.Len(t, left, 2)
	for _, u := range left {
		assert.Equal(t, other.ID, u.SourceID)
	}

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, otherSub.ID, subs[0].ID)
}

func TestMemoryStore_CascadeDeleteRepositoryWithTwoSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	subA := seedSub(t, s, repo)
	subB := seedSub(t, s, repo)
	seedUpdates(t, s, repo.ID, subA.ID, 3)
	seedUpdates(t, s, repo.ID, subB.ID, 3)

	res, err := s.CascadeDeleteRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, CascadeResult{Subscriptions: 2, Updates: 6}, res)
}

func TestMemoryStore_DirectDeleteRefusedWithDependents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	sub := seedSub(t, s, repo)
	seedUpdates(t, s, repo.ID, sub.ID, 2)

	err := s.DeleteRepository(ctx, repo.ID)
	var depErr *custom_errors.DependentsError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, 1, depErr.Subscriptions)
	assert.Equal(t, 2, depErr.Updates)

	err = s.DeleteSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, custom_errors.ErrHasDependents)

	_, err = s.GetRepository(ctx, repo.ID)
	assert.NoError(t, err, "refused delete must leave the repository in place")

	_, err = s.CascadeDeleteSubscription(ctx, sub.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteRepository(ctx, repo.ID))

	assert.ErrorIs(t, s.DeleteRepository(ctx, repo.ID), custom_errors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteSubscription(ctx, sub.ID), custom_errors.ErrNotFound)
}

func TestMemoryStore_ConcurrentSubscribeAndDelete(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		s := NewMemoryStore()
		repo := seedRepo(t, s, "golang", "go")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.SaveSubscription(ctx, model.Subscription{SourceID: repo.ID})
		}()
		go func() {
			defer wg.Done()
			_, _ = s.CascadeDeleteRepository(ctx, repo.ID)
		}()
		wg.Wait()

		subs, err := s.ListSubscriptions(ctx)
		require.NoError(t, err)
		for _, sub := range subs {
			_, err := s.GetRepository(ctx, sub.SourceID)
			assert.NoError(t, err, "subscription %d outlived its repository", sub.ID)
		}
	}
}

func TestMemoryStore_DeleteUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	seedUpdates(t, s, repo.ID, 0, 1)

	all, err := s.GetUpdatesForRepository(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.DeleteUpdate(ctx, all[0].ID))
	assert.ErrorIs(t, s.DeleteUpdate(ctx, all[0].ID), custom_errors.ErrNotFound)
	_, err = s.GetUpdate(ctx, all[0].ID)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}

func TestMemoryStore_UpdatesSortedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	seedUpdates(t, s, repo.ID, 0, 5)

	updates, err := s.ListUpdates(ctx)
	require.NoError(t, err)
	require.Len(t, updates, 5)
	for i := 1; i < len(updates); i++ {
		assert.False(t, updates[i].EventDate.After(updates[i-1].EventDate))
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	sub := seedSub(t, s, repo)
	seedUpdates(t, s, repo.ID, sub.ID, 3)

	require.NoError(t, s.Clear(ctx))

	repos, _ := s.ListRepositories(ctx)
	subs, _ := s.ListSubscriptions(ctx)
	updates, _ := s.ListUpdates(ctx)
	assert.Empty(t, repos)
	assert.Empty(t, subs)
	assert.Empty(t, updates)
}

func TestMemoryStore_ReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	sub := seedSub(t, s, repo)

	sub.Tags[0] = "mutated"
	stored, err := s.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, stored.Tags)
}

func TestMemoryStore_UpdateRepository(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	at := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)

	updated, err := s.UpdateRepository(ctx, repo.ID, func(r *model.Repository) {
		r.LastFetched = &at
		r.Owner = "someone-else"
	})
	require.NoError(t, err)
	assert.Equal(t, "golang", updated.Owner, "identity fields are kept")
	require.NotNil(t, updated.LastFetched)
	assert.True(t, at.Equal(*updated.LastFetched))

	_, err = s.CascadeDeleteRepository(ctx, repo.ID)
	require.NoError(t, err)

	_, err = s.UpdateRepository(ctx, repo.ID, func(r *model.Repository) { r.LastFetched = &at })
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
	_, err = s.GetRepository(ctx, repo.ID)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound, "a deleted repository must stay deleted")
}

func TestMemoryStore_UpdateSubscription(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	repo := seedRepo(t, s, "golang", "go")
	other := seedRepo(t, s, "golang", "tools")
	stale := seedSub(t, s, repo)

	// An edit lands between a reader's Get and its write-back.
	edited := stale
	edited.Tags = []string{"edited"}
	_, err := s.SaveSubscription(ctx, edited)
	require.NoError(t, err)

	at := time.Date(2024, 5, 8, 12, 0, 0, 0, time.UTC)
	updated, err := s.UpdateSubscription(ctx, stale.ID, func(sub *model.Subscription) {
		sub.LastFetched = &at
		sub.SourceID = other.ID
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"edited"}, updated.Tags)
	assert.Equal(t, repo.ID, updated.SourceID)
	require.NotNil(t, updated.LastFetched)

	_, err = s.CascadeDeleteSubscription(ctx, stale.ID)
	require.NoError(t, err)

	_, err = s.UpdateSubscription(ctx, stale.ID, func(sub *model.Subscription) { sub.LastFetched = &at })
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
	_, err = s.GetSubscription(ctx, stale.ID)
	assert.ErrorIs(t, err, custom_errors.ErrNotFound, "a deleted subscription must stay deleted")
}

func TestMemoryStore_GetRepositoryByNameIsScopedBySourceType(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	gh := seedRepo(t, s, "hackernews", "show")
	feedRepo, err := s.SaveRepository(ctx, model.Repository{SourceType: model.SourceFeed, Owner: "hackernews", Name: "show", URL: "https://hnrss.org/show.atom"})
	require.NoError(t, err)

	got, err := s.GetRepositoryByName(ctx, model.SourceFeed, "hackernews", "show")
	require.NoError(t, err)
	assert.Equal(t, feedRepo.ID, got.ID)

	got, err = s.GetRepositoryByName(ctx, model.SourceGitHub, "hackernews", "show")
	require.NoError(t, err)
	assert.Equal(t, gh.ID, got.ID)

	_, err = s.GetRepositoryByName(ctx, model.SourceFeed, "golang", "go")
	assert.ErrorIs(t, err, custom_errors.ErrNotFound)
}
