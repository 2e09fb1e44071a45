// internal/app/admin.go
package app

import (
	"context"
	"errors"
	"fmt"

	"activity-sync/internal/config"
	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
	"activity-sync/internal/source/feed"
)

// AddRepository registers a GitHub repository. With refresh set, its
// informational fields are pulled from upstream; a failed refresh is logged
// and the repository is kept.
func (a *App) AddRepository(ctx context.Context, owner, name string, refresh bool) (model.Repository, error) {
	repo, err := a.Store.SaveRepository(ctx, model.NewRepository(owner, name))
	if err != nil {
		return model.Repository{}, err
	}
	if !refresh {
		return repo, nil
	}
	refreshed, err := a.RefreshRepository(ctx, repo.ID)
	if err != nil {
		a.logger.Warn("Failed to refresh new repository", "repository", repo.FullName(), "error", err)
		return repo, nil
	}
	return refreshed, nil
}

// RefreshRepository pulls informational fields of a stored repository from
// upstream and writes only those fields back.
func (a *App) RefreshRepository(ctx context.Context, id int64) (model.Repository, error) {
	repo, err := a.Store.GetRepository(ctx, id)
	if err != nil {
		return model.Repository{}, err
	}
	refreshed, err := a.Sources.Refresh(ctx, repo)
	if err != nil {
		return model.Repository{}, err
	}
	return a.Store.UpdateRepository(ctx, id, func(stored *model.Repository) {
		stored.WithUpstreamDetails(refreshed)
	})
}

// Subscribe validates seed, creates its source record when missing and saves
// a new subscription to it.
func (a *App) Subscribe(ctx context.Context, seed config.SubscriptionSeed) (model.Subscription, error) {
	if err := seed.Validate(); err != nil {
		return model.Subscription{}, err
	}
	repo, err := a.ensureSource(ctx, seed)
	if err != nil {
		return model.Subscription{}, err
	}
	return a.subscribe(ctx, repo, seed)
}

// EnsureSubscription is Subscribe, except that an existing subscription to
// the same source with the same name is returned instead of a new one.
func (a *App) EnsureSubscription(ctx context.Context, seed config.SubscriptionSeed) (model.Subscription, bool, error) {
	if err := seed.Validate(); err != nil {
		return model.Subscription{}, false, err
	}
	repo, err := a.ensureSource(ctx, seed)
	if err != nil {
		return model.Subscription{}, false, err
	}

	existing, err := a.Store.FindRelatedSubscriptions(ctx, repo.ID)
	if err != nil {
		return model.Subscription{}, false, err
	}
	name := subscriptionName(repo, seed)
	for _, sub := range existing {
		if sub.Name == name {
			return sub, false, nil
		}
	}

	sub, err := a.subscribe(ctx, repo, seed)
	if err != nil {
		return model.Subscription{}, false, err
	}
	return sub, true, nil
}

// Import ensures every seed and returns how many subscriptions were created.
func (a *App) Import(ctx context.Context, seeds []config.SubscriptionSeed) (int, error) {
	created := 0
	for i, seed := range seeds {
		_, isNew, err := a.EnsureSubscription(ctx, seed)
		if err != nil {
			return created, fmt.Errorf("subscription %d: %w", i, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

func (a *App) subscribe(ctx context.Context, repo model.Repository, seed config.SubscriptionSeed) (model.Subscription, error) {
	freq, err := seed.Frequency()
	if err != nil {
		return model.Subscription{}, err
	}
	types, err := seed.Types()
	if err != nil {
		return model.Subscription{}, err
	}

	sub := model.NewSubscription(repo, seed.SourceConfig(), seed.Tags, freq, types)
	sub.Name = subscriptionName(repo, seed)
	saved, err := a.Store.SaveSubscription(ctx, sub)
	if err != nil {
		return model.Subscription{}, err
	}
	a.logger.Info("Subscription saved", "subscription_id", saved.ID, "name", saved.Name, "source_id", repo.ID)
	return saved, nil
}

// ensureSource returns the stored source record for seed, creating it when
// missing.
func (a *App) ensureSource(ctx context.Context, seed config.SubscriptionSeed) (model.Repository, error) {
	var candidate model.Repository
	switch seed.SourceType {
	case model.SourceFeed:
		t, err := feed.ParseType(seed.Feed)
		if err != nil {
			return model.Repository{}, err
		}
		candidate = feed.NewRepository(a.Feeds.BaseURL(), t)
	default:
		id, err := seed.Identifier()
		if err != nil {
			return model.Repository{}, err
		}
		candidate = model.NewRepository(id.Owner, id.Name)
	}

	repo, err := a.Store.GetRepositoryByName(ctx, candidate.SourceType, candidate.Owner, candidate.Name)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, custom_errors.ErrNotFound) {
		return model.Repository{}, err
	}

	repo, err = a.Store.SaveRepository(ctx, candidate)
	if errors.Is(err, custom_errors.ErrAlreadyExists) {
		// Lost a race with a concurrent create.
		return a.Store.GetRepositoryByName(ctx, candidate.SourceType, candidate.Owner, candidate.Name)
	}
	if err != nil {
		return model.Repository{}, err
	}
	a.logger.Info("Source registered", "source_id", repo.ID, "source_type", repo.SourceType, "name", repo.FullName())
	return repo, nil
}

func subscriptionName(repo model.Repository, seed config.SubscriptionSeed) string {
	if seed.Name != "" {
		return seed.Name
	}
	if repo.SourceType == model.SourceFeed {
		return "HackerNews: " + feed.Type(repo.Name).Label()
	}
	return repo.FullName()
}
