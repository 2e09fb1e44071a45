// internal/source/registry.go
package source

import (
	"context"
	"fmt"
	"log/slog"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
	"activity-sync/internal/source/feed"
	"activity-sync/internal/source/github"
)

// Registry builds the adapter for a stored source record. The set of source
// kinds is closed: every model.SourceType has exactly one case here.
type Registry struct {
	github   *github.Client
	feed     *feed.Client
	breakers *Breakers
	logger   *slog.Logger
}

// NewRegistry creates a registry. breakers may be nil to disable breaking.
func NewRegistry(gh *github.Client, fc *feed.Client, breakers *Breakers, logger *slog.Logger) *Registry {
	return &Registry{github: gh, feed: fc, breakers: breakers, logger: logger}
}

// ForSubscription builds the source a subscription syncs from.
func (r *Registry) ForSubscription(repo model.Repository, sub model.Subscription) (Source, error) {
	return r.build(repo, sub.SourceConfig, sub.UpdateTypes)
}

// ForRepository builds a source that tracks every update kind of repo.
func (r *Registry) ForRepository(repo model.Repository) (Source, error) {
	return r.build(repo, model.SourceConfig{}, []model.UpdateType{model.TrackAll})
}

func (r *Registry) build(repo model.Repository, cfg model.SourceConfig, types []model.UpdateType) (Source, error) {
	var src Source
	switch repo.SourceType {
	case model.SourceGitHub, "":
		src = github.NewSource(r.github, repo, cfg, types, r.logger)
	case model.SourceFeed:
		fs, err := feed.NewSource(r.feed, repo, cfg, r.logger)
		if err != nil {
			return nil, err
		}
		src = fs
	default:
		return nil, &custom_errors.ValidationError{Field: "source_type", Message: fmt.Sprintf("unsupported source type %q", repo.SourceType)}
	}

	if r.breakers != nil {
		src = r.breakers.Wrap(src)
	}
	return src, nil
}

// Refresh pulls informational fields for a repository from upstream. Feed
// records have nothing to refresh and are returned unchanged.
func (r *Registry) Refresh(ctx context.Context, repo model.Repository) (model.Repository, error) {
	if repo.SourceType != model.SourceGitHub {
		return repo, nil
	}
	return r.github.RefreshRepository(ctx, repo)
}
