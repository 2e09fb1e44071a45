// internal/source/github/source.go
package github

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"activity-sync/internal/model"
)

// Source fetches the activity of one repository. Only the sub-fetches whose
// update type is tracked are run.
type Source struct {
	client *Client
	repo   model.Repository
	owner  string
	name   string
	branch string
	types  []model.UpdateType
	logger *slog.Logger
	now    func() time.Time
}

// NewSource binds client to repo. Owner, repo and branch in cfg override the
// stored repository coordinates when set.
func NewSource(client *Client, repo model.Repository, cfg model.SourceConfig, types []model.UpdateType, logger *slog.Logger) *Source {
	owner, name := repo.Owner, repo.Name
	if cfg.Owner != "" && cfg.Repo != "" {
		owner, name = cfg.Owner, cfg.Repo
	}
	return &Source{
		client: client,
		repo:   repo,
		owner:  owner,
		name:   name,
		branch: cfg.Branch,
		types:  types,
		logger: logger.With("source", owner+"/"+name),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Source) Type() model.SourceType { return model.SourceGitHub }

func (s *Source) Name() string { return s.owner + "/" + s.name }

// FetchUpdates runs the tracked sub-fetches concurrently and concatenates
// their results in a fixed order: commits, issues, pull requests, releases.
// The first failing sub-fetch fails the whole fetch.
func (s *Source) FetchUpdates(ctx context.Context, since *time.Time) ([]model.Update, error) {
	type fetch struct {
		kind model.UpdateType
		run  func(context.Context) ([]model.Update, error)
	}
	fetches := []fetch{
		{model.TrackCommits, func(ctx context.Context) ([]model.Update, error) {
			return s.client.GetCommits(ctx, s.owner, s.name, s.branch, since)
		}},
		{model.TrackIssues, func(ctx context.Context) ([]model.Update, error) {
			return s.client.GetIssues(ctx, s.owner, s.name, since)
		}},
		{model.TrackPullRequests, func(ctx context.Context) ([]model.Update, error) {
			return s.client.GetPullRequests(ctx, s.owner, s.name, since)
		}},
		{model.TrackReleases, func(ctx context.Context) ([]model.Update, error) {
			return s.client.GetReleases(ctx, s.owner, s.name, since)
		}},
	}

	results := make([][]model.Update, len(fetches))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fetches {
		if !model.Tracks(s.types, f.kind) {
			continue
		}
		g.Go(func() error {
			updates, err := f.run(gctx)
			if err != nil {
				return err
			}
			results[i] = updates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Fetch failed", "error", err)
		return nil, err
	}

	fetchedAt := s.now()
	var all []model.Update
	for _, updates := range results {
		for _, u := range updates {
			u.SourceType = model.SourceGitHub
			u.SourceID = s.repo.ID
			u.FetchedAt = fetchedAt
			all = append(all, u)
		}
	}
	s.logger.Debug("Fetched updates", "count", len(all))
	return all, nil
}
