// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"

	"activity-sync/internal/config"
	"activity-sync/internal/source"
	"activity-sync/internal/source/feed"
	"activity-sync/internal/source/github"
	"activity-sync/internal/storage"
	"activity-sync/internal/storage/postgres"
	"activity-sync/internal/syncer"
)

// App holds the components shared by the service and the operator CLI.
type App struct {
	Config  *config.Config
	Store   storage.Store
	Sources *source.Registry
	Syncer  *syncer.Syncer
	Feeds   *feed.Client

	logger     *slog.Logger
	closeStore func()
}

// OpenStore returns the postgres store when dbURL is set, and the in-memory
// store otherwise.
func OpenStore(ctx context.Context, dbURL string, logger *slog.Logger) (storage.Store, func(), error) {
	if dbURL == "" {
		logger.Info("DB_URL not set, using in-memory store")
		return storage.NewMemoryStore(), func() {}, nil
	}
	st, err := postgres.Open(ctx, dbURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

// New wires every component from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, closeStore, err := OpenStore(ctx, cfg.DBURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a, err := NewWithStore(cfg, store, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	a.closeStore = closeStore
	return a, nil
}

// NewWithStore wires every component around an already open store.
func NewWithStore(cfg *config.Config, store storage.Store, logger *slog.Logger) (*App, error) {
	ghClient, err := github.NewClient(cfg.GithubToken, cfg.GithubAPIURL, cfg.HTTPTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	feedClient := feed.NewClient(cfg.FeedBaseURL, cfg.HTTPTimeout, logger)

	registry := source.NewRegistry(ghClient, feedClient, source.NewBreakers(source.DefaultBreakerSettings, logger), logger)
	appSyncer := syncer.NewSyncer(store, registry, logger, syncer.Config{
		Interval:    cfg.SyncInterval,
		Window:      cfg.SyncWindow,
		Concurrency: cfg.SyncConcurrency,
	}, syncer.LogHandoff(logger))

	return &App{
		Config:     cfg,
		Store:      store,
		Sources:    registry,
		Syncer:     appSyncer,
		Feeds:      feedClient,
		logger:     logger.With("component", "app"),
		closeStore: func() {},
	}, nil
}

// Close releases the store.
func (a *App) Close() {
	a.closeStore()
}

// Seed registers the repositories of REPOS_TO_SYNC and the subscriptions of
// SUBSCRIPTIONS_FILE. Seeding is idempotent across restarts.
func (a *App) Seed(ctx context.Context) error {
	for _, id := range a.Config.Repos {
		seed := config.SubscriptionSeed{SourceType: "github", Repo: id.String()}
		if _, _, err := a.EnsureSubscription(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed %s: %w", id, err)
		}
	}

	if a.Config.SubscriptionsFile == "" {
		return nil
	}
	seeds, err := config.LoadSubscriptions(a.Config.SubscriptionsFile)
	if err != nil {
		return err
	}
	created, err := a.Import(ctx, seeds)
	if err != nil {
		return err
	}
	a.logger.Info("Subscriptions file imported", "path", a.Config.SubscriptionsFile, "created", created)
	return nil
}
