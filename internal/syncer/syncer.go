// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/metrics"
	"activity-sync/internal/model"
	"activity-sync/internal/source"
	"activity-sync/internal/storage"
)

const defaultConcurrency = 5

// SourceFactory builds the adapter for a stored source record.
type SourceFactory interface {
	ForSubscription(repo model.Repository, sub model.Subscription) (source.Source, error)
	ForRepository(repo model.Repository) (source.Source, error)
}

// Config holds the scheduling parameters of a Syncer.
type Config struct {
	// Interval between scheduler passes.
	Interval time.Duration
	// Window used as since when a subscription has never been fetched.
	Window time.Duration
	// Concurrency caps how many sources are synced in parallel.
	Concurrency int
}

// Summary describes one completed sync of one source.
type Summary struct {
	Source       model.Repository        `json:"source"`
	Subscription *model.Subscription     `json:"subscription,omitempty"`
	Since        *time.Time              `json:"since,omitempty"`
	Fetched      int                     `json:"fetched"`
	Duplicates   int                     `json:"duplicates"`
	Persisted    []model.Update          `json:"persisted"`
	Counts       map[model.EventType]int `json:"counts"`
}

// Total returns the number of newly persisted updates.
func (s *Summary) Total() int {
	return len(s.Persisted)
}

// Result is the outcome of one source within a multi-source sync.
type Result struct {
	Target  string   `json:"target"`
	Summary *Summary `json:"summary,omitempty"`
	Err     error    `json:"-"`
}

// Syncer orchestrates fetching updates from sources and persisting them.
type Syncer struct {
	store   storage.Store
	sources SourceFactory
	handoff Handoff
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
}

// NewSyncer creates a new Syncer instance. handoff may be nil.
func NewSyncer(store storage.Store, sources SourceFactory, logger *slog.Logger, cfg Config, handoff Handoff) *Syncer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Syncer{
		store:   store,
		sources: sources,
		handoff: handoff,
		logger:  logger.With("component", "syncer"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the continuous synchronization process. Each pass syncs the
// subscriptions that are due according to their update frequency.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.cfg.Interval.String(), "concurrency", s.cfg.Concurrency)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Syncer) runSyncCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")
	results, err := s.SyncDue(ctx)
	if err != nil {
		s.logger.Error("Sync cycle failed", "error", err)
		return
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info("Sync cycle finished", "sources", len(results), "failed", failed)
}

// SyncSubscription syncs one subscription over the given window. A zero
// window fetches everything the source still exposes.
func (s *Syncer) SyncSubscription(ctx context.Context, subID int64, window time.Duration) (*Summary, error) {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return s.syncSubscription(ctx, sub, s.sinceWindow(window))
}

// SyncRepository syncs every update kind of a repository over the given
// window. Persisted updates are not scoped to any subscription.
func (s *Syncer) SyncRepository(ctx context.Context, repoID int64, window time.Duration) (*Summary, error) {
	repo, err := s.store.GetRepository(ctx, repoID)
	if err != nil {
		return nil, err
	}

	src, err := s.sources.ForRepository(repo)
	if err != nil {
		return nil, err
	}
	summary, err := s.run(ctx, src, repo, nil, s.sinceWindow(window))
	if err != nil {
		return nil, err
	}

	saved, err := s.markRepositoryFetched(ctx, repo.ID, s.now())
	if err != nil {
		return nil, err
	}
	summary.Source = saved

	s.deliver(ctx, summary)
	return summary, nil
}

// SyncAll syncs every subscription, and every repository nobody subscribes
// to, over the given window. One failing source does not stop the others;
// each outcome is reported in the returned results.
func (s *Syncer) SyncAll(ctx context.Context, window time.Duration) ([]Result, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := s.store.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	subscribed := make(map[int64]bool, len(subs))
	var jobs []job
	for _, sub := range subs {
		subscribed[sub.SourceID] = true
		jobs = append(jobs, job{
			target: fmt.Sprintf("subscription %d (%s)", sub.ID, sub.Name),
			run: func(ctx context.Context) (*Summary, error) {
				return s.syncSubscription(ctx, sub, s.sinceWindow(window))
			},
		})
	}
	for _, repo := range repos {
		if subscribed[repo.ID] {
			continue
		}
		jobs = append(jobs, job{
			target: fmt.Sprintf("repository %d (%s)", repo.ID, repo.FullName()),
			run: func(ctx context.Context) (*Summary, error) {
				return s.SyncRepository(ctx, repo.ID, window)
			},
		})
	}
	return s.fanOut(ctx, jobs), nil
}

// SyncDue syncs the subscriptions whose update frequency says they are due,
// each from its last fetch time or, if never fetched, over the configured
// window.
func (s *Syncer) SyncDue(ctx context.Context) ([]Result, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var jobs []job
	for _, sub := range subs {
		if !sub.Due(now) {
			continue
		}
		since := sub.LastFetched
		if since == nil {
			since = s.sinceWindow(s.cfg.Window)
		}
		jobs = append(jobs, job{
			target: fmt.Sprintf("subscription %d (%s)", sub.ID, sub.Name),
			run: func(ctx context.Context) (*Summary, error) {
				return s.syncSubscription(ctx, sub, since)
			},
		})
	}
	return s.fanOut(ctx, jobs), nil
}

type job struct {
	target string
	run    func(context.Context) (*Summary, error)
}

// fanOut runs jobs with bounded concurrency. Job errors are collected into
// the results rather than cancelling the group.
func (s *Syncer) fanOut(ctx context.Context, jobs []job) []Result {
	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, j := range jobs {
		g.Go(func() error {
			results[i].Target = j.target
			if gctx.Err() != nil {
				results[i].Err = gctx.Err()
				return nil
			}
			summary, err := j.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync source", "target", j.target, "error", err)
			}
			results[i].Summary, results[i].Err = summary, err
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Syncer) syncSubscription(ctx context.Context, sub model.Subscription, since *time.Time) (*Summary, error) {
	repo, err := s.store.GetRepository(ctx, sub.SourceID)
	if errors.Is(err, custom_errors.ErrNotFound) {
		return nil, &custom_errors.ReferenceIntegrityError{
			Entity: "subscription",
			Ref:    "repository",
			RefID:  fmt.Sprint(sub.SourceID),
		}
	}
	if err != nil {
		return nil, err
	}

	src, err := s.sources.ForSubscription(repo, sub)
	if err != nil {
		return nil, err
	}
	summary, err := s.run(ctx, src, repo, &sub, since)
	if err != nil {
		return nil, err
	}

	// Only the fetch time is written back. Records deleted or edited while
	// the fetch ran are left as they are now.
	now := s.now()
	saved, err := s.store.UpdateSubscription(ctx, sub.ID, func(stored *model.Subscription) {
		stored.LastFetched = &now
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record fetch time of subscription %d: %w", sub.ID, err)
	}
	savedRepo, err := s.markRepositoryFetched(ctx, repo.ID, now)
	if err != nil {
		return nil, err
	}
	summary.Source = savedRepo
	summary.Subscription = &saved

	s.deliver(ctx, summary)
	return summary, nil
}

// run fetches from src and persists the tracked updates. Only updates that
// were actually inserted are counted.
func (s *Syncer) run(ctx context.Context, src source.Source, repo model.Repository, sub *model.Subscription, since *time.Time) (*Summary, error) {
	logger := s.logger.With("source", src.Name(), "source_id", repo.ID)
	if sub != nil {
		logger = logger.With("subscription_id", sub.ID)
	}
	if since != nil {
		logger.Info("Fetching updates since", "timestamp", since.Format(time.RFC3339))
	} else {
		logger.Info("Fetching all available updates")
	}

	sourceType := string(src.Type())
	start := time.Now()
	defer func() {
		metrics.SyncDuration.WithLabelValues(sourceType).Observe(time.Since(start).Seconds())
	}()

	fetched, err := src.FetchUpdates(ctx, since)
	if err != nil {
		kind := string(custom_errors.SourceAPI)
		var srcErr *custom_errors.SourceError
		if errors.As(err, &srcErr) {
			kind = string(srcErr.Kind)
		}
		metrics.SourceErrors.WithLabelValues(sourceType, kind).Inc()
		metrics.SyncRuns.WithLabelValues(sourceType, "failure").Inc()
		return nil, err
	}
	metrics.UpdatesFetched.WithLabelValues(sourceType).Add(float64(len(fetched)))

	summary := &Summary{
		Source:    repo,
		Since:     since,
		Fetched:   len(fetched),
		Persisted: []model.Update{},
		Counts:    make(map[model.EventType]int),
	}
	for _, u := range fetched {
		if sub != nil && !tracked(sub.UpdateTypes, u.EventType) {
			continue
		}
		u.SourceID = repo.ID
		u.SourceType = repo.SourceType
		if sub != nil {
			u.SubscriptionID = sub.ID
		}

		saved, inserted, err := s.store.SaveUpdate(ctx, u)
		if err != nil {
			metrics.SyncRuns.WithLabelValues(sourceType, "failure").Inc()
			return nil, fmt.Errorf("failed to save update %q: %w", u.Title, err)
		}
		if !inserted {
			summary.Duplicates++
			metrics.UpdatesDeduplicated.WithLabelValues(string(u.EventType)).Inc()
			continue
		}
		summary.Persisted = append(summary.Persisted, saved)
		summary.Counts[saved.EventType]++
		metrics.UpdatesPersisted.WithLabelValues(string(saved.EventType)).Inc()
	}

	metrics.SyncRuns.WithLabelValues(sourceType, "success").Inc()
	logger.Info("Sync finished", "fetched", summary.Fetched, "persisted", summary.Total(), "duplicates", summary.Duplicates)
	return summary, nil
}

func (s *Syncer) markRepositoryFetched(ctx context.Context, id int64, at time.Time) (model.Repository, error) {
	repo, err := s.store.UpdateRepository(ctx, id, func(stored *model.Repository) {
		stored.LastFetched = &at
	})
	if err != nil {
		return model.Repository{}, fmt.Errorf("failed to record fetch time of repository %d: %w", id, err)
	}
	return repo, nil
}

func (s *Syncer) deliver(ctx context.Context, summary *Summary) {
	if s.handoff == nil {
		return
	}
	if err := s.handoff.Handle(ctx, summary); err != nil {
		s.logger.Warn("Summary hand-off failed", "source", summary.Source.FullName(), "error", err)
	}
}

// sinceWindow returns now - window, or nil for an unbounded fetch.
func (s *Syncer) sinceWindow(window time.Duration) *time.Time {
	if window <= 0 {
		return nil
	}
	since := s.now().Add(-window)
	return &since
}

func tracked(types []model.UpdateType, e model.EventType) bool {
	t, ok := e.UpdateType()
	if !ok {
		return true
	}
	return model.Tracks(types, t)
}
