// internal/storage/memory.go
package storage

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/identity"
	"activity-sync/internal/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a Store backed by mutex-guarded maps.
//
// Per-key reads and writes only take the collection lock. Multi-step
// operations on a source (verify-then-insert, dedup-then-insert, cascade
// delete) additionally hold that source's key lock, so a subscription can
// never be saved against a repository that is being deleted.
type MemoryStore struct {
	repoMu       sync.RWMutex
	repositories map[int64]model.Repository

	subMu         sync.RWMutex
	subscriptions map[int64]model.Subscription

	updMu   sync.RWMutex
	updates map[uuid.UUID]model.Update

	nextRepoID atomic.Int64
	nextSubID  atomic.Int64

	sources *keyedMutex
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store. Ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		repositories:  make(map[int64]model.Repository),
		subscriptions: make(map[int64]model.Subscription),
		updates:       make(map[uuid.UUID]model.Update),
		sources:       newKeyedMutex(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// allocate returns the next id from counter.
func allocate(counter *atomic.Int64) int64 {
	return counter.Add(1)
}

// reserve makes sure counter never hands out id or anything below it.
func reserve(counter *atomic.Int64, id int64) {
	for {
		cur := counter.Load()
		if cur >= id || counter.CompareAndSwap(cur, id) {
			return
		}
	}
}

// --- repositories ------------------------------------------------------------

func (s *MemoryStore) GetRepository(_ context.Context, id int64) (model.Repository, error) {
	s.repoMu.RLock()
	defer s.repoMu.RUnlock()
	repo, ok := s.repositories[id]
	if !ok {
		return model.Repository{}, custom_errors.NotFound("repository", id)
	}
	return repo, nil
}

func (s *MemoryStore) GetRepositoryByName(_ context.Context, sourceType model.SourceType, owner, name string) (model.Repository, error) {
	s.repoMu.RLock()
	defer s.repoMu.RUnlock()
	for _, repo := range s.repositories {
		if repo.SourceType == sourceType && repo.Owner == owner && repo.Name == name {
			return repo, nil
		}
	}
	return model.Repository{}, custom_errors.NotFound("repository", owner+"/"+name)
}

func (s *MemoryStore) ListRepositories(_ context.Context) ([]model.Repository, error) {
	s.repoMu.RLock()
	repos := slices.Collect(maps.Values(s.repositories))
	s.repoMu.RUnlock()

	slices.SortFunc(repos, func(a, b model.Repository) int { return cmp.Compare(a.ID, b.ID) })
	return repos, nil
}

// SaveRepository inserts or overwrites a repository. Owner and name are unique
// per source type; a second repository with the same identity is rejected.
func (s *MemoryStore) SaveRepository(_ context.Context, repo model.Repository) (model.Repository, error) {
	repo, err := NormalizeRepository(repo)
	if err != nil {
		return model.Repository{}, err
	}

	s.repoMu.Lock()
	defer s.repoMu.Unlock()

	for _, existing := range s.repositories {
		if existing.ID != repo.ID && existing.SourceType == repo.SourceType &&
			existing.Owner == repo.Owner && existing.Name == repo.Name {
			return model.Repository{}, &custom_errors.AlreadyExistsError{Entity: "repository", ID: repo.FullName()}
		}
	}

	if repo.ID == 0 {
		repo.ID = allocate(&s.nextRepoID)
	} else {
		reserve(&s.nextRepoID, repo.ID)
	}
	s.repositories[repo.ID] = repo
	return repo, nil
}

// UpdateRepository applies fn to the stored repository under its key lock.
// Id, source type, owner and name are kept; NotFound is returned if the
// repository is gone.
func (s *MemoryStore) UpdateRepository(_ context.Context, id int64, fn func(*model.Repository)) (model.Repository, error) {
	unlock := s.sources.Lock(id)
	defer unlock()

	s.repoMu.Lock()
	defer s.repoMu.Unlock()
	current, ok := s.repositories[id]
	if !ok {
		return model.Repository{}, custom_errors.NotFound("repository", id)
	}

	repo := current
	fn(&repo)
	repo.ID, repo.SourceType, repo.Owner, repo.Name = current.ID, current.SourceType, current.Owner, current.Name
	repo, err := NormalizeRepository(repo)
	if err != nil {
		return model.Repository{}, err
	}
	s.repositories[id] = repo
	return repo, nil
}

// DeleteRepository removes a repository that has no dependents.
func (s *MemoryStore) DeleteRepository(ctx context.Context, id int64) error {
	unlock := s.sources.Lock(id)
	defer unlock()

	if _, err := s.GetRepository(ctx, id); err != nil {
		return err
	}

	subs := s.subscriptionsForSource(id)
	updates := s.updateIDs(func(u model.Update) bool { return u.SourceID == id })
	if len(subs) > 0 || len(updates) > 0 {
		return &custom_errors.DependentsError{
			Entity:        "repository",
			ID:            strconv.FormatInt(id, 10),
			Subscriptions: len(subs),
			Updates:       len(updates),
		}
	}

	s.repoMu.Lock()
	delete(s.repositories, id)
	s.repoMu.Unlock()
	return nil
}

// CascadeDeleteRepository deletes every subscription of the repository, every
// update of those subscriptions, any remaining update of the repository, and
// finally the repository itself.
func (s *MemoryStore) CascadeDeleteRepository(ctx context.Context, id int64) (CascadeResult, error) {
	unlock := s.sources.Lock(id)
	defer unlock()

	if _, err := s.GetRepository(ctx, id); err != nil {
		return CascadeResult{}, err
	}

	var res CascadeResult
	for _, sub := range s.subscriptionsForSource(id) {
		res.Updates += s.cascadeSubscriptionLocked(sub)
		res.Subscriptions++
	}
	res.Updates += s.deleteUpdates(func(u model.Update) bool { return u.SourceID == id })

	s.repoMu.Lock()
	delete(s.repositories, id)
	s.repoMu.Unlock()
	return res, nil
}

func (s *MemoryStore) FindRelatedSubscriptions(ctx context.Context, repoID int64) ([]model.Subscription, error) {
	if _, err := s.GetRepository(ctx, repoID); err != nil {
		return nil, err
	}
	return s.subscriptionsForSource(repoID), nil
}

// --- subscriptions -----------------------------------------------------------

func (s *MemoryStore) GetSubscription(_ context.Context, id int64) (model.Subscription, error) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return model.Subscription{}, custom_errors.NotFound("subscription", id)
	}
	return cloneSubscription(sub), nil
}

func (s *MemoryStore) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	return s.filterSubscriptions(func(model.Subscription) bool { return true }), nil
}

func (s *MemoryStore) ListSubscriptionsByTag(_ context.Context, tag string) ([]model.Subscription, error) {
	return s.filterSubscriptions(func(sub model.Subscription) bool { return sub.HasTag(tag) }), nil
}

// VerifySourceExists fails with a ReferenceIntegrityError unless sourceID
// resolves to a live repository.
func (s *MemoryStore) VerifySourceExists(_ context.Context, sourceID int64) error {
	_, err := s.verifySource("subscription", sourceID)
	return err
}

func (s *MemoryStore) verifySource(entity string, sourceID int64) (model.Repository, error) {
	s.repoMu.RLock()
	repo, ok := s.repositories[sourceID]
	s.repoMu.RUnlock()
	if !ok {
		return model.Repository{}, &custom_errors.ReferenceIntegrityError{
			Entity: entity,
			Ref:    "repository",
			RefID:  strconv.FormatInt(sourceID, 10),
		}
	}
	return repo, nil
}

// SaveSubscription verifies the referenced repository and stores the
// subscription while holding the repository's key lock.
func (s *MemoryStore) SaveSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	unlock := s.sources.Lock(sub.SourceID)
	defer unlock()

	repo, err := s.verifySource("subscription", sub.SourceID)
	if err != nil {
		return model.Subscription{}, err
	}

	if sub.ID != 0 {
		if existing, err := s.GetSubscription(ctx, sub.ID); err == nil && existing.SourceID != sub.SourceID {
			return model.Subscription{}, &custom_errors.ValidationError{Field: "source_id", Message: "cannot move a subscription to another source"}
		}
	}

	sub, err = NormalizeSubscription(sub, repo, s.now())
	if err != nil {
		return model.Subscription{}, err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if sub.ID == 0 {
		sub.ID = allocate(&s.nextSubID)
	} else {
		reserve(&s.nextSubID, sub.ID)
	}
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	return sub, nil
}

// UpdateSubscription applies fn to the stored subscription while holding its
// source's key lock. Id and source are kept; NotFound is returned if the
// subscription is gone.
func (s *MemoryStore) UpdateSubscription(ctx context.Context, id int64, fn func(*model.Subscription)) (model.Subscription, error) {
	current, unlock, err := s.lockSubscription(ctx, id)
	if err != nil {
		return model.Subscription{}, err
	}
	defer unlock()

	repo, err := s.verifySource("subscription", current.SourceID)
	if err != nil {
		return model.Subscription{}, err
	}

	sub := cloneSubscription(current)
	fn(&sub)
	sub.ID, sub.SourceID = current.ID, current.SourceID
	sub, err = NormalizeSubscription(sub, repo, s.now())
	if err != nil {
		return model.Subscription{}, err
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subscriptions[id]; !ok {
		return model.Subscription{}, custom_errors.NotFound("subscription", id)
	}
	s.subscriptions[id] = cloneSubscription(sub)
	return sub, nil
}

// DeleteSubscription removes a subscription that owns no updates.
func (s *MemoryStore) DeleteSubscription(ctx context.Context, id int64) error {
	sub, unlock, err := s.lockSubscription(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if n := len(s.updateIDs(func(u model.Update) bool { return u.BelongsTo(sub) })); n > 0 {
		return &custom_errors.DependentsError{Entity: "subscription", ID: strconv.FormatInt(id, 10), Updates: n}
	}

	s.subMu.Lock()
	delete(s.subscriptions, id)
	s.subMu.Unlock()
	return nil
}

// CascadeDeleteSubscription deletes the subscription's updates and then the
// subscription, returning the number of updates removed.
func (s *MemoryStore) CascadeDeleteSubscription(ctx context.Context, id int64) (int, error) {
	sub, unlock, err := s.lockSubscription(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return s.cascadeSubscriptionLocked(sub), nil
}

// lockSubscription looks up a subscription, takes its source's key lock and
// re-reads it so the caller sees a record that cannot vanish underneath it.
func (s *MemoryStore) lockSubscription(ctx context.Context, id int64) (model.Subscription, func(), error) {
	sub, err := s.GetSubscription(ctx, id)
	if err != nil {
		return model.Subscription{}, nil, err
	}
	unlock := s.sources.Lock(sub.SourceID)
	sub, err = s.GetSubscription(ctx, id)
	if err != nil {
		unlock()
		return model.Subscription{}, nil, err
	}
	return sub, unlock, nil
}

// cascadeSubscriptionLocked requires the source key lock to be held.
func (s *MemoryStore) cascadeSubscriptionLocked(sub model.Subscription) int {
	n := s.deleteUpdates(func(u model.Update) bool { return u.BelongsTo(sub) })
	s.subMu.Lock()
	delete(s.subscriptions, sub.ID)
	s.subMu.Unlock()
	return n
}

func (s *MemoryStore) subscriptionsForSource(sourceID int64) []model.Subscription {
	return s.filterSubscriptions(func(sub model.Subscription) bool { return sub.SourceID == sourceID })
}

func (s *MemoryStore) filterSubscriptions(keep func(model.Subscription) bool) []model.Subscription {
	s.subMu.RLock()
	var subs []model.Subscription
	for _, sub := range s.subscriptions {
		if keep(sub) {
			subs = append(subs, cloneSubscription(sub))
		}
	}
	s.subMu.RUnlock()

	slices.SortFunc(subs, func(a, b model.Subscription) int { return cmp.Compare(a.ID, b.ID) })
	return subs
}

// --- updates -----------------------------------------------------------------

func (s *MemoryStore) GetUpdate(_ context.Context, id uuid.UUID) (model.Update, error) {
	s.updMu.RLock()
	defer s.updMu.RUnlock()
	u, ok := s.updates[id]
	if !ok {
		return model.Update{}, custom_errors.NotFound("update", id)
	}
	return cloneUpdate(u), nil
}

func (s *MemoryStore) ListUpdates(_ context.Context) ([]model.Update, error) {
	return s.filterUpdates(func(model.Update) bool { return true }), nil
}

func (s *MemoryStore) GetUpdatesForRepository(_ context.Context, repoID int64) ([]model.Update, error) {
	return s.filterUpdates(func(u model.Update) bool { return u.SourceID == repoID }), nil
}

func (s *MemoryStore) GetUpdatesForSubscription(ctx context.Context, subID int64) ([]model.Update, error) {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return s.filterUpdates(func(u model.Update) bool { return u.BelongsTo(sub) }), nil
}

// SaveUpdate stores u unless an update of the same source and kind already
// describes the same event, in which case that existing record is returned.
func (s *MemoryStore) SaveUpdate(ctx context.Context, u model.Update) (model.Update, bool, error) {
	unlock := s.sources.Lock(u.SourceID)
	defer unlock()

	if _, err := s.verifySource("update", u.SourceID); err != nil {
		return model.Update{}, false, err
	}
	if u.SubscriptionID != 0 {
		sub, err := s.GetSubscription(ctx, u.SubscriptionID)
		if err != nil || sub.SourceID != u.SourceID {
			return model.Update{}, false, &custom_errors.ReferenceIntegrityError{
				Entity: "update",
				Ref:    "subscription",
				RefID:  strconv.FormatInt(u.SubscriptionID, 10),
			}
		}
	}

	candidates := s.filterUpdates(func(e model.Update) bool {
		return e.SourceID == u.SourceID && e.EventType == u.EventType
	})
	if existing, ok := identity.FindDuplicate(candidates, u); ok {
		return existing, false, nil
	}

	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.FetchedAt.IsZero() {
		u.FetchedAt = s.now()
	}

	s.updMu.Lock()
	s.updates[u.ID] = cloneUpdate(u)
	s.updMu.Unlock()
	return u, true, nil
}

func (s *MemoryStore) DeleteUpdate(_ context.Context, id uuid.UUID) error {
	s.updMu.Lock()
	defer s.updMu.Unlock()
	if _, ok := s.updates[id]; !ok {
		return custom_errors.NotFound("update", id)
	}
	delete(s.updates, id)
	return nil
}

func (s *MemoryStore) filterUpdates(keep func(model.Update) bool) []model.Update {
	s.updMu.RLock()
	var out []model.Update
	for _, u := range s.updates {
		if keep(u) {
			out = append(out, cloneUpdate(u))
		}
	}
	s.updMu.RUnlock()

	SortUpdates(out)
	return out
}

func (s *MemoryStore) updateIDs(keep func(model.Update) bool) []uuid.UUID {
	s.updMu.RLock()
	defer s.updMu.RUnlock()
	var ids []uuid.UUID
	for id, u := range s.updates {
		if keep(u) {
			ids = append(ids, id)
		}
	}
	return ids
}

// deleteUpdates removes matching updates in one pass and returns how many went.
func (s *MemoryStore) deleteUpdates(match func(model.Update) bool) int {
	s.updMu.Lock()
	defer s.updMu.Unlock()
	n := 0
	for id, u := range s.updates {
		if match(u) {
			delete(s.updates, id)
			n++
		}
	}
	return n
}

// Clear wipes all three collections. Id counters keep counting.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.repoMu.Lock()
	s.subMu.Lock()
	s.updMu.Lock()
	defer s.repoMu.Unlock()
	defer s.subMu.Unlock()
	defer s.updMu.Unlock()

	clear(s.repositories)
	clear(s.subscriptions)
	clear(s.updates)
	return nil
}

// SortUpdates orders updates newest event first, ties broken by id.
func SortUpdates(updates []model.Update) {
	slices.SortFunc(updates, func(a, b model.Update) int {
		if c := b.EventDate.Compare(a.EventDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}

func cloneSubscription(sub model.Subscription) model.Subscription {
	sub.Tags = slices.Clone(sub.Tags)
	sub.UpdateTypes = slices.Clone(sub.UpdateTypes)
	return sub
}

func cloneUpdate(u model.Update) model.Update {
	u.AdditionalData = maps.Clone(u.AdditionalData)
	return u
}
