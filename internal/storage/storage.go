// Package storage defines the entity store used by the sync orchestrator and
// its in-memory implementation. A relational implementation lives in
// storage/postgres.
//
// Every implementation upholds the same contract:
//   - Repository and Subscription ids are allocated when the saved id is 0.
//   - A Subscription or Update can only be saved while its source_id resolves
//     to a live Repository; otherwise the write fails with a
//     ReferenceIntegrityError and nothing is stored.
//   - SaveUpdate is idempotent: if the identity resolver matches an existing
//     Update of the same source, the existing record is returned and
//     inserted is false.
//   - Direct deletes are refused while dependents exist; cascade deletes
//     remove dependents and report exact counts.
//   - UpdateRepository and UpdateSubscription only modify a record that is
//     still stored. They never re-create one that was deleted meanwhile.
package storage

import (
	"context"

	"github.com/google/uuid"

	"activity-sync/internal/model"
)

// CascadeResult reports what a cascade delete removed besides the target.
type CascadeResult struct {
	Subscriptions int `json:"subscriptions_deleted"`
	Updates       int `json:"updates_deleted"`
}

// RepositoryStore holds source records.
type RepositoryStore interface {
	GetRepository(ctx context.Context, id int64) (model.Repository, error)
	GetRepositoryByName(ctx context.Context, sourceType model.SourceType, owner, name string) (model.Repository, error)
	ListRepositories(ctx context.Context) ([]model.Repository, error)
	SaveRepository(ctx context.Context, repo model.Repository) (model.Repository, error)
	UpdateRepository(ctx context.Context, id int64, fn func(*model.Repository)) (model.Repository, error)
	DeleteRepository(ctx context.Context, id int64) error
	CascadeDeleteRepository(ctx context.Context, id int64) (CascadeResult, error)
	FindRelatedSubscriptions(ctx context.Context, repoID int64) ([]model.Subscription, error)
}

// SubscriptionStore holds subscriptions.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, id int64) (model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	ListSubscriptionsByTag(ctx context.Context, tag string) ([]model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error)
	UpdateSubscription(ctx context.Context, id int64, fn func(*model.Subscription)) (model.Subscription, error)
	VerifySourceExists(ctx context.Context, sourceID int64) error
	DeleteSubscription(ctx context.Context, id int64) error
	CascadeDeleteSubscription(ctx context.Context, id int64) (int, error)
}

// UpdateStore holds observed events.
type UpdateStore interface {
	GetUpdate(ctx context.Context, id uuid.UUID) (model.Update, error)
	ListUpdates(ctx context.Context) ([]model.Update, error)
	GetUpdatesForRepository(ctx context.Context, repoID int64) ([]model.Update, error)
	GetUpdatesForSubscription(ctx context.Context, subID int64) ([]model.Update, error)
	SaveUpdate(ctx context.Context, u model.Update) (saved model.Update, inserted bool, err error)
	DeleteUpdate(ctx context.Context, id uuid.UUID) error
}

// Store is the combined persistence interface.
type Store interface {
	RepositoryStore
	SubscriptionStore
	UpdateStore

	// Clear wipes every collection. Only for explicit operator action.
	Clear(ctx context.Context) error
}
