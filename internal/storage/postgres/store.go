// Package postgres implements storage.Store on a single polymorphic
// "entities" table. Each repository, subscription and update is one row keyed
// by (id, type) with the full record in a JSONB meta column.
//
// Writes that depend on a repository (saving a subscription or update,
// deleting the repository) lock that repository's row with SELECT ... FOR
// UPDATE inside one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/identity"
	"activity-sync/internal/model"
	"activity-sync/internal/storage"
)

const (
	typeRepository   = "repository"
	typeSubscription = "subscription"
	typeUpdate       = "update"

	uniqueViolation = "23505"
)

var _ storage.Store = (*Store)(nil)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a storage.Store backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// New wraps an open pool. The schema must already be migrated.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "postgres_store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open connects to dbURL, runs migrations and returns a ready Store.
func Open(ctx context.Context, dbURL string, logger *slog.Logger) (*Store, error) {
	version, err := RunMigrations(dbURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Database migrations applied successfully", "version", version)

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")
	return New(pool, logger), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- generic row helpers -----------------------------------------------------

func getEntity[T any](ctx context.Context, q dbtx, typ, id string) (T, error) {
	var v T
	var meta []byte
	err := q.QueryRow(ctx, `SELECT meta FROM entities WHERE type = $1 AND id = $2`, typ, id).Scan(&meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, custom_errors.NotFound(typ, id)
	}
	if err != nil {
		return v, fmt.Errorf("failed to get %s %s: %w", typ, id, err)
	}
	if err := json.Unmarshal(meta, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s %s: %w", typ, id, err)
	}
	return v, nil
}

// listEntities selects meta for rows of typ matching the extra condition,
// which may reference $2 onwards.
func listEntities[T any](ctx context.Context, q dbtx, typ, cond string, args ...any) ([]T, error) {
	sql := `SELECT meta FROM entities WHERE type = $1`
	if cond != "" {
		sql += ` AND ` + cond
	}
	sql += ` ORDER BY created_at, id`

	rows, err := q.Query(ctx, sql, append([]any{typ}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", typ, err)
	}
	metas, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", typ, err)
	}

	out := make([]T, 0, len(metas))
	for _, meta := range metas {
		var v T
		if err := json.Unmarshal(meta, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", typ, err)
		}
		out = append(out, v)
	}
	return out, nil
}

type row struct {
	id             string
	typ            string
	sourceID       int64
	subscriptionID int64
	eventType      string
	meta           any
}

func putEntity(ctx context.Context, q dbtx, r row) error {
	meta, err := json.Marshal(r.meta)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", r.typ, r.id, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO entities (id, type, source_id, subscription_id, event_type, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, type) DO UPDATE
		SET source_id = EXCLUDED.source_id,
		    subscription_id = EXCLUDED.subscription_id,
		    event_type = EXCLUDED.event_type,
		    meta = EXCLUDED.meta`,
		r.id, r.typ, r.sourceID, r.subscriptionID, r.eventType, meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &custom_errors.AlreadyExistsError{Entity: r.typ, ID: r.id}
		}
		return fmt.Errorf("failed to save %s %s: %w", r.typ, r.id, err)
	}
	return nil
}

func count(ctx context.Context, q dbtx, sql string, args ...any) (int, error) {
	var n int
	if err := q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func nextID(ctx context.Context, q dbtx, sequence string) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, `SELECT nextval($1::regclass)`, sequence).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate id from %s: %w", sequence, err)
	}
	return id, nil
}

// reserveID advances sequence so it never hands out id again.
func reserveID(ctx context.Context, q dbtx, sequence string, id int64) error {
	_, err := q.Exec(ctx,
		`SELECT setval($1::regclass, $2) WHERE $2 > (SELECT last_value FROM `+sequence+`)`,
		sequence, id)
	if err != nil {
		return fmt.Errorf("failed to reserve id %d in %s: %w", id, sequence, err)
	}
	return nil
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// lockRepository takes a row lock on the repository for the rest of tx.
func lockRepository(ctx context.Context, tx pgx.Tx, id int64) (model.Repository, error) {
	var meta []byte
	err := tx.QueryRow(ctx,
		`SELECT meta FROM entities WHERE type = $1 AND id = $2 FOR UPDATE`,
		typeRepository, key(id)).Scan(&meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, custom_errors.NotFound(typeRepository, id)
	}
	if err != nil {
		return model.Repository{}, fmt.Errorf("failed to lock repository %d: %w", id, err)
	}
	var repo model.Repository
	if err := json.Unmarshal(meta, &repo); err != nil {
		return model.Repository{}, fmt.Errorf("failed to decode repository %d: %w", id, err)
	}
	return repo, nil
}

func lockSource(ctx context.Context, tx pgx.Tx, entity string, sourceID int64) (model.Repository, error) {
	repo, err := lockRepository(ctx, tx, sourceID)
	if errors.Is(err, custom_errors.ErrNotFound) {
		return repo, &custom_errors.ReferenceIntegrityError{Entity: entity, Ref: typeRepository, RefID: key(sourceID)}
	}
	return repo, err
}

// --- repositories ------------------------------------------------------------

func (s *Store) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	return getEntity[model.Repository](ctx, s.pool, typeRepository, key(id))
}

func (s *Store) GetRepositoryByName(ctx context.Context, sourceType model.SourceType, owner, name string) (model.Repository, error) {
	repos, err := listEntities[model.Repository](ctx, s.pool, typeRepository,
		`meta->>'source_type' = $2 AND meta->>'owner' = $3 AND meta->>'name' = $4`, string(sourceType), owner, name)
	if err != nil {
		return model.Repository{}, err
	}
	if len(repos) == 0 {
		return model.Repository{}, custom_errors.NotFound(typeRepository, owner+"/"+name)
	}
	return repos[0], nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	return listEntities[model.Repository](ctx, s.pool, typeRepository, "")
}

func (s *Store) SaveRepository(ctx context.Context, repo model.Repository) (model.Repository, error) {
	repo, err := storage.NormalizeRepository(repo)
	if err != nil {
		return model.Repository{}, err
	}

	err = s.withTx(ctx, func(tx pgx.Tx) error {
		if repo.ID == 0 {
			id, err := nextID(ctx, tx, "repository_id_seq")
			if err != nil {
				return err
			}
			repo.ID = id
		} else if err := reserveID(ctx, tx, "repository_id_seq", repo.ID); err != nil {
			return err
		}

		err := putEntity(ctx, tx, row{id: key(repo.ID), typ: typeRepository, meta: repo})
		if errors.Is(err, custom_errors.ErrAlreadyExists) {
			return &custom_errors.AlreadyExistsError{Entity: typeRepository, ID: repo.FullName()}
		}
		return err
	})
	if err != nil {
		return model.Repository{}, err
	}
	return repo, nil
}

// UpdateRepository applies fn to the repository row locked FOR UPDATE. A
// deleted repository stays deleted.
func (s *Store) UpdateRepository(ctx context.Context, id int64, fn func(*model.Repository)) (model.Repository, error) {
	var repo model.Repository
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := lockRepository(ctx, tx, id)
		if err != nil {
			return err
		}
		repo = current
		fn(&repo)
		repo.ID, repo.SourceType, repo.Owner, repo.Name = current.ID, current.SourceType, current.Owner, current.Name
		if repo, err = storage.NormalizeRepository(repo); err != nil {
			return err
		}
		return putEntity(ctx, tx, row{id: key(id), typ: typeRepository, meta: repo})
	})
	if err != nil {
		return model.Repository{}, err
	}
	return repo, nil
}

func (s *Store) DeleteRepository(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockRepository(ctx, tx, id); err != nil {
			return err
		}

		subs, err := count(ctx, tx, `SELECT COUNT(*) FROM entities WHERE type = $1 AND source_id = $2`, typeSubscription, id)
		if err != nil {
			return err
		}
		updates, err := count(ctx, tx, `SELECT COUNT(*) FROM entities WHERE type = $1 AND source_id = $2`, typeUpdate, id)
		if err != nil {
			return err
		}
		if subs > 0 || updates > 0 {
			return &custom_errors.DependentsError{Entity: typeRepository, ID: key(id), Subscriptions: subs, Updates: updates}
		}

		_, err = tx.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND id = $2`, typeRepository, key(id))
		return err
	})
}

func (s *Store) CascadeDeleteRepository(ctx context.Context, id int64) (storage.CascadeResult, error) {
	var res storage.CascadeResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockRepository(ctx, tx, id); err != nil {
			return err
		}

		subs, err := listEntities[model.Subscription](ctx, tx, typeSubscription, `source_id = $2`, id)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			n, err := cascadeSubscription(ctx, tx, sub)
			if err != nil {
				return err
			}
			res.Subscriptions++
			res.Updates += n
		}

		tag, err := tx.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND source_id = $2`, typeUpdate, id)
		if err != nil {
			return fmt.Errorf("failed to delete updates of repository %d: %w", id, err)
		}
		res.Updates += int(tag.RowsAffected())

		_, err = tx.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND id = $2`, typeRepository, key(id))
		return err
	})
	if err != nil {
		return storage.CascadeResult{}, err
	}

	s.logger.Debug("Cascade deleted repository", "repo_id", id,
		"subscriptions_deleted", res.Subscriptions, "updates_deleted", res.Updates)
	return res, nil
}

func (s *Store) FindRelatedSubscriptions(ctx context.Context, repoID int64) ([]model.Subscription, error) {
	if _, err := s.GetRepository(ctx, repoID); err != nil {
		return nil, err
	}
	return listEntities[model.Subscription](ctx, s.pool, typeSubscription, `source_id = $2`, repoID)
}

// --- subscriptions -----------------------------------------------------------

func (s *Store) GetSubscription(ctx context.Context, id int64) (model.Subscription, error) {
	return getEntity[model.Subscription](ctx, s.pool, typeSubscription, key(id))
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	return listEntities[model.Subscription](ctx, s.pool, typeSubscription, "")
}

func (s *Store) ListSubscriptionsByTag(ctx context.Context, tag string) ([]model.Subscription, error) {
	tags, err := json.Marshal([]string{tag})
	if err != nil {
		return nil, err
	}
	return listEntities[model.Subscription](ctx, s.pool, typeSubscription, `meta->'tags' @> $2::jsonb`, string(tags))
}

func (s *Store) VerifySourceExists(ctx context.Context, sourceID int64) error {
	_, err := s.GetRepository(ctx, sourceID)
	if errors.Is(err, custom_errors.ErrNotFound) {
		return &custom_errors.ReferenceIntegrityError{Entity: typeSubscription, Ref: typeRepository, RefID: key(sourceID)}
	}
	return err
}

func (s *Store) SaveSubscription(ctx context.Context, sub model.Subscription) (model.Subscription, error) {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		repo, err := lockSource(ctx, tx, typeSubscription, sub.SourceID)
		if err != nil {
			return err
		}

		if sub.ID != 0 {
			existing, err := getEntity[model.Subscription](ctx, tx, typeSubscription, key(sub.ID))
			if err == nil && existing.SourceID != sub.SourceID {
				return &custom_errors.ValidationError{Field: "source_id", Message: "cannot move a subscription to another source"}
			}
		}

		sub, err = storage.NormalizeSubscription(sub, repo, s.now())
		if err != nil {
			return err
		}

		if sub.ID == 0 {
			if sub.ID, err = nextID(ctx, tx, "subscription_id_seq"); err != nil {
				return err
			}
		} else if err := reserveID(ctx, tx, "subscription_id_seq", sub.ID); err != nil {
			return err
		}

		return putEntity(ctx, tx, row{id: key(sub.ID), typ: typeSubscription, sourceID: sub.SourceID, meta: sub})
	})
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// UpdateSubscription applies fn to the subscription while its repository row
// is locked. A deleted subscription stays deleted.
func (s *Store) UpdateSubscription(ctx context.Context, id int64, fn func(*model.Subscription)) (model.Subscription, error) {
	var sub model.Subscription
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := getEntity[model.Subscription](ctx, tx, typeSubscription, key(id))
		if err != nil {
			return err
		}
		repo, err := lockSource(ctx, tx, typeSubscription, current.SourceID)
		if err != nil {
			return err
		}
		// Re-read under the lock; a cascade may have won the race.
		if current, err = getEntity[model.Subscription](ctx, tx, typeSubscription, key(id)); err != nil {
			return err
		}

		sub = current
		fn(&sub)
		sub.ID, sub.SourceID = current.ID, current.SourceID
		if sub, err = storage.NormalizeSubscription(sub, repo, s.now()); err != nil {
			return err
		}
		return putEntity(ctx, tx, row{id: key(id), typ: typeSubscription, sourceID: sub.SourceID, meta: sub})
	})
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// lockSubscription resolves the subscription, locks its repository and
// re-reads the subscription under that lock.
func lockSubscription(ctx context.Context, tx pgx.Tx, id int64) (model.Subscription, error) {
	sub, err := getEntity[model.Subscription](ctx, tx, typeSubscription, key(id))
	if err != nil {
		return sub, err
	}
	if _, err := lockRepository(ctx, tx, sub.SourceID); err != nil && !errors.Is(err, custom_errors.ErrNotFound) {
		return sub, err
	}
	return getEntity[model.Subscription](ctx, tx, typeSubscription, key(id))
}

func (s *Store) DeleteSubscription(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		sub, err := lockSubscription(ctx, tx, id)
		if err != nil {
			return err
		}

		n, err := count(ctx, tx,
			`SELECT COUNT(*) FROM entities WHERE type = $1 AND source_id = $2 AND subscription_id IN (0, $3)`,
			typeUpdate, sub.SourceID, sub.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return &custom_errors.DependentsError{Entity: typeSubscription, ID: key(id), Updates: n}
		}

		_, err = tx.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND id = $2`, typeSubscription, key(id))
		return err
	})
}

func (s *Store) CascadeDeleteSubscription(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		sub, err := lockSubscription(ctx, tx, id)
		if err != nil {
			return err
		}
		n, err = cascadeSubscription(ctx, tx, sub)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func cascadeSubscription(ctx context.Context, tx pgx.Tx, sub model.Subscription) (int, error) {
	tag, err := tx.Exec(ctx,
		`DELETE FROM entities WHERE type = $1 AND source_id = $2 AND subscription_id IN (0, $3)`,
		typeUpdate, sub.SourceID, sub.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete updates of subscription %d: %w", sub.ID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND id = $2`, typeSubscription, key(sub.ID)); err != nil {
		return 0, fmt.Errorf("failed to delete subscription %d: %w", sub.ID, err)
	}
	return int(tag.RowsAffected()), nil
}

// --- updates -----------------------------------------------------------------

func (s *Store) GetUpdate(ctx context.Context, id uuid.UUID) (model.Update, error) {
	return getEntity[model.Update](ctx, s.pool, typeUpdate, id.String())
}

func (s *Store) ListUpdates(ctx context.Context) ([]model.Update, error) {
	return s.listUpdates(ctx, "")
}

func (s *Store) GetUpdatesForRepository(ctx context.Context, repoID int64) ([]model.Update, error) {
	return s.listUpdates(ctx, `source_id = $2`, repoID)
}

func (s *Store) GetUpdatesForSubscription(ctx context.Context, subID int64) ([]model.Update, error) {
	sub, err := s.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return s.listUpdates(ctx, `source_id = $2 AND subscription_id IN (0, $3)`, sub.SourceID, sub.ID)
}

func (s *Store) listUpdates(ctx context.Context, cond string, args ...any) ([]model.Update, error) {
	updates, err := listEntities[model.Update](ctx, s.pool, typeUpdate, cond, args...)
	if err != nil {
		return nil, err
	}
	storage.SortUpdates(updates)
	return updates, nil
}

func (s *Store) SaveUpdate(ctx context.Context, u model.Update) (model.Update, bool, error) {
	inserted := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockSource(ctx, tx, typeUpdate, u.SourceID); err != nil {
			return err
		}
		if u.SubscriptionID != 0 {
			sub, err := getEntity[model.Subscription](ctx, tx, typeSubscription, key(u.SubscriptionID))
			if err != nil || sub.SourceID != u.SourceID {
				return &custom_errors.ReferenceIntegrityError{Entity: typeUpdate, Ref: typeSubscription, RefID: key(u.SubscriptionID)}
			}
		}

		candidates, err := listEntities[model.Update](ctx, tx, typeUpdate,
			`source_id = $2 AND event_type = $3`, u.SourceID, string(u.EventType))
		if err != nil {
			return err
		}
		if existing, ok := identity.FindDuplicate(candidates, u); ok {
			u = existing
			return nil
		}

		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		if u.FetchedAt.IsZero() {
			u.FetchedAt = s.now()
		}
		inserted = true
		return putEntity(ctx, tx, row{
			id:             u.ID.String(),
			typ:            typeUpdate,
			sourceID:       u.SourceID,
			subscriptionID: u.SubscriptionID,
			eventType:      string(u.EventType),
			meta:           u,
		})
	})
	if err != nil {
		return model.Update{}, false, err
	}
	return u, inserted, nil
}

func (s *Store) DeleteUpdate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE type = $1 AND id = $2`, typeUpdate, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return custom_errors.NotFound(typeUpdate, id)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE entities`); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}
	s.logger.Warn("All entities cleared")
	return nil
}
