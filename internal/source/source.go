// Package source defines the capability every upstream adapter provides and
// the registry that builds the right adapter for a stored source record.
package source

import (
	"context"
	"time"

	"activity-sync/internal/model"
)

// Source fetches normalized updates from one upstream origin.
//
// A nil since fetches everything the upstream still exposes; otherwise only
// events at or after since are returned. Implementations do not retry and
// return a *errors.SourceError on any upstream failure.
type Source interface {
	FetchUpdates(ctx context.Context, since *time.Time) ([]model.Update, error)
	Type() model.SourceType
	Name() string
}
