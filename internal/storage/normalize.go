// internal/storage/normalize.go
package storage

import (
	"fmt"
	"strings"
	"time"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

// NormalizeRepository validates repo and fills defaults. Both store
// implementations apply it before writing.
func NormalizeRepository(repo model.Repository) (model.Repository, error) {
	if repo.SourceType == "" {
		repo.SourceType = model.SourceGitHub
	}
	if !repo.SourceType.Valid() {
		return repo, &custom_errors.ValidationError{Field: "source_type", Message: fmt.Sprintf("unsupported source type %q", repo.SourceType)}
	}
	repo.Owner = strings.TrimSpace(repo.Owner)
	repo.Name = strings.TrimSpace(repo.Name)
	if repo.Owner == "" {
		return repo, &custom_errors.ValidationError{Field: "owner", Message: "must not be empty"}
	}
	if repo.Name == "" {
		return repo, &custom_errors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if repo.URL == "" && repo.SourceType == model.SourceGitHub {
		repo.URL = model.NewRepository(repo.Owner, repo.Name).URL
	}
	return repo, nil
}

// NormalizeSubscription validates sub against its resolved source and fills
// defaults and timestamps.
func NormalizeSubscription(sub model.Subscription, source model.Repository, now time.Time) (model.Subscription, error) {
	if sub.SourceType == "" {
		sub.SourceType = source.SourceType
	}
	if sub.SourceType != source.SourceType {
		return sub, &custom_errors.ValidationError{
			Field:   "source_type",
			Message: fmt.Sprintf("subscription is %s but source %d is %s", sub.SourceType, source.ID, source.SourceType),
		}
	}
	if sub.Name == "" {
		sub.Name = source.FullName()
	}

	freq, err := model.ParseUpdateFrequency(string(sub.UpdateFrequency))
	if err != nil {
		return sub, &custom_errors.ValidationError{Field: "update_frequency", Message: err.Error()}
	}
	sub.UpdateFrequency = freq

	if len(sub.UpdateTypes) == 0 {
		sub.UpdateTypes = []model.UpdateType{model.TrackAll}
	}
	names := make([]string, len(sub.UpdateTypes))
	for i, t := range sub.UpdateTypes {
		names[i] = string(t)
	}
	if _, err := model.ParseUpdateTypes(names); err != nil {
		return sub, &custom_errors.ValidationError{Field: "update_types", Message: err.Error()}
	}

	if sub.Tags == nil {
		sub.Tags = []string{}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	return sub, nil
}
