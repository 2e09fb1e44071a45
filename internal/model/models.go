// internal/model/models.go
package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies which adapter family produces a source's updates.
type SourceType string

const (
	SourceGitHub SourceType = "github"
	SourceFeed   SourceType = "feed"
)

// Valid reports whether t is one of the supported source kinds.
func (t SourceType) Valid() bool {
	return t == SourceGitHub || t == SourceFeed
}

// Repository represents a trackable origin. For GitHub it is a repository;
// for feed sources Owner is the feed host label and Name the feed type.
type Repository struct {
	ID          int64      `json:"id"`
	SourceType  SourceType `json:"source_type"`
	Owner       string     `json:"owner"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Description *string    `json:"description,omitempty"`

	// Informational fields, refreshed from upstream.
	DefaultBranch *string    `json:"default_branch,omitempty"`
	Stars         *int       `json:"stars,omitempty"`
	Forks         *int       `json:"forks,omitempty"`
	RepoCreatedAt *time.Time `json:"repo_created_at,omitempty"`
	RepoUpdatedAt *time.Time `json:"repo_updated_at,omitempty"`
	LastFetched   *time.Time `json:"last_fetched,omitempty"`
}

// NewRepository returns an unsaved GitHub repository with its URL derived.
func NewRepository(owner, name string) Repository {
	return Repository{
		SourceType: SourceGitHub,
		Owner:      owner,
		Name:       name,
		URL:        fmt.Sprintf("https://github.com/%s/%s", owner, name),
	}
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// WithUpstreamDetails copies the upstream-refreshed fields of src into r.
func (r *Repository) WithUpstreamDetails(src Repository) {
	if src.URL != "" {
		r.URL = src.URL
	}
	r.Description = src.Description
	r.DefaultBranch = src.DefaultBranch
	r.Stars = src.Stars
	r.Forks = src.Forks
	r.RepoCreatedAt = src.RepoCreatedAt
	r.RepoUpdatedAt = src.RepoUpdatedAt
}

// UpdateFrequency is how often the scheduler considers a subscription due.
type UpdateFrequency string

const (
	FrequencyDaily  UpdateFrequency = "daily"
	FrequencyWeekly UpdateFrequency = "weekly"
	FrequencyManual UpdateFrequency = "manual"
)

// Interval returns the minimum time between scheduled syncs, or 0 for manual.
func (f UpdateFrequency) Interval() time.Duration {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseUpdateFrequency parses a frequency name; empty means daily.
func ParseUpdateFrequency(s string) (UpdateFrequency, error) {
	switch UpdateFrequency(s) {
	case "":
		return FrequencyDaily, nil
	case FrequencyDaily, FrequencyWeekly, FrequencyManual:
		return UpdateFrequency(s), nil
	}
	return "", fmt.Errorf("unknown update frequency %q", s)
}

// UpdateType selects which kinds of upstream activity a subscription tracks.
type UpdateType string

const (
	TrackCommits      UpdateType = "commits"
	TrackIssues       UpdateType = "issues"
	TrackPullRequests UpdateType = "pull_requests"
	TrackReleases     UpdateType = "releases"
	TrackAll          UpdateType = "all"
)

// ParseUpdateTypes parses a list of update type names. An empty list means all.
func ParseUpdateTypes(names []string) ([]UpdateType, error) {
	if len(names) == 0 {
		return []UpdateType{TrackAll}, nil
	}
	types := make([]UpdateType, 0, len(names))
	for _, n := range names {
		switch t := UpdateType(n); t {
		case TrackCommits, TrackIssues, TrackPullRequests, TrackReleases, TrackAll:
			types = append(types, t)
		default:
			return nil, fmt.Errorf("unknown update type %q", n)
		}
	}
	return types, nil
}

// Tracks reports whether the set of update types includes t.
func Tracks(types []UpdateType, t UpdateType) bool {
	if len(types) == 0 {
		return true
	}
	return slices.Contains(types, TrackAll) || slices.Contains(types, t)
}

// SourceConfig holds the parameters needed to rebuild a source adapter call.
type SourceConfig struct {
	// GitHub
	Owner  string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Repo   string `json:"repo,omitempty" yaml:"repo,omitempty"`
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`

	// Feed
	Feed     string `json:"feed,omitempty" yaml:"feed,omitempty"`
	MinScore int    `json:"min_score,omitempty" yaml:"min_score,omitempty"`
	Count    int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// Subscription is a tracked intent binding a source to update kinds and cadence.
type Subscription struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	SourceType      SourceType      `json:"source_type"`
	SourceID        int64           `json:"source_id"`
	SourceConfig    SourceConfig    `json:"source_config"`
	Tags            []string        `json:"tags"`
	UpdateFrequency UpdateFrequency `json:"update_frequency"`
	UpdateTypes     []UpdateType    `json:"update_types"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastFetched     *time.Time      `json:"last_fetched,omitempty"`
}

// NewSubscription returns an unsaved subscription to the given source.
func NewSubscription(source Repository, cfg SourceConfig, tags []string, freq UpdateFrequency, types []UpdateType) Subscription {
	now := time.Now().UTC()
	if len(types) == 0 {
		types = []UpdateType{TrackAll}
	}
	return Subscription{
		Name:            source.FullName(),
		SourceType:      source.SourceType,
		SourceID:        source.ID,
		SourceConfig:    cfg,
		Tags:            tags,
		UpdateFrequency: freq,
		UpdateTypes:     types,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// HasTag reports whether the subscription carries tag.
func (s Subscription) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Due reports whether a scheduled sync should run for the subscription at now.
func (s Subscription) Due(now time.Time) bool {
	interval := s.UpdateFrequency.Interval()
	if interval == 0 {
		return false
	}
	if s.LastFetched == nil {
		return true
	}
	return !now.Before(s.LastFetched.Add(interval))
}

// EventType is the normalized kind of an observed event.
type EventType string

const (
	EventCommit            EventType = "Commit"
	EventIssue             EventType = "Issue"
	EventIssueUpdate       EventType = "IssueUpdate"
	EventPullRequest       EventType = "PullRequest"
	EventPullRequestUpdate EventType = "PullRequestUpdate"
	EventRelease           EventType = "Release"

	// Feed-only kinds.
	EventStory      EventType = "Story"
	EventPoll       EventType = "Poll"
	EventComment    EventType = "Comment"
	EventJobPosting EventType = "JobPosting"
	EventQuestion   EventType = "Question"
	EventProject    EventType = "Project"
)

// IsIssueOrPullRequest reports whether the kind is identified by an issue/PR number.
func (e EventType) IsIssueOrPullRequest() bool {
	switch e {
	case EventIssue, EventIssueUpdate, EventPullRequest, EventPullRequestUpdate:
		return true
	}
	return false
}

// UpdateType returns the update type that selects this kind. Feed kinds have
// none and are always tracked.
func (e EventType) UpdateType() (UpdateType, bool) {
	switch e {
	case EventCommit:
		return TrackCommits, true
	case EventIssue, EventIssueUpdate:
		return TrackIssues, true
	case EventPullRequest, EventPullRequestUpdate:
		return TrackPullRequests, true
	case EventRelease:
		return TrackReleases, true
	}
	return "", false
}

// Keys of AdditionalData that adapters populate and the identity resolver reads.
const (
	DataSHA     = "sha"
	DataNumber  = "number"
	DataID      = "id"
	DataTagName = "tag_name"
	DataItemID  = "item_id"
	DataGUID    = "guid"
)

// AdditionalData is an opaque payload carried with an update. Only the
// Data* keys above have meaning outside the adapter that produced it.
type AdditionalData map[string]any

// String returns the value at key if it is a string.
func (d AdditionalData) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok && v != ""
}

// Int returns the value at key as an int64. Values decoded from JSON arrive as
// float64, so every numeric representation is accepted.
func (d AdditionalData) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// Update is one normalized event observed from a source.
type Update struct {
	ID             uuid.UUID      `json:"id"`
	SourceType     SourceType     `json:"source_type"`
	SourceID       int64          `json:"source_id"`
	SubscriptionID int64          `json:"subscription_id,omitempty"`
	EventType      EventType      `json:"event_type"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	URL            string         `json:"url"`
	Author         string         `json:"author,omitempty"`
	EventDate      time.Time      `json:"event_date"`
	FetchedAt      time.Time      `json:"fetched_at"`
	AdditionalData AdditionalData `json:"additional_data,omitempty"`
}

// BelongsTo reports whether the update is scoped to sub: same source and
// either unscoped or explicitly owned by the subscription.
func (u Update) BelongsTo(sub Subscription) bool {
	return u.SourceID == sub.SourceID && (u.SubscriptionID == 0 || u.SubscriptionID == sub.ID)
}
