// internal/config/subscriptions.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

// SubscriptionSeed is one entry of a subscriptions file.
//
//	subscriptions:
//	  - repo: golang/go
//	    tags: [go]
//	    update_types: [releases]
//	  - source_type: feed
//	    feed: show
//	    min_score: 100
type SubscriptionSeed struct {
	Name            string           `yaml:"name" json:"name,omitempty"`
	SourceType      model.SourceType `yaml:"source_type" json:"source_type,omitempty"`
	Repo            string           `yaml:"repo" json:"repo,omitempty"`
	Branch          string           `yaml:"branch" json:"branch,omitempty"`
	Feed            string           `yaml:"feed" json:"feed,omitempty"`
	MinScore        int              `yaml:"min_score" json:"min_score,omitempty"`
	Count           int              `yaml:"count" json:"count,omitempty"`
	Tags            []string         `yaml:"tags" json:"tags,omitempty"`
	UpdateFrequency string           `yaml:"update_frequency" json:"update_frequency,omitempty"`
	UpdateTypes     []string         `yaml:"update_types" json:"update_types,omitempty"`
}

// Validate defaults the source type to github and checks every field that
// can be checked without the store.
func (s *SubscriptionSeed) Validate() error {
	if s.SourceType == "" {
		s.SourceType = model.SourceGitHub
	}
	switch s.SourceType {
	case model.SourceGitHub:
		if _, err := s.Identifier(); err != nil {
			return &custom_errors.ValidationError{Field: "repo", Message: err.Error()}
		}
	case model.SourceFeed:
		if s.Feed == "" {
			return &custom_errors.ValidationError{Field: "feed", Message: "feed type is required"}
		}
	default:
		return &custom_errors.ValidationError{Field: "source_type", Message: fmt.Sprintf("unknown source type %q", s.SourceType)}
	}
	if _, err := s.Frequency(); err != nil {
		return &custom_errors.ValidationError{Field: "update_frequency", Message: err.Error()}
	}
	if _, err := s.Types(); err != nil {
		return &custom_errors.ValidationError{Field: "update_types", Message: err.Error()}
	}
	return nil
}

// Frequency returns the parsed update frequency.
func (s SubscriptionSeed) Frequency() (model.UpdateFrequency, error) {
	return model.ParseUpdateFrequency(s.UpdateFrequency)
}

// Types returns the parsed update types.
func (s SubscriptionSeed) Types() ([]model.UpdateType, error) {
	return model.ParseUpdateTypes(s.UpdateTypes)
}

// Identifier returns the owner/name of a github seed.
func (s SubscriptionSeed) Identifier() (model.RepoIdentifier, error) {
	return model.ParseRepoIdentifier(s.Repo)
}

// SourceConfig returns the adapter parameters of the seed.
func (s SubscriptionSeed) SourceConfig() model.SourceConfig {
	cfg := model.SourceConfig{Branch: s.Branch, Feed: s.Feed, MinScore: s.MinScore, Count: s.Count}
	if id, err := s.Identifier(); err == nil {
		cfg.Owner, cfg.Repo = id.Owner, id.Name
	}
	return cfg
}

type subscriptionsFile struct {
	Subscriptions []SubscriptionSeed `yaml:"subscriptions"`
}

// LoadSubscriptions reads a subscriptions file from path.
func LoadSubscriptions(path string) ([]SubscriptionSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions file: %w", err)
	}
	seeds, err := ParseSubscriptions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seeds, nil
}

// ParseSubscriptions decodes and validates subscription seeds. Unknown fields
// are rejected.
func ParseSubscriptions(data []byte) ([]SubscriptionSeed, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file subscriptionsFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, &custom_errors.ValidationError{Field: "subscriptions", Message: err.Error()}
	}

	for i := range file.Subscriptions {
		if err := file.Subscriptions[i].Validate(); err != nil {
			return nil, fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
	}
	return file.Subscriptions, nil
}
