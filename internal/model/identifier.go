// internal/model/identifier.go
package model

import (
	"strings"

	custom_errors "activity-sync/internal/errors"
)

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner string
	Name  string
}

func (id RepoIdentifier) String() string {
	return id.Owner + "/" + id.Name
}

// ParseRepoIdentifier parses an 'owner/name' string.
func ParseRepoIdentifier(s string) (RepoIdentifier, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoIdentifier{}, &custom_errors.ErrInvalidRepoFormat{Repo: s}
	}
	return RepoIdentifier{Owner: parts[0], Name: parts[1]}, nil
}

// ParseRepoIdentifiers parses every entry, failing on the first malformed one.
func ParseRepoIdentifiers(repos []string) ([]RepoIdentifier, error) {
	var identifiers []RepoIdentifier
	for _, r := range repos {
		id, err := ParseRepoIdentifier(r)
		if err != nil {
			return nil, err
		}
		identifiers = append(identifiers, id)
	}
	return identifiers, nil
}
