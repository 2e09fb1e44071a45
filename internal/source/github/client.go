// internal/source/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

const perPage = 100

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// A non-empty token is used to create an authenticated http.Client; baseURL
// selects a GitHub Enterprise instance.
func NewClient(token, baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
		httpClient.Timeout = timeout
	}

	gh := github.NewClient(httpClient)
	if baseURL != "" {
		var err error
		if gh, err = gh.WithEnterpriseURLs(baseURL, baseURL); err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", baseURL, err)
		}
	}

	return &Client{
		gh:     gh,
		logger: logger.With("component", "github_client"),
	}, nil
}

// RefreshRepository fetches upstream details and copies the informational
// fields onto repo. Identity fields are left untouched.
func (c *Client) RefreshRepository(ctx context.Context, repo model.Repository) (model.Repository, error) {
	r, _, err := c.gh.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return repo, classify(repo.FullName(), err)
	}
	return withUpstreamDetails(repo, r), nil
}

// GetCommits fetches all commits since a given time, optionally on one branch.
// It handles API pagination transparently.
func (c *Client) GetCommits(ctx context.Context, owner, name, branch string, since *time.Time) ([]model.Update, error) {
	opts := &github.CommitsListOptions{
		SHA:         branch,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	commits, err := paginate(ctx, c.logger.With("kind", "commits", "owner", owner, "repo", name), &opts.ListOptions,
		func(ctx context.Context) ([]*github.RepositoryCommit, *github.Response, error) {
			return c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		}, nil)
	if err != nil {
		return nil, classify(owner+"/"+name, err)
	}

	updates := make([]model.Update, 0, len(commits))
	for _, commit := range commits {
		updates = append(updates, toCommitUpdate(commit))
	}
	return updates, nil
}

// GetIssues fetches issues updated since a given time. Pull requests, which
// the issues endpoint also returns, are dropped.
func (c *Client) GetIssues(ctx context.Context, owner, name string, since *time.Time) ([]model.Update, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	issues, err := paginate(ctx, c.logger.With("kind", "issues", "owner", owner, "repo", name), &opts.ListOptions,
		func(ctx context.Context) ([]*github.Issue, *github.Response, error) {
			return c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		}, nil)
	if err != nil {
		return nil, classify(owner+"/"+name, err)
	}

	updates := make([]model.Update, 0, len(issues))
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		updates = append(updates, toIssueUpdate(issue, since))
	}
	return updates, nil
}

// GetPullRequests fetches pull requests updated since a given time. The pulls
// endpoint has no since filter, so pages are walked newest-updated first
// until an older item is seen.
func (c *Client) GetPullRequests(ctx context.Context, owner, name string, since *time.Time) ([]model.Update, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	prs, err := paginate(ctx, c.logger.With("kind", "pull_requests", "owner", owner, "repo", name), &opts.ListOptions,
		func(ctx context.Context) ([]*github.PullRequest, *github.Response, error) {
			return c.gh.PullRequests.List(ctx, owner, name, opts)
		},
		func(pr *github.PullRequest) bool {
			return since == nil || !pr.GetUpdatedAt().Time.Before(*since)
		})
	if err != nil {
		return nil, classify(owner+"/"+name, err)
	}

	updates := make([]model.Update, 0, len(prs))
	for _, pr := range prs {
		updates = append(updates, toPullRequestUpdate(pr, since))
	}
	return updates, nil
}

// GetReleases fetches releases published since a given time. Releases come
// back newest first, so paging stops at the first older one.
func (c *Client) GetReleases(ctx context.Context, owner, name string, since *time.Time) ([]model.Update, error) {
	opts := &github.ListOptions{PerPage: perPage}

	releases, err := paginate(ctx, c.logger.With("kind", "releases", "owner", owner, "repo", name), opts,
		func(ctx context.Context) ([]*github.RepositoryRelease, *github.Response, error) {
			return c.gh.Repositories.ListReleases(ctx, owner, name, opts)
		},
		func(r *github.RepositoryRelease) bool {
			return since == nil || !releaseDate(r).Before(*since)
		})
	if err != nil {
		return nil, classify(owner+"/"+name, err)
	}

	updates := make([]model.Update, 0, len(releases))
	for _, r := range releases {
		updates = append(updates, toReleaseUpdate(r))
	}
	return updates, nil
}

// paginate calls list until the last page. When keep is non-nil, items are
// collected only while keep returns true and paging stops at the first item
// it rejects.
func paginate[T any](
	ctx context.Context,
	logger *slog.Logger,
	opts *github.ListOptions,
	list func(context.Context) ([]T, *github.Response, error),
	keep func(T) bool,
) ([]T, error) {
	var all []T
	for {
		logger.Debug("Fetching page", "page", opts.Page)

		items, resp, err := list(ctx)
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			if keep != nil && !keep(item) {
				return all, nil
			}
			all = append(all, item)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// classify maps a go-github failure onto the source error taxonomy.
func classify(source string, err error) error {
	var (
		rateErr  *github.RateLimitError
		abuseErr *github.AbuseRateLimitError
		respErr  *github.ErrorResponse
		syntax   *json.SyntaxError
		typeErr  *json.UnmarshalTypeError
		urlErr   *url.Error
		netErr   net.Error
	)

	kind := custom_errors.SourceAPI
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		kind = custom_errors.SourceRateLimit
	case errors.As(err, &respErr):
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = custom_errors.SourceAuth
		case http.StatusNotFound:
			kind = custom_errors.SourceNotFound
		}
	case errors.As(err, &syntax), errors.As(err, &typeErr):
		kind = custom_errors.SourceParse
	case errors.As(err, &urlErr), errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = custom_errors.SourceNetwork
	}
	return custom_errors.NewSourceError(kind, source, err)
}

// withUpstreamDetails copies the informational fields of a github.Repository onto repo.
func withUpstreamDetails(repo model.Repository, r *github.Repository) model.Repository {
	repo.Description = r.Description
	repo.DefaultBranch = r.DefaultBranch
	stars, forks := r.GetStargazersCount(), r.GetForksCount()
	repo.Stars = &stars
	repo.Forks = &forks
	if r.CreatedAt != nil {
		t := r.GetCreatedAt().Time
		repo.RepoCreatedAt = &t
	}
	if r.UpdatedAt != nil {
		t := r.GetUpdatedAt().Time
		repo.RepoUpdatedAt = &t
	}
	if u := r.GetHTMLURL(); u != "" {
		repo.URL = u
	}
	return repo
}

// toCommitUpdate translates a github.RepositoryCommit object to a Commit update.
func toCommitUpdate(c *github.RepositoryCommit) model.Update {
	message := c.GetCommit().GetMessage()
	title, _, _ := strings.Cut(message, "\n")

	author := c.GetAuthor().GetLogin()
	if author == "" {
		author = c.GetCommit().GetAuthor().GetName()
	}

	return model.Update{
		EventType:   model.EventCommit,
		Title:       title,
		Description: message,
		URL:         c.GetHTMLURL(),
		Author:      author,
		EventDate:   c.GetCommit().GetAuthor().GetDate().Time,
		AdditionalData: model.AdditionalData{
			model.DataSHA:  c.GetSHA(),
			"author_email": c.GetCommit().GetAuthor().GetEmail(),
		},
	}
}

// isNew decides whether an item created at created counts as new within the
// window. Anything older is reported as an update to an existing item.
func isNew(created time.Time, since *time.Time) bool {
	return since == nil || !created.Before(*since)
}

func toIssueUpdate(i *github.Issue, since *time.Time) model.Update {
	created := i.GetCreatedAt().Time
	u := model.Update{
		EventType:   model.EventIssue,
		Title:       i.GetTitle(),
		Description: i.GetBody(),
		URL:         i.GetHTMLURL(),
		Author:      i.GetUser().GetLogin(),
		EventDate:   created,
		AdditionalData: model.AdditionalData{
			model.DataNumber: i.GetNumber(),
			"state":          i.GetState(),
			"comments":       i.GetComments(),
			"labels":         labelNames(i.Labels),
		},
	}
	if !isNew(created, since) {
		u.EventType = model.EventIssueUpdate
		u.EventDate = i.GetUpdatedAt().Time
	}
	return u
}

func toPullRequestUpdate(pr *github.PullRequest, since *time.Time) model.Update {
	created := pr.GetCreatedAt().Time
	data := model.AdditionalData{
		model.DataNumber: pr.GetNumber(),
		"state":          pr.GetState(),
		"draft":          pr.GetDraft(),
		"labels":         labelNames(pr.Labels),
	}
	if pr.MergedAt != nil {
		data["merged_at"] = pr.GetMergedAt().Time
	}

	u := model.Update{
		EventType:      model.EventPullRequest,
		Title:          pr.GetTitle(),
		Description:    pr.GetBody(),
		URL:            pr.GetHTMLURL(),
		Author:         pr.GetUser().GetLogin(),
		EventDate:      created,
		AdditionalData: data,
	}
	if !isNew(created, since) {
		u.EventType = model.EventPullRequestUpdate
		u.EventDate = pr.GetUpdatedAt().Time
	}
	return u
}

func releaseDate(r *github.RepositoryRelease) time.Time {
	if r.PublishedAt != nil {
		return r.GetPublishedAt().Time
	}
	return r.GetCreatedAt().Time
}

func toReleaseUpdate(r *github.RepositoryRelease) model.Update {
	title := r.GetName()
	if title == "" {
		title = r.GetTagName()
	}
	return model.Update{
		EventType:   model.EventRelease,
		Title:       title,
		Description: r.GetBody(),
		URL:         r.GetHTMLURL(),
		Author:      r.GetAuthor().GetLogin(),
		EventDate:   releaseDate(r),
		AdditionalData: model.AdditionalData{
			model.DataID:      r.GetID(),
			model.DataTagName: r.GetTagName(),
			"prerelease":      r.GetPrerelease(),
		},
	}
}

func labelNames(labels []*github.Label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}
