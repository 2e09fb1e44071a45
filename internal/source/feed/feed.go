// Package feed adapts Hacker News style syndication feeds (hnrss.org) into
// updates. A fetch is one HTTP GET plus local parsing with gofeed.
package feed

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/model"
)

// Owner is the owner label of every feed source record.
const Owner = "hackernews"

const defaultCount = 20

// Type names one of the hnrss feeds.
type Type string

const (
	FrontPage Type = "frontpage"
	Newest    Type = "newest"
	Best      Type = "best"
	Ask       Type = "ask"
	Show      Type = "show"
	Jobs      Type = "jobs"
	Polls     Type = "polls"
)

// ParseType parses a feed type name, case-insensitively.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case FrontPage, Newest, Best, Ask, Show, Jobs, Polls:
		return t, nil
	}
	return "", &custom_errors.ValidationError{Field: "feed", Message: fmt.Sprintf("invalid feed type %q", s)}
}

// Label returns the human-readable feed name.
func (t Type) Label() string {
	switch t {
	case FrontPage:
		return "Front Page"
	case Ask:
		return "Ask HN"
	case Show:
		return "Show HN"
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// FeedURL builds the feed URL for the given parameters. A zero count uses
// the default of 20 items.
func FeedURL(baseURL string, t Type, minScore, count int) string {
	if count <= 0 {
		count = defaultCount
	}
	q := url.Values{}
	q.Set("points", strconv.Itoa(minScore))
	q.Set("count", strconv.Itoa(count))
	return fmt.Sprintf("%s/%s.atom?%s", strings.TrimRight(baseURL, "/"), t, q.Encode())
}

// NewRepository returns the unsaved source record for a feed.
func NewRepository(baseURL string, t Type) model.Repository {
	description := "Hacker News: " + t.Label()
	return model.Repository{
		SourceType:  model.SourceFeed,
		Owner:       Owner,
		Name:        string(t),
		URL:         fmt.Sprintf("%s/%s.atom", strings.TrimRight(baseURL, "/"), t),
		Description: &description,
	}
}

// Client performs feed HTTP requests.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a feed client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With("component", "feed_client"),
	}
}

// BaseURL returns the feed host the client was configured with.
func (c *Client) BaseURL() string { return c.baseURL }

// Fetch downloads and parses the feed at feedURL.
func (c *Client) Fetch(ctx context.Context, name, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, custom_errors.NewSourceError(custom_errors.SourceAPI, name, err)
	}
	req.Header.Set("User-Agent", "activity-sync/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, custom_errors.NewSourceError(custom_errors.SourceNetwork, name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, custom_errors.NewSourceError(custom_errors.SourceNotFound, name, fmt.Errorf("GET %s: %s", feedURL, resp.Status))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, custom_errors.NewSourceError(custom_errors.SourceRateLimit, name, fmt.Errorf("GET %s: %s", feedURL, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, custom_errors.NewSourceError(custom_errors.SourceAPI, name, fmt.Errorf("GET %s: %s", feedURL, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, custom_errors.NewSourceError(custom_errors.SourceNetwork, name, err)
	}

	// gofeed parsers keep per-parse state, so one is created per fetch.
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, custom_errors.NewSourceError(custom_errors.SourceParse, name, err)
	}
	c.logger.Debug("Parsed feed", "feed", name, "title", parsed.Title, "items", len(parsed.Items))
	return parsed, nil
}

// Source fetches one feed for one stored source record.
type Source struct {
	client   *Client
	repo     model.Repository
	feed     Type
	minScore int
	count    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewSource binds client to a feed source record. The feed type comes from
// cfg.Feed, falling back to the record's name.
func NewSource(client *Client, repo model.Repository, cfg model.SourceConfig, logger *slog.Logger) (*Source, error) {
	name := cfg.Feed
	if name == "" {
		name = repo.Name
	}
	t, err := ParseType(name)
	if err != nil {
		return nil, err
	}
	return &Source{
		client:   client,
		repo:     repo,
		feed:     t,
		minScore: cfg.MinScore,
		count:    cfg.Count,
		logger:   logger.With("source", "hackernews/"+string(t)),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Source) Type() model.SourceType { return model.SourceFeed }

func (s *Source) Name() string { return "HackerNews: " + s.feed.Label() }

// URL returns the feed URL this source requests.
func (s *Source) URL() string {
	return FeedURL(s.client.BaseURL(), s.feed, s.minScore, s.count)
}

// FetchUpdates downloads the feed and converts its entries, newest first.
// Entries published before since, and entries without a link or content,
// are skipped.
func (s *Source) FetchUpdates(ctx context.Context, since *time.Time) ([]model.Update, error) {
	parsed, err := s.client.Fetch(ctx, s.Name(), s.URL())
	if err != nil {
		s.logger.Error("Fetch failed", "error", err)
		return nil, err
	}

	fetchedAt := s.now()
	updates := make([]model.Update, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		u, ok := s.toUpdate(item, since)
		if !ok {
			continue
		}
		u.FetchedAt = fetchedAt
		updates = append(updates, u)
	}

	slices.SortStableFunc(updates, func(a, b model.Update) int {
		return cmp.Compare(b.EventDate.UnixNano(), a.EventDate.UnixNano())
	})
	s.logger.Debug("Fetched updates", "entries", len(parsed.Items), "kept", len(updates))
	return updates, nil
}

func (s *Source) toUpdate(item *gofeed.Item, since *time.Time) (model.Update, bool) {
	published := itemDate(item)
	if since != nil && published != nil && published.Before(*since) {
		return model.Update{}, false
	}

	if item.Link == "" {
		return model.Update{}, false
	}
	content := item.Content
	if content == "" {
		content = item.Description
	}
	if content == "" {
		return model.Update{}, false
	}

	score, hasScore := extractScore(content)
	if hasScore && score < s.minScore {
		return model.Update{}, false
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Untitled"
	}

	eventDate := s.now()
	if published != nil {
		eventDate = published.UTC()
	}

	data := model.AdditionalData{"score": score}
	if item.GUID != "" {
		data[model.DataGUID] = item.GUID
	}
	if id, ok := extractItemID(item.GUID, item.Link, content); ok {
		data[model.DataItemID] = id
	}

	return model.Update{
		SourceType:     model.SourceFeed,
		SourceID:       s.repo.ID,
		EventType:      eventType(s.feed, title),
		Title:          title,
		Description:    content,
		URL:            item.Link,
		Author:         itemAuthor(item),
		EventDate:      eventDate,
		AdditionalData: data,
	}, true
}

func itemDate(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return "anonymous"
}

// eventType classifies an entry by the feed it came from and, for the ask
// and show feeds, by its title prefix.
func eventType(t Type, title string) model.EventType {
	switch t {
	case Jobs:
		return model.EventJobPosting
	case Polls:
		return model.EventPoll
	case Ask:
		if strings.HasPrefix(title, "Ask HN:") {
			return model.EventQuestion
		}
	case Show:
		if strings.HasPrefix(title, "Show HN:") {
			return model.EventProject
		}
	}
	return model.EventStory
}

var (
	scorePatterns = []*regexp.Regexp{
		regexp.MustCompile(`Points:\s*(\d+)`),
		regexp.MustCompile(`(\d+)\s+points`),
	}
	itemIDPattern = regexp.MustCompile(`news\.ycombinator\.com/item\?id=(\d+)`)
)

func extractScore(content string) (int, bool) {
	for _, re := range scorePatterns {
		if m := re.FindStringSubmatch(content); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func extractItemID(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if m := itemIDPattern.FindStringSubmatch(c); m != nil {
			return m[1], true
		}
	}
	return "", false
}
