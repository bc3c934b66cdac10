package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Blog collects posts from the analyst's blog feed (RSS or Atom).
type Blog struct {
	client   *http.Client
	parser   *gofeed.Parser
	feedURL  string
	lookback time.Duration
	filter   *SymbolFilter
}

// NewBlog creates a blog collector for one feed URL. Entries older
// than lookback are skipped.
func NewBlog(feedURL string, lookback time.Duration, filter *SymbolFilter) *Blog {
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	return &Blog{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		feedURL:  feedURL,
		lookback: lookback,
		filter:   filter,
	}
}

func (b *Blog) Name() SourceType { return SourceKTBlog }

func (b *Blog) Collect(ctx context.Context) ([]Item, error) {
	parsed, err := fetchFeed(ctx, b.client, b.parser, b.feedURL)
	if err != nil {
		return nil, err
	}

	var items []Item
	cutoff := time.Now().UTC().Add(-b.lookback)

	for _, entry := range parsed.Items {
		published := entryPublished(entry)
		if published.Before(cutoff) {
			continue
		}

		body := entry.Content
		if body == "" {
			body = entry.Description
		}

		symbols := b.filter.Extract(entry.Title, body)
		if !b.filter.Keep(symbols) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}

		guid := entry.GUID
		if guid == "" {
			guid = link
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		items = append(items, Item{
			Source:      SourceKTBlog,
			Kind:        KindPost,
			Title:       entry.Title,
			URL:         link,
			ExternalID:  guid,
			Author:      author,
			Body:        body,
			Symbols:     symbols,
			Metadata:    Metadata{Post: &PostMetadata{FeedURL: b.feedURL, GUID: guid}},
			PublishedAt: published,
		})
	}

	return items, nil
}

// fetchFeed downloads and parses one RSS/Atom feed.
func fetchFeed(ctx context.Context, client *http.Client, parser *gofeed.Parser, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", feedURL, err)
	}
	req.Header.Set("User-Agent", "traderadar/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", feedURL, resp.StatusCode)
	}

	parsed, err := parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return parsed, nil
}

// entryPublished picks the best timestamp a feed entry offers.
func entryPublished(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC()
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC()
	}
	return time.Now().UTC()
}
