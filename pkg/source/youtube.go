package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// YouTube collects new uploads from the analyst's channel via the
// YouTube Data API.
type YouTube struct {
	client     *http.Client
	apiBase    string
	apiKey     string
	channelID  string
	maxResults int
	lookback   time.Duration
	filter     *SymbolFilter
}

// NewYouTube creates a channel upload collector.
func NewYouTube(apiKey, channelID string, maxResults int, lookback time.Duration, filter *SymbolFilter) *YouTube {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 20
	}
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	return &YouTube{
		client:     &http.Client{Timeout: 30 * time.Second},
		apiBase:    "https://www.googleapis.com/youtube/v3",
		apiKey:     apiKey,
		channelID:  channelID,
		maxResults: maxResults,
		lookback:   lookback,
		filter:     filter,
	}
}

func (y *YouTube) Name() SourceType { return SourceKTYouTube }

func (y *YouTube) Collect(ctx context.Context) ([]Item, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required (set YOUTUBE_API_KEY)")
	}
	if y.channelID == "" {
		return nil, fmt.Errorf("youtube: channel ID required")
	}

	items, err := y.search(ctx)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		y.enrichWithDetails(ctx, items)
	}

	return items, nil
}

func (y *YouTube) search(ctx context.Context) ([]Item, error) {
	publishedAfter := time.Now().UTC().Add(-y.lookback).Format(time.RFC3339)

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("channelId", y.channelID)
	params.Set("type", "video")
	params.Set("order", "date")
	params.Set("publishedAfter", publishedAfter)
	params.Set("maxResults", strconv.Itoa(y.maxResults))
	params.Set("key", y.apiKey)

	reqURL := y.apiBase + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create youtube search request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch youtube search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube search status %d", resp.StatusCode)
	}

	var result ytSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode youtube search: %w", err)
	}

	var items []Item
	for _, entry := range result.Items {
		videoID := entry.ID.VideoID
		if videoID == "" {
			continue
		}

		published := entry.Snippet.PublishedAt
		if published.IsZero() {
			published = time.Now().UTC()
		}

		symbols := y.filter.Extract(entry.Snippet.Title, entry.Snippet.Description)
		if !y.filter.Keep(symbols) {
			continue
		}

		items = append(items, Item{
			Source:     SourceKTYouTube,
			Kind:       KindVideo,
			Title:      entry.Snippet.Title,
			URL:        fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID),
			ExternalID: videoID,
			Author:     entry.Snippet.ChannelTitle,
			Body:       entry.Snippet.Description,
			Symbols:    symbols,
			Metadata: Metadata{Video: &VideoMetadata{
				VideoID:   videoID,
				ChannelID: entry.Snippet.ChannelID,
			}},
			PublishedAt: published,
		})
	}

	return items, nil
}

// enrichWithDetails batch-fetches durations for the found videos.
// Failures leave the duration at zero.
func (y *YouTube) enrichWithDetails(ctx context.Context, items []Item) {
	var ids []string
	idMap := make(map[string]int)
	for i, item := range items {
		ids = append(ids, item.ExternalID)
		idMap[item.ExternalID] = i
	}

	// The videos endpoint accepts up to 50 IDs per request.
	for start := 0; start < len(ids); start += 50 {
		end := start + 50
		if end > len(ids) {
			end = len(ids)
		}

		batch := ids[start:end]
		params := url.Values{}
		params.Set("part", "contentDetails")
		params.Set("id", strings.Join(batch, ","))
		params.Set("key", y.apiKey)

		reqURL := y.apiBase + "/videos?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			continue
		}

		resp, err := y.client.Do(req)
		if err != nil {
			continue
		}

		var result ytVideoResult
		json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()

		for _, video := range result.Items {
			idx, ok := idMap[video.ID]
			if !ok {
				continue
			}
			if meta := items[idx].Metadata.Video; meta != nil {
				meta.DurationSeconds = parseISODuration(video.ContentDetails.Duration)
			}
		}
	}
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration converts a YouTube PT#H#M#S duration to seconds.
func parseISODuration(s string) int {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return h*3600 + min*60 + sec
}

type ytSearchResult struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet ytSnippet `json:"snippet"`
	} `json:"items"`
}

type ytSnippet struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelTitle string    `json:"channelTitle"`
	ChannelID    string    `json:"channelId"`
	PublishedAt  time.Time `json:"publishedAt"`
}

type ytVideoResult struct {
	Items []struct {
		ID             string `json:"id"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}
