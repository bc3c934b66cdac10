package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Discord collects recent messages from the configured channels of a
// trading community, using a bot token against the Discord REST API.
type Discord struct {
	client   *http.Client
	apiBase  string
	botToken string
	guildID  string
	channels []string
	limit    int
	lookback time.Duration
	filter   *SymbolFilter
}

// NewDiscord creates a channel message collector.
func NewDiscord(botToken, guildID string, channels []string, limit int, lookback time.Duration, filter *SymbolFilter) *Discord {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if lookback <= 0 {
		lookback = 48 * time.Hour
	}
	return &Discord{
		client:   &http.Client{Timeout: 30 * time.Second},
		apiBase:  "https://discord.com/api/v10",
		botToken: botToken,
		guildID:  guildID,
		channels: channels,
		limit:    limit,
		lookback: lookback,
		filter:   filter,
	}
}

func (d *Discord) Name() SourceType { return SourceDiscord }

func (d *Discord) Collect(ctx context.Context) ([]Item, error) {
	if d.botToken == "" {
		return nil, fmt.Errorf("discord: bot token required (set DISCORD_BOT_TOKEN)")
	}
	if len(d.channels) == 0 {
		return nil, fmt.Errorf("discord: no channel IDs configured")
	}

	var allItems []Item
	var errs []error
	for _, channelID := range d.channels {
		items, err := d.fetchChannel(ctx, channelID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		allItems = append(allItems, items...)
	}

	// A single dead channel should not fail the whole source.
	if len(errs) == len(d.channels) {
		return nil, errors.Join(errs...)
	}
	return allItems, nil
}

func (d *Discord) fetchChannel(ctx context.Context, channelID string) ([]Item, error) {
	reqURL := fmt.Sprintf("%s/channels/%s/messages?limit=%d", d.apiBase, channelID, d.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bot "+d.botToken)
	req.Header.Set("User-Agent", "traderadar/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch discord channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord channel %s status %d", channelID, resp.StatusCode)
	}

	var messages []discordMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode discord channel %s: %w", channelID, err)
	}

	var items []Item
	cutoff := time.Now().UTC().Add(-d.lookback)

	for _, msg := range messages {
		if msg.Author.Bot || msg.Content == "" {
			continue
		}

		published := time.Now().UTC()
		if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			published = ts.UTC()
		}
		if published.Before(cutoff) {
			continue
		}

		symbols := d.filter.Extract(msg.Content)
		if !d.filter.Keep(symbols) {
			continue
		}

		// Message permalinks need the guild ID; without it the URL
		// stays empty and dedup rides on the message ID.
		msgURL := ""
		if d.guildID != "" {
			msgURL = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", d.guildID, channelID, msg.ID)
		}

		items = append(items, Item{
			Source:     SourceDiscord,
			Kind:       KindMessage,
			Title:      firstLine(msg.Content, 120),
			URL:        msgURL,
			ExternalID: msg.ID,
			Author:     msg.Author.Username,
			Body:       msg.Content,
			Symbols:    symbols,
			Metadata: Metadata{Message: &MessageMetadata{
				MessageID: msg.ID,
				ChannelID: channelID,
				Author:    msg.Author.Username,
			}},
			PublishedAt: published,
		})
	}

	return items, nil
}

// firstLine trims a message body down to a one-line title.
func firstLine(s string, maxLen int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}

type discordMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}
