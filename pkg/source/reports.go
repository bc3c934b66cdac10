package source

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

var reportDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

// Reports collects the analyst's periodical reports from an index
// feed. Each entry title names the issue, e.g. "Weekly Outlook
// 2026-08-17"; the type and date parsed from it form the dedup key, so
// a re-published issue with a fresh URL is still recognized.
type Reports struct {
	client   *http.Client
	parser   *gofeed.Parser
	feedURL  string
	lookback time.Duration
	filter   *SymbolFilter
}

// NewReports creates a report index collector.
func NewReports(feedURL string, lookback time.Duration, filter *SymbolFilter) *Reports {
	if lookback <= 0 {
		lookback = 14 * 24 * time.Hour
	}
	return &Reports{
		client:   &http.Client{Timeout: 30 * time.Second},
		parser:   gofeed.NewParser(),
		feedURL:  feedURL,
		lookback: lookback,
		filter:   filter,
	}
}

func (r *Reports) Name() SourceType { return SourceKTReport }

func (r *Reports) Collect(ctx context.Context) ([]Item, error) {
	parsed, err := fetchFeed(ctx, r.client, r.parser, r.feedURL)
	if err != nil {
		return nil, err
	}

	var items []Item
	cutoff := time.Now().UTC().Add(-r.lookback)

	for _, entry := range parsed.Items {
		published := entryPublished(entry)
		if published.Before(cutoff) {
			continue
		}

		reportType, reportDate := ParseReportTitle(entry.Title)
		if reportDate == "" {
			reportDate = published.Format("2006-01-02")
		}
		if reportType == "" {
			reportType = "report"
		}

		body := entry.Content
		if body == "" {
			body = entry.Description
		}

		symbols := r.filter.Extract(entry.Title, body)
		if !r.filter.Keep(symbols) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		items = append(items, Item{
			Source:     SourceKTReport,
			Kind:       KindReport,
			Title:      entry.Title,
			URL:        link,
			ExternalID: entry.GUID,
			ReportType: reportType,
			ReportDate: reportDate,
			Author:     author,
			Body:       body,
			Symbols:    symbols,
			Metadata: Metadata{Report: &ReportMetadata{
				ReportType: reportType,
				ReportDate: reportDate,
			}},
			PublishedAt: published,
		})
	}

	return items, nil
}

// ParseReportTitle splits a report title into a type slug and an ISO
// date. "Weekly Outlook 2026-08-17" yields ("weekly_outlook",
// "2026-08-17"). A title without a date returns an empty date.
func ParseReportTitle(title string) (reportType, reportDate string) {
	if m := reportDateRe.FindString(title); m != "" {
		reportDate = m
		title = strings.Replace(title, m, "", 1)
	}
	title = strings.ToLower(strings.TrimSpace(title))
	title = strings.Trim(title, "-:|,. \t")
	var parts []string
	for _, w := range strings.Fields(title) {
		w = strings.Trim(w, "-:|,.()[]")
		if w != "" {
			parts = append(parts, w)
		}
	}
	reportType = strings.Join(parts, "_")
	return reportType, reportDate
}
