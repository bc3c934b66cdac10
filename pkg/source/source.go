package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SourceType identifies which monitored feed an item came from.
type SourceType string

const (
	SourceKTYouTube SourceType = "kt_youtube"
	SourceKTBlog    SourceType = "kt_blog"
	SourceKTReport  SourceType = "kt_report"
	SourceDiscord   SourceType = "discord"
)

// Kind classifies the shape of a content item.
type Kind string

const (
	KindVideo   Kind = "video"
	KindPost    Kind = "post"
	KindReport  Kind = "report"
	KindMessage Kind = "message"
)

// AllSourceTypes returns all known source types.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceKTYouTube,
		SourceKTBlog,
		SourceKTReport,
		SourceDiscord,
	}
}

// KindFor maps a source type to the kind of items it yields.
func KindFor(st SourceType) Kind {
	switch st {
	case SourceKTYouTube:
		return KindVideo
	case SourceKTBlog:
		return KindPost
	case SourceKTReport:
		return KindReport
	case SourceDiscord:
		return KindMessage
	}
	return ""
}

// IsVideo reports whether a source yields transcribable video content.
func IsVideo(st SourceType) bool {
	return KindFor(st) == KindVideo
}

// Item is the standardized data model for all sources.
type Item struct {
	ID          int64      `json:"id" db:"id"`
	Source      SourceType `json:"source" db:"source"`
	Kind        Kind       `json:"kind" db:"kind"`
	Title       string     `json:"title" db:"title"`
	URL         string     `json:"url" db:"url"`
	ExternalID  string     `json:"external_id" db:"external_id"`
	ReportType  string     `json:"report_type,omitempty" db:"report_type"`
	ReportDate  string     `json:"report_date,omitempty" db:"report_date"`
	Author      string     `json:"author" db:"author"`
	Body        string     `json:"body" db:"body"`
	Transcript  string     `json:"transcript,omitempty" db:"transcript"`
	Sentiment   string     `json:"sentiment,omitempty" db:"sentiment"`
	Themes      []string   `json:"themes" db:"-"`
	Symbols     []string   `json:"symbols" db:"-"`
	Metadata    Metadata   `json:"metadata" db:"-"`
	PublishedAt time.Time  `json:"published_at" db:"published_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`

	ThemesJSON   string `json:"-" db:"themes"`
	SymbolsJSON  string `json:"-" db:"symbols"`
	MetadataJSON string `json:"-" db:"metadata"`
}

// Identity carries the deduplication keys of an item. Empty fields are
// not keys; the composite report pair counts only when both halves are
// set.
type Identity struct {
	URL        string
	ExternalID string
	ReportType string
	ReportDate string
}

// Identity returns the dedup keys present on the item.
func (it *Item) Identity() Identity {
	return Identity{
		URL:        it.URL,
		ExternalID: it.ExternalID,
		ReportType: it.ReportType,
		ReportDate: it.ReportDate,
	}
}

// Empty reports whether no key is usable for deduplication.
func (id Identity) Empty() bool {
	return id.URL == "" && id.ExternalID == "" && (id.ReportType == "" || id.ReportDate == "")
}

// Validate checks that the item is internally consistent: the kind
// matches its source and the per-kind metadata carries the identity
// fields deduplication relies on.
func (it *Item) Validate() error {
	if it.Source == "" {
		return fmt.Errorf("item missing source")
	}
	if want := KindFor(it.Source); want == "" || it.Kind != want {
		return fmt.Errorf("item kind %q does not match source %s", it.Kind, it.Source)
	}
	if strings.TrimSpace(it.Title) == "" && it.Kind != KindMessage {
		return fmt.Errorf("item missing title")
	}
	if it.Identity().Empty() {
		return fmt.Errorf("item from %s has no dedup key", it.Source)
	}
	return it.Metadata.Validate(it.Kind)
}

// Metadata carries per-kind context. Exactly one section is populated,
// matching the item's kind.
type Metadata struct {
	Video   *VideoMetadata   `json:"video,omitempty"`
	Post    *PostMetadata    `json:"post,omitempty"`
	Report  *ReportMetadata  `json:"report,omitempty"`
	Message *MessageMetadata `json:"message,omitempty"`
}

// VideoMetadata identifies a video upload.
type VideoMetadata struct {
	VideoID         string `json:"video_id"`
	ChannelID       string `json:"channel_id,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// PostMetadata identifies a feed entry.
type PostMetadata struct {
	FeedURL string `json:"feed_url,omitempty"`
	GUID    string `json:"guid"`
}

// ReportMetadata identifies one issue of a periodical report.
type ReportMetadata struct {
	ReportType string `json:"report_type"`
	ReportDate string `json:"report_date"`
}

// MessageMetadata identifies a chat message.
type MessageMetadata struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Author    string `json:"author,omitempty"`
}

// Validate checks that the section for the given kind is present with
// its identity fields set.
func (m Metadata) Validate(kind Kind) error {
	switch kind {
	case KindVideo:
		if m.Video == nil || m.Video.VideoID == "" {
			return fmt.Errorf("video item missing video_id metadata")
		}
	case KindPost:
		if m.Post == nil || m.Post.GUID == "" {
			return fmt.Errorf("post item missing guid metadata")
		}
	case KindReport:
		if m.Report == nil || m.Report.ReportType == "" || m.Report.ReportDate == "" {
			return fmt.Errorf("report item missing report_type/report_date metadata")
		}
	case KindMessage:
		if m.Message == nil || m.Message.MessageID == "" || m.Message.ChannelID == "" {
			return fmt.Errorf("message item missing message_id/channel_id metadata")
		}
	default:
		return fmt.Errorf("unknown item kind %q", kind)
	}
	return nil
}

// Source is the interface every collector must implement.
type Source interface {
	Name() SourceType
	Collect(ctx context.Context) ([]Item, error)
}
