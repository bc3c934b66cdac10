// Package harvest turns collected content into analyzable text. Videos
// go through an external transcriber service first; the resulting text
// (or the item's own body for text kinds) is then run through Claude to
// pull out themes, sentiment and per-symbol levels.
package harvest

import (
	"time"

	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// SourceMeta gives the analyzer context about where a text came from.
type SourceMeta struct {
	Source     source.SourceType `json:"source"`
	Kind       source.Kind       `json:"kind"`
	Title      string            `json:"title"`
	ExternalID string            `json:"external_id"`
}

// Level is one extracted market opinion for a single symbol. Wave
// opinions carry a direction; quadrant opinions carry a quadrant and
// usually a strategy. Price fields are absent when the text named
// none.
type Level struct {
	Symbol       string   `json:"symbol"`
	Direction    string   `json:"direction,omitempty"`
	Quadrant     string   `json:"quadrant,omitempty"`
	Target       *float64 `json:"target,omitempty"`
	Support      *float64 `json:"support,omitempty"`
	Invalidation *float64 `json:"invalidation,omitempty"`
	Strategy     string   `json:"strategy,omitempty"`
	Note         string   `json:"note,omitempty"`
}

// Result is the outcome of harvesting one piece of content.
type Result struct {
	Transcript string   `json:"transcript,omitempty"`
	Themes     []string `json:"themes,omitempty"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Levels     []Level  `json:"levels,omitempty"`
}

// Options configures a Client.
type Options struct {
	// TranscriberURL is the endpoint of the transcription service.
	// Empty disables the transcribe stage.
	TranscriberURL string
	// AnthropicKey enables the analyze stage. Empty means transcripts
	// are stored without themes, sentiment or levels.
	AnthropicKey string
	Model        string
	MaxTokens    int
	MaxRetries   int
	RetryBase    time.Duration
	RetryMax     time.Duration
	Timeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-sonnet-4-20250514"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2048
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	return o
}
