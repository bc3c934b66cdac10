package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// maxAnalyzeRunes caps how much text is sent to the model per item.
const maxAnalyzeRunes = 32000

// Client runs the transcribe and analyze stages.
type Client struct {
	http           *http.Client
	retry          retrypolicy.RetryPolicy[*http.Response]
	transcriberURL string
	llm            anthropic.Client
	llmEnabled     bool
	model          anthropic.Model
	maxTokens      int64
	log            *logrus.Entry
}

// New builds a harvest client. With an empty AnthropicKey, Harvest
// still transcribes but returns no themes, sentiment or levels.
func New(opts Options, log *logrus.Entry) *Client {
	opts = opts.withDefaults()

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(opts.RetryBase, opts.RetryMax).
		WithJitterFactor(0.1).
		WithMaxRetries(opts.MaxRetries).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil || resp == nil {
				return true
			}
			switch resp.StatusCode {
			case http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				return true
			}
			return false
		}).
		Build()

	c := &Client{
		http:           &http.Client{Timeout: opts.Timeout},
		retry:          retry,
		transcriberURL: opts.TranscriberURL,
		maxTokens:      int64(opts.MaxTokens),
		model:          anthropic.Model(opts.Model),
		log:            log,
	}
	if opts.AnthropicKey != "" {
		c.llm = anthropic.NewClient(option.WithAPIKey(opts.AnthropicKey))
		c.llmEnabled = true
	}
	return c
}

// AnalyzeEnabled reports whether the analyze stage will run.
func (c *Client) AnalyzeEnabled() bool { return c.llmEnabled }

// Harvest transcribes the content behind contentURL and analyzes the
// transcript. Errors name the stage that failed so queue rows stay
// diagnosable.
func (c *Client) Harvest(ctx context.Context, contentURL string, meta SourceMeta) (*Result, error) {
	transcript, err := c.transcribe(ctx, contentURL)
	if err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", contentURL, err)
	}

	res := &Result{Transcript: transcript}
	if !c.llmEnabled || strings.TrimSpace(transcript) == "" {
		return res, nil
	}

	analyzed, err := c.Analyze(ctx, meta, transcript)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	analyzed.Transcript = transcript
	return analyzed, nil
}

func (c *Client) transcribe(ctx context.Context, contentURL string) (string, error) {
	if c.transcriberURL == "" {
		return "", fmt.Errorf("transcriber URL not configured")
	}

	payload, err := json.Marshal(map[string]string{"url": contentURL})
	if err != nil {
		return "", fmt.Errorf("marshal transcribe request: %w", err)
	}

	resp, err := failsafe.With(c.retry).WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.transcriberURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcriber status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcriber response: %w", err)
	}
	return out.Transcript, nil
}

// Analyze extracts themes, sentiment and symbol levels from text.
func (c *Client) Analyze(ctx context.Context, meta SourceMeta, text string) (*Result, error) {
	if !c.llmEnabled {
		return &Result{}, nil
	}

	text = truncateRunes(text, maxAnalyzeRunes)
	userContent := fmt.Sprintf("Source: %s\nTitle: %s\n\n%s", meta.Source, meta.Title, text)

	resp, err := c.llm.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: analyzeSystemPrompt(meta.Source)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userContent)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	res, err := parseAnalysis(sb.String())
	if err != nil {
		return nil, err
	}
	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			"source": meta.Source,
			"levels": len(res.Levels),
			"themes": len(res.Themes),
		}).Debug("analysis complete")
	}
	return res, nil
}

func analyzeSystemPrompt(st source.SourceType) string {
	vocabulary := `"direction" must be one of: bullish_reversal, bearish_reversal, bullish_breakout, bearish_breakdown, neutral.`
	if st == source.SourceDiscord {
		vocabulary = `"quadrant" must be one of: buy_call, sell_put, buy_put, sell_call, neutral. Include "strategy" with the trade the author suggests.`
	}
	return `You are a markets analyst assistant. Extract the actionable market view from the text.

Respond with ONLY a JSON object, no prose, in this shape:
{
  "themes": ["short theme", ...],
  "sentiment": "bullish" | "bearish" | "neutral",
  "levels": [
    {"symbol": "SPX", "direction": "...", "quadrant": "...", "target": 5600, "support": 5450, "invalidation": 5400, "strategy": "...", "note": "one sentence"}
  ]
}

Rules:
- Only include symbols the text gives an explicit view on. An empty "levels" array is valid.
- ` + vocabulary + `
- Omit price fields the text does not state. Never invent numbers.
- Keep themes to at most five short phrases.`
}

// parseAnalysis decodes the model's JSON reply, tolerating code fences
// and surrounding prose.
func parseAnalysis(raw string) (*Result, error) {
	jsonText := extractJSONObject(raw)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var res Result
	if err := json.Unmarshal([]byte(jsonText), &res); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}

	// Drop levels the engine cannot key.
	kept := res.Levels[:0]
	for _, lvl := range res.Levels {
		lvl.Symbol = strings.ToUpper(strings.TrimSpace(lvl.Symbol))
		if lvl.Symbol == "" {
			continue
		}
		kept = append(kept, lvl)
	}
	res.Levels = kept
	res.Sentiment = strings.ToLower(strings.TrimSpace(res.Sentiment))
	return &res, nil
}

// extractJSONObject pulls the outermost {...} from a reply that may be
// wrapped in markdown fences or prose.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
