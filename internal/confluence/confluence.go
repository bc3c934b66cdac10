// Package confluence maintains one state row per traded symbol,
// combining the analyst's wave opinion with the community's quadrant
// opinion into a single agreement score. Opinions themselves land in an
// append-only level log; the state row is always derivable from the
// latest non-stale entry per side.
package confluence

import (
	"strconv"
	"strings"
	"time"
)

// Bias is a side's simplified market lean.
type Bias string

const (
	BiasBullish Bias = "bullish"
	BiasBearish Bias = "bearish"
	BiasNeutral Bias = "neutral"
	// BiasNone marks a side with no usable opinion.
	BiasNone Bias = ""
)

// Wave directions the analyst side uses.
const (
	DirectionBullishReversal  = "bullish_reversal"
	DirectionBearishReversal  = "bearish_reversal"
	DirectionBullishBreakout  = "bullish_breakout"
	DirectionBearishBreakdown = "bearish_breakdown"
	DirectionNeutral          = "neutral"
)

// Quadrants the community side uses.
const (
	QuadrantBuyCall  = "buy_call"
	QuadrantSellPut  = "sell_put"
	QuadrantBuyPut   = "buy_put"
	QuadrantSellCall = "sell_call"
	QuadrantNeutral  = "neutral"
)

// OpinionSource tags which side a level row belongs to.
type OpinionSource string

const (
	OpinionKT      OpinionSource = "kt"
	OpinionDiscord OpinionSource = "discord"
)

// Agreement scores.
const (
	ScoreMissing = 0.0
	ScoreNeutral = 0.5
	ScoreAligned = 0.85
	ScoreOpposed = 0.2
)

// Level is one recorded market opinion. Rows are never updated except
// for the staleness flag.
type Level struct {
	ID           int64         `json:"id" db:"id"`
	Symbol       string        `json:"symbol" db:"symbol"`
	Source       OpinionSource `json:"source" db:"source"`
	Direction    string        `json:"direction" db:"direction"`
	Target       *float64      `json:"target,omitempty" db:"target"`
	Support      *float64      `json:"support,omitempty" db:"support"`
	Invalidation *float64      `json:"invalidation,omitempty" db:"invalidation"`
	Strategy     string        `json:"strategy,omitempty" db:"strategy"`
	Note         string        `json:"note,omitempty" db:"note"`
	ContentID    *int64        `json:"content_id,omitempty" db:"content_id"`
	IsStale      bool          `json:"is_stale" db:"is_stale"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// SymbolState is the current combined view for one symbol.
type SymbolState struct {
	Symbol               string     `json:"symbol" db:"symbol"`
	KTBias               Bias       `json:"kt_bias,omitempty" db:"kt_bias"`
	KTDirection          string     `json:"kt_direction,omitempty" db:"kt_direction"`
	KTTarget             *float64   `json:"kt_target,omitempty" db:"kt_target"`
	KTSupport            *float64   `json:"kt_support,omitempty" db:"kt_support"`
	KTInvalidation       *float64   `json:"kt_invalidation,omitempty" db:"kt_invalidation"`
	KTLastUpdated        *time.Time `json:"kt_last_updated,omitempty" db:"kt_last_updated"`
	KTIsStale            bool       `json:"kt_is_stale" db:"kt_is_stale"`
	DiscordBias          Bias       `json:"discord_bias,omitempty" db:"discord_bias"`
	DiscordQuadrant      string     `json:"discord_quadrant,omitempty" db:"discord_quadrant"`
	DiscordStrategy      string     `json:"discord_strategy,omitempty" db:"discord_strategy"`
	DiscordLastUpdated   *time.Time `json:"discord_last_updated,omitempty" db:"discord_last_updated"`
	DiscordIsStale       bool       `json:"discord_is_stale" db:"discord_is_stale"`
	ConfluenceScore      float64    `json:"confluence_score" db:"confluence_score"`
	DirectionallyAligned bool       `json:"directionally_aligned" db:"directionally_aligned"`
	TradeSetup           string     `json:"trade_setup,omitempty" db:"trade_setup"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// BiasFromDirection maps a wave direction to its lean.
func BiasFromDirection(direction string) Bias {
	switch direction {
	case DirectionBullishReversal, DirectionBullishBreakout:
		return BiasBullish
	case DirectionBearishReversal, DirectionBearishBreakdown:
		return BiasBearish
	case DirectionNeutral:
		return BiasNeutral
	}
	return BiasNone
}

// BiasFromQuadrant maps a quadrant call to its lean. Selling puts is
// bullish, selling calls is bearish.
func BiasFromQuadrant(quadrant string) Bias {
	switch quadrant {
	case QuadrantBuyCall, QuadrantSellPut:
		return BiasBullish
	case QuadrantBuyPut, QuadrantSellCall:
		return BiasBearish
	case QuadrantNeutral:
		return BiasNeutral
	}
	return BiasNone
}

// Score combines the two sides into an agreement score. The result is
// symmetric: a missing side pins the score to zero, a neutral side to
// the midpoint, and only two matching non-neutral leans count as
// aligned.
func Score(kt, discord Bias) (float64, bool) {
	if kt == BiasNone || discord == BiasNone {
		return ScoreMissing, false
	}
	if kt == BiasNeutral || discord == BiasNeutral {
		return ScoreNeutral, false
	}
	if kt == discord {
		return ScoreAligned, true
	}
	return ScoreOpposed, false
}

// BuildSetup renders the one-line trade summary for an aligned symbol.
// Unaligned symbols get an empty setup.
func BuildSetup(st *SymbolState) string {
	if !st.DirectionallyAligned {
		return ""
	}
	side := "LONG"
	if st.KTBias == BiasBearish {
		side = "SHORT"
	}
	parts := []string{side + " " + st.Symbol}
	if st.KTTarget != nil {
		parts = append(parts, "target "+formatPrice(*st.KTTarget))
	}
	if st.KTSupport != nil {
		parts = append(parts, "support "+formatPrice(*st.KTSupport))
	}
	if st.KTInvalidation != nil {
		parts = append(parts, "invalidation "+formatPrice(*st.KTInvalidation))
	}
	if st.DiscordStrategy != "" {
		parts = append(parts, strings.ReplaceAll(st.DiscordStrategy, "_", " "))
	}
	return strings.Join(parts, " | ")
}

func formatPrice(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
