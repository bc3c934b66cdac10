package confluence_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/sebastian-ames3/traderadar/internal/confluence"
	"github.com/sebastian-ames3/traderadar/internal/store"
	"github.com/sebastian-ames3/traderadar/pkg/harvest"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestEngine(t *testing.T) (*confluence.Engine, *store.SQLiteStore) {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return confluence.NewEngine(db, 14, testLog()), db
}

func TestEngineWaveThenQuadrant(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()

	err := eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol:    " spx ",
		Direction: confluence.DirectionBullishBreakout,
		Target:    f64(5650),
		Support:   f64(5500),
	})
	require.NoError(t, err)

	st, err := db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.NotNil(t, st, "symbol should be uppercased and trimmed")
	require.Equal(t, confluence.BiasBullish, st.KTBias)
	require.Equal(t, confluence.ScoreMissing, st.ConfluenceScore, "one-sided symbol scores zero")
	require.False(t, st.DirectionallyAligned)
	require.Empty(t, st.TradeSetup)

	err = eng.ApplyQuadrantUpdate(ctx, confluence.QuadrantUpdate{
		Symbol:   "SPX",
		Quadrant: confluence.QuadrantBuyCall,
		Strategy: "buy_call",
	})
	require.NoError(t, err)

	st, err = db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.Equal(t, confluence.ScoreAligned, st.ConfluenceScore)
	require.True(t, st.DirectionallyAligned)
	require.Equal(t, "LONG SPX | target 5650 | support 5500 | buy call", st.TradeSetup)

	levels, err := db.ListSymbolLevels(ctx, "SPX", 10)
	require.NoError(t, err)
	require.Len(t, levels, 2, "every update appends to the level log")
}

func TestEngineOpposedSides(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol: "TSLA", Direction: confluence.DirectionBullishReversal,
	}))
	require.NoError(t, eng.ApplyQuadrantUpdate(ctx, confluence.QuadrantUpdate{
		Symbol: "TSLA", Quadrant: confluence.QuadrantBuyPut,
	}))

	st, err := db.GetSymbolState(ctx, "TSLA")
	require.NoError(t, err)
	require.Equal(t, confluence.ScoreOpposed, st.ConfluenceScore)
	require.False(t, st.DirectionallyAligned)
	require.Empty(t, st.TradeSetup)
}

func TestEngineNeutralSide(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol: "QQQ", Direction: confluence.DirectionNeutral,
	}))
	require.NoError(t, eng.ApplyQuadrantUpdate(ctx, confluence.QuadrantUpdate{
		Symbol: "QQQ", Quadrant: confluence.QuadrantBuyCall,
	}))

	st, err := db.GetSymbolState(ctx, "QQQ")
	require.NoError(t, err)
	require.Equal(t, confluence.ScoreNeutral, st.ConfluenceScore)
	require.False(t, st.DirectionallyAligned)
}

func TestEngineReplacesOpinionWholesale(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol:    "SPX",
		Direction: confluence.DirectionBullishBreakout,
		Target:    f64(5650),
		Support:   f64(5500),
	}))
	require.NoError(t, eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol:    "SPX",
		Direction: confluence.DirectionBearishBreakdown,
		Target:    f64(5300),
	}))

	st, err := db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.Equal(t, confluence.BiasBearish, st.KTBias)
	require.NotNil(t, st.KTTarget)
	require.Equal(t, 5300.0, *st.KTTarget)
	require.Nil(t, st.KTSupport, "omitted prices are cleared, not carried forward")
}

func TestEngineRejectsBadUpdates(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	require.Error(t, eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol: "", Direction: confluence.DirectionNeutral,
	}))
	require.Error(t, eng.ApplyWaveUpdate(ctx, confluence.WaveUpdate{
		Symbol: "SPX", Direction: "sideways",
	}))
	require.Error(t, eng.ApplyQuadrantUpdate(ctx, confluence.QuadrantUpdate{
		Symbol: "SPX", Quadrant: "straddle",
	}))
}

func TestEngineApplyHarvest(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()

	video := &source.Item{ID: 1, Source: source.SourceKTYouTube}
	err := eng.ApplyHarvest(ctx, video, &harvest.Result{Levels: []harvest.Level{
		{Symbol: "SPX", Direction: confluence.DirectionBullishBreakout, Target: f64(5650)},
		{Symbol: "NVDA", Direction: "nonsense"},
	}})
	require.Error(t, err, "the bad level must surface")

	st, err := db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.NotNil(t, st, "good levels still apply")
	require.Equal(t, confluence.DirectionBullishBreakout, st.KTDirection)

	message := &source.Item{ID: 2, Source: source.SourceDiscord}
	err = eng.ApplyHarvest(ctx, message, &harvest.Result{Levels: []harvest.Level{
		{Symbol: "SPX", Quadrant: confluence.QuadrantSellPut, Strategy: "sell_put"},
	}})
	require.NoError(t, err)

	st, err = db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.Equal(t, confluence.ScoreAligned, st.ConfluenceScore, "sell_put agrees with a bullish wave")

	levels, err := db.ListSymbolLevels(ctx, "SPX", 10)
	require.NoError(t, err)
	require.NotNil(t, levels[0].ContentID)
	require.Equal(t, int64(2), *levels[0].ContentID)
}

func TestEngineRefreshStaleness(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)

	// Build an aligned symbol whose analyst side has gone quiet. The
	// state is written directly so the timestamps can sit in the past.
	require.NoError(t, db.InsertSymbolLevel(ctx, &confluence.Level{
		Symbol: "SPX", Source: confluence.OpinionKT,
		Direction: confluence.DirectionBullishBreakout, CreatedAt: old,
	}))
	require.NoError(t, db.UpsertSymbolState(ctx, &confluence.SymbolState{
		Symbol:               "SPX",
		KTBias:               confluence.BiasBullish,
		KTDirection:          confluence.DirectionBullishBreakout,
		KTLastUpdated:        &old,
		DiscordBias:          confluence.BiasBullish,
		DiscordQuadrant:      confluence.QuadrantBuyCall,
		DiscordLastUpdated:   &now,
		ConfluenceScore:      confluence.ScoreAligned,
		DirectionallyAligned: true,
		TradeSetup:           "LONG SPX",
		UpdatedAt:            now,
	}))

	changed, err := eng.RefreshStaleness(ctx, "SPX")
	require.NoError(t, err)
	require.True(t, changed)

	st, err := db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.True(t, st.KTIsStale)
	require.False(t, st.DiscordIsStale)
	require.Equal(t, confluence.ScoreMissing, st.ConfluenceScore, "a stale side counts as missing")
	require.False(t, st.DirectionallyAligned)
	require.Empty(t, st.TradeSetup)

	levels, err := db.ListSymbolLevels(ctx, "SPX", 10)
	require.NoError(t, err)
	require.True(t, levels[0].IsStale, "old level rows are flagged with the side")

	// Idempotent: nothing left to flip.
	changed, err = eng.RefreshStaleness(ctx, "SPX")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = eng.RefreshStaleness(ctx, "UNKNOWN")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestEngineSweepStale(t *testing.T) {
	eng, db := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)

	require.NoError(t, db.UpsertSymbolState(ctx, &confluence.SymbolState{
		Symbol: "SPX", KTBias: confluence.BiasBullish, KTLastUpdated: &old, UpdatedAt: now,
	}))
	require.NoError(t, db.UpsertSymbolState(ctx, &confluence.SymbolState{
		Symbol: "QQQ", KTBias: confluence.BiasBullish, KTLastUpdated: &now, UpdatedAt: now,
	}))

	changed, err := eng.SweepStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	st, err := db.GetSymbolState(ctx, "SPX")
	require.NoError(t, err)
	require.True(t, st.KTIsStale)

	st, err = db.GetSymbolState(ctx, "QQQ")
	require.NoError(t, err)
	require.False(t, st.KTIsStale)
}
