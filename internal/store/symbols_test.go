package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/confluence"
)

func f64(v float64) *float64 { return &v }

func TestSymbolLevelLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	levels := []*confluence.Level{
		{Symbol: "SPX", Source: confluence.OpinionKT, Direction: confluence.DirectionBullishReversal,
			Target: f64(5600), CreatedAt: now.Add(-48 * time.Hour)},
		{Symbol: "SPX", Source: confluence.OpinionKT, Direction: confluence.DirectionBullishBreakout,
			Target: f64(5650), Support: f64(5500), CreatedAt: now.Add(-time.Hour)},
		{Symbol: "SPX", Source: confluence.OpinionDiscord, Direction: confluence.QuadrantBuyCall,
			Strategy: "buy_call", CreatedAt: now.Add(-30 * time.Minute)},
		{Symbol: "QQQ", Source: confluence.OpinionKT, Direction: confluence.DirectionNeutral,
			CreatedAt: now},
	}
	for _, lvl := range levels {
		if err := s.InsertSymbolLevel(ctx, lvl); err != nil {
			t.Fatalf("InsertSymbolLevel: %v", err)
		}
		if lvl.ID == 0 {
			t.Fatal("InsertSymbolLevel did not fill in the ID")
		}
	}

	spx, err := s.ListSymbolLevels(ctx, "SPX", 10)
	if err != nil {
		t.Fatalf("ListSymbolLevels: %v", err)
	}
	if len(spx) != 3 {
		t.Fatalf("SPX levels = %+v", spx)
	}
	if spx[0].Source != confluence.OpinionDiscord || spx[2].Direction != confluence.DirectionBullishReversal {
		t.Errorf("levels should be newest first: %+v", spx)
	}
	if spx[1].Target == nil || *spx[1].Target != 5650 || spx[1].Invalidation != nil {
		t.Errorf("price fields = %+v", spx[1])
	}

	limited, err := s.ListSymbolLevels(ctx, "SPX", 1)
	if err != nil {
		t.Fatalf("ListSymbolLevels limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestMarkLevelsStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &confluence.Level{Symbol: "SPX", Source: confluence.OpinionKT,
		Direction: confluence.DirectionBullishReversal, CreatedAt: now.Add(-10 * 24 * time.Hour)}
	fresh := &confluence.Level{Symbol: "SPX", Source: confluence.OpinionKT,
		Direction: confluence.DirectionBullishBreakout, CreatedAt: now}
	otherSide := &confluence.Level{Symbol: "SPX", Source: confluence.OpinionDiscord,
		Direction: confluence.QuadrantBuyCall, CreatedAt: now.Add(-10 * 24 * time.Hour)}
	for _, lvl := range []*confluence.Level{old, fresh, otherSide} {
		if err := s.InsertSymbolLevel(ctx, lvl); err != nil {
			t.Fatalf("InsertSymbolLevel: %v", err)
		}
	}

	cutoff := now.Add(-7 * 24 * time.Hour)
	n, err := s.MarkLevelsStale(ctx, "SPX", confluence.OpinionKT, cutoff)
	if err != nil {
		t.Fatalf("MarkLevelsStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("marked %d levels, want 1", n)
	}

	// Repeating the sweep touches nothing.
	n, err = s.MarkLevelsStale(ctx, "SPX", confluence.OpinionKT, cutoff)
	if err != nil {
		t.Fatalf("second MarkLevelsStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep marked %d levels, want 0", n)
	}

	spx, err := s.ListSymbolLevels(ctx, "SPX", 10)
	if err != nil {
		t.Fatalf("ListSymbolLevels: %v", err)
	}
	for _, lvl := range spx {
		wantStale := lvl.ID == old.ID
		if lvl.IsStale != wantStale {
			t.Errorf("level %d stale = %v, want %v", lvl.ID, lvl.IsStale, wantStale)
		}
	}
}

func TestSymbolStateRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	got, err := s.GetSymbolState(ctx, "SPX")
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if got != nil {
		t.Fatalf("unscored symbol should yield nil, got %+v", got)
	}

	st := &confluence.SymbolState{
		Symbol:               "SPX",
		KTBias:               confluence.BiasBullish,
		KTDirection:          confluence.DirectionBullishBreakout,
		KTTarget:             f64(5650),
		KTLastUpdated:        &now,
		DiscordBias:          confluence.BiasBullish,
		DiscordQuadrant:      confluence.QuadrantBuyCall,
		DiscordStrategy:      "buy_call",
		DiscordLastUpdated:   &now,
		ConfluenceScore:      confluence.ScoreAligned,
		DirectionallyAligned: true,
		TradeSetup:           "LONG SPX | target 5650 | buy call",
		UpdatedAt:            now,
	}
	if err := s.UpsertSymbolState(ctx, st); err != nil {
		t.Fatalf("UpsertSymbolState: %v", err)
	}

	got, err = s.GetSymbolState(ctx, "SPX")
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if got == nil || got.KTBias != confluence.BiasBullish || !got.DirectionallyAligned {
		t.Fatalf("state = %+v", got)
	}
	if got.KTTarget == nil || *got.KTTarget != 5650 || got.KTSupport != nil {
		t.Errorf("prices = %+v", got)
	}

	// Upsert replaces the row in place.
	st.DiscordBias = confluence.BiasBearish
	st.ConfluenceScore = confluence.ScoreOpposed
	st.DirectionallyAligned = false
	st.TradeSetup = ""
	if err := s.UpsertSymbolState(ctx, st); err != nil {
		t.Fatalf("second UpsertSymbolState: %v", err)
	}
	got, err = s.GetSymbolState(ctx, "SPX")
	if err != nil {
		t.Fatalf("GetSymbolState: %v", err)
	}
	if got.ConfluenceScore != confluence.ScoreOpposed || got.DirectionallyAligned {
		t.Fatalf("updated state = %+v", got)
	}
}

func TestListSymbolStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, st := range []*confluence.SymbolState{
		{Symbol: "QQQ", ConfluenceScore: confluence.ScoreNeutral, UpdatedAt: now},
		{Symbol: "SPX", ConfluenceScore: confluence.ScoreAligned, UpdatedAt: now},
		{Symbol: "AAPL", ConfluenceScore: confluence.ScoreAligned, UpdatedAt: now},
	} {
		if err := s.UpsertSymbolState(ctx, st); err != nil {
			t.Fatalf("UpsertSymbolState: %v", err)
		}
	}

	states, err := s.ListSymbolStates(ctx)
	if err != nil {
		t.Fatalf("ListSymbolStates: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("states = %+v", states)
	}
	// Best score first, ties alphabetical.
	if states[0].Symbol != "AAPL" || states[1].Symbol != "SPX" || states[2].Symbol != "QQQ" {
		t.Errorf("order = [%s %s %s]", states[0].Symbol, states[1].Symbol, states[2].Symbol)
	}

	symbols, err := s.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 3 || symbols[0] != "AAPL" || symbols[2] != "SPX" {
		t.Errorf("symbols = %v", symbols)
	}
}
