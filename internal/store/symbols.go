package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/confluence"
)

// InsertSymbolLevel appends one opinion to the level log and fills in
// its ID. Rows in this table are never updated except by
// MarkLevelsStale.
func (s *SQLiteStore) InsertSymbolLevel(ctx context.Context, lvl *confluence.Level) error {
	if lvl.CreatedAt.IsZero() {
		lvl.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO symbol_levels (symbol, source, direction, target, support, invalidation, strategy, note, content_id, is_stale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, lvl.Symbol, lvl.Source, lvl.Direction, lvl.Target, lvl.Support, lvl.Invalidation,
		lvl.Strategy, lvl.Note, lvl.ContentID, lvl.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert level %s/%s: %w", lvl.Symbol, lvl.Source, err)
	}
	lvl.ID, _ = res.LastInsertId()
	return nil
}

// ListSymbolLevels returns a symbol's opinion history, newest first.
func (s *SQLiteStore) ListSymbolLevels(ctx context.Context, symbol string, limit int) ([]confluence.Level, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []confluence.Level
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM symbol_levels WHERE symbol = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list levels for %s: %w", symbol, err)
	}
	return out, nil
}

// MarkLevelsStale flags one side's opinions older than the cutoff.
// Already-flagged rows are untouched, so repeated sweeps report zero.
func (s *SQLiteStore) MarkLevelsStale(ctx context.Context, symbol string, src confluence.OpinionSource, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE symbol_levels SET is_stale = 1
		WHERE symbol = ? AND source = ? AND is_stale = 0 AND created_at <= ?
	`, symbol, src, before)
	if err != nil {
		return 0, fmt.Errorf("mark levels stale %s/%s: %w", symbol, src, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetSymbolState loads one symbol's combined state, nil when the
// symbol has never been scored.
func (s *SQLiteStore) GetSymbolState(ctx context.Context, symbol string) (*confluence.SymbolState, error) {
	var st confluence.SymbolState
	err := s.db.GetContext(ctx, &st, "SELECT * FROM symbol_states WHERE symbol = ?", symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get symbol state %s: %w", symbol, err)
	}
	return &st, nil
}

// UpsertSymbolState writes the full state row.
func (s *SQLiteStore) UpsertSymbolState(ctx context.Context, st *confluence.SymbolState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbol_states (symbol, kt_bias, kt_direction, kt_target, kt_support, kt_invalidation,
			kt_last_updated, kt_is_stale, discord_bias, discord_quadrant, discord_strategy,
			discord_last_updated, discord_is_stale, confluence_score, directionally_aligned, trade_setup, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			kt_bias = excluded.kt_bias,
			kt_direction = excluded.kt_direction,
			kt_target = excluded.kt_target,
			kt_support = excluded.kt_support,
			kt_invalidation = excluded.kt_invalidation,
			kt_last_updated = excluded.kt_last_updated,
			kt_is_stale = excluded.kt_is_stale,
			discord_bias = excluded.discord_bias,
			discord_quadrant = excluded.discord_quadrant,
			discord_strategy = excluded.discord_strategy,
			discord_last_updated = excluded.discord_last_updated,
			discord_is_stale = excluded.discord_is_stale,
			confluence_score = excluded.confluence_score,
			directionally_aligned = excluded.directionally_aligned,
			trade_setup = excluded.trade_setup,
			updated_at = excluded.updated_at
	`, st.Symbol, st.KTBias, st.KTDirection, st.KTTarget, st.KTSupport, st.KTInvalidation,
		st.KTLastUpdated, st.KTIsStale, st.DiscordBias, st.DiscordQuadrant, st.DiscordStrategy,
		st.DiscordLastUpdated, st.DiscordIsStale, st.ConfluenceScore, st.DirectionallyAligned,
		st.TradeSetup, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert symbol state %s: %w", st.Symbol, err)
	}
	return nil
}

// ListSymbolStates returns all symbol states, best score first.
func (s *SQLiteStore) ListSymbolStates(ctx context.Context) ([]confluence.SymbolState, error) {
	var out []confluence.SymbolState
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM symbol_states ORDER BY confluence_score DESC, symbol ASC")
	if err != nil {
		return nil, fmt.Errorf("list symbol states: %w", err)
	}
	return out, nil
}

// ListSymbols returns every symbol with a state row.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, "SELECT symbol FROM symbol_states ORDER BY symbol"); err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return out, nil
}
