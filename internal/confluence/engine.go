package confluence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/pkg/harvest"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// Store is the persistence the engine needs. GetSymbolState returns
// nil without error for an unknown symbol.
type Store interface {
	InsertSymbolLevel(ctx context.Context, lvl *Level) error
	MarkLevelsStale(ctx context.Context, symbol string, src OpinionSource, before time.Time) (int64, error)
	GetSymbolState(ctx context.Context, symbol string) (*SymbolState, error)
	UpsertSymbolState(ctx context.Context, st *SymbolState) error
	ListSymbols(ctx context.Context) ([]string, error)
}

// WaveUpdate is a new analyst opinion for one symbol.
type WaveUpdate struct {
	Symbol       string
	Direction    string
	Target       *float64
	Support      *float64
	Invalidation *float64
	Note         string
	ContentID    *int64
}

// QuadrantUpdate is a new community opinion for one symbol.
type QuadrantUpdate struct {
	Symbol    string
	Quadrant  string
	Strategy  string
	Note      string
	ContentID *int64
}

// Engine applies opinion updates and keeps symbol states consistent
// with them.
type Engine struct {
	store  Store
	maxAge time.Duration
	log    *logrus.Entry
}

// NewEngine builds a confluence engine. Opinions older than
// stalenessDays stop counting toward the score.
func NewEngine(store Store, stalenessDays int, log *logrus.Entry) *Engine {
	if stalenessDays <= 0 {
		stalenessDays = 14
	}
	return &Engine{
		store:  store,
		maxAge: time.Duration(stalenessDays) * 24 * time.Hour,
		log:    log,
	}
}

// ApplyWaveUpdate records an analyst opinion and rescores the symbol.
// The latest opinion replaces the previous one wholesale; price fields
// the new opinion omits are cleared, not carried forward.
func (e *Engine) ApplyWaveUpdate(ctx context.Context, u WaveUpdate) error {
	symbol := strings.ToUpper(strings.TrimSpace(u.Symbol))
	if symbol == "" {
		return fmt.Errorf("wave update missing symbol")
	}
	bias := BiasFromDirection(u.Direction)
	if bias == BiasNone {
		return fmt.Errorf("unknown wave direction %q for %s", u.Direction, symbol)
	}

	lvl := &Level{
		Symbol:       symbol,
		Source:       OpinionKT,
		Direction:    u.Direction,
		Target:       u.Target,
		Support:      u.Support,
		Invalidation: u.Invalidation,
		Note:         u.Note,
		ContentID:    u.ContentID,
	}
	if err := e.store.InsertSymbolLevel(ctx, lvl); err != nil {
		return fmt.Errorf("insert level for %s: %w", symbol, err)
	}

	st, err := e.loadOrNew(ctx, symbol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	st.KTBias = bias
	st.KTDirection = u.Direction
	st.KTTarget = u.Target
	st.KTSupport = u.Support
	st.KTInvalidation = u.Invalidation
	st.KTLastUpdated = &now
	st.KTIsStale = false
	e.recompute(st, now)

	if err := e.store.UpsertSymbolState(ctx, st); err != nil {
		return fmt.Errorf("save state for %s: %w", symbol, err)
	}
	e.log.WithFields(logrus.Fields{
		"symbol":    symbol,
		"direction": u.Direction,
		"score":     st.ConfluenceScore,
		"aligned":   st.DirectionallyAligned,
	}).Info("applied wave update")
	return nil
}

// ApplyQuadrantUpdate records a community opinion and rescores the
// symbol.
func (e *Engine) ApplyQuadrantUpdate(ctx context.Context, u QuadrantUpdate) error {
	symbol := strings.ToUpper(strings.TrimSpace(u.Symbol))
	if symbol == "" {
		return fmt.Errorf("quadrant update missing symbol")
	}
	bias := BiasFromQuadrant(u.Quadrant)
	if bias == BiasNone {
		return fmt.Errorf("unknown quadrant %q for %s", u.Quadrant, symbol)
	}

	lvl := &Level{
		Symbol:    symbol,
		Source:    OpinionDiscord,
		Direction: u.Quadrant,
		Strategy:  u.Strategy,
		Note:      u.Note,
		ContentID: u.ContentID,
	}
	if err := e.store.InsertSymbolLevel(ctx, lvl); err != nil {
		return fmt.Errorf("insert level for %s: %w", symbol, err)
	}

	st, err := e.loadOrNew(ctx, symbol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	st.DiscordBias = bias
	st.DiscordQuadrant = u.Quadrant
	st.DiscordStrategy = u.Strategy
	st.DiscordLastUpdated = &now
	st.DiscordIsStale = false
	e.recompute(st, now)

	if err := e.store.UpsertSymbolState(ctx, st); err != nil {
		return fmt.Errorf("save state for %s: %w", symbol, err)
	}
	e.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"quadrant": u.Quadrant,
		"score":    st.ConfluenceScore,
		"aligned":  st.DirectionallyAligned,
	}).Info("applied quadrant update")
	return nil
}

// ApplyHarvest routes extracted levels to the side matching the item's
// origin. One bad level does not block the rest.
func (e *Engine) ApplyHarvest(ctx context.Context, item *source.Item, res *harvest.Result) error {
	var errs []error
	for _, lvl := range res.Levels {
		var err error
		if item.Source == source.SourceDiscord {
			err = e.ApplyQuadrantUpdate(ctx, QuadrantUpdate{
				Symbol:    lvl.Symbol,
				Quadrant:  lvl.Quadrant,
				Strategy:  lvl.Strategy,
				Note:      lvl.Note,
				ContentID: &item.ID,
			})
		} else {
			err = e.ApplyWaveUpdate(ctx, WaveUpdate{
				Symbol:       lvl.Symbol,
				Direction:    lvl.Direction,
				Target:       lvl.Target,
				Support:      lvl.Support,
				Invalidation: lvl.Invalidation,
				Note:         lvl.Note,
				ContentID:    &item.ID,
			})
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshStaleness re-derives both staleness flags for one symbol from
// its side timestamps and rescores when anything flipped. Running it
// twice in a row changes nothing the second time.
func (e *Engine) RefreshStaleness(ctx context.Context, symbol string) (bool, error) {
	st, err := e.store.GetSymbolState(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("load state for %s: %w", symbol, err)
	}
	if st == nil {
		return false, nil
	}

	now := time.Now().UTC()
	cutoff := now.Add(-e.maxAge)
	changed := false

	ktStale := st.KTLastUpdated != nil && st.KTLastUpdated.Before(cutoff)
	if ktStale != st.KTIsStale {
		st.KTIsStale = ktStale
		changed = true
	}
	if ktStale {
		if _, err := e.store.MarkLevelsStale(ctx, symbol, OpinionKT, cutoff); err != nil {
			return changed, fmt.Errorf("mark kt levels stale for %s: %w", symbol, err)
		}
	}

	discordStale := st.DiscordLastUpdated != nil && st.DiscordLastUpdated.Before(cutoff)
	if discordStale != st.DiscordIsStale {
		st.DiscordIsStale = discordStale
		changed = true
	}
	if discordStale {
		if _, err := e.store.MarkLevelsStale(ctx, symbol, OpinionDiscord, cutoff); err != nil {
			return changed, fmt.Errorf("mark discord levels stale for %s: %w", symbol, err)
		}
	}

	if changed {
		e.recompute(st, now)
		if err := e.store.UpsertSymbolState(ctx, st); err != nil {
			return changed, fmt.Errorf("save state for %s: %w", symbol, err)
		}
		e.log.WithFields(logrus.Fields{
			"symbol":        symbol,
			"kt_stale":      st.KTIsStale,
			"discord_stale": st.DiscordIsStale,
			"score":         st.ConfluenceScore,
		}).Info("staleness changed")
	}
	return changed, nil
}

// SweepStale refreshes staleness for every known symbol. One symbol's
// failure does not stop the sweep.
func (e *Engine) SweepStale(ctx context.Context) (int, error) {
	symbols, err := e.store.ListSymbols(ctx)
	if err != nil {
		return 0, fmt.Errorf("list symbols: %w", err)
	}
	changed := 0
	var errs []error
	for _, sym := range symbols {
		ch, err := e.RefreshStaleness(ctx, sym)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ch {
			changed++
		}
	}
	return changed, errors.Join(errs...)
}

func (e *Engine) loadOrNew(ctx context.Context, symbol string) (*SymbolState, error) {
	st, err := e.store.GetSymbolState(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", symbol, err)
	}
	if st == nil {
		st = &SymbolState{Symbol: symbol}
	}
	return st, nil
}

// recompute rescores the state from its effective biases. A stale side
// counts as missing.
func (e *Engine) recompute(st *SymbolState, now time.Time) {
	kt := st.KTBias
	if st.KTIsStale {
		kt = BiasNone
	}
	discord := st.DiscordBias
	if st.DiscordIsStale {
		discord = BiasNone
	}
	st.ConfluenceScore, st.DirectionallyAligned = Score(kt, discord)
	st.TradeSetup = BuildSetup(st)
	st.UpdatedAt = now
}
