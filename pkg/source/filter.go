package source

import (
	"regexp"
	"strings"
)

// DefaultSymbols is the watchlist used when the config names none.
var DefaultSymbols = []string{
	"SPX", "SPY", "QQQ", "NDX", "IWM", "DIA", "VIX",
	"ES", "NQ", "AAPL", "NVDA", "TSLA", "MSFT", "AMZN", "META", "GOOGL", "AMD",
}

// SymbolFilter extracts tracked ticker symbols from free text. A bare
// mention must appear uppercase on word boundaries; a $-prefixed
// mention matches in any case, so "$spx" counts but "spy" the word
// does not.
type SymbolFilter struct {
	symbols  []string
	patterns []*regexp.Regexp
	require  bool
}

// NewSymbolFilter builds a filter for the given watchlist. When
// require is set, collectors drop items that mention no tracked
// symbol.
func NewSymbolFilter(symbols []string, require bool) *SymbolFilter {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}
	f := &SymbolFilter{require: require}
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" {
			continue
		}
		quoted := regexp.QuoteMeta(sym)
		re, err := regexp.Compile(`\$(?i:` + quoted + `)\b|\b` + quoted + `\b`)
		if err != nil {
			continue
		}
		f.symbols = append(f.symbols, sym)
		f.patterns = append(f.patterns, re)
	}
	return f
}

// Require reports whether items without any tracked symbol should be
// dropped at collection time.
func (f *SymbolFilter) Require() bool {
	if f == nil {
		return false
	}
	return f.require
}

// Extract returns the tracked symbols mentioned in text, uppercase, in
// watchlist order, without duplicates.
func (f *SymbolFilter) Extract(texts ...string) []string {
	if f == nil {
		return nil
	}
	joined := strings.Join(texts, "\n")
	if joined == "" {
		return nil
	}
	var found []string
	for i, re := range f.patterns {
		if re.MatchString(joined) {
			found = append(found, f.symbols[i])
		}
	}
	return found
}

// Keep reports whether an item with the given extracted symbols passes
// the filter.
func (f *SymbolFilter) Keep(symbols []string) bool {
	if !f.Require() {
		return true
	}
	return len(symbols) > 0
}
