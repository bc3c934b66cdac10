package source_test

import (
	"reflect"
	"testing"

	"github.com/sebastian-ames3/traderadar/pkg/source"
)

func TestSymbolFilterExtract(t *testing.T) {
	f := source.NewSymbolFilter(nil, false)

	cases := []struct {
		name string
		text string
		want []string
	}{
		{"bare uppercase", "SPX hit 5500 today", []string{"SPX"}},
		{"dollar prefix any case", "$spx looking weak into close", []string{"SPX"}},
		{"bare lowercase ignored", "spx is not a mention", nil},
		{"no partial match", "SPLX and SPXL are different products", nil},
		{"watchlist order", "Long TSLA against NVDA strength", []string{"NVDA", "TSLA"}},
		{"duplicates collapse", "NVDA NVDA $nvda", []string{"NVDA"}},
		{"empty text", "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := f.Extract(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Extract(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestSymbolFilterExtractMultipleTexts(t *testing.T) {
	f := source.NewSymbolFilter(nil, false)

	got := f.Extract("QQQ gap fill incoming", "watching SPX levels too")
	want := []string{"SPX", "QQQ"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract across texts = %v, want %v (watchlist order)", got, want)
	}
}

func TestSymbolFilterCustomWatchlist(t *testing.T) {
	f := source.NewSymbolFilter([]string{"gme", " amc ", ""}, false)

	if got := f.Extract("GME squeeze chatter again"); !reflect.DeepEqual(got, []string{"GME"}) {
		t.Fatalf("expected custom watchlist uppercased and trimmed, got %v", got)
	}
	if got := f.Extract("SPX is not on this watchlist"); got != nil {
		t.Fatalf("expected no default symbols, got %v", got)
	}
}

func TestSymbolFilterKeep(t *testing.T) {
	loose := source.NewSymbolFilter(nil, false)
	if !loose.Keep(nil) {
		t.Fatal("non-requiring filter should keep symbol-less items")
	}

	strict := source.NewSymbolFilter(nil, true)
	if strict.Keep(nil) {
		t.Fatal("requiring filter should drop symbol-less items")
	}
	if !strict.Keep([]string{"SPX"}) {
		t.Fatal("requiring filter should keep items with symbols")
	}
}

func TestSymbolFilterNil(t *testing.T) {
	var f *source.SymbolFilter

	if got := f.Extract("SPX"); got != nil {
		t.Fatalf("nil filter Extract = %v, want nil", got)
	}
	if !f.Keep(nil) {
		t.Fatal("nil filter should keep everything")
	}
	if f.Require() {
		t.Fatal("nil filter should not require symbols")
	}
}
