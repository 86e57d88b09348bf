package store

import (
	"reflect"
	"testing"
	"time"

	"github.com/gloticker/ticker-extension/internal/market"
)

func f(v float64) *float64                 { return &v }
func str(v string) *string                 { return &v }
func sess(v market.Session) *market.Session { return &v }

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestMergePreservesUntouchedFields(t *testing.T) {
	s := NewSnapshot()
	asOf := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)

	s.Merge("AAPL", market.Delta{
		Name:          str("Apple"),
		Price:         f(190),
		PreviousClose: f(188),
		Change:        f(2),
		AsOf:          asOf,
	})

	// A stream-style delta carrying only price and change must not erase
	// previousClose or name.
	got := s.Merge("AAPL", market.Delta{
		Price:  f(190.5),
		Change: f(2.5),
		AsOf:   asOf.Add(time.Second),
	})

	if got.PreviousClose != 188 {
		t.Errorf("previousClose clobbered: %v", got.PreviousClose)
	}
	if got.Name != "Apple" {
		t.Errorf("name clobbered: %q", got.Name)
	}
	if got.Price != 190.5 || got.Change != 2.5 {
		t.Errorf("delta fields not applied: price=%v change=%v", got.Price, got.Change)
	}
}

func TestMergeIdempotent(t *testing.T) {
	s := NewSnapshot()
	s.now = fixedClock(time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC))

	u := market.Delta{
		Name:          str("Apple"),
		Price:         f(190),
		PreviousClose: f(188),
		Change:        f(2),
		ChangePercent: f(1.0638),
		AsOf:          time.Date(2025, 3, 5, 13, 59, 0, 0, time.UTC),
	}

	once := s.Merge("AAPL", u)
	twice := s.Merge("AAPL", u)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("re-merge changed the record:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeStalePriceRejected(t *testing.T) {
	s := NewSnapshot()
	base := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)

	// Fresh stream delta lands first.
	s.Merge("BTC-USD", market.Delta{Price: f(61500), Change: f(1500), AsOf: base})

	// A REST response issued earlier arrives late: its price-bearing fields
	// must not roll back the fresher value, but the fields the stream never
	// touches still merge.
	got := s.Merge("BTC-USD", market.Delta{
		Price:         f(61000),
		Change:        f(1000),
		PreviousClose: f(60000),
		AsOf:          base.Add(-10 * time.Second),
	})

	if got.Price != 61500 {
		t.Errorf("stale price overwrote fresh one: %v", got.Price)
	}
	if got.Change != 1500 {
		t.Errorf("stale change applied: %v", got.Change)
	}
	if got.PreviousClose != 60000 {
		t.Errorf("non-price field should still merge: %v", got.PreviousClose)
	}
}

func TestMergeLastUpdatedMonotonic(t *testing.T) {
	s := NewSnapshot()
	t1 := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)

	s.now = fixedClock(t1)
	first := s.Merge("AAPL", market.Delta{Price: f(190)})

	// Even if the wall clock steps backwards, LastUpdated never decreases.
	s.now = fixedClock(t1.Add(-time.Minute))
	second := s.Merge("AAPL", market.Delta{Price: f(191), AsOf: t1.Add(time.Second)})

	if second.LastUpdated.Before(first.LastUpdated) {
		t.Errorf("LastUpdated went backwards: %s -> %s", first.LastUpdated, second.LastUpdated)
	}
}

func TestGetAllIsDefensiveCopy(t *testing.T) {
	s := NewSnapshot()
	s.Merge("AAPL", market.Delta{Price: f(190)})

	snap := s.GetAll()
	rec := snap["AAPL"]
	rec.Price = 0
	snap["AAPL"] = rec
	delete(snap, "AAPL")

	if got, _ := s.Get("AAPL"); got.Price != 190 {
		t.Errorf("store mutated through GetAll copy: %v", got.Price)
	}
}

func TestSeedCoversRegistry(t *testing.T) {
	s := NewSnapshot()
	s.Seed([]market.Info{
		{Symbol: "AAPL", Name: "Apple", Type: market.TypeStock},
		{Symbol: "BTC-USD", Name: "Bitcoin", Type: market.TypeCrypto},
	})

	all := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("seeded %d records, want 2", len(all))
	}
	if all["AAPL"].Name != "Apple" || all["AAPL"].Price != 0 {
		t.Errorf("unexpected seed record: %+v", all["AAPL"])
	}

	// Seeding again never resets a live record.
	s.Merge("AAPL", market.Delta{Price: f(190)})
	s.Seed([]market.Info{{Symbol: "AAPL", Name: "Apple", Type: market.TypeStock}})
	if got, _ := s.Get("AAPL"); got.Price != 190 {
		t.Errorf("re-seed clobbered live record: %v", got.Price)
	}
}

func TestHydrateSkipsRemovedSymbols(t *testing.T) {
	s := NewSnapshot()
	s.Seed([]market.Info{{Symbol: "AAPL", Name: "Apple", Type: market.TypeStock}})

	// The cache still carries a record for a symbol no longer registered.
	cached := map[string]market.Data{
		"AAPL":   {Symbol: "AAPL", Price: 190},
		"DOGE-X": {Symbol: "DOGE-X", Price: 0.42},
	}
	registered := map[string]bool{"AAPL": true}

	dropped := s.Hydrate(cached, func(sym string) bool { return registered[sym] })

	if len(dropped) != 1 || dropped[0] != "DOGE-X" {
		t.Errorf("dropped = %v, want [DOGE-X]", dropped)
	}
	all := s.GetAll()
	if _, ok := all["DOGE-X"]; ok {
		t.Error("removed symbol served to consumers after hydrate")
	}
	if all["AAPL"].Price != 190 {
		t.Errorf("registered record not hydrated: %+v", all["AAPL"])
	}
}

func TestSubscribeNotifiesOnMerge(t *testing.T) {
	s := NewSnapshot()

	var gotSym string
	var gotData market.Data
	unsub := s.Subscribe(func(sym string, data market.Data) {
		gotSym, gotData = sym, data
	})

	s.Merge("AAPL", market.Delta{Price: f(190), MarketState: sess(market.SessionRegular)})
	if gotSym != "AAPL" || gotData.Price != 190 {
		t.Errorf("listener saw %q %+v", gotSym, gotData)
	}

	unsub()
	gotSym = ""
	s.Merge("AAPL", market.Delta{Price: f(191)})
	if gotSym != "" {
		t.Error("listener fired after unsubscribe")
	}
}
