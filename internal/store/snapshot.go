// Package store holds the reconciled market snapshot: the single source of
// truth the UI layer reads. Updates arrive as field-partial deltas and are
// merged without clobbering fields the update did not carry.
package store

import (
	"sync"
	"time"

	"github.com/gloticker/ticker-extension/internal/market"
)

// Listener receives every merged record, synchronously, in merge order.
type Listener func(symbol string, data market.Data)

// Snapshot is the symbol → market.Data map plus its subscriber list.
// Merges are atomic with respect to each other and to reads.
type Snapshot struct {
	mu   sync.RWMutex
	data map[string]market.Data

	lmu       sync.Mutex
	nextID    int
	listeners map[int]Listener

	now func() time.Time
}

// NewSnapshot returns an empty store.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		data:      make(map[string]market.Data),
		listeners: make(map[int]Listener),
		now:       time.Now,
	}
}

// Seed creates default records for every registry symbol so consumers never
// observe a registered symbol as absent, even before the first sync.
func (s *Snapshot) Seed(infos []market.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range infos {
		if _, ok := s.data[in.Symbol]; ok {
			continue
		}
		s.data[in.Symbol] = market.Data{
			Symbol: in.Symbol,
			Name:   in.Name,
			Type:   in.Type,
		}
	}
}

// Hydrate bulk-loads previously cached records, keeping whatever the cache
// carried (including its LastUpdated, so staleness stays visible). Records
// whose symbol fails the known filter are skipped, so a registry edit between
// runs cannot resurrect a removed symbol; the skipped symbols are returned for
// the caller to clean out of the persistent cache.
func (s *Snapshot) Hydrate(records map[string]market.Data, known func(symbol string) bool) (dropped []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, rec := range records {
		if known != nil && !known(sym) {
			dropped = append(dropped, sym)
			continue
		}
		s.data[sym] = rec
	}
	return dropped
}

// Merge applies a partial update. Nil delta fields leave the stored value
// untouched. Price-bearing fields (price, change, changePercent, day start)
// are additionally guarded by the delta's source timestamp: an update older
// than the one that last set the price cannot roll those fields back, while
// its other fields still merge. Returns the record after the merge.
func (s *Snapshot) Merge(symbol string, d market.Delta) market.Data {
	s.mu.Lock()

	rec, ok := s.data[symbol]
	if !ok {
		rec = market.Data{Symbol: symbol}
	}

	if d.Name != nil {
		rec.Name = *d.Name
	}
	if d.Type != nil {
		rec.Type = *d.Type
	}
	if d.RegularMarketPrice != nil {
		rec.RegularMarketPrice = *d.RegularMarketPrice
	}
	if d.PreviousClose != nil {
		rec.PreviousClose = *d.PreviousClose
	}
	if d.MarketState != nil {
		rec.MarketState = *d.MarketState
	}
	if d.Rating != nil {
		rec.Rating = *d.Rating
	}

	priceStale := !d.AsOf.IsZero() && !rec.PriceAsOf.IsZero() && d.AsOf.Before(rec.PriceAsOf)
	if !priceStale {
		if d.Price != nil {
			rec.Price = *d.Price
		}
		if d.DayStartPrice != nil {
			rec.DayStartPrice = *d.DayStartPrice
		}
		if d.Change != nil {
			rec.Change = *d.Change
		}
		if d.ChangePercent != nil {
			rec.ChangePercent = *d.ChangePercent
		}
		if d.ChangePercentOK != nil {
			rec.ChangePercentOK = *d.ChangePercentOK
		}
		if d.Price != nil && !d.AsOf.IsZero() {
			rec.PriceAsOf = d.AsOf
		}
	}

	// LastUpdated is monotonically non-decreasing per symbol.
	if now := s.now(); now.After(rec.LastUpdated) {
		rec.LastUpdated = now
	}

	s.data[symbol] = rec
	s.mu.Unlock()

	s.notify(symbol, rec)
	return rec
}

// Get returns one record.
func (s *Snapshot) Get(symbol string) (market.Data, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[symbol]
	return rec, ok
}

// GetAll returns an independently mutable copy of the full snapshot, so a
// consumer iterating it is never affected by a concurrent merge.
func (s *Snapshot) GetAll() map[string]market.Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]market.Data, len(s.data))
	for sym, rec := range s.data {
		out[sym] = rec
	}
	return out
}

// Subscribe registers a merge listener and returns its unsubscribe handle.
func (s *Snapshot) Subscribe(fn Listener) (unsubscribe func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Snapshot) notify(symbol string, rec market.Data) {
	s.lmu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(symbol, rec)
	}
}
