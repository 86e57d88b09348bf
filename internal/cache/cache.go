// Package cache persists reconciled snapshots and intraday chart series in
// the kv store, with two distinct invalidation policies: a short TTL for live
// snapshots (bounding upstream request rate regardless of how many views are
// open) and market-close-boundary invalidation for chart history (bars do not
// change intra-session once written).
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gloticker/ticker-extension/internal/kv"
	"github.com/gloticker/ticker-extension/internal/market"
)

const (
	snapshotKey = "market.snapshot"
	chartPrefix = "market.chart."
	tsSuffix    = ".at"

	// DefaultSnapshotTTL bounds how long a cached snapshot satisfies reads
	// without any network access.
	DefaultSnapshotTTL = 20 * time.Second
)

// Manager mediates all cache reads/writes. Every read degrades gracefully:
// backend errors and unparseable values count as cache misses, never as
// errors propagated to the UI.
type Manager struct {
	kv  kv.Store
	ttl time.Duration
	now func() time.Time
}

// NewManager wraps a kv store with the given snapshot TTL (zero selects the
// default).
func NewManager(store kv.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Manager{kv: store, ttl: ttl, now: time.Now}
}

// WriteSnapshot persists the full snapshot and stamps the parallel timestamp
// key.
func (m *Manager) WriteSnapshot(ctx context.Context, snap map[string]market.Data) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := m.kv.Set(ctx, snapshotKey, b); err != nil {
		return err
	}
	return m.setStamp(ctx, snapshotKey+tsSuffix)
}

// ReadSnapshot returns the cached snapshot and whether it is still within
// TTL. Expired data is returned with fresh=false so a consumer can keep
// showing the last known-good records while a refetch runs; corruption and
// backend errors read as a full miss.
func (m *Manager) ReadSnapshot(ctx context.Context) (snap map[string]market.Data, fresh bool) {
	b, err := m.kv.Get(ctx, snapshotKey)
	if err != nil || b == nil {
		return nil, false
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, false
	}
	at, ok := m.stamp(ctx, snapshotKey+tsSuffix)
	if !ok {
		return snap, false
	}
	return snap, m.now().Sub(at) < m.ttl
}

// MergeDelta folds one freshly merged record into the cached snapshot in
// place, without touching the snapshot timestamp: a push delta must be
// visible to a TTL-valid read, but must not extend the snapshot's lifetime.
func (m *Manager) MergeDelta(ctx context.Context, symbol string, rec market.Data) error {
	b, err := m.kv.Get(ctx, snapshotKey)
	if err != nil {
		return err
	}
	snap := map[string]market.Data{}
	if b != nil {
		// A corrupt cached snapshot starts over from this record.
		_ = json.Unmarshal(b, &snap)
	}
	snap[symbol] = rec

	out, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.kv.Set(ctx, snapshotKey, out)
}

// WriteChart persists one symbol's intraday series with its timestamp key.
func (m *Manager) WriteChart(ctx context.Context, symbol string, series []market.HistoricalPoint) error {
	b, err := json.Marshal(series)
	if err != nil {
		return err
	}
	if err := m.kv.Set(ctx, chartPrefix+symbol, b); err != nil {
		return err
	}
	return m.setStamp(ctx, chartPrefix+symbol+tsSuffix)
}

// ReadChart returns a symbol's cached series if the owning exchange's close
// boundary has not been crossed since it was cached. cal may be nil for
// continuously-traded assets, which invalidate on UTC date change instead.
func (m *Manager) ReadChart(ctx context.Context, symbol string, cal *market.Calendar) ([]market.HistoricalPoint, bool) {
	b, err := m.kv.Get(ctx, chartPrefix+symbol)
	if err != nil || b == nil {
		return nil, false
	}
	var series []market.HistoricalPoint
	if err := json.Unmarshal(b, &series); err != nil {
		return nil, false
	}
	at, ok := m.stamp(ctx, chartPrefix+symbol+tsSuffix)
	if !ok {
		return nil, false
	}
	if !m.chartValid(at, cal) {
		return nil, false
	}
	return series, true
}

// chartValid reports whether a series cached at cachedAt is still current.
// Session-bound: stale once the cached day's close has passed AND the
// exchange-local calendar date has advanced (a post-close read later the
// same day still sees the completed day's bars; the next session's bars only
// exist from the next local date on).
func (m *Manager) chartValid(cachedAt time.Time, cal *market.Calendar) bool {
	now := m.now()
	if cal == nil {
		a, b := cachedAt.UTC(), now.UTC()
		return a.Year() == b.Year() && a.YearDay() == b.YearDay()
	}
	loc, err := cal.Location()
	if err != nil {
		return false
	}
	closeAt, err := cal.CloseAt(cachedAt)
	if err != nil {
		return false
	}
	ln, lc := now.In(loc), cachedAt.In(loc)
	sameDate := ln.Year() == lc.Year() && ln.YearDay() == lc.YearDay()
	if sameDate {
		return true
	}
	return now.Before(closeAt)
}

func (m *Manager) setStamp(ctx context.Context, key string) error {
	return m.kv.Set(ctx, key, []byte(strconv.FormatInt(m.now().UnixMilli(), 10)))
}

func (m *Manager) stamp(ctx context.Context, key string) (time.Time, bool) {
	b, err := m.kv.Get(ctx, key)
	if err != nil || b == nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
