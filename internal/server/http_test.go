package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gloticker/ticker-extension/internal/cache"
	"github.com/gloticker/ticker-extension/internal/kv"
	"github.com/gloticker/ticker-extension/internal/market"
	"github.com/gloticker/ticker-extension/internal/metrics"
	"github.com/gloticker/ticker-extension/internal/scheduler"
	"github.com/gloticker/ticker-extension/internal/store"
)

type fakeCharts struct {
	calls atomic.Int64
}

func (f *fakeCharts) FetchChart(ctx context.Context, symbol string) ([]market.HistoricalPoint, error) {
	f.calls.Add(1)
	return []market.HistoricalPoint{
		{Time: time.Date(2025, 3, 5, 14, 30, 0, 0, time.UTC), Value: 189.5},
		{Time: time.Date(2025, 3, 5, 14, 35, 0, 0, time.UTC), Value: 190.1},
	}, nil
}

type env struct {
	cfg   Config
	kv    *kv.Memory
	store *store.Snapshot
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg, err := market.NewRegistry([]market.Info{
		{Symbol: "AAPL", Name: "Apple", Type: market.TypeStock, Adapter: market.AdapterREST, Calendar: market.CalendarUS},
		{Symbol: "BTC-USD", Name: "Bitcoin", Type: market.TypeCrypto, Adapter: market.AdapterStream},
	})
	if err != nil {
		t.Fatal(err)
	}
	mem := kv.NewMemory()
	snap := store.NewSnapshot()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	sched := scheduler.New(scheduler.Config{
		Registry:     reg,
		Store:        snap,
		Cache:        cache.NewManager(mem, 0),
		KV:           mem,
		Log:          log,
		PollInterval: time.Hour,
	})
	t.Cleanup(sched.Close)

	return &env{
		cfg: Config{
			Registry: reg,
			Store:    snap,
			Cache:    cache.NewManager(mem, 0),
			KV:       mem,
			Sched:    sched,
			Charts:   &fakeCharts{},
			Metrics:  metrics.New(),
			Log:      log,
		},
		kv:    mem,
		store: snap,
	}
}

func TestSymbolFromKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
		ok   bool
	}{
		{"market.AAPL", "AAPL", true},
		{"market.BTC-USD", "BTC-USD", true},
		{"market.snapshot", "", false},
		{"market.snapshot.at", "", false},
		{"market.chart.AAPL", "", false},
		{"market.chart.AAPL.at", "", false},
		{"other.AAPL", "", false},
		{"market.", "", false},
	}
	for _, c := range cases {
		got, ok := symbolFromKey(c.key)
		if got != c.want || ok != c.ok {
			t.Errorf("symbolFromKey(%q) = %q, %v; want %q, %v", c.key, got, ok, c.want, c.ok)
		}
	}
}

func TestSnapshotFreshAndFallback(t *testing.T) {
	e := newEnv(t)
	hs := &httpServer{cfg: e.cfg}

	e.store.Merge("AAPL", market.Delta{Price: f64(190)})

	// No cached snapshot yet: serve the live store.
	rr := httptest.NewRecorder()
	hs.handleSnapshot(rr, httptest.NewRequest(http.MethodGet, "/v1/market/snapshot", nil))
	var got map[string]market.Data
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["AAPL"].Price != 190 {
		t.Errorf("fallback snapshot price = %v", got["AAPL"].Price)
	}

	// Cached snapshot within TTL wins over the store.
	if err := e.cfg.Cache.WriteSnapshot(context.Background(), map[string]market.Data{
		"AAPL": {Symbol: "AAPL", Price: 191},
	}); err != nil {
		t.Fatal(err)
	}
	rr = httptest.NewRecorder()
	hs.handleSnapshot(rr, httptest.NewRequest(http.MethodGet, "/v1/market/snapshot", nil))
	got = nil
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["AAPL"].Price != 191 {
		t.Errorf("cached snapshot price = %v", got["AAPL"].Price)
	}
}

func TestChartFetchesOnMissThenServesCache(t *testing.T) {
	e := newEnv(t)
	hs := &httpServer{cfg: e.cfg}
	charts := e.cfg.Charts.(*fakeCharts)

	rr := httptest.NewRecorder()
	hs.handleChart(rr, httptest.NewRequest(http.MethodGet, "/v1/market/chart?symbol=AAPL", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if charts.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d", charts.calls.Load())
	}

	// Second read inside the same session comes from cache.
	rr = httptest.NewRecorder()
	hs.handleChart(rr, httptest.NewRequest(http.MethodGet, "/v1/market/chart?symbol=AAPL", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if charts.calls.Load() != 1 {
		t.Errorf("cache hit still fetched: calls = %d", charts.calls.Load())
	}

	var series []market.HistoricalPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &series); err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 || series[1].Value != 190.1 {
		t.Errorf("series = %+v", series)
	}
}

func TestChartRejectsUnknownSymbol(t *testing.T) {
	e := newEnv(t)
	hs := &httpServer{cfg: e.cfg}

	rr := httptest.NewRecorder()
	hs.handleChart(rr, httptest.NewRequest(http.MethodGet, "/v1/market/chart?symbol=NOPE", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	hs.handleChart(rr, httptest.NewRequest(http.MethodGet, "/v1/market/chart", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestSubscribeDrivesSchedulerAndStreamsUpdates(t *testing.T) {
	e := newEnv(t)
	e.cfg.PingEvery = time.Hour
	srv := httptest.NewServer(New(e.cfg).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/market/subscribe")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	if !sc.Scan() || sc.Text() != ":connected" {
		t.Fatalf("preamble = %q", sc.Text())
	}

	waitState(t, e.cfg.Sched, scheduler.StateActive)

	rec := market.Data{Symbol: "AAPL", Price: 195}
	b, _ := json.Marshal(rec)
	if err := e.kv.Set(context.Background(), "market.AAPL", b); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			var got market.Data
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got); err != nil {
				t.Fatal(err)
			}
			if got.Symbol == "AAPL" && got.Price == 195 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("update never arrived")
		}
	}

	resp.Body.Close()
	waitState(t, e.cfg.Sched, scheduler.StateSuspended)
}

func TestHealthReportsSchedulerState(t *testing.T) {
	e := newEnv(t)
	hs := &httpServer{cfg: e.cfg}

	rr := httptest.NewRecorder()
	hs.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	sched := body["scheduler"].(map[string]any)
	if sched["state"] != "idle" {
		t.Errorf("state = %v", sched["state"])
	}
	if body["symbols"].(float64) != 2 {
		t.Errorf("symbols = %v", body["symbols"])
	}
}

func waitState(t *testing.T, s *scheduler.Scheduler, want scheduler.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("scheduler state = %v, want %v", s.State(), want)
}

func f64(v float64) *float64 { return &v }
