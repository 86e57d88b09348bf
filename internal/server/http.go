// Package server exposes the synchronized snapshot over HTTP: JSON reads for
// the snapshot and charts, and an SSE feed whose subscribers are the
// scheduler's consumers.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gloticker/ticker-extension/internal/cache"
	"github.com/gloticker/ticker-extension/internal/feed"
	"github.com/gloticker/ticker-extension/internal/kv"
	"github.com/gloticker/ticker-extension/internal/market"
	"github.com/gloticker/ticker-extension/internal/metrics"
	"github.com/gloticker/ticker-extension/internal/scheduler"
	"github.com/gloticker/ticker-extension/internal/store"
)

type Config struct {
	Addr     string
	Registry *market.Registry
	Store    *store.Snapshot
	Cache    *cache.Manager
	KV       kv.Store
	Sched    *scheduler.Scheduler
	Charts   feed.ChartSource
	Metrics  *metrics.Metrics
	Log      *logrus.Logger

	// PingEvery is the SSE keepalive interval.
	PingEvery time.Duration
}

type httpServer struct {
	cfg Config
	srv *http.Server
}

// New builds the HTTP server. WriteTimeout stays unset: the SSE feed holds
// its response open for the life of the subscription.
func New(cfg Config) *http.Server {
	if cfg.PingEvery <= 0 {
		cfg.PingEvery = 25 * time.Second
	}
	mux := http.NewServeMux()
	hs := &httpServer{cfg: cfg}

	mux.HandleFunc("/v1/market/snapshot", hs.handleSnapshot)
	mux.HandleFunc("/v1/market/chart", hs.handleChart)
	mux.HandleFunc("/v1/market/subscribe", hs.handleSubscribe)
	mux.HandleFunc("/health", hs.handleHealth)

	hs.srv = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}
	return hs.srv
}

// handleSnapshot serves the cached snapshot while it is fresh and falls back
// to the live store otherwise. The store always answers: worst case the
// records are seeded defaults with stale LastUpdated values the client can
// judge for itself.
func (hs *httpServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if snap, fresh := hs.cfg.Cache.ReadSnapshot(r.Context()); fresh {
		hs.cfg.Metrics.CacheHit()
		writeJSON(w, snap)
		return
	}
	hs.cfg.Metrics.CacheMiss()
	writeJSON(w, hs.cfg.Store.GetAll())
}

func (hs *httpServer) handleChart(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		http.Error(w, "missing symbol", http.StatusBadRequest)
		return
	}
	info, ok := hs.cfg.Registry.Lookup(symbol)
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	var cal *market.Calendar
	if info.Calendar != "" {
		cal, _ = market.CalendarByName(info.Calendar)
	}

	if series, ok := hs.cfg.Cache.ReadChart(r.Context(), symbol, cal); ok {
		hs.cfg.Metrics.CacheHit()
		writeJSON(w, series)
		return
	}
	hs.cfg.Metrics.CacheMiss()

	if hs.cfg.Charts == nil {
		http.Error(w, "chart source unavailable", http.StatusServiceUnavailable)
		return
	}
	series, err := hs.cfg.Charts.FetchChart(r.Context(), symbol)
	if err != nil {
		hs.cfg.Log.Warnf("chart %s: %v", symbol, err)
		http.Error(w, "chart fetch failed", http.StatusBadGateway)
		return
	}
	if err := hs.cfg.Cache.WriteChart(r.Context(), symbol, series); err != nil {
		hs.cfg.Log.Debugf("chart cache %s: %v", symbol, err)
	}
	writeJSON(w, series)
}

// handleSubscribe is the SSE feed. Each subscriber counts as one scheduler
// consumer: the first connection wakes synchronization, the last disconnect
// suspends it.
func (hs *httpServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")

	hs.cfg.Sched.Start()
	defer hs.cfg.Sched.Stop()
	hs.cfg.Metrics.SSEAttach()
	defer hs.cfg.Metrics.SSEDetach()

	// Slow clients drop events rather than backing up the kv notifier; the
	// client resyncs from the snapshot endpoint.
	events := make(chan kv.Event, 64)
	unsub := hs.cfg.KV.Subscribe(func(ev kv.Event) {
		if _, ok := symbolFromKey(ev.Key); !ok {
			return
		}
		select {
		case events <- ev:
		default:
		}
	})
	defer unsub()

	fmt.Fprint(w, ":connected\n\n")

	// Current state first so the client renders without waiting for a tick.
	for _, sym := range hs.cfg.Registry.Symbols() {
		if rec, ok := hs.cfg.Store.Get(sym); ok {
			writeEvent(w, rec)
		}
	}
	fl.Flush()

	ping := time.NewTicker(hs.cfg.PingEvery)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ":ping\n\n")
			fl.Flush()
		case ev := <-events:
			var rec market.Data
			if err := json.Unmarshal(ev.NewValue, &rec); err != nil {
				continue
			}
			writeEvent(w, rec)
			fl.Flush()
		}
	}
}

func (hs *httpServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := hs.cfg.Metrics.Snapshot()
	snap["scheduler"] = map[string]any{
		"state":     hs.cfg.Sched.State().String(),
		"consumers": hs.cfg.Sched.Consumers(),
	}
	snap["symbols"] = hs.cfg.Registry.Len()
	writeJSON(w, snap)
}

// symbolFromKey maps a kv change key back to its symbol, rejecting the
// snapshot, chart, and timestamp keys that share the prefix.
func symbolFromKey(key string) (string, bool) {
	const prefix = "market."
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	if rest == "" || rest == "snapshot" || strings.HasPrefix(rest, "chart.") || strings.HasSuffix(rest, ".at") {
		return "", false
	}
	return rest, true
}

func writeEvent(w http.ResponseWriter, rec market.Data) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
