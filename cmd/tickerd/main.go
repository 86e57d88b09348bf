package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/gloticker/ticker-extension/internal/archive"
	"github.com/gloticker/ticker-extension/internal/cache"
	"github.com/gloticker/ticker-extension/internal/feed"
	"github.com/gloticker/ticker-extension/internal/kv"
	"github.com/gloticker/ticker-extension/internal/market"
	"github.com/gloticker/ticker-extension/internal/metrics"
	"github.com/gloticker/ticker-extension/internal/scheduler"
	"github.com/gloticker/ticker-extension/internal/server"
	"github.com/gloticker/ticker-extension/internal/store"
)

type CLIConfig struct {
	Port        int
	Registry    string
	DBPath      string
	PollSec     int
	SnapshotTTL int
	LogLevel    string
	AlwaysOn    bool

	ClickHouseEnabled bool
	CHHost            string
	CHPort            int
	CHUser            string
	CHPass            string
	CHDB              string
	CHSecure          bool
}

func main() {
	_ = godotenv.Load()

	cfg := CLIConfig{}

	flag.IntVar(&cfg.Port, "port", 8090, "HTTP port")
	flag.StringVar(&cfg.Registry, "registry", "", "Path to registry.yaml (empty: built-in symbol set)")
	flag.StringVar(&cfg.DBPath, "db", envString("TICKER_DB", "./ticker.db"), "SQLite cache path ('memory' for in-process only)")
	flag.IntVar(&cfg.PollSec, "poll-sec", envInt("POLL_SEC", 30), "REST poll interval in seconds")
	flag.IntVar(&cfg.SnapshotTTL, "snapshot-ttl-ms", envInt("SNAPSHOT_TTL_MS", 20000), "Snapshot cache TTL (ms)")
	flag.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	flag.BoolVar(&cfg.AlwaysOn, "always-on", envBool("ALWAYS_ON", false), "Sync even with no subscribers attached")

	flag.BoolVar(&cfg.ClickHouseEnabled, "clickhouse", envBool("CLICKHOUSE_ENABLED", false), "Enable ClickHouse tick archive")
	flag.StringVar(&cfg.CHHost, "ch-host", envString("CLICKHOUSE_HOST", "localhost"), "ClickHouse host")
	flag.IntVar(&cfg.CHPort, "ch-port", envInt("CLICKHOUSE_PORT", 9000), "ClickHouse native port")
	flag.StringVar(&cfg.CHUser, "ch-user", envString("CLICKHOUSE_USER", "default"), "ClickHouse user")
	flag.StringVar(&cfg.CHPass, "ch-pass", envString("CLICKHOUSE_PASS", ""), "ClickHouse password")
	flag.StringVar(&cfg.CHDB, "ch-db", envString("CLICKHOUSE_DB", "gloticker"), "ClickHouse database")
	flag.BoolVar(&cfg.CHSecure, "ch-secure", envBool("CLICKHOUSE_SECURE", false), "Use TLS to ClickHouse")

	flag.Parse()

	log := newLogger(cfg.LogLevel)

	reg, err := loadRegistry(cfg.Registry)
	if err != nil {
		log.Errorf("registry: %v", err)
		os.Exit(1)
	}
	log.Infof("registry loaded symbols=%d", reg.Len())

	kvStore, closeKV, err := openKV(cfg.DBPath, log)
	if err != nil {
		log.Errorf("kv open: %v", err)
		os.Exit(1)
	}
	defer closeKV()

	m := metrics.New()
	cacheMgr := cache.NewManager(kvStore, time.Duration(cfg.SnapshotTTL)*time.Millisecond)

	snap := store.NewSnapshot()
	snap.Seed(registryInfos(reg))
	if cached, _ := cacheMgr.ReadSnapshot(context.Background()); cached != nil {
		// Stale records are still worth showing; LastUpdated tells the client.
		// Symbols dropped from the registry since the cache was written are
		// skipped and their per-symbol keys cleaned out.
		dropped := snap.Hydrate(cached, func(sym string) bool {
			_, ok := reg.Lookup(sym)
			return ok
		})
		for _, sym := range dropped {
			_ = kvStore.Remove(context.Background(), "market."+sym)
		}
		log.Infof("hydrated %d cached records (dropped %d unregistered)", len(cached)-len(dropped), len(dropped))
	}

	yahoo := feed.NewYahooSource()

	var stream feed.Stream
	apiKey := os.Getenv("MASSIVE_API_KEY")
	if apiKey != "" && len(reg.SymbolsFor(market.AdapterStream)) > 0 {
		stream = feed.NewMassiveStream(feed.MassiveStreamConfig{
			APIKey:  apiKey,
			FeedURL: feed.NormalizeWSFeed(os.Getenv("MASSIVE_WS_URL")),
			Log:     log,
			Metrics: m,
		})
	} else if len(reg.SymbolsFor(market.AdapterStream)) > 0 {
		log.Warnf("MASSIVE_API_KEY not set; crypto symbols fall back to stale records")
	}

	sched := scheduler.New(scheduler.Config{
		Registry:     reg,
		Store:        snap,
		Cache:        cacheMgr,
		KV:           kvStore,
		REST:         yahoo,
		Sentiment:    feed.NewSentimentSource(),
		Stream:       stream,
		Metrics:      m,
		Log:          log,
		PollInterval: time.Duration(cfg.PollSec) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var arch *archive.Archiver
	if cfg.ClickHouseEnabled {
		ctxInit, cancel := context.WithTimeout(ctx, 20*time.Second)
		arch, err = archive.New(ctxInit, archive.Config{
			Enabled: true,
			Host:    cfg.CHHost,
			Port:    cfg.CHPort,
			User:    cfg.CHUser,
			Pass:    cfg.CHPass,
			DB:      cfg.CHDB,
			Secure:  cfg.CHSecure,
		}, log)
		cancel()
		if err != nil {
			log.Errorf("clickhouse init failed (continuing without archive): %v", err)
			arch = nil
		}
	}
	if arch != nil {
		unsub := snap.Subscribe(func(_ string, rec market.Data) {
			arch.TryEnqueue(archive.RowFromData(rec))
		})
		defer unsub()
		go arch.Run(ctx)
	}

	if cfg.AlwaysOn {
		sched.Start()
	}

	httpSrv := server.New(server.Config{
		Addr:     fmt.Sprintf(":%d", cfg.Port),
		Registry: reg,
		Store:    snap,
		Cache:    cacheMgr,
		KV:       kvStore,
		Sched:    sched,
		Charts:   yahoo,
		Metrics:  m,
		Log:      log,
	})

	go func() {
		log.Infof("http listening on http://localhost:%d", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	log.Infof("shutting down...")
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shCtx)
	sched.Close()
	log.Infof("bye")
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lv, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lv = logrus.InfoLevel
	}
	log.SetLevel(lv)
	return log
}

func loadRegistry(path string) (*market.Registry, error) {
	if path == "" {
		return market.NewRegistry(market.DefaultRegistry())
	}
	return market.LoadRegistry(path)
}

func openKV(path string, log *logrus.Logger) (kv.Store, func(), error) {
	if path == "" || strings.EqualFold(path, "memory") {
		log.Infof("kv: in-memory")
		return kv.NewMemory(), func() {}, nil
	}
	s, err := kv.NewSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("kv: sqlite %s", path)
	return s, func() { _ = s.Close() }, nil
}

func registryInfos(reg *market.Registry) []market.Info {
	syms := reg.Symbols()
	out := make([]market.Info, 0, len(syms))
	for _, sym := range syms {
		if in, ok := reg.Lookup(sym); ok {
			out = append(out, in)
		}
	}
	return out
}

func envString(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}
