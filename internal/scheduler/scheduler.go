// Package scheduler owns all upstream I/O: the REST poll loop, the crypto
// trade stream, per-minute session re-evaluation, and the daily sentiment
// refresh. Nothing runs unless at least one consumer is attached.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/gloticker/ticker-extension/internal/cache"
	"github.com/gloticker/ticker-extension/internal/feed"
	"github.com/gloticker/ticker-extension/internal/kv"
	"github.com/gloticker/ticker-extension/internal/market"
	"github.com/gloticker/ticker-extension/internal/metrics"
	"github.com/gloticker/ticker-extension/internal/store"
)

// State is the scheduler lifecycle phase.
type State int32

const (
	// StateIdle means the scheduler has never been started.
	StateIdle State = iota
	// StateStarting covers the initial full fetch after activation.
	StateStarting
	// StateActive means timers and the stream are running.
	StateActive
	// StateSuspended means the last consumer detached and all upstream
	// activity has been stopped.
	StateSuspended
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultSessionInterval = time.Minute

	// symbolKeyPrefix is where per-symbol records land in the kv store;
	// change subscribers (SSE) key off this prefix.
	symbolKeyPrefix = "market."
)

// Config wires the scheduler's collaborators. REST, Sentiment, and Stream may
// each be nil when the registry holds no symbols for that adapter.
type Config struct {
	Registry  *market.Registry
	Store     *store.Snapshot
	Cache     *cache.Manager
	KV        kv.Store
	REST      feed.RESTSource
	Sentiment feed.RESTSource
	Stream    feed.Stream
	Metrics   *metrics.Metrics
	Log       *logrus.Logger

	PollInterval    time.Duration
	SessionInterval time.Duration
	// InitialTimeout bounds the first full fetch after activation so a hung
	// upstream can never wedge the starting phase.
	InitialTimeout time.Duration

	Now func() time.Time
}

// Scheduler gates synchronization on consumer demand: the first Start
// activates the loops, the last Stop suspends them. A symbol-set reload
// bumps a generation counter so merges from the outgoing run are dropped.
type Scheduler struct {
	cfg Config

	mu        sync.Mutex
	reg       *market.Registry
	state     State
	consumers int
	cancel    context.CancelFunc

	// lastSentimentDate survives suspend/resume so re-attaching within the
	// same exchange-local day does not refetch the slow-moving indices.
	lastSentimentDate string

	generation atomic.Uint64
	pollBusy   atomic.Bool
	wg         sync.WaitGroup
}

// New builds a scheduler in the idle state. Zero intervals select defaults.
func New(cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SessionInterval <= 0 {
		cfg.SessionInterval = DefaultSessionInterval
	}
	if cfg.InitialTimeout <= 0 {
		cfg.InitialTimeout = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
	}
	return &Scheduler{cfg: cfg, reg: cfg.Registry, state: StateIdle}
}

// State returns the current lifecycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Consumers returns the attached consumer count.
func (s *Scheduler) Consumers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers
}

// Start attaches a consumer. The first consumer activates the sync loops;
// further consumers only bump the count.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers++
	if s.consumers > 1 {
		return
	}
	s.activateLocked()
}

// Stop detaches a consumer. When the count reaches zero the stream is closed,
// timers stop, and in-flight merges are invalidated.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumers == 0 {
		return
	}
	s.consumers--
	if s.consumers > 0 {
		return
	}
	s.suspendLocked()
}

// Reload swaps the symbol set. In-flight fetches from the old set keep
// running until their context cancels, but their merges are dropped; an
// active scheduler restarts its loops against the new registry immediately.
func (s *Scheduler) Reload(reg *market.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg = reg
	s.cfg.Store.Seed(registryInfos(reg))
	if s.state != StateActive && s.state != StateStarting {
		s.generation.Add(1)
		return
	}
	s.suspendLocked()
	s.activateLocked()
}

// Close force-suspends regardless of consumer count and waits for the run
// goroutines to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.consumers = 0
	s.suspendLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) activateLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateStarting
	gen := s.generation.Add(1)
	reg := s.reg

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, gen, reg)
	}()
}

func (s *Scheduler) suspendLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation.Add(1)
	if s.state != StateIdle {
		s.state = StateSuspended
	}
}

func (s *Scheduler) setState(from, to State) {
	s.mu.Lock()
	if s.state == from {
		s.state = to
	}
	s.mu.Unlock()
}

func (s *Scheduler) current(gen uint64) bool {
	return gen == s.generation.Load()
}

// run is one activation: initial fetch, then timers until ctx cancels.
func (s *Scheduler) run(ctx context.Context, gen uint64, reg *market.Registry) {
	ictx, icancel := context.WithTimeout(ctx, s.cfg.InitialTimeout)
	s.pollCycle(ictx, gen, reg)
	s.maybeRefreshSentiment(ictx, gen, reg)
	icancel()
	if ctx.Err() != nil {
		return
	}
	s.setState(StateStarting, StateActive)

	s.startStream(ctx, gen, reg)

	cr := s.startSentimentCron(ctx, gen, reg)
	if cr != nil {
		defer cr.Stop()
	}

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	sessions := time.NewTicker(s.cfg.SessionInterval)
	defer sessions.Stop()

	lastSession := s.observeSessions(reg)

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			s.pollCycle(ctx, gen, reg)
		case <-sessions.C:
			if s.reevalSessions(ctx, gen, reg, lastSession) {
				// A session boundary changes the baseline rules, so
				// re-resolve immediately instead of waiting out the tick.
				s.pollCycle(ctx, gen, reg)
			}
		}
	}
}

// pollCycle fetches every REST symbol once and persists the full snapshot.
// A cycle still in flight suppresses the next tick entirely.
func (s *Scheduler) pollCycle(ctx context.Context, gen uint64, reg *market.Registry) {
	if s.cfg.REST == nil {
		return
	}
	if !s.pollBusy.CompareAndSwap(false, true) {
		return
	}
	defer s.pollBusy.Store(false)

	s.cfg.Metrics.IncPoll()
	for _, sym := range reg.SymbolsFor(market.AdapterREST) {
		if ctx.Err() != nil {
			return
		}
		info, ok := reg.Lookup(sym)
		if !ok {
			continue
		}
		q, err := s.cfg.REST.FetchOne(ctx, sym)
		if err != nil {
			// Keep the prior record; one bad symbol never aborts the cycle.
			s.cfg.Metrics.IncPollError()
			s.cfg.Log.Warnf("poll %s: %v", sym, err)
			continue
		}
		s.applyQuote(ctx, gen, info, q)
	}

	if !s.current(gen) || ctx.Err() != nil {
		return
	}
	if err := s.cfg.Cache.WriteSnapshot(ctx, s.cfg.Store.GetAll()); err != nil {
		s.cfg.Log.Warnf("cache snapshot: %v", err)
	}
}

// maybeRefreshSentiment fetches the sentiment symbols at most once per
// exchange-local calendar date.
func (s *Scheduler) maybeRefreshSentiment(ctx context.Context, gen uint64, reg *market.Registry) {
	if s.cfg.Sentiment == nil {
		return
	}
	syms := reg.SymbolsFor(market.AdapterSentiment)
	if len(syms) == 0 {
		return
	}
	today := s.sentimentDate()

	s.mu.Lock()
	skip := s.lastSentimentDate == today
	s.mu.Unlock()
	if skip {
		return
	}

	failed := false
	for _, sym := range syms {
		info, ok := reg.Lookup(sym)
		if !ok {
			continue
		}
		q, err := s.cfg.Sentiment.FetchOne(ctx, sym)
		if err != nil {
			failed = true
			s.cfg.Log.Warnf("sentiment %s: %v", sym, err)
			continue
		}
		s.applyQuote(ctx, gen, info, q)
	}
	if failed {
		// Leave the date unset so the next activation or cron fire retries.
		return
	}
	s.mu.Lock()
	s.lastSentimentDate = today
	s.mu.Unlock()
}

func (s *Scheduler) sentimentDate() string {
	loc := time.UTC
	if cal, err := market.CalendarByName(market.CalendarUS); err == nil {
		if l, err := cal.Location(); err == nil {
			loc = l
		}
	}
	return s.cfg.Now().In(loc).Format("2006-01-02")
}

// startSentimentCron schedules the daily refresh shortly after the exchange-
// local midnight rollover.
func (s *Scheduler) startSentimentCron(ctx context.Context, gen uint64, reg *market.Registry) *cron.Cron {
	if s.cfg.Sentiment == nil || len(reg.SymbolsFor(market.AdapterSentiment)) == 0 {
		return nil
	}
	loc := time.UTC
	if cal, err := market.CalendarByName(market.CalendarUS); err == nil {
		if l, err := cal.Location(); err == nil {
			loc = l
		}
	}
	cr := cron.New(cron.WithLocation(loc))
	_, err := cr.AddFunc("5 0 * * *", func() {
		if ctx.Err() != nil || !s.current(gen) {
			return
		}
		s.maybeRefreshSentiment(ctx, gen, reg)
	})
	if err != nil {
		s.cfg.Log.Errorf("sentiment cron: %v", err)
		return nil
	}
	cr.Start()
	return cr
}

// startStream launches the push connection for the stream-adapter symbols.
// Budget exhaustion leaves the stream down until the next activation.
func (s *Scheduler) startStream(ctx context.Context, gen uint64, reg *market.Registry) {
	if s.cfg.Stream == nil {
		return
	}
	symbols := reg.SymbolsFor(market.AdapterStream)
	if len(symbols) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.cfg.Stream.Run(ctx, symbols, func(t market.StreamTrade) {
			s.applyTrade(ctx, gen, reg, t)
		})
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, feed.ErrReconnectBudgetExhausted):
			s.cfg.Log.Errorf("stream down until next activation: %v", err)
		default:
			s.cfg.Log.Errorf("stream: %v", err)
		}
	}()
}

// observeSessions records the current session per calendar-bound symbol, the
// baseline the per-minute re-evaluation diffs against.
func (s *Scheduler) observeSessions(reg *market.Registry) map[string]market.Session {
	now := s.cfg.Now()
	out := make(map[string]market.Session)
	for _, sym := range reg.Symbols() {
		info, ok := reg.Lookup(sym)
		if !ok || info.Calendar == "" {
			continue
		}
		out[sym] = market.ClassifySymbol(info, now)
	}
	return out
}

// reevalSessions merges MarketState for every symbol whose session flipped
// since the last tick and reports whether anything changed.
func (s *Scheduler) reevalSessions(ctx context.Context, gen uint64, reg *market.Registry, last map[string]market.Session) bool {
	now := s.cfg.Now()
	changed := false
	for _, sym := range reg.Symbols() {
		info, ok := reg.Lookup(sym)
		if !ok || info.Calendar == "" {
			continue
		}
		sess := market.ClassifySymbol(info, now)
		prev, seen := last[sym]
		last[sym] = sess
		if seen && prev == sess {
			continue
		}
		if !seen {
			continue
		}
		changed = true
		if !s.current(gen) {
			continue
		}
		st := sess
		rec := s.cfg.Store.Merge(sym, market.Delta{MarketState: &st})
		s.cfg.Log.Infof("session %s: %s -> %s", sym, prev, sess)
		s.publish(ctx, sym, rec)
	}
	return changed
}

// applyQuote resolves one fetched quote against the current record and merges
// the resulting delta, unless the symbol set changed underneath the fetch.
func (s *Scheduler) applyQuote(ctx context.Context, gen uint64, info market.Info, q market.Quote) {
	now := s.cfg.Now()
	state := market.ClassifySymbol(info, now)
	prev, _ := s.cfg.Store.Get(info.Symbol)
	d, err := market.Resolve(info, q, state, prev, now)
	if err != nil {
		s.cfg.Log.Warnf("resolve %s: %v", info.Symbol, err)
		return
	}
	if !s.current(gen) {
		return
	}
	rec := s.cfg.Store.Merge(info.Symbol, d)
	s.cfg.Metrics.IncMerge()
	s.publish(ctx, info.Symbol, rec)
}

// applyTrade handles one stream tick: resolve against the day-start baseline,
// merge, and fold the fresh record into the cached snapshot in place.
func (s *Scheduler) applyTrade(ctx context.Context, gen uint64, reg *market.Registry, t market.StreamTrade) {
	info, ok := reg.Lookup(t.Symbol)
	if !ok || info.Adapter != market.AdapterStream {
		return
	}
	now := s.cfg.Now()
	prev, _ := s.cfg.Store.Get(t.Symbol)
	d, err := market.Resolve(info, t, market.SessionNone, prev, now)
	if err != nil {
		s.cfg.Log.Warnf("resolve %s: %v", t.Symbol, err)
		return
	}
	if !s.current(gen) {
		return
	}
	rec := s.cfg.Store.Merge(t.Symbol, d)
	s.cfg.Metrics.IncMerge()
	s.publish(ctx, t.Symbol, rec)
	if err := s.cfg.Cache.MergeDelta(ctx, t.Symbol, rec); err != nil {
		s.cfg.Log.Debugf("cache delta %s: %v", t.Symbol, err)
	}
}

// publish writes the merged record to its per-symbol kv key; change
// subscribers fan it out from there.
func (s *Scheduler) publish(ctx context.Context, symbol string, rec market.Data) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cfg.KV.Set(ctx, symbolKeyPrefix+symbol, b); err != nil {
		s.cfg.Log.Debugf("kv %s: %v", symbol, err)
	}
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
