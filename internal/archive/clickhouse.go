// Package archive ships merged market records to ClickHouse for offline
// analysis. It is optional: when disabled the rest of the service never
// notices, and a slow or down ClickHouse only ever drops rows, it cannot
// stall a merge.
package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/gloticker/ticker-extension/internal/market"
)

// Row is one archived observation of a symbol.
type Row struct {
	At            time.Time
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	State         string
}

// RowFromData flattens a merged record into its archive shape.
func RowFromData(rec market.Data) Row {
	return Row{
		At:            rec.LastUpdated,
		Symbol:        rec.Symbol,
		Price:         rec.Price,
		Change:        rec.Change,
		ChangePercent: rec.ChangePercent,
		State:         string(rec.MarketState),
	}
}

type Config struct {
	Enabled bool
	Host    string
	Port    int
	User    string
	Pass    string
	DB      string
	Secure  bool

	BatchSize  int
	FlushEvery time.Duration
	BufferSize int
}

// Archiver batches rows and inserts them on a flush interval. Enqueue never
// blocks: a full buffer drops the row and bumps a counter.
type Archiver struct {
	cfg  Config
	conn clickhouse.Conn
	log  *logrus.Logger

	in      chan Row
	dropped atomic.Int64
}

func (cfg Config) options() *clickhouse.Options {
	opt := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.DB,
			Username: cfg.User,
			Password: cfg.Pass,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if cfg.Secure {
		opt.TLS = &tls.Config{}
	}
	return opt
}

// New connects, ensures the schema, and returns the archiver. A disabled
// config returns (nil, nil); callers treat a nil archiver as a no-op.
func New(ctx context.Context, cfg Config, log *logrus.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port <= 0 {
		cfg.Port = 9000
	}
	if cfg.User == "" {
		cfg.User = "default"
	}
	if cfg.DB == "" {
		cfg.DB = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10_000
	}

	conn, err := clickhouse.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	ctxDDL, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := conn.Exec(ctxDDL, "SELECT 1"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if err := ensureSchema(ctxDDL, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Infof("clickhouse archive ready addr=%s:%d db=%s", cfg.Host, cfg.Port, cfg.DB)

	return &Archiver{
		cfg:  cfg,
		conn: conn,
		log:  log,
		in:   make(chan Row, cfg.BufferSize),
	}, nil
}

func ensureSchema(ctx context.Context, conn clickhouse.Conn) error {
	ddl := `
CREATE TABLE IF NOT EXISTS market_ticks
(
  ts DateTime64(3, 'UTC'),
  symbol LowCardinality(String),
  price Float64,
  change Float64,
  change_percent Float64,
  state LowCardinality(String)
)
ENGINE = MergeTree
PARTITION BY toDate(ts)
ORDER BY (symbol, ts)
`
	if err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("clickhouse ddl: %w", err)
	}
	return nil
}

// TryEnqueue queues one row without blocking. Nil archivers accept and
// discard everything.
func (a *Archiver) TryEnqueue(r Row) bool {
	if a == nil {
		return true
	}
	select {
	case a.in <- r:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Dropped reports rows lost to a full buffer or failed inserts.
func (a *Archiver) Dropped() int64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}

// Run batches and flushes until ctx cancels, then drains best-effort. Safe to
// call on a nil archiver.
func (a *Archiver) Run(ctx context.Context) {
	if a == nil {
		return
	}
	t := time.NewTicker(a.cfg.FlushEvery)
	defer t.Stop()
	defer a.conn.Close()

	batch := make([]Row, 0, a.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case r := <-a.in:
					batch = append(batch, r)
					if len(batch) >= a.cfg.BatchSize {
						a.flush(context.Background(), batch)
						batch = batch[:0]
					}
				default:
					break drain
				}
			}
			a.flush(context.Background(), batch)
			return

		case r := <-a.in:
			batch = append(batch, r)
			if len(batch) >= a.cfg.BatchSize {
				a.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-t.C:
			if len(batch) > 0 {
				a.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush inserts one batch with bounded retry; a batch that still fails after
// the retries is dropped and counted.
func (a *Archiver) flush(ctx context.Context, buf []Row) {
	if len(buf) == 0 {
		return
	}
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.insert(ictx, buf)
		cancel()
		if err == nil {
			return
		}
		lastErr = err

		backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
		if backoff > time.Second {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			attempt = maxAttempts
		case <-time.After(backoff):
		}
	}

	a.dropped.Add(int64(len(buf)))
	a.log.Errorf("clickhouse insert failed; dropped %d rows: %v", len(buf), lastErr)
}

func (a *Archiver) insert(ctx context.Context, buf []Row) error {
	b, err := a.conn.PrepareBatch(ctx, "INSERT INTO market_ticks (ts, symbol, price, change, change_percent, state)")
	if err != nil {
		return err
	}
	for _, r := range buf {
		at := r.At
		if at.IsZero() {
			at = time.Now()
		}
		if err := b.Append(at.UTC(), r.Symbol, r.Price, r.Change, r.ChangePercent, r.State); err != nil {
			return err
		}
	}
	return b.Send()
}
