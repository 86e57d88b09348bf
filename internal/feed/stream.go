package feed

import (
	"context"
	"errors"
	"strings"
	"time"

	massivews "github.com/massive-com/client-go/v2/websocket"
	"github.com/massive-com/client-go/v2/websocket/models"
	"github.com/sirupsen/logrus"

	"github.com/gloticker/ticker-extension/internal/market"
	"github.com/gloticker/ticker-extension/internal/metrics"
)

// ErrReconnectBudgetExhausted is returned once the stream has failed its
// configured number of consecutive reconnects; no further automatic attempts
// happen until the scheduler restarts the stream.
var ErrReconnectBudgetExhausted = errors.New("stream reconnect budget exhausted")

// MassiveStreamConfig configures the crypto ticker stream.
type MassiveStreamConfig struct {
	APIKey      string
	FeedURL     string // optional base feed override
	MaxAttempts int    // consecutive failed (re)connects before giving up
	Log         *logrus.Logger
	Metrics     *metrics.Metrics
}

// streamClient is the slice of the websocket client the stream loop drives.
type streamClient interface {
	Subscribe(topic massivews.Topic, tickers ...string) error
	Connect() error
	Close()
	Error() <-chan error
	Output() <-chan any
}

// MassiveStream subscribes to crypto trades over the Massive websocket and
// emits one normalized StreamTrade per ticker message. The underlying client
// auto-reconnects; we only recreate it on fatal errors, with exponential
// backoff bounded by MaxAttempts.
type MassiveStream struct {
	cfg MassiveStreamConfig

	dial    func(massivews.Config) (streamClient, error)
	backoff func(attempt int) time.Duration
}

func NewMassiveStream(cfg MassiveStreamConfig) *MassiveStream {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &MassiveStream{
		cfg: cfg,
		dial: func(c massivews.Config) (streamClient, error) {
			return massivews.New(c)
		},
		backoff: reconnectBackoff,
	}
}

// reconnectBackoff doubles per consecutive failure, capped at 30s.
func reconnectBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// NormalizeWSFeed accepts either a base feed host or a full /crypto URL and
// returns the base the client expects.
func NormalizeWSFeed(in string) string {
	in = strings.TrimRight(strings.TrimSpace(in), "/")
	if strings.HasSuffix(strings.ToLower(in), "/crypto") {
		in = in[:len(in)-len("/crypto")]
	}
	return in
}

// Run connects, subscribes the symbol set, and emits trades until ctx is
// cancelled or the reconnect budget runs out. Each call starts with a fresh
// attempt counter.
func (s *MassiveStream) Run(ctx context.Context, symbols []string, emit TradeHandler) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempts >= s.cfg.MaxAttempts {
			s.cfg.Metrics.StreamGaveUp()
			s.cfg.Log.Warnf("stream: giving up after %d consecutive failures", attempts)
			return ErrReconnectBudgetExhausted
		}
		if attempts > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff(attempts)):
			}
		}

		cfg := massivews.Config{
			APIKey: s.cfg.APIKey,
			Feed:   massivews.RealTime,
			Market: massivews.Crypto,
			Log:    s.cfg.Log,
			ReconnectCallback: func(err error) {
				if err != nil {
					s.cfg.Metrics.ReconnectFailed()
					return
				}
				s.cfg.Metrics.ReconnectSucceeded()
			},
		}
		if s.cfg.FeedURL != "" {
			cfg.Feed = massivews.Feed(s.cfg.FeedURL)
		}

		c, err := s.dial(cfg)
		if err != nil {
			s.cfg.Log.Errorf("stream: client init failed: %v", err)
			attempts++
			continue
		}

		// Subscribe before Connect so the client's own reconnect path
		// re-subscribes automatically.
		if err := c.Subscribe(massivews.CryptoTrades, symbols...); err != nil {
			s.cfg.Log.Errorf("stream: subscribe failed: %v", err)
			c.Close()
			attempts++
			continue
		}

		if err := c.Connect(); err != nil {
			s.cfg.Log.Errorf("stream: connect failed: %v", err)
			s.cfg.Metrics.ReconnectFailed()
			c.Close()
			attempts++
			continue
		}
		s.cfg.Log.Infof("stream: connected (symbols=%d)", len(symbols))
		attempts = 0

		done := s.pump(ctx, c, emit)
		c.Close()
		if done {
			return ctx.Err()
		}
		attempts++
	}
}

// pump drains the client until ctx cancellation (true) or a fatal
// error/closed output (false).
func (s *MassiveStream) pump(ctx context.Context, c streamClient, emit TradeHandler) bool {
	for {
		select {
		case <-ctx.Done():
			return true

		case err, ok := <-c.Error():
			if ok && err != nil {
				s.cfg.Log.Errorf("stream: fatal error: %v", err)
			}
			return false

		case out, ok := <-c.Output():
			if !ok {
				return false
			}
			switch msg := out.(type) {
			case models.CryptoTrade:
				s.cfg.Metrics.IncStreamMsg()
				emit(market.StreamTrade{
					Symbol: strings.ToUpper(msg.Pair),
					Price:  msg.Price,
					AsOf:   time.UnixMilli(msg.Timestamp),
				})
			default:
				// control/status messages, other topics: ignore
			}
		}
	}
}
