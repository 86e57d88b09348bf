// Package feed contains the quote source adapters. Adapters only normalize
// provider payloads into market.Quote values; they never touch the snapshot
// store and never initiate I/O on their own timer — the scheduler drives
// them.
package feed

import (
	"context"
	"fmt"

	"github.com/gloticker/ticker-extension/internal/market"
)

// Failure is the typed "no update this cycle" result of a fetch. Callers log
// it and keep the prior record; it never stops the scheduler.
type Failure struct {
	Source string
	Symbol string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s fetch %s: %v", f.Source, f.Symbol, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// RESTSource is a request/response adapter polled by the scheduler.
type RESTSource interface {
	FetchOne(ctx context.Context, symbol string) (market.Quote, error)
}

// ChartSource fetches a symbol's intraday series.
type ChartSource interface {
	FetchChart(ctx context.Context, symbol string) ([]market.HistoricalPoint, error)
}

// TradeHandler consumes one normalized stream tick.
type TradeHandler func(market.StreamTrade)

// Stream is a push connection the scheduler owns the lifecycle of. Run
// subscribes to the given symbols at connect time and emits one trade per
// inbound ticker message. It blocks until ctx is cancelled or the reconnect
// budget is exhausted; a fresh Run call starts with a reset attempt counter.
type Stream interface {
	Run(ctx context.Context, symbols []string, emit TradeHandler) error
}
