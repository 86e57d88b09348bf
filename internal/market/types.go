package market

import "time"

// Session describes whether a session-bound market is currently trading.
type Session string

const (
	SessionPre     Session = "PRE"
	SessionRegular Session = "REGULAR"
	SessionPost    Session = "POST"
	SessionClosed  Session = "CLOSED"
	// SessionNone is reported for assets that trade continuously.
	SessionNone Session = ""
)

// Type is the asset class of a symbol.
type Type string

const (
	TypeIndex  Type = "INDEX"
	TypeStock  Type = "STOCK"
	TypeCrypto Type = "CRYPTO"
	TypeForex  Type = "FOREX"
)

// Adapter names which quote source owns a symbol.
type Adapter string

const (
	AdapterREST      Adapter = "rest"      // chart REST poller (equities/indices/FX)
	AdapterStream    Adapter = "stream"    // websocket crypto tickers
	AdapterSentiment Adapter = "sentiment" // score/metric endpoints (FEAR.GREED, BTC.D)
)

// Info is the static per-symbol metadata seeded from the registry.
// Never mutated after startup.
type Info struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Name     string  `yaml:"name" json:"name"`
	Type     Type    `yaml:"type" json:"type"`
	Adapter  Adapter `yaml:"adapter" json:"adapter"`
	Calendar string  `yaml:"calendar,omitempty" json:"calendar,omitempty"` // "US", "KRX", or "" for continuous
}

// Data is the reconciled per-symbol record everything downstream reads.
// Price-bearing fields are only ever set through Resolve so that change and
// changePercent always come from the same (price, baseline) pair.
type Data struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Type   Type   `json:"type"`

	Price              float64 `json:"price"`
	RegularMarketPrice float64 `json:"regular_market_price,omitempty"`
	PreviousClose      float64 `json:"previous_close,omitempty"`
	DayStartPrice      float64 `json:"day_start_price,omitempty"`

	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	// ChangePercentOK is false when the baseline was zero or missing; the
	// UI renders a neutral "no change" display instead of Inf/NaN.
	ChangePercentOK bool `json:"change_percent_ok"`

	MarketState Session `json:"market_state,omitempty"`
	// Rating is set for sentiment-index symbols instead of numeric change.
	Rating string `json:"rating,omitempty"`

	LastUpdated time.Time `json:"last_updated"`

	// PriceAsOf is the source timestamp of the last merge that set Price.
	// It exists to reject out-of-order price overwrites.
	PriceAsOf time.Time `json:"price_as_of,omitempty"`
}

// Delta is a partial update to one symbol's Data. Nil fields are left
// untouched by the merge; a stream tick carrying only price/change therefore
// never erases previousClose or name.
type Delta struct {
	Name *string
	Type *Type

	Price              *float64
	RegularMarketPrice *float64
	PreviousClose      *float64
	DayStartPrice      *float64

	Change          *float64
	ChangePercent   *float64
	ChangePercentOK *bool

	MarketState *Session
	Rating      *string

	// AsOf is the source timestamp of the underlying quote. Merges whose
	// AsOf predates the stored price timestamp keep their price-bearing
	// fields from clobbering fresher data.
	AsOf time.Time
}

// HistoricalPoint is one point of an intraday chart series.
type HistoricalPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Quote is the normalized, adapter-local record a source emits. Adapters
// produce exactly one of the concrete types below; the resolver switches on
// the concrete type rather than probing optional fields.
type Quote interface {
	QuoteSymbol() string
	QuoteAsOf() time.Time
}

// RESTQuote is a session-enriched chart/quote payload from the REST poller.
type RESTQuote struct {
	Symbol             string
	RegularMarketPrice float64
	PreviousClose      float64
	// LastIntraday is the most recent non-null intraday close, used as the
	// displayed price during PRE and POST sessions. Zero when unavailable.
	LastIntraday float64
	// UpstreamState is whatever market state the provider flagged. The
	// classifier's own determination is authoritative; this is kept for
	// logging only.
	UpstreamState string
	AsOf          time.Time
}

func (q RESTQuote) QuoteSymbol() string  { return q.Symbol }
func (q RESTQuote) QuoteAsOf() time.Time { return q.AsOf }

// StreamTrade is one inbound ticker message from the push stream.
type StreamTrade struct {
	Symbol string
	Price  float64
	AsOf   time.Time
}

func (q StreamTrade) QuoteSymbol() string  { return q.Symbol }
func (q StreamTrade) QuoteAsOf() time.Time { return q.AsOf }

// SentimentScore is a numeric 0-100 score from a sentiment index endpoint.
type SentimentScore struct {
	Symbol string
	Score  float64
	AsOf   time.Time
}

func (q SentimentScore) QuoteSymbol() string  { return q.Symbol }
func (q SentimentScore) QuoteAsOf() time.Time { return q.AsOf }

// DominanceQuote is a single market-share percentage (e.g. BTC dominance).
// It has no change baseline and no session concept.
type DominanceQuote struct {
	Symbol string
	Value  float64
	AsOf   time.Time
}

func (q DominanceQuote) QuoteSymbol() string  { return q.Symbol }
func (q DominanceQuote) QuoteAsOf() time.Time { return q.AsOf }
