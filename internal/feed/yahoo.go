package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gloticker/ticker-extension/internal/market"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooSource polls the Yahoo Finance chart API for equities, indices, and
// FX crosses. One request per symbol per cycle; every failure comes back as
// a typed Failure the scheduler treats as "keep the prior record".
type YahooSource struct {
	BaseURL string
	Client  *http.Client
}

// NewYahooSource builds the poller with sane timeouts. The timeout stays
// well under the poll interval so cycles cannot pile up behind a hung
// request.
func NewYahooSource() *YahooSource {
	return &YahooSource{
		BaseURL: yahooBaseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// yahooChart mirrors the slice of the chart payload we consume. Close bars
// decode as nil on null entries (halts, holidays).
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				MarketState        string  `json:"marketState"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []yahooQuoteBars `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooQuoteBars struct {
	Close []*float64 `json:"close"`
}

func (y *YahooSource) fetchChart(ctx context.Context, symbol, interval, rng string) (*yahooChart, error) {
	u := fmt.Sprintf("%s/%s?interval=%s&range=%s&includePrePost=true",
		y.BaseURL, url.PathEscape(symbol), interval, rng)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := y.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("api error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return &chart, nil
}

// FetchOne returns the normalized session-enriched quote for one symbol.
func (y *YahooSource) FetchOne(ctx context.Context, symbol string) (market.Quote, error) {
	chart, err := y.fetchChart(ctx, symbol, "1m", "1d")
	if err != nil {
		return nil, &Failure{Source: "yahoo", Symbol: symbol, Err: err}
	}

	res := chart.Chart.Result[0]
	prevClose := res.Meta.PreviousClose
	if prevClose == 0 {
		prevClose = res.Meta.ChartPreviousClose
	}

	q := market.RESTQuote{
		Symbol:             symbol,
		RegularMarketPrice: res.Meta.RegularMarketPrice,
		PreviousClose:      prevClose,
		LastIntraday:       lastClose(res.Indicators.Quote),
		UpstreamState:      res.Meta.MarketState,
		AsOf:               time.Now(),
	}
	return q, nil
}

// FetchChart returns the 5-minute intraday series used by the sparkline,
// carrying the previous value forward over null bars.
func (y *YahooSource) FetchChart(ctx context.Context, symbol string) ([]market.HistoricalPoint, error) {
	chart, err := y.fetchChart(ctx, symbol, "5m", "1d")
	if err != nil {
		return nil, &Failure{Source: "yahoo", Symbol: symbol, Err: err}
	}

	res := chart.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, &Failure{Source: "yahoo", Symbol: symbol, Err: fmt.Errorf("no quote indicators")}
	}
	closes := res.Indicators.Quote[0].Close

	points := make([]market.HistoricalPoint, 0, len(res.Timestamp))
	var last float64
	for i, ts := range res.Timestamp {
		v := last
		if i < len(closes) && closes[i] != nil {
			v = *closes[i]
		}
		if v == 0 {
			continue
		}
		last = v
		points = append(points, market.HistoricalPoint{
			Time:  time.Unix(ts, 0).UTC(),
			Value: v,
		})
	}
	return points, nil
}

func lastClose(quotes []yahooQuoteBars) float64 {
	if len(quotes) == 0 {
		return 0
	}
	closes := quotes[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil && *closes[i] != 0 {
			return *closes[i]
		}
	}
	return 0
}
