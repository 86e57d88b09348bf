package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gloticker/ticker-extension/internal/market"
)

const (
	fearGreedURL = "https://production.dataviz.cnn.io/index/fearandgreed/graphdata"
	dominanceURL = "https://api.coinmarketcap.com/data-api/v3/global-metrics/quotes/latest"
)

// SentimentSource fetches the slow-moving index-like values: the Fear &
// Greed score and BTC market dominance. The upstream publishes at most a few
// times daily, so the scheduler refreshes these on a coarse calendar-date
// cadence rather than the poll loop.
type SentimentSource struct {
	FearGreedURL string
	DominanceURL string
	Client       *http.Client
}

func NewSentimentSource() *SentimentSource {
	return &SentimentSource{
		FearGreedURL: fearGreedURL,
		DominanceURL: dominanceURL,
		Client:       &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchOne dispatches on the symbol: FEAR.GREED returns a SentimentScore,
// BTC.D a DominanceQuote.
func (s *SentimentSource) FetchOne(ctx context.Context, symbol string) (market.Quote, error) {
	switch symbol {
	case "FEAR.GREED":
		return s.fetchFearGreed(ctx)
	case "BTC.D":
		return s.fetchDominance(ctx)
	default:
		return nil, &Failure{Source: "sentiment", Symbol: symbol, Err: fmt.Errorf("not a sentiment symbol")}
	}
}

func (s *SentimentSource) fetchFearGreed(ctx context.Context) (market.Quote, error) {
	var payload struct {
		FearAndGreed struct {
			Score     float64 `json:"score"`
			Timestamp string  `json:"timestamp"`
		} `json:"fear_and_greed"`
	}
	if err := s.getJSON(ctx, s.FearGreedURL, &payload); err != nil {
		return nil, &Failure{Source: "sentiment", Symbol: "FEAR.GREED", Err: err}
	}
	if payload.FearAndGreed.Score <= 0 {
		return nil, &Failure{Source: "sentiment", Symbol: "FEAR.GREED", Err: fmt.Errorf("missing score")}
	}
	return market.SentimentScore{
		Symbol: "FEAR.GREED",
		Score:  payload.FearAndGreed.Score,
		AsOf:   time.Now(),
	}, nil
}

func (s *SentimentSource) fetchDominance(ctx context.Context) (market.Quote, error) {
	var payload struct {
		Data struct {
			BTCDominance float64 `json:"btcDominance"`
		} `json:"data"`
	}
	if err := s.getJSON(ctx, s.DominanceURL, &payload); err != nil {
		return nil, &Failure{Source: "sentiment", Symbol: "BTC.D", Err: err}
	}
	if payload.Data.BTCDominance <= 0 {
		return nil, &Failure{Source: "sentiment", Symbol: "BTC.D", Err: fmt.Errorf("missing dominance value")}
	}
	return market.DominanceQuote{
		Symbol: "BTC.D",
		Value:  payload.Data.BTCDominance,
		AsOf:   time.Now(),
	}, nil
}

func (s *SentimentSource) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
