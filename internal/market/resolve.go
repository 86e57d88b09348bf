package market

import (
	"fmt"
	"math"
	"time"
)

// Sentiment rating bands. Scores at or below each bound map to the label.
var ratingBands = []struct {
	upTo  float64
	label string
}{
	{25, "Extreme Fear"},
	{45, "Fear"},
	{55, "Neutral"},
	{75, "Greed"},
}

const ratingTop = "Extreme Greed"

// RatingForScore maps a 0-100 sentiment score to its categorical label.
func RatingForScore(score float64) string {
	for _, b := range ratingBands {
		if score <= b.upTo {
			return b.label
		}
	}
	return ratingTop
}

// Resolve turns a normalized quote into a partial update against the current
// record, choosing the displayed price and the baseline the change math must
// use for the symbol's session state. It never writes anywhere; the caller
// routes the returned Delta into the snapshot store.
func Resolve(info Info, q Quote, state Session, prev Data, now time.Time) (Delta, error) {
	if q.QuoteSymbol() != info.Symbol {
		return Delta{}, fmt.Errorf("resolve: quote for %q against registry entry %q", q.QuoteSymbol(), info.Symbol)
	}

	switch quote := q.(type) {
	case RESTQuote:
		return resolveREST(info, quote, state), nil
	case StreamTrade:
		return resolveTrade(quote, prev, now), nil
	case SentimentScore:
		price := quote.Score
		rating := RatingForScore(quote.Score)
		return Delta{
			Name:            strPtr(info.Name),
			Type:            typePtr(info.Type),
			Price:           f64Ptr(price),
			Change:          f64Ptr(0),
			ChangePercent:   f64Ptr(0),
			ChangePercentOK: boolPtr(false),
			Rating:          strPtr(rating),
			AsOf:            quote.AsOf,
		}, nil
	case DominanceQuote:
		return Delta{
			Name:            strPtr(info.Name),
			Type:            typePtr(info.Type),
			Price:           f64Ptr(quote.Value),
			Change:          f64Ptr(0),
			ChangePercent:   f64Ptr(0),
			ChangePercentOK: boolPtr(false),
			AsOf:            quote.AsOf,
		}, nil
	default:
		return Delta{}, fmt.Errorf("resolve: unknown quote type %T", q)
	}
}

// resolveREST applies the session-bound baseline rules. The classifier's
// session determination is authoritative; the upstream payload's flagged
// state is ignored, which also covers exchanges on a different calendar than
// the feed's default (a closed KRX index rides a feed that still reports US
// regular hours).
func resolveREST(info Info, q RESTQuote, state Session) Delta {
	var price, baseline float64

	switch state {
	case SessionPre:
		price = q.LastIntraday
		if price == 0 {
			price = q.RegularMarketPrice
		}
		baseline = q.PreviousClose
	case SessionRegular:
		price = q.RegularMarketPrice
		baseline = q.PreviousClose
	case SessionPost:
		price = q.LastIntraday
		if price == 0 {
			price = q.RegularMarketPrice
		}
		baseline = q.RegularMarketPrice
	default:
		// CLOSED (and the no-session fallback): show the last regular
		// close, with change reflecting the completed session against
		// the one before it.
		price = q.RegularMarketPrice
		baseline = q.PreviousClose
	}

	change, pct, ok := changeAgainst(price, baseline)

	d := Delta{
		Name:               strPtr(info.Name),
		Type:               typePtr(info.Type),
		Price:              f64Ptr(price),
		RegularMarketPrice: f64Ptr(q.RegularMarketPrice),
		PreviousClose:      f64Ptr(q.PreviousClose),
		Change:             f64Ptr(change),
		ChangePercent:      f64Ptr(pct),
		ChangePercentOK:    boolPtr(ok),
		AsOf:               q.AsOf,
	}
	if state != SessionNone {
		d.MarketState = sessionPtr(state)
	}
	return d
}

// resolveTrade applies the continuous-asset rule: the baseline is the first
// price seen after the UTC day rolls over, so change tracks the move since
// 00:00 UTC rather than any exchange session.
func resolveTrade(q StreamTrade, prev Data, now time.Time) Delta {
	dayStart := prev.DayStartPrice
	if dayStart == 0 || !sameUTCDay(prev.LastUpdated, now) {
		dayStart = q.Price
	}

	change, pct, ok := changeAgainst(q.Price, dayStart)

	return Delta{
		Price:           f64Ptr(q.Price),
		DayStartPrice:   f64Ptr(dayStart),
		Change:          f64Ptr(change),
		ChangePercent:   f64Ptr(pct),
		ChangePercentOK: boolPtr(ok),
		AsOf:            q.AsOf,
	}
}

// changeAgainst computes change and percent change against a baseline. A
// zero, negative, or non-finite baseline makes the percent unavailable; the
// caller renders a neutral display instead of Inf/NaN.
func changeAgainst(price, baseline float64) (change, pct float64, ok bool) {
	if baseline <= 0 || math.IsNaN(baseline) || math.IsInf(baseline, 0) {
		return 0, 0, false
	}
	change = price - baseline
	pct = change / baseline * 100
	return change, pct, true
}

func sameUTCDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.YearDay() == bu.YearDay()
}

func f64Ptr(v float64) *float64      { return &v }
func strPtr(v string) *string       { return &v }
func boolPtr(v bool) *bool          { return &v }
func typePtr(v Type) *Type          { return &v }
func sessionPtr(v Session) *Session { return &v }
