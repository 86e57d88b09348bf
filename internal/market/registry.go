package market

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRegistry returns the built-in symbol set. The registry is loaded
// once at startup and treated as immutable afterwards.
func DefaultRegistry() []Info {
	return []Info{
		{Symbol: "^IXIC", Name: "NASDAQ", Type: TypeIndex, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "^GSPC", Name: "S&P 500", Type: TypeIndex, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "^KS11", Name: "KOSPI", Type: TypeIndex, Adapter: AdapterREST, Calendar: CalendarKRX},
		{Symbol: "^VIX", Name: "VIX", Type: TypeIndex, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "FEAR.GREED", Name: "Fear & Greed", Type: TypeIndex, Adapter: AdapterSentiment},

		{Symbol: "AAPL", Name: "Apple", Type: TypeStock, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "NVDA", Name: "NVIDIA", Type: TypeStock, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "MSFT", Name: "Microsoft", Type: TypeStock, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "AMZN", Name: "Amazon", Type: TypeStock, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "GOOGL", Name: "Google", Type: TypeStock, Adapter: AdapterREST, Calendar: CalendarUS},
		{Symbol: "TSLA", Name: "Tesla", Type: TypeStock, Adapter: AdapterREST, Calendar: CalendarUS},

		{Symbol: "BTC-USD", Name: "Bitcoin", Type: TypeCrypto, Adapter: AdapterStream},
		{Symbol: "ETH-USD", Name: "Ethereum", Type: TypeCrypto, Adapter: AdapterStream},
		{Symbol: "SOL-USD", Name: "Solana", Type: TypeCrypto, Adapter: AdapterStream},
		{Symbol: "BTC.D", Name: "BTC Dominance", Type: TypeCrypto, Adapter: AdapterSentiment},

		// KRW crosses trade against Korean market hours, not New York's.
		{Symbol: "KRW=X", Name: "USD/KRW", Type: TypeForex, Adapter: AdapterREST, Calendar: CalendarKRX},
		{Symbol: "EURKRW=X", Name: "EUR/KRW", Type: TypeForex, Adapter: AdapterREST, Calendar: CalendarKRX},
		{Symbol: "CNYKRW=X", Name: "CNY/KRW", Type: TypeForex, Adapter: AdapterREST, Calendar: CalendarKRX},
		{Symbol: "JPYKRW=X", Name: "JPY/KRW", Type: TypeForex, Adapter: AdapterREST, Calendar: CalendarKRX},
	}
}

// Registry indexes Info by symbol and answers per-adapter symbol lists.
type Registry struct {
	infos map[string]Info
	order []string
}

// NewRegistry builds a registry from the given infos, deduplicating symbols.
func NewRegistry(infos []Info) (*Registry, error) {
	r := &Registry{infos: make(map[string]Info, len(infos))}
	for _, in := range infos {
		sym := strings.TrimSpace(in.Symbol)
		if sym == "" {
			continue
		}
		if in.Name == "" {
			return nil, fmt.Errorf("registry: symbol %q has no name", sym)
		}
		switch in.Adapter {
		case AdapterREST, AdapterStream, AdapterSentiment:
		default:
			return nil, fmt.Errorf("registry: symbol %q has unknown adapter %q", sym, in.Adapter)
		}
		if in.Calendar != "" {
			if _, err := CalendarByName(in.Calendar); err != nil {
				return nil, fmt.Errorf("registry: symbol %q: %w", sym, err)
			}
		}
		in.Symbol = sym
		if _, dup := r.infos[sym]; dup {
			continue
		}
		r.infos[sym] = in
		r.order = append(r.order, sym)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("registry: no symbols")
	}
	return r, nil
}

type registryFile struct {
	Symbols []Info `yaml:"symbols"`
}

// LoadRegistry reads a yaml registry override. Layout mirrors the built-in
// table:
//
//	symbols:
//	  - symbol: AAPL
//	    name: Apple
//	    type: STOCK
//	    adapter: rest
//	    calendar: US
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf registryFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return NewRegistry(rf.Symbols)
}

// Lookup returns the Info for a symbol.
func (r *Registry) Lookup(symbol string) (Info, bool) {
	in, ok := r.infos[symbol]
	return in, ok
}

// Symbols returns all registered symbols in registry order.
func (r *Registry) Symbols() []string {
	return append([]string(nil), r.order...)
}

// SymbolsFor returns the symbols owned by one adapter, in registry order.
func (r *Registry) SymbolsFor(a Adapter) []string {
	out := make([]string, 0, len(r.order))
	for _, sym := range r.order {
		if r.infos[sym].Adapter == a {
			out = append(out, sym)
		}
	}
	return out
}

// Len reports the number of registered symbols.
func (r *Registry) Len() int { return len(r.order) }
