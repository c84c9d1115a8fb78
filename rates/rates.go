// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package rates fetches USD token prices. Sources are composed as an
// explicit delegation chain: a primary source is tried first and secondary
// sources only when it fails, rather than hiding the fallback inside an
// implementation hierarchy.
package rates

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Source supplies USD rates for a set of token symbols.
type Source interface {
	Name() string
	Rates(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Fallback is a Source that tries its members in order and returns the first
// successful result. Failures short of the last source are logged and
// skipped.
type Fallback struct {
	sources []Source
}

// NewFallback composes sources into a delegation chain. The first source is
// the primary.
func NewFallback(sources ...Source) *Fallback {
	return &Fallback{sources: sources}
}

// Name identifies the chain by its members.
func (f *Fallback) Name() string {
	names := make([]string, len(f.sources))
	for i, s := range f.sources {
		names[i] = s.Name()
	}
	return strings.Join(names, "->")
}

// Rates queries the chain. The last error is returned if every source fails.
func (f *Fallback) Rates(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(f.sources) == 0 {
		return nil, errors.New("no rate sources configured")
	}
	var lastErr error
	for _, s := range f.sources {
		rates, err := s.Rates(ctx, symbols)
		if err != nil {
			log.Debugf("rate source %s failed: %v", s.Name(), err)
			lastErr = err
			continue
		}
		return rates, nil
	}
	return nil, fmt.Errorf("all rate sources failed: %w", lastErr)
}

const (
	cryptoCompare              = "CryptoCompare"
	cryptoComparePriceEndpoint = "https://min-api.cryptocompare.com/data/pricemulti?fsyms=%s&tsyms=USD"

	kuCoin              = "KuCoin"
	kuCoinPriceEndpoint = "https://api.kucoin.com/api/v1/prices?currencies=%s"
)

func parseSymbols(symbols []string) string {
	upper := make([]string, len(symbols))
	for i, sym := range symbols {
		upper[i] = strings.ToUpper(sym)
	}
	return url.QueryEscape(strings.Join(upper, ","))
}

type httpSource struct {
	name string
	get  func(ctx context.Context, symbols []string) (map[string]float64, error)
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Rates(ctx context.Context, symbols []string) (map[string]float64, error) {
	return s.get(ctx, symbols)
}
