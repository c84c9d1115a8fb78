// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rates

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chainweave/chainweave/netx"
)

// NewCryptoCompare creates the CryptoCompare-backed Source. An empty apiKey
// is allowed; CryptoCompare serves a limited unauthenticated quota.
func NewCryptoCompare(apiKey string) Source {
	return &httpSource{
		name: cryptoCompare,
		get: func(ctx context.Context, symbols []string) (map[string]float64, error) {
			reqURL := fmt.Sprintf(cryptoComparePriceEndpoint, parseSymbols(symbols))
			response := make(map[string]map[string]float64)
			opts := []*netx.RequestOption{}
			if apiKey != "" {
				opts = append(opts, netx.WithRequestHeader("authorization", "Apikey "+apiKey))
			}
			if err := netx.Get(ctx, reqURL, &response, opts...); err != nil {
				return nil, fmt.Errorf("unable to fetch rates: %w", err)
			}

			rates := make(map[string]float64)
			for sym, r := range response {
				if usd, ok := r["USD"]; ok {
					rates[strings.ToUpper(sym)] = usd
				}
			}
			return rates, nil
		},
	}
}

// NewKuCoin creates the KuCoin-backed Source, typically used as the fallback
// behind CryptoCompare.
func NewKuCoin() Source {
	return &httpSource{
		name: kuCoin,
		get: func(ctx context.Context, symbols []string) (map[string]float64, error) {
			response := struct {
				Data map[string]string `json:"data"`
			}{}
			reqURL := fmt.Sprintf(kuCoinPriceEndpoint, parseSymbols(symbols))
			if err := netx.Get(ctx, reqURL, &response); err != nil {
				return nil, fmt.Errorf("unable to fetch rates: %w", err)
			}

			rates := make(map[string]float64)
			for sym, rateStr := range response.Data {
				rate, err := strconv.ParseFloat(rateStr, 64)
				if err != nil {
					log.Errorf("%s: failed to convert rate for %s to float64: %v", kuCoin, sym, err)
					continue
				}
				rates[strings.ToUpper(sym)] = rate
			}
			return rates, nil
		},
	}
}
