// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/chainweave/chainweave"
	"github.com/chainweave/chainweave/config"
	"github.com/chainweave/chainweave/netx"
)

// ClientConfig configures the aggregator HTTP client.
type ClientConfig struct {
	// BaseURL is the aggregator API root, e.g.
	// "https://api.example.org/api/v2/swap".
	BaseURL string `ini:"aggregatorurl"`
}

// LoadClientConfig parses a ClientConfig from an INI file path or []byte
// data.
func LoadClientConfig(cfgPathOrData interface{}) (ClientConfig, error) {
	var cfg ClientConfig
	err := config.Parse(cfgPathOrData, &cfg)
	return cfg, err
}

// Client is the HTTP Aggregator implementation. It keeps the full currency
// catalog cached so that pair listings, which the API reports as bare
// "ticker:network" keys, can be resolved without further requests.
type Client struct {
	baseURL string
	// services maps chain service name to its service, used to resolve
	// aggregator currencies to local tokens.
	services map[string]chainweave.ChainService
	// chainsByService maps a chain service name to the aggregator network
	// names it serves.
	chainsByService map[string][]string
	// tickerAliases maps, per aggregator network, an aggregator ticker to
	// the local token symbol it corresponds to when their spellings
	// disagree (e.g. the aggregator's "neo3" for the NEO token).
	tickerAliases map[string]map[string]string

	cacheMtx sync.Mutex
	cache    map[string]Currency
}

// DefaultTickerAliases cover the known spelling disagreements between the
// aggregator and local token registries.
var DefaultTickerAliases = map[string]map[string]string{
	"neo3": {
		"neo3":  "neo",
		"gasn3": "gas",
	},
}

// NewClient creates a Client. chainsByService maps each chain service name
// to the aggregator networks it serves; aliases may be nil to use
// DefaultTickerAliases.
func NewClient(cfg ClientConfig, services map[string]chainweave.ChainService,
	chainsByService map[string][]string, aliases map[string]map[string]string) *Client {

	if aliases == nil {
		aliases = DefaultTickerAliases
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		services:        services,
		chainsByService: chainsByService,
		tickerAliases:   aliases,
		cache:           make(map[string]Currency),
	}
}

// apiError is the aggregator's error body shape.
type apiError struct {
	Message string `json:"message"`
}

func (c *Client) get(ctx context.Context, path string, thing any) error {
	var apiErr apiError
	err := netx.Get(ctx, c.baseURL+path, thing,
		netx.WithErrorParsing(&apiErr),
		netx.WithRequestHeader("Cache-Control", "no-cache"))
	if err != nil && apiErr.Message != "" {
		return fmt.Errorf("%s", apiErr.Message)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, thing, body any) error {
	var apiErr apiError
	err := netx.Post(ctx, c.baseURL+path, thing, body, netx.WithErrorParsing(&apiErr))
	if err != nil && apiErr.Message != "" {
		return fmt.Errorf("%s", apiErr.Message)
	}
	return err
}

type currencyResponse struct {
	Ticker            string  `json:"ticker"`
	Network           string  `json:"network"`
	Name              string  `json:"name"`
	ContractAddress   *string `json:"contractAddress"`
	HasExtraID        bool    `json:"hasExtraId"`
	ValidationAddress *string `json:"validationAddress"`
	ValidationExtra   *string `json:"validationExtra"`
}

// resolve maps an aggregator catalog entry onto a local token when its
// network belongs to a known chain. Resolution is by normalized contract
// hash first, then by symbol, honoring ticker aliases.
func (c *Client) resolve(resp currencyResponse) (Currency, bool) {
	if resp.Ticker == "" || resp.Network == "" || resp.Name == "" || resp.ValidationAddress == nil {
		return Currency{}, false
	}

	cur := Currency{
		ID:                resp.Ticker + ":" + resp.Network,
		Ticker:            resp.Ticker,
		Network:           resp.Network,
		Symbol:            resp.Ticker,
		Name:              resp.Name,
		HasExtraID:        resp.HasExtraID,
		ValidationAddress: *resp.ValidationAddress,
	}
	if resp.ValidationExtra != nil {
		cur.ValidationExtra = *resp.ValidationExtra
	}
	if resp.ContractAddress != nil {
		cur.Hash = chainweave.NormalizeHash(*resp.ContractAddress)
	}

	var chainName string
	for name, networks := range c.chainsByService {
		for _, network := range networks {
			if network == resp.Network {
				chainName = name
				break
			}
		}
	}
	svc, ok := c.services[chainName]
	if chainName == "" || !ok {
		return cur, true
	}

	aliases := c.tickerAliases[resp.Network]
	lowerTicker := strings.ToLower(resp.Ticker)
	for _, token := range svc.Tokens() {
		match := false
		switch {
		case cur.Hash != "":
			match = chainweave.NormalizeHash(token.Hash) == cur.Hash
		case strings.EqualFold(token.Symbol, resp.Ticker):
			match = true
		case aliases != nil && strings.EqualFold(token.Symbol, aliases[lowerTicker]):
			match = true
		}
		if !match {
			continue
		}
		cur.Chain = chainName
		cur.Hash = token.Hash
		cur.Decimals = &token.Decimals
		cur.Name = token.Name
		cur.Symbol = token.Symbol
		break
	}
	return cur, true
}

// Currencies fetches the aggregator catalog, resolves it against the known
// chains, and returns the resolvable entries. The full catalog, resolvable
// or not, is cached for pair lookups.
func (c *Client) Currencies(ctx context.Context) ([]Currency, error) {
	c.cacheMtx.Lock()
	if len(c.cache) > 0 {
		resolved := make([]Currency, 0, len(c.cache))
		for _, cur := range c.cache {
			if cur.Chain != "" {
				resolved = append(resolved, cur)
			}
		}
		c.cacheMtx.Unlock()
		return resolved, nil
	}
	c.cacheMtx.Unlock()

	var response struct {
		Result []currencyResponse `json:"result"`
	}
	if err := c.get(ctx, "/currencies", &response); err != nil {
		return nil, err
	}

	var resolved []Currency
	c.cacheMtx.Lock()
	defer c.cacheMtx.Unlock()
	for _, raw := range response.Result {
		cur, ok := c.resolve(raw)
		if !ok {
			continue
		}
		c.cache[cur.ID] = cur
		if cur.Chain != "" {
			resolved = append(resolved, cur)
		}
	}
	return resolved, nil
}

// Pairs returns the cached currencies tradable against ticker:network.
func (c *Client) Pairs(ctx context.Context, ticker, network string) ([]Currency, error) {
	var response struct {
		Result map[string][]string `json:"result"`
	}
	path := fmt.Sprintf("/pairs/%s/%s", url.PathEscape(ticker), url.PathEscape(network))
	if err := c.get(ctx, path, &response); err != nil {
		return nil, err
	}

	ids := response.Result[ticker+":"+network]
	pairs := make([]Currency, 0, len(ids))
	c.cacheMtx.Lock()
	defer c.cacheMtx.Unlock()
	for _, id := range ids {
		if cur, ok := c.cache[id]; ok {
			pairs = append(pairs, cur)
		}
	}
	return pairs, nil
}

func rangeQuery(from, to Currency) url.Values {
	q := make(url.Values)
	q.Set("tickerFrom", from.Ticker)
	q.Set("tickerTo", to.Ticker)
	q.Set("networkFrom", from.Network)
	q.Set("networkTo", to.Network)
	return q
}

// TradeRange quotes the raw min/max for a pair.
func (c *Client) TradeRange(ctx context.Context, from, to Currency) (Range, error) {
	var response struct {
		Result Range `json:"result"`
	}
	err := c.get(ctx, "/ranges?"+rangeQuery(from, to).Encode(), &response)
	return response.Result, err
}

// Estimate quotes the receive amount for a spend amount.
func (c *Client) Estimate(ctx context.Context, from, to Currency, amount string) (string, error) {
	q := rangeQuery(from, to)
	q.Set("amount", amount)
	var response struct {
		Result struct {
			EstimatedAmount string `json:"estimatedAmount"`
		} `json:"result"`
	}
	err := c.get(ctx, "/estimates?"+q.Encode(), &response)
	return response.Result.EstimatedAmount, err
}

// CreateExchange creates an exchange and returns its id and deposit address.
func (c *Client) CreateExchange(ctx context.Context, params CreateExchangeParams) (Exchange, error) {
	body := map[string]any{
		"tickerFrom":        params.From.Ticker,
		"networkFrom":       params.From.Network,
		"tickerTo":          params.To.Ticker,
		"networkTo":         params.To.Network,
		"amount":            params.Amount,
		"userRefundAddress": params.RefundAddress,
		"addressTo":         params.Address,
	}
	if extra := strings.TrimSpace(params.ExtraID); extra != "" {
		body["extraIdTo"] = extra
	}

	var response struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.post(ctx, "/exchanges", &response, body); err != nil {
		return Exchange{}, err
	}

	var result struct {
		ID          string `json:"id"`
		AddressFrom string `json:"addressFrom"`
	}
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return Exchange{}, fmt.Errorf("error decoding exchange: %w", err)
	}
	return Exchange{
		ID:             result.ID,
		DepositAddress: result.AddressFrom,
		Log:            string(response.Result),
	}, nil
}

// Exchange fetches the state of an exchange.
func (c *Client) Exchange(ctx context.Context, id string) (ExchangeStatus, error) {
	var response struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.get(ctx, "/exchanges/"+url.PathEscape(id), &response); err != nil {
		return ExchangeStatus{}, err
	}

	var result struct {
		Status string `json:"status"`
		TxFrom string `json:"txFrom"`
		TxTo   string `json:"txTo"`
	}
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return ExchangeStatus{}, fmt.Errorf("error decoding exchange: %w", err)
	}
	return ExchangeStatus{
		Status: result.Status,
		TxFrom: result.TxFrom,
		TxTo:   result.TxTo,
		Log:    string(response.Result),
	}, nil
}
