// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package swap

import (
	"context"
)

// Currency is a tradable unit as known to the swap aggregator, optionally
// resolved to a token on a chain this library manages. A Currency with an
// empty Chain is quotable through the aggregator but cannot fund or receive
// a swap here.
type Currency struct {
	// ID is "ticker:network", unique within the aggregator's catalog.
	ID      string `json:"id"`
	Ticker  string `json:"ticker"`
	Network string `json:"network"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	// Hash is the resolved local token hash, empty if unresolved.
	Hash string `json:"hash,omitempty"`
	// Decimals is nil when the aggregator does not declare precision and
	// no local token was resolved.
	Decimals *int32 `json:"decimals,omitempty"`
	// Chain is the resolved chain service name, empty if unresolved.
	Chain      string `json:"chain,omitempty"`
	HasExtraID bool   `json:"hasExtraId"`
	// ValidationAddress and ValidationExtra are the aggregator's
	// regular-expression patterns for destination addresses and extra-ids.
	ValidationAddress string `json:"validationAddress"`
	ValidationExtra   string `json:"validationExtra,omitempty"`
}

// Equal reports catalog identity.
func (c Currency) Equal(other Currency) bool {
	return c.ID == other.ID
}

// DecimalsOr returns the declared decimals, or def when unknown.
func (c Currency) DecimalsOr(def int32) int32 {
	if c.Decimals == nil {
		return def
	}
	return *c.Decimals
}

// Range is an aggregator rate range. An empty Max means unbounded.
type Range struct {
	Min string `json:"min"`
	Max string `json:"max,omitempty"`
}

// CreateExchangeParams describe an exchange creation request.
type CreateExchangeParams struct {
	From          Currency
	To            Currency
	Amount        string
	RefundAddress string
	Address       string
	ExtraID       string
}

// Exchange is a created exchange: the aggregator's id for it and the deposit
// address the user must fund.
type Exchange struct {
	ID             string
	DepositAddress string
	// Log preserves the raw aggregator response for support tooling.
	Log string
}

// ExchangeStatus is the state of an exchange in flight.
type ExchangeStatus struct {
	Status string
	TxFrom string
	TxTo   string
	Log    string
}

// Aggregator is the swap aggregator capability surface consumed by the
// orchestrator.
type Aggregator interface {
	// Currencies returns the catalog entries resolvable to a known chain.
	Currencies(ctx context.Context) ([]Currency, error)
	// Pairs returns the currencies tradable against the given catalog
	// entry.
	Pairs(ctx context.Context, ticker, network string) ([]Currency, error)
	// TradeRange quotes the aggregator's raw min/max for a pair. The
	// quoted minimum is corrected by the orchestrator; see num.UpliftMin.
	TradeRange(ctx context.Context, from, to Currency) (Range, error)
	// Estimate quotes the receive amount for a spend amount.
	Estimate(ctx context.Context, from, to Currency, amount string) (string, error)
	CreateExchange(ctx context.Context, params CreateExchangeParams) (Exchange, error)
	Exchange(ctx context.Context, id string) (ExchangeStatus, error)
}
