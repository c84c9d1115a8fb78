// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package chainweave

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferParams describe a single-intent transfer on one chain.
type TransferParams struct {
	Sender   Account
	Receiver string
	Token    Token
	Amount   decimal.Decimal
}

// ChainService is the capability surface the orchestrators require from a
// chain adapter. Implementations live outside this module; the orchestrators
// only consume the interface.
type ChainService interface {
	// Name is the chain binding name, e.g. "neo3". Accounts and tokens
	// carry the same name in their Chain field.
	Name() string
	// Tokens is the chain's known token registry.
	Tokens() []Token
	// FeeToken is the token in which network fees are paid.
	FeeToken() Token
	// ValidateAddress reports whether addr is well-formed for this chain.
	ValidateAddress(addr string) bool
	// AccountFromKey derives the account controlled by the referenced
	// signing key.
	AccountFromKey(key string) (Account, error)
	// Balances fetches all token balances held by addr.
	Balances(ctx context.Context, addr string) ([]Balance, error)
	// Transfer submits a transfer and returns the transaction hash.
	Transfer(ctx context.Context, params TransferParams) (string, error)
}

// FeeCalculator is an optional ChainService capability. Chains that cannot
// estimate a transfer fee up front simply do not implement it.
type FeeCalculator interface {
	CalculateTransferFee(ctx context.Context, params TransferParams) (decimal.Decimal, error)
}

// TokenInfoProvider is an optional ChainService capability used to backfill
// token metadata (chiefly decimals) that an external catalog omits.
type TokenInfoProvider interface {
	TokenInfo(ctx context.Context, hash string) (Token, error)
}
