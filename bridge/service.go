// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bridge

import (
	"context"

	"github.com/chainweave/chainweave"
	"github.com/shopspring/decimal"
)

// Constants are the bridge parameters for one token, fetched fresh from the
// bridge service on every balance change. They are deliberately not cached;
// the bridge operator can change them between transfers.
type Constants struct {
	Fee       decimal.Decimal `json:"fee"`
	MinAmount decimal.Decimal `json:"minAmount"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
}

// Params describe a bridge execution.
type Params struct {
	Account         chainweave.Account
	Token           chainweave.Token
	Amount          string
	ReceiverAddress string
	Fee             string
}

// ApprovalFeeParams describe an approval-fee estimate request.
type ApprovalFeeParams struct {
	Account chainweave.Account
	Token   chainweave.Token
	Amount  string
}

// Service is one side of a fixed bridge pair: a chain service extended with
// the bridge contract's capabilities on that chain.
type Service interface {
	chainweave.ChainService

	// BridgeableTokens is the small fixed set of tokens the bridge moves.
	// Tokens on the two sides of a pair share a MultichainID.
	BridgeableTokens() []chainweave.Token
	// BridgeConstants fetches the current fee and transfer bounds for a
	// token.
	BridgeConstants(ctx context.Context, token chainweave.Token) (Constants, error)
	// Bridge submits the bridge transaction and returns its hash on the
	// source chain.
	Bridge(ctx context.Context, params Params) (string, error)
	// Nonce resolves the bridge nonce the source chain assigned to a
	// submitted transaction. It errors until the nonce is available.
	Nonce(ctx context.Context, token chainweave.Token, transactionHash string) (string, error)
	// TransactionHashByNonce resolves the mirrored transaction on the
	// destination chain. It errors until the mirror appears.
	TransactionHashByNonce(ctx context.Context, token chainweave.Token, nonce string) (string, error)
}

// ApprovalFeeEstimator is an optional Service capability. Chains whose
// bridge requires a token approval step implement it; for all others the
// approval fee is zero.
type ApprovalFeeEstimator interface {
	ApprovalFee(ctx context.Context, params ApprovalFeeParams) (decimal.Decimal, error)
}
