// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bridge

import (
	"context"

	"github.com/chainweave/chainweave"
	"github.com/chainweave/chainweave/retry"
)

// WaitParams identify a submitted bridge transaction to wait on.
type WaitParams struct {
	TokenToUse     chainweave.Token
	TokenToReceive chainweave.Token
	// TransactionHash is the hash returned by Bridge on the source chain.
	TransactionHash string
	FromService     Service
	ToService       Service
}

// Wait blocks until the bridge transfer is observable on both chains: first
// the source chain assigns the transaction a nonce, then the destination
// chain mirrors the transaction under that nonce. Each phase polls on a
// fixed schedule bounded by cfg.WaitRetries and cfg.WaitDelay. Exhausting
// either budget is reported as a timed-out Outcome, not an error; the error
// return is reserved for context cancellation. A confirmed Outcome carries
// the destination chain's transaction hash.
func Wait(ctx context.Context, params WaitParams, cfg Config) (retry.Outcome[string], error) {
	cfg = cfg.withDefaults()
	opts := retry.Options{Retries: cfg.WaitRetries, Delay: cfg.WaitDelay}

	nonce, err := retry.Await(ctx, func(ctx context.Context) (string, error) {
		return params.FromService.Nonce(ctx, params.TokenToUse, params.TransactionHash)
	}, opts)
	if err != nil {
		return retry.Outcome[string]{}, err
	}
	if nonce.TimedOut {
		log.Warnf("bridge wait: nonce for %s never appeared on %s",
			params.TransactionHash, params.FromService.Name())
		return retry.Outcome[string]{TimedOut: true, LastErr: nonce.LastErr}, nil
	}

	mirrored, err := retry.Await(ctx, func(ctx context.Context) (string, error) {
		return params.ToService.TransactionHashByNonce(ctx, params.TokenToReceive, nonce.Value)
	}, opts)
	if err != nil {
		return retry.Outcome[string]{}, err
	}
	if mirrored.TimedOut {
		log.Warnf("bridge wait: mirrored transaction for nonce %s never appeared on %s",
			nonce.Value, params.ToService.Name())
	}
	return mirrored, nil
}
