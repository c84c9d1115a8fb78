// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package swap

import (
	"context"
	"time"

	"github.com/chainweave/chainweave"
	"github.com/chainweave/chainweave/retry"
)

// Exchange statuses reported by the aggregator. An exchange in any other
// status is still in flight.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusRefunded = "refunded"
	StatusExpired  = "expired"
)

// Terminal reports whether status is one the aggregator will never leave.
func Terminal(status string) bool {
	switch status {
	case StatusFinished, StatusFailed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// WaitConfig tunes WaitForExchange polling. The zero value polls the
// package defaults.
type WaitConfig struct {
	Retries int           `ini:"waitretries"`
	Delay   time.Duration `ini:"waitdelay"`
}

// WaitForExchange polls the aggregator until the exchange reaches a
// terminal status or the retry budget runs out. A timed-out Outcome means
// the exchange is still in flight, not that it failed; the error return is
// reserved for context cancellation.
func WaitForExchange(ctx context.Context, agg Aggregator, id string, cfg WaitConfig) (retry.Outcome[ExchangeStatus], error) {
	opts := retry.Options{Retries: cfg.Retries, Delay: cfg.Delay}
	outcome, err := retry.Await(ctx, func(ctx context.Context) (ExchangeStatus, error) {
		status, err := agg.Exchange(ctx, id)
		if err != nil {
			return ExchangeStatus{}, err
		}
		if !Terminal(status.Status) {
			return ExchangeStatus{}, chainweave.NewError(chainweave.ErrTimeout,
				"exchange "+id+" still "+status.Status)
		}
		return status, nil
	}, opts)
	if err != nil {
		return outcome, err
	}
	if outcome.TimedOut {
		log.Warnf("exchange %s did not settle within the wait budget: %v", id, outcome.LastErr)
	}
	return outcome, nil
}
