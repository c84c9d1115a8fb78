// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package bridge implements the orchestrator for moving a token between the
// two chains of a fixed bridge pair. The orchestrator is a reactive state
// machine: user-driven setters mutate observable fields, each setter marks
// its downstream derived fields stale, and stale fields are recomputed
// synchronously or via debounced asynchronous work. Subscribers observe each
// field's snapshot; imperative callers observe returned errors.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/chainweave/chainweave"
	"github.com/chainweave/chainweave/config"
	"github.com/chainweave/chainweave/field"
	"github.com/chainweave/chainweave/num"
	"github.com/shopspring/decimal"
)

// Debounced field keys. At most one timer is pending per key.
const (
	debounceAmountToUse      = "amountToUse"
	debounceAddressToReceive = "addressToReceive"
)

const (
	defaultDebounce    = 1500 * time.Millisecond
	defaultWaitRetries = 10
	defaultWaitDelay   = 30 * time.Second
)

// Config tunes orchestrator timing. The zero value uses the defaults.
type Config struct {
	// Debounce is the quiet window applied to amount and address input
	// before validation runs.
	Debounce time.Duration `ini:"debounce"`
	// WaitRetries and WaitDelay bound the confirmation polling performed
	// by Wait, per phase.
	WaitRetries int           `ini:"waitretries"`
	WaitDelay   time.Duration `ini:"waitdelay"`
}

// LoadConfig parses a Config from an INI file path or []byte data.
func LoadConfig(cfgPathOrData interface{}) (Config, error) {
	var cfg Config
	err := config.Parse(cfgPathOrData, &cfg)
	return cfg, err
}

func (cfg Config) withDefaults() Config {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.WaitRetries <= 0 {
		cfg.WaitRetries = defaultWaitRetries
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	return cfg
}

// Orchestrator coordinates a single fixed pair of chains exchanging the
// bridge's declared tokens. Init must complete before any setter is used.
type Orchestrator struct {
	cfg       Config
	debouncer *field.Debouncer

	mtx             sync.Mutex
	ctx             context.Context
	from, to        Service
	balances        []chainweave.Balance
	feeTokenBalance *chainweave.Balance

	errMtx   sync.RWMutex
	errChans []chan error

	availableTokensToUse *field.Field[field.Loadable[[]chainweave.Token]]
	tokenToUse           *field.Field[field.Loadable[chainweave.Token]]
	accountToUse         *field.Field[field.Loadable[chainweave.Account]]
	amountToUse          *field.Field[field.Validatable[string]]
	amountToUseMin       *field.Field[field.Loadable[string]]
	amountToUseMax       *field.Field[field.Loadable[string]]
	tokenToReceive       *field.Field[field.Loadable[chainweave.Token]]
	addressToReceive     *field.Field[field.Validatable[string]]
	amountToReceive      *field.Field[field.Loadable[string]]
	tokenToUseBalance    *field.Field[field.Loadable[chainweave.Balance]]
	fee                  *field.Field[field.Loadable[string]]
}

// New creates an Orchestrator bound to a concrete pair of bridge services.
func New(from, to Service, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		debouncer: field.NewDebouncer(),
		ctx:       context.Background(),
		from:      from,
		to:        to,

		availableTokensToUse: field.New[field.Loadable[[]chainweave.Token]](),
		tokenToUse:           field.New[field.Loadable[chainweave.Token]](),
		accountToUse:         field.New[field.Loadable[chainweave.Account]](),
		amountToUse:          field.New[field.Validatable[string]](),
		amountToUseMin:       field.New[field.Loadable[string]](),
		amountToUseMax:       field.New[field.Loadable[string]](),
		tokenToReceive:       field.New[field.Loadable[chainweave.Token]](),
		addressToReceive:     field.New[field.Validatable[string]](),
		amountToReceive:      field.New[field.Loadable[string]](),
		tokenToUseBalance:    field.New[field.Loadable[chainweave.Balance]](),
		fee:                  field.New[field.Loadable[string]](),
	}
}

// Field accessors. Callers subscribe and read through these; all writes go
// through the orchestrator's setters.

func (o *Orchestrator) AvailableTokensToUse() *field.Field[field.Loadable[[]chainweave.Token]] {
	return o.availableTokensToUse
}
func (o *Orchestrator) TokenToUse() *field.Field[field.Loadable[chainweave.Token]] {
	return o.tokenToUse
}
func (o *Orchestrator) AccountToUse() *field.Field[field.Loadable[chainweave.Account]] {
	return o.accountToUse
}
func (o *Orchestrator) AmountToUse() *field.Field[field.Validatable[string]] {
	return o.amountToUse
}
func (o *Orchestrator) AmountToUseMin() *field.Field[field.Loadable[string]] {
	return o.amountToUseMin
}
func (o *Orchestrator) AmountToUseMax() *field.Field[field.Loadable[string]] {
	return o.amountToUseMax
}
func (o *Orchestrator) TokenToReceive() *field.Field[field.Loadable[chainweave.Token]] {
	return o.tokenToReceive
}
func (o *Orchestrator) AddressToReceive() *field.Field[field.Validatable[string]] {
	return o.addressToReceive
}
func (o *Orchestrator) AmountToReceive() *field.Field[field.Loadable[string]] {
	return o.amountToReceive
}
func (o *Orchestrator) TokenToUseBalance() *field.Field[field.Loadable[chainweave.Balance]] {
	return o.tokenToUseBalance
}
func (o *Orchestrator) Fee() *field.Field[field.Loadable[string]] {
	return o.fee
}

// ErrFeed returns a receiving channel for recomputation failures that occur
// off the caller's stack, chiefly the constants refresh triggered by a token
// or account change. The channel has capacity 16; blocked channels are
// skipped.
func (o *Orchestrator) ErrFeed() <-chan error {
	ch := make(chan error, 16)
	o.errMtx.Lock()
	o.errChans = append(o.errChans, ch)
	o.errMtx.Unlock()
	return ch
}

func (o *Orchestrator) emitErr(err error) {
	o.errMtx.RLock()
	defer o.errMtx.RUnlock()
	for _, ch := range o.errChans {
		select {
		case ch <- err:
		default:
			log.Errorf("blocking error channel, dropping: %v", err)
		}
	}
}

// FromService returns the current "use" side binding.
func (o *Orchestrator) FromService() Service {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.from
}

// ToService returns the current "receive" side binding.
func (o *Orchestrator) ToService() Service {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	return o.to
}

// Init resets every field and populates the available-token list from the
// "use" side's bridge declaration. ctx is retained for work triggered by
// debounced input after the call returns.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mtx.Lock()
	o.ctx = ctx
	o.balances = nil
	o.feeTokenBalance = nil
	tokens := o.from.BridgeableTokens()
	o.mtx.Unlock()

	o.debouncer.CancelAll()

	o.availableTokensToUse.Set(func(s *field.Loadable[[]chainweave.Token]) {
		*s = field.Loadable[[]chainweave.Token]{Value: field.Ptr(tokens)}
	})
	o.accountToUse.Reset()
	o.addressToReceive.Reset()
	o.amountToUse.Reset()
	o.amountToUseMin.Reset()
	o.amountToUseMax.Reset()
	o.amountToReceive.Reset()
	o.tokenToUse.Reset()
	o.tokenToReceive.Reset()
	o.tokenToUseBalance.Reset()
	o.fee.Reset()
	return nil
}

// SwitchTokens swaps the "from" and "to" chain bindings, re-initializes,
// and re-selects the token that was previously being received. Applying it
// twice returns the orchestrator to its original orientation.
func (o *Orchestrator) SwitchTokens(ctx context.Context) error {
	o.mtx.Lock()
	o.from, o.to = o.to, o.from
	o.mtx.Unlock()

	prevReceive := o.tokenToReceive.Get().Value

	if err := o.Init(ctx); err != nil {
		return err
	}
	return o.SetTokenToUse(ctx, prevReceive)
}

// setFieldErr normalizes err, records it on the field through the given
// mutation, and returns the coded error for the imperative caller.
func setFieldErr[S any](f *field.Field[S], set func(*S, *chainweave.Error), err error) *chainweave.Error {
	coded := chainweave.Normalize(err)
	f.Set(func(s *S) { set(s, coded) })
	return coded
}

// SetTokenToUse selects the token to move across the bridge, resolving the
// paired receive token from the fixed bridge mapping. A nil token clears the
// selection and every downstream field. Selecting the already-selected token
// is a no-op.
func (o *Orchestrator) SetTokenToUse(ctx context.Context, token *chainweave.Token) error {
	resolve := func() (*chainweave.Token, error) {
		avail := o.availableTokensToUse.Get().Value
		if avail == nil {
			return nil, chainweave.NewError(chainweave.ErrNoAvailableTokens, "no available tokens to use")
		}

		if token == nil {
			return nil, nil
		}

		if _, ok := chainweave.FindToken(*avail, *token); !ok {
			return nil, chainweave.NewError(chainweave.ErrTokenNotAvailable,
				"you are trying to use a token that is not available")
		}

		for _, candidate := range o.ToService().BridgeableTokens() {
			if candidate.MultichainID == token.MultichainID {
				return field.Ptr(candidate), nil
			}
		}
		return nil, chainweave.NewError(chainweave.ErrPairTokenNotFound, "pair token not found")
	}

	if cur := o.tokenToUse.Get().Value; cur != nil && token != nil && cur.Equal(*token) {
		return nil
	}

	pair, err := resolve()
	if err != nil {
		return setFieldErr(o.tokenToUse, func(s *field.Loadable[chainweave.Token], e *chainweave.Error) {
			s.Err = e
		}, err)
	}

	o.tokenToReceive.Set(func(s *field.Loadable[chainweave.Token]) {
		s.Value = pair
		s.Err = nil
	})
	o.tokenToUse.Set(func(s *field.Loadable[chainweave.Token]) {
		s.Value = token
		s.Err = nil
	})

	// Recompute the dependent fields. The two branches are independent:
	// each proceeds even if the other fails, and neither failure reaches
	// this caller.
	o.mtx.Lock()
	balances := o.balances
	o.mtx.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := o.SetBalances(ctx, balances); err != nil {
			log.Debugf("balance recomputation after token change: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		o.SetAmountToUse(ctx, nil)
	}()
	wg.Wait()
	return nil
}

// SetAccountToUse selects the funding account. The account must belong to
// the "use" side's chain. A nil account clears the selection. Selecting the
// already-selected account is a no-op.
func (o *Orchestrator) SetAccountToUse(ctx context.Context, account *chainweave.Account) error {
	if account != nil {
		if cur := o.accountToUse.Get().Value; cur != nil && cur.Equal(*account) {
			return nil
		}
		if o.FromService().Name() != account.Chain {
			err := chainweave.NewError(chainweave.ErrAccountNotCompatible,
				"you are trying to use an account that is not compatible with the selected token")
			return setFieldErr(o.accountToUse, func(s *field.Loadable[chainweave.Account], e *chainweave.Error) {
				s.Err = e
			}, err)
		}
	}

	o.accountToUse.Set(func(s *field.Loadable[chainweave.Account]) {
		s.Value = account
		s.Err = nil
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := o.SetBalances(ctx, nil); err != nil {
			log.Debugf("balance reset after account change: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		o.SetAmountToUse(ctx, nil)
	}()
	wg.Wait()
	return nil
}

// SetBalances installs a balance snapshot and, when the selected token has a
// balance entry, refreshes the bridge constants and the derived min, max and
// fee. The three derived fields enter and leave loading together, even when
// the constants fetch fails, in which case all three carry the same error
// and the error is returned.
func (o *Orchestrator) SetBalances(ctx context.Context, balances []chainweave.Balance) error {
	o.mtx.Lock()
	o.balances = balances
	feeToken := o.from.FeeToken()
	svc := o.from
	o.mtx.Unlock()

	token := o.tokenToUse.Get().Value

	var tokenBalance *chainweave.Balance
	if token != nil && balances != nil {
		if b, ok := chainweave.FindBalance(balances, *token); ok {
			tokenBalance = &b
		}
	}
	o.tokenToUseBalance.Set(func(s *field.Loadable[chainweave.Balance]) {
		s.Value = tokenBalance
	})

	var feeBalance *chainweave.Balance
	if balances != nil {
		if b, ok := chainweave.FindBalance(balances, feeToken); ok {
			feeBalance = &b
		}
	}
	o.mtx.Lock()
	o.feeTokenBalance = feeBalance
	o.mtx.Unlock()

	if tokenBalance == nil || token == nil {
		// Nothing to derive from; the derived fields return to unset
		// rather than carrying values for a token that is gone.
		o.amountToUseMin.Reset()
		o.amountToUseMax.Reset()
		o.fee.Reset()
		return nil
	}

	setLoading := func(loading bool) {
		o.amountToUseMax.Set(func(s *field.Loadable[string]) { s.Loading = loading })
		o.amountToUseMin.Set(func(s *field.Loadable[string]) { s.Loading = loading })
		o.fee.Set(func(s *field.Loadable[string]) { s.Loading = loading })
	}
	o.amountToUseMax.Set(func(s *field.Loadable[string]) { s.Loading = true; s.Err = nil })
	o.amountToUseMin.Set(func(s *field.Loadable[string]) { s.Loading = true; s.Err = nil })
	o.fee.Set(func(s *field.Loadable[string]) { s.Loading = true; s.Err = nil })
	defer setLoading(false)

	constants, err := svc.BridgeConstants(ctx, *token)
	if err != nil {
		coded := chainweave.Normalize(err)
		o.emitErr(coded)
		clear := func(s *field.Loadable[string]) {
			s.Value = nil
			s.Err = coded
		}
		o.amountToUseMax.Set(clear)
		o.amountToUseMin.Set(clear)
		o.fee.Set(clear)
		return coded
	}

	o.amountToUseMin.Set(func(s *field.Loadable[string]) {
		s.Value = field.Ptr(constants.MinAmount.String())
	})
	o.fee.Set(func(s *field.Loadable[string]) {
		s.Value = field.Ptr(constants.Fee.String())
	})

	// The spendable ceiling is the bridge maximum, reduced to the balance.
	// When the selected token pays the fee, the fee comes out of the same
	// balance and is subtracted first.
	spendable := tokenBalance.Amount
	if feeToken.EqualHash(*token) {
		spendable = spendable.Sub(constants.Fee)
	}
	max := decimal.Min(constants.MaxAmount, spendable)
	if max.IsNegative() {
		max = decimal.Zero
	}
	o.amountToUseMax.Set(func(s *field.Loadable[string]) {
		s.Value = field.Ptr(num.Format(max, token.Decimals).String())
	})
	return nil
}

// SetAddressToReceive records the destination address immediately and
// schedules its validation against the "to" chain after the debounce window.
// A newer call within the window replaces the pending validation.
func (o *Orchestrator) SetAddressToReceive(ctx context.Context, address *string) {
	o.addressToReceive.Set(func(s *field.Validatable[string]) {
		*s = field.Validatable[string]{
			Loadable: field.Loadable[string]{Value: address, Loading: address != nil},
		}
	})

	o.debouncer.Schedule(debounceAddressToReceive, o.cfg.Debounce, func() {
		addr := o.addressToReceive.Get().Value
		if addr == nil {
			return
		}
		valid := o.ToService().ValidateAddress(*addr)
		o.addressToReceive.Set(func(s *field.Validatable[string]) {
			s.Valid = field.Ptr(valid)
			s.Loading = false
		})
	})
}

// SetAmountToUse records the amount immediately. A nil amount synchronously
// clears the mirrored receive amount and validity. Otherwise validation is
// scheduled after the debounce window; its outcome lands on the field, never
// on a caller.
func (o *Orchestrator) SetAmountToUse(ctx context.Context, amount *string) {
	o.amountToUse.Set(func(s *field.Validatable[string]) { s.Value = amount })

	if amount == nil {
		o.amountToUse.Set(func(s *field.Validatable[string]) {
			s.Valid = nil
			s.Loading = false
		})
		o.amountToReceive.Set(func(s *field.Loadable[string]) {
			s.Value = nil
			s.Loading = false
		})
		return
	}

	o.debouncer.Schedule(debounceAmountToUse, o.cfg.Debounce, func() {
		o.validateAmount(*amount)
	})
}

// validateAmount is the debounced amount pipeline: format and mirror, bounds
// check, fee refresh, fee-balance check. All failures are normalized onto
// the amount field.
func (o *Orchestrator) validateAmount(amount string) {
	token := o.tokenToUse.Get().Value
	if token == nil {
		return
	}

	formatted := num.FormatString(amount, token.Decimals)
	// The bridge is 1:1 with no slippage; the receive amount mirrors the
	// formatted input even when validation later fails.
	o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = field.Ptr(formatted) })
	o.amountToUse.Set(func(s *field.Validatable[string]) { s.Value = field.Ptr(formatted) })

	min := o.amountToUseMin.Get().Value
	max := o.amountToUseMax.Get().Value
	feeVal := o.fee.Get().Value
	account := o.accountToUse.Get().Value

	o.mtx.Lock()
	ctx := o.ctx
	feeBalance := o.feeTokenBalance
	svc := o.from
	feeToken := o.from.FeeToken()
	o.mtx.Unlock()

	// Upstream values may still be unresolved; the amount cannot be
	// validated yet, and Valid stays unset.
	if min == nil || max == nil || feeVal == nil || account == nil || feeBalance == nil {
		return
	}

	o.amountToUse.Set(func(s *field.Validatable[string]) { s.Loading = true })
	o.fee.Set(func(s *field.Loadable[string]) { s.Loading = true })
	defer func() {
		o.amountToUse.Set(func(s *field.Validatable[string]) { s.Loading = false })
		o.fee.Set(func(s *field.Loadable[string]) { s.Loading = false })
	}()

	err := func() error {
		amt, _ := num.Parse(formatted)
		minD, _ := num.Parse(*min)
		maxD, _ := num.Parse(*max)
		feeD, _ := num.Parse(*feeVal)

		if amt.LessThan(minD) {
			return chainweave.NewError(chainweave.ErrAmountBelowMinimum, "amount is below the minimum")
		}
		if amt.GreaterThan(maxD) {
			return chainweave.NewError(chainweave.ErrAmountAboveMaximum, "amount is above the maximum")
		}

		approvalFee := decimal.Zero
		if estimator, ok := svc.(ApprovalFeeEstimator); ok {
			fee, err := estimator.ApprovalFee(ctx, ApprovalFeeParams{
				Account: *account,
				Token:   *token,
				Amount:  formatted,
			})
			if err != nil {
				log.Debugf("approval fee estimate failed, assuming zero: %v", err)
			} else {
				approvalFee = fee
			}
		}

		totalFee := feeD.Add(approvalFee)
		o.fee.Set(func(s *field.Loadable[string]) {
			s.Value = field.Ptr(num.Format(totalFee, feeToken.Decimals).String())
		})

		spend := totalFee
		if feeToken.EqualHash(*token) {
			spend = spend.Add(amt)
		}
		if spend.GreaterThan(feeBalance.Amount) {
			return chainweave.NewError(chainweave.ErrInsufficientFeeBalance,
				"not enough fee token balance to cover the bridge fee")
		}
		return nil
	}()

	if err != nil {
		coded := chainweave.Normalize(err)
		o.amountToUse.Set(func(s *field.Validatable[string]) {
			s.Valid = field.Ptr(false)
			s.Err = coded
		})
		return
	}

	o.amountToUse.Set(func(s *field.Validatable[string]) {
		s.Valid = field.Ptr(true)
		s.Err = nil
	})
}

// Bridge submits the transfer. Every input the bridge needs must already be
// set and validated; otherwise it fails with BRIDGE_NOT_READY.
func (o *Orchestrator) Bridge(ctx context.Context) (string, error) {
	account := o.accountToUse.Get().Value
	token := o.tokenToUse.Get().Value
	receiveToken := o.tokenToReceive.Get().Value
	amount := o.amountToUse.Get()
	receiveAmount := o.amountToReceive.Get().Value
	address := o.addressToReceive.Get().Value
	feeVal := o.fee.Get().Value

	if account == nil || token == nil || receiveToken == nil ||
		amount.Valid == nil || !*amount.Valid || amount.Value == nil ||
		receiveAmount == nil || address == nil || feeVal == nil {
		return "", chainweave.NewError(chainweave.ErrBridgeNotReady,
			"required parameters are not set for bridging")
	}

	return o.FromService().Bridge(ctx, Params{
		Account:         *account,
		Token:           *token,
		Amount:          *amount.Value,
		ReceiverAddress: *address,
		Fee:             *feeVal,
	})
}
