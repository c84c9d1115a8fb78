// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package swap implements the orchestrator for exchanging one asset for
// another, possibly on a different chain, through a third-party liquidity
// aggregator. It follows the same field-dependency discipline as package
// bridge, but over an open set of currencies: selecting a token triggers a
// batch recomputation of tradable pairs, rate range, defaulted amount, and
// estimated receive amount.
package swap

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chainweave/chainweave"
	"github.com/chainweave/chainweave/config"
	"github.com/chainweave/chainweave/field"
	"github.com/chainweave/chainweave/num"
)

const debounceAmountToUse = "amountToUse"

const (
	defaultDebounce = 1500 * time.Millisecond
	// defaultDecimals is assumed for currencies whose precision neither
	// the aggregator nor the chain's token registry declares.
	defaultDecimals = 6
)

// Config tunes orchestrator timing. The zero value uses the defaults.
type Config struct {
	Debounce time.Duration `ini:"debounce"`
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
	return cfg
}

// recalcSet names the derived fields a setter marks stale.
type recalcSet struct {
	pairs    bool
	minMax   bool
	amount   bool
	estimate bool
}

// Orchestrator coordinates a swap through an aggregator. Init must complete
// before any setter is used.
type Orchestrator struct {
	cfg       Config
	agg       Aggregator
	services  map[string]chainweave.ChainService
	debouncer *field.Debouncer

	mtx sync.Mutex
	ctx context.Context

	errMtx   sync.RWMutex
	errChans []chan error

	availableTokensToUse     *field.Field[field.Loadable[[]Currency]]
	tokenToUse               *field.Field[field.Loadable[Currency]]
	accountToUse             *field.Field[field.Validatable[chainweave.Account]]
	amountToUse              *field.Field[field.Loadable[string]]
	amountToUseMinMax        *field.Field[field.Loadable[Range]]
	availableTokensToReceive *field.Field[field.Loadable[[]Currency]]
	tokenToReceive           *field.Field[field.Loadable[Currency]]
	addressToReceive         *field.Field[field.Validatable[string]]
	extraIDToReceive         *field.Field[field.Validatable[string]]
	amountToReceive          *field.Field[field.Loadable[string]]
}

// New creates an Orchestrator over the given aggregator and chain service
// registry, keyed by chain service name.
func New(agg Aggregator, services map[string]chainweave.ChainService, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		agg:       agg,
		services:  services,
		debouncer: field.NewDebouncer(),
		ctx:       context.Background(),

		availableTokensToUse:     field.New[field.Loadable[[]Currency]](),
		tokenToUse:               field.New[field.Loadable[Currency]](),
		accountToUse:             field.New[field.Validatable[chainweave.Account]](),
		amountToUse:              field.New[field.Loadable[string]](),
		amountToUseMinMax:        field.New[field.Loadable[Range]](),
		availableTokensToReceive: field.New[field.Loadable[[]Currency]](),
		tokenToReceive:           field.New[field.Loadable[Currency]](),
		addressToReceive:         field.New[field.Validatable[string]](),
		extraIDToReceive:         field.New[field.Validatable[string]](),
		amountToReceive:          field.New[field.Loadable[string]](),
	}
}

// Field accessors, for subscription and reads. Writes go through setters.

func (o *Orchestrator) AvailableTokensToUse() *field.Field[field.Loadable[[]Currency]] {
	return o.availableTokensToUse
}
func (o *Orchestrator) TokenToUse() *field.Field[field.Loadable[Currency]] {
	return o.tokenToUse
}
func (o *Orchestrator) AccountToUse() *field.Field[field.Validatable[chainweave.Account]] {
	return o.accountToUse
}
func (o *Orchestrator) AmountToUse() *field.Field[field.Loadable[string]] {
	return o.amountToUse
}
func (o *Orchestrator) AmountToUseMinMax() *field.Field[field.Loadable[Range]] {
	return o.amountToUseMinMax
}
func (o *Orchestrator) AvailableTokensToReceive() *field.Field[field.Loadable[[]Currency]] {
	return o.availableTokensToReceive
}
func (o *Orchestrator) TokenToReceive() *field.Field[field.Loadable[Currency]] {
	return o.tokenToReceive
}
func (o *Orchestrator) AddressToReceive() *field.Field[field.Validatable[string]] {
	return o.addressToReceive
}
func (o *Orchestrator) ExtraIDToReceive() *field.Field[field.Validatable[string]] {
	return o.extraIDToReceive
}
func (o *Orchestrator) AmountToReceive() *field.Field[field.Loadable[string]] {
	return o.amountToReceive
}

// ErrFeed returns a receiving channel for batch-recomputation failures that
// are not attributable to a single field. The channel has capacity 16;
// blocked channels are skipped.
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

// Init loads the aggregator's currency catalog, filtered to currencies
// resolvable to a known chain and hash, and resets nothing else; call it
// once before the first setter. ctx is retained for debounced work.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mtx.Lock()
	o.ctx = ctx
	o.mtx.Unlock()

	o.availableTokensToUse.Set(func(s *field.Loadable[[]Currency]) { s.Loading = true })

	currencies, err := o.agg.Currencies(ctx)
	if err != nil {
		o.availableTokensToUse.Set(func(s *field.Loadable[[]Currency]) {
			s.Loading = false
			s.Value = field.Ptr([]Currency{})
		})
		o.emitErr(err)
		return chainweave.Normalize(err)
	}

	usable := make([]Currency, 0, len(currencies))
	for _, cur := range currencies {
		if cur.Chain != "" && cur.Hash != "" {
			usable = append(usable, cur)
		}
	}
	o.availableTokensToUse.Set(func(s *field.Loadable[[]Currency]) {
		s.Loading = false
		s.Value = field.Ptr(usable)
	})
	return nil
}

func findCurrency(list []Currency, want Currency) (Currency, bool) {
	for _, cur := range list {
		if cur.Equal(want) {
			return cur, true
		}
	}
	return Currency{}, false
}

// SetTokenToUse selects the currency to spend. The currency must be in the
// available list; its decimals are backfilled from the chain when the
// catalog omits them. An account bound to a different chain is cleared.
func (o *Orchestrator) SetTokenToUse(ctx context.Context, token *Currency) error {
	o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = nil; s.Loading = false })
	o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Value = nil; s.Loading = false })
	o.tokenToUse.Set(func(s *field.Loadable[Currency]) { s.Loading = true })

	selected, err := func() (*Currency, error) {
		avail := o.availableTokensToUse.Get().Value
		if avail == nil {
			return nil, chainweave.NewError(chainweave.ErrNoAvailableTokens,
				"available tokens to use is not set")
		}
		if token == nil {
			return nil, nil
		}
		cur, ok := findCurrency(*avail, *token)
		if !ok {
			return nil, chainweave.NewError(chainweave.ErrTokenNotAvailable,
				"you are trying to use a token that is not available")
		}
		if cur.Decimals == nil {
			cur.Decimals = field.Ptr(o.lookupDecimals(ctx, cur))
		}
		return &cur, nil
	}()
	if err != nil {
		coded := chainweave.Normalize(err)
		o.tokenToUse.Set(func(s *field.Loadable[Currency]) {
			s.Loading = false
			s.Err = coded
		})
		return coded
	}

	o.tokenToUse.Set(func(s *field.Loadable[Currency]) {
		s.Loading = false
		s.Value = selected
		s.Err = nil
	})

	if account := o.accountToUse.Get().Value; account != nil &&
		(selected == nil || account.Chain != selected.Chain) {
		o.accountToUse.Set(func(s *field.Validatable[chainweave.Account]) {
			*s = field.Validatable[chainweave.Account]{}
		})
	}

	return o.recalculate(ctx, recalcSet{pairs: true, minMax: true, amount: true, estimate: true})
}

// lookupDecimals probes the chain's token registry for precision the
// aggregator did not declare, defaulting when the chain cannot answer.
func (o *Orchestrator) lookupDecimals(ctx context.Context, cur Currency) int32 {
	svc, ok := o.services[cur.Chain]
	if !ok || cur.Hash == "" {
		return defaultDecimals
	}
	provider, ok := svc.(chainweave.TokenInfoProvider)
	if !ok {
		return defaultDecimals
	}
	info, err := provider.TokenInfo(ctx, cur.Hash)
	if err != nil {
		log.Debugf("token info lookup for %s failed: %v", cur.ID, err)
		return defaultDecimals
	}
	return info.Decimals
}

// SetTokenToReceive selects the currency to receive. Changing it clears any
// previously entered extra-id.
func (o *Orchestrator) SetTokenToReceive(ctx context.Context, token *Currency) error {
	o.extraIDToReceive.Set(func(s *field.Validatable[string]) {
		*s = field.Validatable[string]{}
	})
	o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = nil; s.Loading = false })
	o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Value = nil; s.Loading = false })

	selected, err := func() (*Currency, error) {
		avail := o.availableTokensToReceive.Get().Value
		if avail == nil {
			return nil, chainweave.NewError(chainweave.ErrNoAvailableTokens,
				"available tokens to receive is not set")
		}
		if token == nil {
			return nil, nil
		}
		cur, ok := findCurrency(*avail, *token)
		if !ok {
			return nil, chainweave.NewError(chainweave.ErrTokenNotAvailable,
				"you are trying to use a token that is not available")
		}
		return &cur, nil
	}()
	if err != nil {
		coded := chainweave.Normalize(err)
		o.tokenToReceive.Set(func(s *field.Loadable[Currency]) { s.Err = coded })
		return coded
	}

	o.tokenToReceive.Set(func(s *field.Loadable[Currency]) {
		s.Value = selected
		s.Err = nil
	})

	return o.recalculate(ctx, recalcSet{minMax: true, amount: true, estimate: true})
}

// SetAccountToUse selects the funding account. Validity is determined by
// comparing chain bindings; no network calls are made.
func (o *Orchestrator) SetAccountToUse(ctx context.Context, account *chainweave.Account) {
	o.accountToUse.Set(func(s *field.Validatable[chainweave.Account]) { s.Value = account })
	if err := o.recalculate(ctx, recalcSet{}); err != nil {
		log.Debugf("revalidation after account change: %v", err)
	}
}

// SetAmountToUse records the spend amount immediately and, after the
// debounce window, reformats it to the token's precision and recomputes the
// estimated receive amount.
func (o *Orchestrator) SetAmountToUse(ctx context.Context, amount *string) {
	o.amountToUse.Set(func(s *field.Loadable[string]) { s.Value = amount })

	o.debouncer.Schedule(debounceAmountToUse, o.cfg.Debounce, func() {
		o.mtx.Lock()
		taskCtx := o.ctx
		o.mtx.Unlock()

		if cur := o.amountToUse.Get().Value; cur != nil {
			token := o.tokenToUse.Get().Value
			decimals := int32(defaultDecimals)
			if token != nil {
				decimals = token.DecimalsOr(defaultDecimals)
			}
			formatted := num.FormatString(*cur, decimals)
			o.amountToUse.Set(func(s *field.Loadable[string]) { s.Value = field.Ptr(formatted) })
		}
		if err := o.recalculate(taskCtx, recalcSet{estimate: true}); err != nil {
			log.Debugf("estimate recomputation: %v", err)
		}
	})
}

// SetAddressToReceive records the destination address and validates it
// synchronously against the receive currency's address pattern.
func (o *Orchestrator) SetAddressToReceive(ctx context.Context, address *string) {
	o.addressToReceive.Set(func(s *field.Validatable[string]) {
		*s = field.Validatable[string]{Loadable: field.Loadable[string]{Value: address}}
	})
	if err := o.recalculate(ctx, recalcSet{}); err != nil {
		log.Debugf("revalidation after address change: %v", err)
	}
}

// SetExtraIDToReceive records the extra-id (memo/destination tag). It is a
// no-op unless the selected receive currency declares extra-id support. An
// empty string is normalized to unset.
func (o *Orchestrator) SetExtraIDToReceive(ctx context.Context, extraID *string) {
	receive := o.tokenToReceive.Get().Value
	if receive == nil || !receive.HasExtraID {
		return
	}
	if extraID != nil && *extraID == "" {
		extraID = nil
	}
	o.extraIDToReceive.Set(func(s *field.Validatable[string]) {
		*s = field.Validatable[string]{Loadable: field.Loadable[string]{Value: extraID}}
	})
	if err := o.recalculate(ctx, recalcSet{}); err != nil {
		log.Debugf("revalidation after extra-id change: %v", err)
	}
}

// validExtraID applies the extra-id rule: a trimmed-empty value or a
// currency with no declared pattern is always valid; otherwise the pattern
// decides.
func validExtraID(extraID string, receive Currency) bool {
	extraID = strings.TrimSpace(extraID)
	if extraID == "" || receive.ValidationExtra == "" {
		return true
	}
	matched, err := regexp.MatchString(receive.ValidationExtra, extraID)
	return err == nil && matched
}

// recalculate revalidates the synchronous inputs and recomputes the derived
// fields named in set. The four async-derived fields transition to loading
// together and are reported as a single batch completion; failures land on
// the error feed and clear the affected values.
func (o *Orchestrator) recalculate(ctx context.Context, set recalcSet) error {
	tokenToUse := o.tokenToUse.Get().Value
	if tokenToUse == nil {
		return nil
	}

	receive := o.tokenToReceive.Get().Value

	if addr := o.addressToReceive.Get().Value; addr != nil && receive != nil {
		matched, err := regexp.MatchString(receive.ValidationAddress, *addr)
		valid := err == nil && matched
		o.addressToReceive.Set(func(s *field.Validatable[string]) { s.Valid = field.Ptr(valid) })
	}
	if extra := o.extraIDToReceive.Get().Value; extra != nil && receive != nil {
		valid := validExtraID(*extra, *receive)
		o.extraIDToReceive.Set(func(s *field.Validatable[string]) { s.Valid = field.Ptr(valid) })
	}
	if account := o.accountToUse.Get().Value; account != nil {
		valid := account.Chain == tokenToUse.Chain
		o.accountToUse.Set(func(s *field.Validatable[chainweave.Account]) { s.Valid = field.Ptr(valid) })
	}

	recalcAmount := set.amount && o.amountToUse.Get().Value == nil && receive != nil
	recalcEstimate := set.estimate && receive != nil
	recalcMinMax := set.minMax && receive != nil

	o.availableTokensToReceive.Set(func(s *field.Loadable[[]Currency]) { s.Loading = set.pairs })
	o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Loading = recalcMinMax })
	o.amountToUse.Set(func(s *field.Loadable[string]) { s.Loading = recalcAmount })
	o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Loading = recalcEstimate })
	defer func() {
		o.availableTokensToReceive.Set(func(s *field.Loadable[[]Currency]) { s.Loading = false })
		o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Loading = false })
		o.amountToUse.Set(func(s *field.Loadable[string]) { s.Loading = false })
		o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Loading = false })
	}()

	if set.pairs {
		pairs, err := o.agg.Pairs(ctx, tokenToUse.Ticker, tokenToUse.Network)
		if err != nil {
			o.emitErr(err)
			o.availableTokensToReceive.Set(func(s *field.Loadable[[]Currency]) { s.Value = nil })
			o.tokenToReceive.Set(func(s *field.Loadable[Currency]) { s.Value = nil })
			o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Value = nil })
			o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = nil })
			o.addressToReceive.Set(func(s *field.Validatable[string]) {
				*s = field.Validatable[string]{}
			})
			o.extraIDToReceive.Set(func(s *field.Validatable[string]) {
				*s = field.Validatable[string]{}
			})
			return chainweave.Normalize(err)
		}
		o.availableTokensToReceive.Set(func(s *field.Loadable[[]Currency]) {
			s.Value = field.Ptr(pairs)
		})

		// A receive token that is no longer tradable against the new use
		// token cannot stay selected.
		if receive != nil {
			if _, ok := findCurrency(pairs, *receive); !ok {
				o.tokenToReceive.Set(func(s *field.Loadable[Currency]) { s.Value = nil })
				receive = nil
			}
		}
	}

	if !recalcMinMax && !recalcAmount && !recalcEstimate {
		return nil
	}

	rng := o.amountToUseMinMax.Get().Value
	if (recalcMinMax || rng == nil) && receive != nil {
		quoted, err := o.agg.TradeRange(ctx, *tokenToUse, *receive)
		if err != nil {
			o.emitErr(err)
			o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Value = nil })
			o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = nil })
			return chainweave.Normalize(err)
		}

		decimals := tokenToUse.DecimalsOr(defaultDecimals)
		corrected := Range{Max: quoted.Max}
		if quotedMin, ok := num.Parse(quoted.Min); ok {
			corrected.Min = num.UpliftMin(quotedMin, decimals).String()
		}
		if quoted.Max != "" {
			if quotedMax, ok := num.Parse(quoted.Max); ok {
				corrected.Max = num.Format(quotedMax, decimals).String()
			}
		}
		rng = &corrected
		o.amountToUseMinMax.Set(func(s *field.Loadable[Range]) { s.Value = rng })
	}

	// A fresh pair starts from the smallest tradable amount.
	if recalcAmount && rng != nil && rng.Min != "" {
		decimals := tokenToUse.DecimalsOr(defaultDecimals)
		o.amountToUse.Set(func(s *field.Loadable[string]) {
			s.Value = field.Ptr(num.FormatString(rng.Min, decimals))
		})
	}

	if recalcEstimate && receive != nil {
		amount := o.amountToUse.Get().Value
		if amount != nil {
			estimate, err := o.agg.Estimate(ctx, *tokenToUse, *receive, *amount)
			if err != nil {
				o.emitErr(err)
				o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = nil })
				return chainweave.Normalize(err)
			}
			o.amountToReceive.Set(func(s *field.Loadable[string]) { s.Value = field.Ptr(estimate) })
		}
	}
	return nil
}

// Result is the outcome of Swap. The exchange is created with the aggregator
// before the funding transfer is submitted on the "use" chain; once the
// exchange exists it is never rolled back, so a transfer failure is reported
// here rather than raised: TxHash stays empty and TransferErr carries the
// cause.
type Result struct {
	// ID is the aggregator's exchange id.
	ID string
	// TxHash is the funding transfer's hash on the "use" chain, empty
	// when the transfer was not accepted.
	TxHash string
	// TransferErr is the reason TxHash is empty, nil on full success.
	TransferErr error
	// Log preserves the raw exchange-creation response.
	Log string
}

// Swap creates the exchange and submits the funding transfer to its deposit
// address. Every swap input must be set and valid, and a currency that
// requires an extra-id must have one, or Swap fails with SWAP_NOT_READY
// before any external call.
func (o *Orchestrator) Swap(ctx context.Context) (*Result, error) {
	tokenToUse := o.tokenToUse.Get().Value
	receive := o.tokenToReceive.Get().Value
	account := o.accountToUse.Get().Value
	address := o.addressToReceive.Get()
	extraID := o.extraIDToReceive.Get()
	amount := o.amountToUse.Get().Value
	amountToReceive := o.amountToReceive.Get().Value

	notReady := tokenToUse == nil || receive == nil || account == nil ||
		address.Value == nil || address.Valid == nil || !*address.Valid ||
		amount == nil || amountToReceive == nil || tokenToUse.Hash == ""
	if !notReady && receive.HasExtraID {
		notReady = extraID.Value == nil || strings.TrimSpace(*extraID.Value) == "" ||
			extraID.Valid == nil || !*extraID.Valid
	}
	if notReady {
		return nil, chainweave.NewError(chainweave.ErrSwapNotReady,
			"not all required fields are set")
	}

	var extra string
	if extraID.Value != nil {
		extra = *extraID.Value
	}
	exchange, err := o.agg.CreateExchange(ctx, CreateExchangeParams{
		From:          *tokenToUse,
		To:            *receive,
		Amount:        *amount,
		RefundAddress: account.Address,
		Address:       *address.Value,
		ExtraID:       extra,
	})
	if err != nil {
		return nil, chainweave.Normalize(err)
	}

	result := &Result{ID: exchange.ID, Log: exchange.Log}

	svc, ok := o.services[account.Chain]
	if !ok {
		result.TransferErr = chainweave.NewError(chainweave.ErrUnexpected,
			"no chain service for account chain "+account.Chain)
		return result, nil
	}

	amt, _ := num.Parse(*amount)
	txHash, err := svc.Transfer(ctx, chainweave.TransferParams{
		Sender:   *account,
		Receiver: exchange.DepositAddress,
		Token: chainweave.Token{
			Symbol:   tokenToUse.Symbol,
			Name:     tokenToUse.Name,
			Hash:     tokenToUse.Hash,
			Decimals: tokenToUse.DecimalsOr(defaultDecimals),
			Chain:    tokenToUse.Chain,
		},
		Amount: amt,
	})
	if err != nil {
		// The exchange already exists externally; surface the failure in
		// the result instead of unwinding it.
		log.Warnf("transfer for exchange %s failed: %v", exchange.ID, err)
		result.TransferErr = err
		return result, nil
	}
	result.TxHash = txHash
	return result, nil
}

// CalculateFee estimates the network fee of the funding transfer. Chains
// without fee estimation report "0"; the probe is a capability check, not a
// failure.
func (o *Orchestrator) CalculateFee(ctx context.Context) (string, error) {
	tokenToUse := o.tokenToUse.Get().Value
	receive := o.tokenToReceive.Get().Value
	account := o.accountToUse.Get().Value
	address := o.addressToReceive.Get()
	amount := o.amountToUse.Get().Value
	amountToReceive := o.amountToReceive.Get().Value

	if tokenToUse == nil || receive == nil || account == nil ||
		address.Value == nil || address.Valid == nil || !*address.Valid ||
		amount == nil || amountToReceive == nil || tokenToUse.Hash == "" {
		return "", chainweave.NewError(chainweave.ErrSwapNotReady,
			"not all required fields are set")
	}

	svc, ok := o.services[account.Chain]
	if !ok {
		return "", chainweave.NewError(chainweave.ErrUnexpected,
			"no chain service for account chain "+account.Chain)
	}
	calculator, ok := svc.(chainweave.FeeCalculator)
	if !ok {
		return "0", nil
	}

	// A cross-chain receive address is meaningless on the "use" chain;
	// estimate against the sender's own address in that case.
	receiver := *address.Value
	if receive.Chain != account.Chain {
		receiver = account.Address
	}

	amt, _ := num.Parse(*amount)
	fee, err := calculator.CalculateTransferFee(ctx, chainweave.TransferParams{
		Sender:   *account,
		Receiver: receiver,
		Token: chainweave.Token{
			Symbol:   tokenToUse.Symbol,
			Name:     tokenToUse.Name,
			Hash:     tokenToUse.Hash,
			Decimals: tokenToUse.DecimalsOr(defaultDecimals),
			Chain:    tokenToUse.Chain,
		},
		Amount: amt,
	})
	if err != nil {
		return "", chainweave.Normalize(err)
	}
	return fee.String(), nil
}
