// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainweave/chainweave"
	"github.com/chainweave/chainweave/field"
	"github.com/shopspring/decimal"
)

var (
	neoN3 = chainweave.Token{
		Symbol: "NEO", Name: "Neo", Hash: "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		Decimals: 0, Chain: "neo3", MultichainID: "neo",
	}
	gasN3 = chainweave.Token{
		Symbol: "GAS", Name: "Gas", Hash: "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		Decimals: 8, Chain: "neo3", MultichainID: "gas",
	}
	neoX = chainweave.Token{
		Symbol: "xNEO", Name: "Neo", Hash: "0x1ceded676d9fb0994036971cb0a5b078a7c7c5c1",
		Decimals: 18, Chain: "neox", MultichainID: "neo",
	}
	gasX = chainweave.Token{
		Symbol: "xGAS", Name: "Gas", Hash: "0x23e2e46eca9f39119b31887e4c22a39eb6a8e38a",
		Decimals: 18, Chain: "neox", MultichainID: "gas",
	}
)

// stubService is a Service with scriptable constants and confirmation
// behavior.
type stubService struct {
	name         string
	feeToken     chainweave.Token
	bridgeTokens []chainweave.Token

	constants      Constants
	constantsErr   error
	constantsCalls atomic.Int32

	validAddress bool

	bridgeTx  string
	bridgeErr error

	nonce         string
	nonceFailures atomic.Int32 // attempts that error before nonce resolves
	nonceCalls    atomic.Int32

	mirrorTx       string
	mirrorFailures atomic.Int32
	mirrorCalls    atomic.Int32
}

func (s *stubService) Name() string                   { return s.name }
func (s *stubService) Tokens() []chainweave.Token     { return s.bridgeTokens }
func (s *stubService) FeeToken() chainweave.Token     { return s.feeToken }
func (s *stubService) ValidateAddress(addr string) bool { return s.validAddress }

func (s *stubService) AccountFromKey(key string) (chainweave.Account, error) {
	return chainweave.Account{Address: "NAddr", Key: key, Chain: s.name}, nil
}

func (s *stubService) Balances(ctx context.Context, addr string) ([]chainweave.Balance, error) {
	return nil, nil
}

func (s *stubService) Transfer(ctx context.Context, params chainweave.TransferParams) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubService) BridgeableTokens() []chainweave.Token { return s.bridgeTokens }

func (s *stubService) BridgeConstants(ctx context.Context, token chainweave.Token) (Constants, error) {
	s.constantsCalls.Add(1)
	if s.constantsErr != nil {
		return Constants{}, s.constantsErr
	}
	return s.constants, nil
}

func (s *stubService) Bridge(ctx context.Context, params Params) (string, error) {
	if s.bridgeErr != nil {
		return "", s.bridgeErr
	}
	return s.bridgeTx, nil
}

func (s *stubService) Nonce(ctx context.Context, token chainweave.Token, txHash string) (string, error) {
	s.nonceCalls.Add(1)
	if s.nonceFailures.Add(-1) >= 0 {
		return "", errors.New("nonce not indexed yet")
	}
	return s.nonce, nil
}

func (s *stubService) TransactionHashByNonce(ctx context.Context, token chainweave.Token, nonce string) (string, error) {
	s.mirrorCalls.Add(1)
	if s.mirrorFailures.Add(-1) >= 0 {
		return "", errors.New("mirror not observed yet")
	}
	return s.mirrorTx, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func newTestPair(t *testing.T) (*stubService, *stubService) {
	t.Helper()
	from := &stubService{
		name:         "neo3",
		feeToken:     gasN3,
		bridgeTokens: []chainweave.Token{neoN3, gasN3},
		constants: Constants{
			Fee:       dec(t, "0.1"),
			MinAmount: dec(t, "0.01"),
			MaxAmount: dec(t, "3"),
		},
		validAddress: true,
		bridgeTx:     "0xsource",
	}
	to := &stubService{
		name:         "neox",
		feeToken:     gasX,
		bridgeTokens: []chainweave.Token{neoX, gasX},
		validAddress: true,
	}
	return from, to
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubService, *stubService) {
	t.Helper()
	from, to := newTestPair(t)
	o := New(from, to, Config{Debounce: 10 * time.Millisecond})
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return o, from, to
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func errKind(t *testing.T, err error, want chainweave.ErrorKind) {
	t.Helper()
	var coded *chainweave.Error
	if !errors.As(err, &coded) {
		t.Fatalf("expected a coded error, got %v", err)
	}
	if coded.Kind() != want {
		t.Fatalf("error kind = %s, want %s", coded.Kind(), want)
	}
}

func TestInitPopulatesAvailableTokens(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	avail := o.AvailableTokensToUse().Get()
	if avail.Value == nil || len(*avail.Value) != 2 {
		t.Fatalf("available tokens not populated: %+v", avail)
	}
	if o.TokenToUse().Get().Value != nil {
		t.Fatal("token selection should start unset")
	}
}

func TestSetTokenToUseResolvesPair(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if err := o.SetTokenToUse(context.Background(), &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	receive := o.TokenToReceive().Get().Value
	if receive == nil || receive.Hash != neoX.Hash {
		t.Fatalf("pair token not resolved: %+v", receive)
	}
}

func TestSetTokenToUseBeforeInit(t *testing.T) {
	from, to := newTestPair(t)
	o := New(from, to, Config{Debounce: 10 * time.Millisecond})

	err := o.SetTokenToUse(context.Background(), &neoN3)
	errKind(t, err, chainweave.ErrNoAvailableTokens)
	if fieldErr := o.TokenToUse().Get().Err; fieldErr == nil {
		t.Fatal("error not recorded on the field")
	}
}

func TestSetTokenToUseNotAvailable(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	bogus := chainweave.Token{Symbol: "BOGUS", Hash: "0x9999", Chain: "neo3"}
	err := o.SetTokenToUse(context.Background(), &bogus)
	errKind(t, err, chainweave.ErrTokenNotAvailable)
}

func TestSetTokenToUsePairMissing(t *testing.T) {
	o, _, to := newTestOrchestrator(t)
	to.bridgeTokens = []chainweave.Token{gasX} // no NEO mirror

	err := o.SetTokenToUse(context.Background(), &neoN3)
	errKind(t, err, chainweave.ErrPairTokenNotFound)
}

func TestSetTokenToUseNilResets(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.SetTokenToUse(ctx, &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	if err := o.SetAccountToUse(ctx, &chainweave.Account{Address: "NAddr", Chain: "neo3"}); err != nil {
		t.Fatalf("SetAccountToUse: %v", err)
	}
	balances := []chainweave.Balance{
		{Token: neoN3, Amount: dec(t, "5")},
		{Token: gasN3, Amount: dec(t, "10")},
	}
	if err := o.SetBalances(ctx, balances); err != nil {
		t.Fatalf("SetBalances: %v", err)
	}
	if o.AmountToUseMax().Get().Value == nil {
		t.Fatal("setup did not derive a maximum")
	}

	if err := o.SetTokenToUse(ctx, nil); err != nil {
		t.Fatalf("SetTokenToUse(nil): %v", err)
	}
	if o.TokenToUse().Get().Value != nil || o.TokenToReceive().Get().Value != nil {
		t.Fatal("token bindings survived a nil selection")
	}
	if o.AmountToUseMin().Get().Value != nil || o.AmountToUseMax().Get().Value != nil ||
		o.Fee().Get().Value != nil {
		t.Fatal("derived bounds survived a nil selection")
	}
	if o.AmountToReceive().Get().Value != nil || o.AmountToUse().Get().Valid != nil {
		t.Fatal("amount state survived a nil selection")
	}
}

func TestSetAccountToUseWrongChain(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	err := o.SetAccountToUse(context.Background(), &chainweave.Account{Address: "0xe", Chain: "neox"})
	errKind(t, err, chainweave.ErrAccountNotCompatible)
	if o.AccountToUse().Get().Value != nil {
		t.Fatal("incompatible account was stored")
	}
}

func TestSetBalancesDerivesBounds(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.SetTokenToUse(ctx, &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	balances := []chainweave.Balance{
		{Token: neoN3, Amount: dec(t, "5")},
		{Token: gasN3, Amount: dec(t, "10")},
	}
	if err := o.SetBalances(ctx, balances); err != nil {
		t.Fatalf("SetBalances: %v", err)
	}

	if got := o.AmountToUseMin().Get().Value; got == nil || *got != "0.01" {
		t.Fatalf("min = %v", got)
	}
	if got := o.Fee().Get().Value; got == nil || *got != "0.1" {
		t.Fatalf("fee = %v", got)
	}
	// NEO does not pay the fee, so the ceiling is min(bridge max, balance).
	if got := o.AmountToUseMax().Get().Value; got == nil || *got != "3" {
		t.Fatalf("max = %v", got)
	}
	if b := o.TokenToUseBalance().Get().Value; b == nil || b.Amount.String() != "5" {
		t.Fatalf("token balance = %+v", b)
	}
}

func TestSetBalancesFeeTokenReducesMax(t *testing.T) {
	o, from, _ := newTestOrchestrator(t)
	ctx := context.Background()
	from.constants.MaxAmount = dec(t, "100")

	if err := o.SetTokenToUse(ctx, &gasN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	balances := []chainweave.Balance{{Token: gasN3, Amount: dec(t, "5")}}
	if err := o.SetBalances(ctx, balances); err != nil {
		t.Fatalf("SetBalances: %v", err)
	}

	// GAS pays its own fee: max = min(100, 5 - 0.1).
	if got := o.AmountToUseMax().Get().Value; got == nil || *got != "4.9" {
		t.Fatalf("max = %v", got)
	}
}

func TestSetBalancesMaxNeverNegative(t *testing.T) {
	o, from, _ := newTestOrchestrator(t)
	ctx := context.Background()
	from.constants.Fee = dec(t, "1")

	if err := o.SetTokenToUse(ctx, &gasN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	balances := []chainweave.Balance{{Token: gasN3, Amount: dec(t, "0.5")}}
	if err := o.SetBalances(ctx, balances); err != nil {
		t.Fatalf("SetBalances: %v", err)
	}

	if got := o.AmountToUseMax().Get().Value; got == nil || *got != "0" {
		t.Fatalf("max = %v, want clamped 0", got)
	}
}

func TestSetBalancesConstantsFailure(t *testing.T) {
	o, from, _ := newTestOrchestrator(t)
	ctx := context.Background()
	from.constantsErr = errors.New("bridge contract unreachable")
	feed := o.ErrFeed()

	if err := o.SetTokenToUse(ctx, &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	err := o.SetBalances(ctx, []chainweave.Balance{{Token: neoN3, Amount: dec(t, "5")}})
	errKind(t, err, chainweave.ErrUnexpected)

	select {
	case feedErr := <-feed:
		errKind(t, feedErr, chainweave.ErrUnexpected)
	default:
		t.Fatal("failure not broadcast on the error feed")
	}

	// The same coded error lands on all three derived fields, and none is
	// left loading.
	for name, f := range map[string]*chainweave.Error{
		"min": chainweaveErr(t, o.AmountToUseMin().Get().Err),
		"max": chainweaveErr(t, o.AmountToUseMax().Get().Err),
		"fee": chainweaveErr(t, o.Fee().Get().Err),
	} {
		if f.Kind() != chainweave.ErrUnexpected {
			t.Fatalf("%s error kind = %s", name, f.Kind())
		}
	}
	if o.AmountToUseMin().Get().Loading || o.AmountToUseMax().Get().Loading || o.Fee().Get().Loading {
		t.Fatal("derived fields left loading after failure")
	}
}

func chainweaveErr(t *testing.T, err error) *chainweave.Error {
	t.Helper()
	var coded *chainweave.Error
	if !errors.As(err, &coded) {
		t.Fatalf("expected a coded error, got %v", err)
	}
	return coded
}

// setupFunded drives the orchestrator to the state where amounts can be
// validated: token selected, account bound, balances installed.
func setupFunded(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx := context.Background()
	if err := o.SetTokenToUse(ctx, &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	if err := o.SetAccountToUse(ctx, &chainweave.Account{Address: "NAddr", Chain: "neo3"}); err != nil {
		t.Fatalf("SetAccountToUse: %v", err)
	}
	balances := []chainweave.Balance{
		{Token: neoN3, Amount: dec(t, "5")},
		{Token: gasN3, Amount: dec(t, "10")},
	}
	if err := o.SetBalances(ctx, balances); err != nil {
		t.Fatalf("SetBalances: %v", err)
	}
}

func TestAmountValidationScenario(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	setupFunded(t, o)

	// Within bounds: valid, and the receive amount mirrors 1:1.
	o.SetAmountToUse(ctx, strPtr("3"))
	waitFor(t, "amount '3' validation", func() bool {
		return o.AmountToUse().Get().Valid != nil
	})
	if amt := o.AmountToUse().Get(); !*amt.Valid || amt.Err != nil {
		t.Fatalf("amount '3' should be valid: %+v", amt)
	}
	if got := o.AmountToReceive().Get().Value; got == nil || *got != "3" {
		t.Fatalf("receive amount = %v, want 3", got)
	}

	// Above the bridge maximum.
	o.SetAmountToUse(ctx, nil) // clear validity between cases
	o.SetAmountToUse(ctx, strPtr("5"))
	waitFor(t, "amount '5' validation", func() bool {
		return o.AmountToUse().Get().Valid != nil
	})
	amt := o.AmountToUse().Get()
	if *amt.Valid {
		t.Fatal("amount '5' should be invalid")
	}
	errKind(t, amt.Err, chainweave.ErrAmountAboveMaximum)

	// Below the minimum. The mirror still updates before validation fails.
	o.SetAmountToUse(ctx, nil)
	o.SetAmountToUse(ctx, strPtr("0"))
	waitFor(t, "amount '0' validation", func() bool {
		return o.AmountToUse().Get().Valid != nil
	})
	amt = o.AmountToUse().Get()
	if *amt.Valid {
		t.Fatal("amount '0' should be invalid")
	}
	errKind(t, amt.Err, chainweave.ErrAmountBelowMinimum)
	if got := o.AmountToReceive().Get().Value; got == nil || *got != "0" {
		t.Fatalf("receive amount should mirror even when invalid: %v", got)
	}
}

func TestAmountFormattedToTokenDecimals(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	setupFunded(t, o)

	// NEO is indivisible; a fractional entry truncates.
	o.SetAmountToUse(ctx, strPtr("2.9"))
	waitFor(t, "fractional NEO validation", func() bool {
		return o.AmountToUse().Get().Valid != nil
	})
	if got := o.AmountToUse().Get().Value; got == nil || *got != "2" {
		t.Fatalf("amount = %v, want truncated 2", got)
	}
	if got := o.AmountToReceive().Get().Value; got == nil || *got != "2" {
		t.Fatalf("receive amount = %v, want 2", got)
	}
}

func TestInsufficientFeeBalance(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.SetTokenToUse(ctx, &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}
	if err := o.SetAccountToUse(ctx, &chainweave.Account{Address: "NAddr", Chain: "neo3"}); err != nil {
		t.Fatalf("SetAccountToUse: %v", err)
	}
	// Plenty of NEO, but not enough GAS to cover the 0.1 bridge fee.
	balances := []chainweave.Balance{
		{Token: neoN3, Amount: dec(t, "5")},
		{Token: gasN3, Amount: dec(t, "0.05")},
	}
	if err := o.SetBalances(ctx, balances); err != nil {
		t.Fatalf("SetBalances: %v", err)
	}

	o.SetAmountToUse(ctx, strPtr("1"))
	waitFor(t, "fee balance validation", func() bool {
		return o.AmountToUse().Get().Valid != nil
	})
	amt := o.AmountToUse().Get()
	if *amt.Valid {
		t.Fatal("amount should be invalid with insufficient fee balance")
	}
	errKind(t, amt.Err, chainweave.ErrInsufficientFeeBalance)
}

func TestAmountDebounceCoalesces(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	setupFunded(t, o)

	var mtx sync.Mutex
	var mirrored []string
	o.AmountToReceive().Subscribe(func(s field.Loadable[string]) {
		if s.Value == nil {
			return
		}
		mtx.Lock()
		mirrored = append(mirrored, *s.Value)
		mtx.Unlock()
	})

	o.SetAmountToUse(ctx, strPtr("1"))
	o.SetAmountToUse(ctx, strPtr("2"))
	o.SetAmountToUse(ctx, strPtr("3"))

	waitFor(t, "debounced validation", func() bool {
		return o.AmountToUse().Get().Valid != nil
	})
	time.Sleep(50 * time.Millisecond) // no straggler recomputation

	mtx.Lock()
	defer mtx.Unlock()
	if len(mirrored) != 1 || mirrored[0] != "3" {
		t.Fatalf("expected exactly one recomputation with the last value, got %v", mirrored)
	}
}

func TestAddressValidationDebounced(t *testing.T) {
	o, _, to := newTestOrchestrator(t)
	ctx := context.Background()

	o.SetAddressToReceive(ctx, strPtr("0xreceiver"))
	if got := o.AddressToReceive().Get(); got.Valid != nil {
		t.Fatal("validity resolved before the debounce window")
	}
	waitFor(t, "address validation", func() bool {
		return o.AddressToReceive().Get().Valid != nil
	})
	if !*o.AddressToReceive().Get().Valid {
		t.Fatal("address should validate")
	}

	to.validAddress = false
	o.SetAddressToReceive(ctx, strPtr("bogus"))
	waitFor(t, "address re-validation", func() bool {
		got := o.AddressToReceive().Get()
		return got.Valid != nil && !*got.Valid
	})
}

func TestSwitchTokensRoundTrip(t *testing.T) {
	o, from, to := newTestOrchestrator(t)
	ctx := context.Background()

	if err := o.SetTokenToUse(ctx, &neoN3); err != nil {
		t.Fatalf("SetTokenToUse: %v", err)
	}

	if err := o.SwitchTokens(ctx); err != nil {
		t.Fatalf("SwitchTokens: %v", err)
	}
	if o.FromService() != Service(to) || o.ToService() != Service(from) {
		t.Fatal("bindings not swapped")
	}
	// The previously received token becomes the token to use.
	if got := o.TokenToUse().Get().Value; got == nil || got.Hash != neoX.Hash {
		t.Fatalf("token to use after switch = %+v", got)
	}

	if err := o.SwitchTokens(ctx); err != nil {
		t.Fatalf("second SwitchTokens: %v", err)
	}
	if o.FromService() != Service(from) || o.ToService() != Service(to) {
		t.Fatal("double switch did not restore the original binding")
	}
	if got := o.TokenToUse().Get().Value; got == nil || got.Hash != neoN3.Hash {
		t.Fatalf("token to use after double switch = %+v", got)
	}
}

func TestBridgeNotReady(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Bridge(context.Background())
	errKind(t, err, chainweave.ErrBridgeNotReady)
}

func TestBridgeSubmits(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	setupFunded(t, o)

	o.SetAddressToReceive(ctx, strPtr("0xreceiver"))
	o.SetAmountToUse(ctx, strPtr("2"))
	waitFor(t, "inputs to validate", func() bool {
		return o.AmountToUse().Get().Valid != nil && o.AddressToReceive().Get().Valid != nil
	})

	tx, err := o.Bridge(ctx)
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if tx != "0xsource" {
		t.Fatalf("tx = %s", tx)
	}
}

func TestWaitConfirms(t *testing.T) {
	from, to := newTestPair(t)
	from.nonce = "42"
	from.nonceFailures.Store(2)
	to.mirrorTx = "0xmirror"
	to.mirrorFailures.Store(1)

	cfg := Config{WaitRetries: 5, WaitDelay: time.Millisecond}
	outcome, err := Wait(context.Background(), WaitParams{
		TokenToUse:      neoN3,
		TokenToReceive:  neoX,
		TransactionHash: "0xsource",
		FromService:     from,
		ToService:       to,
	}, cfg)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !outcome.Confirmed() || outcome.Value != "0xmirror" {
		t.Fatalf("outcome = %+v", outcome)
	}
	if got := from.nonceCalls.Load(); got != 3 {
		t.Fatalf("nonce attempts = %d, want 3", got)
	}
}

func TestWaitNonceTimeout(t *testing.T) {
	from, to := newTestPair(t)
	from.nonceFailures.Store(1000)

	cfg := Config{WaitRetries: 3, WaitDelay: time.Millisecond}
	outcome, err := Wait(context.Background(), WaitParams{
		TokenToUse:      neoN3,
		TokenToReceive:  neoX,
		TransactionHash: "0xsource",
		FromService:     from,
		ToService:       to,
	}, cfg)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Confirmed() {
		t.Fatal("outcome should report timeout")
	}
	if got := from.nonceCalls.Load(); got != 3 {
		t.Fatalf("nonce attempts = %d, want exactly 3", got)
	}
	if to.mirrorCalls.Load() != 0 {
		t.Fatal("mirror phase should not run after a nonce timeout")
	}
}

func strPtr(s string) *string { return &s }
