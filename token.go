// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package chainweave

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Token is a generic representation of a token on one chain. Identity is by
// normalized hash first, with a case-insensitive symbol comparison as a
// fallback for chains that do not expose contract hashes.
type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Hash     string `json:"hash"`
	Decimals int32  `json:"decimals"`
	// Chain is the name of the chain service the token belongs to.
	Chain string `json:"chain"`
	// MultichainID links mirrored representations of the same asset across
	// a bridge pair. Empty for tokens that are not bridgeable.
	MultichainID string `json:"multichainId,omitempty"`
}

// NormalizeHash lower-cases a contract hash and ensures a 0x prefix, so that
// hashes from different providers compare equal.
func NormalizeHash(hash string) string {
	if hash == "" {
		return ""
	}
	if !strings.HasPrefix(hash, "0x") {
		hash = "0x" + hash
	}
	return strings.ToLower(hash)
}

// Equal reports whether other identifies the same token. Normalized hashes
// are compared first; when either side matches, the tokens are equal. If both
// symbols are set, a case-insensitive symbol match also counts.
func (t Token) Equal(other Token) bool {
	if NormalizeHash(t.Hash) == NormalizeHash(other.Hash) && t.Hash != "" {
		return true
	}
	if t.Symbol != "" && other.Symbol != "" &&
		strings.EqualFold(t.Symbol, other.Symbol) {
		return true
	}
	return false
}

// EqualHash reports token identity strictly by normalized hash.
func (t Token) EqualHash(other Token) bool {
	return t.Hash != "" && NormalizeHash(t.Hash) == NormalizeHash(other.Hash)
}

// FindToken returns the first token in tokens equal to want, or false.
func FindToken(tokens []Token, want Token) (Token, bool) {
	for _, t := range tokens {
		if t.Equal(want) {
			return t, true
		}
	}
	return Token{}, false
}

// Account is a key-bearing address on one chain.
type Account struct {
	Address string `json:"address"`
	// Key is an opaque reference to the signing key. The library never
	// interprets it; it is passed through to the chain service.
	Key        string `json:"key"`
	Chain      string `json:"chain"`
	IsHardware bool   `json:"isHardware,omitempty"`
}

// Equal reports whether other is the same account on the same chain.
func (a Account) Equal(other Account) bool {
	return a.Address == other.Address && a.Chain == other.Chain
}

// Balance is the amount of one token held by an address.
type Balance struct {
	Token  Token           `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

// FindBalance locates the balance entry for the given token, comparing by
// normalized hash.
func FindBalance(balances []Balance, token Token) (Balance, bool) {
	for _, b := range balances {
		if token.EqualHash(b.Token) {
			return b, true
		}
	}
	return Balance{}, false
}
