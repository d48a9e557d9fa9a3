package payout

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is either a scalar in the ledger's native asset, or an issued-asset
// tuple of (value, currency, issuer). An empty Currency means native.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency,omitempty"`
	Issuer   string          `json:"issuer,omitempty"`
}

// Native builds a native-asset amount.
func Native(value decimal.Decimal) Amount {
	return Amount{Value: value}
}

// Issued builds an issued-asset amount.
func Issued(value decimal.Decimal, currency, issuer string) Amount {
	return Amount{Value: value, Currency: currency, Issuer: issuer}
}

// IsNative reports whether the amount is denominated in the native asset.
func (a Amount) IsNative() bool {
	return a.Currency == ""
}

// Validate checks the amount at the creation boundary. Issued amounts need a
// currency code and a valid issuer address; native amounts must not name one.
func (a Amount) Validate() error {
	if !a.Value.IsPositive() {
		return &ValidationError{Field: "amount.value", Reason: "must be positive"}
	}
	if a.IsNative() {
		if a.Issuer != "" {
			return &ValidationError{Field: "amount.issuer", Reason: "issuer requires a currency"}
		}
		return nil
	}
	if len(a.Currency) < 3 || len(a.Currency) > 20 {
		return &ValidationError{Field: "amount.currency", Reason: "currency code must be 3-20 characters"}
	}
	if a.Issuer != "" && !ValidAddress(a.Issuer) {
		return &ValidationError{Field: "amount.issuer", Reason: "invalid issuer address"}
	}
	return nil
}

func (a Amount) String() string {
	if a.IsNative() {
		return a.Value.String()
	}
	return fmt.Sprintf("%s %s/%s", a.Value.String(), a.Currency, a.Issuer)
}

// ValidAddress reports whether s looks like a ledger account address:
// 25-64 characters from the base58 alphabet, starting with a letter.
func ValidAddress(s string) bool {
	if len(s) < 25 || len(s) > 64 {
		return false
	}
	first := s[0]
	if !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z') {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '1' && c <= '9':
			// base58 excludes the look-alikes O, I and l (0 is out of range already)
			if c == 'O' || c == 'I' || c == 'l' {
				return false
			}
		default:
			return false
		}
	}
	return true
}
