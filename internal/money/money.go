// Package money holds the currency rounding policy applied to every amount
// stored in the ledger.
//
// The policy is parameterized by the number of minor-unit digits of the
// currency. Turkish lira amounts in the CRM round to whole units, so the
// default policy uses zero minor units; a ledger kept in cents would use 2.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is the currency the ledger assumes when none is configured.
const DefaultCurrency = "TRY"

// Policy rounds amounts to the minor unit of a currency.
type Policy struct {
	Currency   string
	MinorUnits int32
}

// TRY returns the whole-unit lira policy.
func TRY() Policy {
	return Policy{Currency: DefaultCurrency, MinorUnits: 0}
}

// NewPolicy validates and builds a policy.
func NewPolicy(currency string, minorUnits int32) (Policy, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if minorUnits < 0 || minorUnits > 8 {
		return Policy{}, fmt.Errorf("minor units must be between 0 and 8, got %d", minorUnits)
	}
	return Policy{Currency: currency, MinorUnits: minorUnits}, nil
}

// Round rounds half away from zero to the policy's minor unit.
func (p Policy) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(p.MinorUnits)
}

// RoundNonNegative rounds and clamps the result at zero.
func (p Policy) RoundNonNegative(d decimal.Decimal) decimal.Decimal {
	return ClampZero(p.Round(d))
}

// Format renders an amount with the policy's precision and currency code.
func (p Policy) Format(d decimal.Decimal) string {
	return p.Round(d).StringFixed(p.MinorUnits) + " " + p.Currency
}

// ClampZero returns max(0, d).
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Parse reads a plain decimal string such as "94100" or "1250.50".
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
