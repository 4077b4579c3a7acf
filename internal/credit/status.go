package credit

import (
	"github.com/shopspring/decimal"

	"crm/pkg/models"
)

var (
	nine = decimal.NewFromInt(9)
	ten  = decimal.NewFromInt(10)
)

// DeriveStatus maps utilization (outstanding / limit) onto a credit status:
// above 1 is exceeded, above 0.9 is warning, anything else is good. A zero
// limit is exceeded as soon as anything is outstanding.
//
// Warning compares outstanding*10 against limit*9 without division
// or rounding.
func DeriveStatus(limit, outstanding decimal.Decimal) models.CreditStatus {
	if !limit.IsPositive() {
		if outstanding.IsPositive() {
			return models.CreditExceeded
		}
		return models.CreditGood
	}
	switch {
	case outstanding.GreaterThan(limit):
		return models.CreditExceeded
	case outstanding.Mul(ten).GreaterThan(limit.Mul(nine)):
		return models.CreditWarning
	default:
		return models.CreditGood
	}
}

// Utilization returns outstanding / limit, or zero when the limit is zero.
func Utilization(limit, outstanding decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return outstanding.DivRound(limit, 4)
}

// Recompute sets outstanding and the fields derived from it. Outstanding is
// clamped at zero. A blocked customer keeps its status.
func Recompute(c models.Customer, outstanding decimal.Decimal) models.Customer {
	if outstanding.IsNegative() {
		outstanding = decimal.Zero
	}
	c.TotalOutstanding = outstanding
	c.AvailableCredit = c.CreditLimit.Sub(outstanding)
	if c.CreditStatus != models.CreditBlocked {
		c.CreditStatus = DeriveStatus(c.CreditLimit, outstanding)
	}
	return c
}
