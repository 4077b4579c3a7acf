package credit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"crm/internal/ledger"
	"crm/pkg/models"
)

// Warning codes attached to purchase checks.
const (
	WarnInsufficientCredit   = "insufficient_credit"
	WarnPostPurchaseCritical = "post_purchase_critical"
	WarnCreditWarningStatus  = "credit_warning_status"
	WarnCreditExceeded       = "credit_exceeded_status"
	WarnAccountBlocked       = "account_blocked"
	WarnCustomerInactive     = "customer_inactive"
)

var criticalShare = decimal.NewFromFloat(0.1)

// Warning is an advisory diagnostic. It never changes the decision.
type Warning struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

// CheckResult is the outcome of a purchase admission dry run.
type CheckResult struct {
	CustomerID      string                `json:"customer_id"`
	Amount          decimal.Decimal       `json:"amount"`
	CreditLimit     decimal.Decimal       `json:"credit_limit"`
	AvailableCredit decimal.Decimal       `json:"available_credit"`
	CreditStatus    models.CreditStatus   `json:"credit_status"`
	CustomerStatus  models.CustomerStatus `json:"customer_status"`
	CanPurchase     bool                  `json:"can_purchase"`

	// AvailableAfterPurchase is set only when CanPurchase is true.
	AvailableAfterPurchase *decimal.Decimal `json:"available_after_purchase,omitempty"`

	// Shortfall is amount - available credit when the purchase is not
	// admissible, zero otherwise.
	Shortfall decimal.Decimal `json:"shortfall"`

	Warnings []Warning `json:"warnings,omitempty"`
}

// CheckPurchaseAdmission reports whether the customer's available credit
// covers amount. It reads the customer without taking its scope and never
// mutates; callers that commit on the result must hold the customer scope
// across check and commit.
func (e *Engine) CheckPurchaseAdmission(ctx context.Context, customerID string, amount decimal.Decimal) (CheckResult, error) {
	const op = "CheckPurchaseAdmission"

	if !amount.IsPositive() {
		return CheckResult{}, ledger.Invalid(op, customerID, "amount", amount.String(), "purchase amount must be positive")
	}

	c, err := e.customers.Get(ctx, customerID)
	if err != nil {
		return CheckResult{}, ledger.WrapOpError(op, customerID, err)
	}
	return e.evaluate(c, amount), nil
}

func (e *Engine) evaluate(c models.Customer, amount decimal.Decimal) CheckResult {
	res := CheckResult{
		CustomerID:      c.ID,
		Amount:          amount,
		CreditLimit:     c.CreditLimit,
		AvailableCredit: c.AvailableCredit,
		CreditStatus:    c.CreditStatus,
		CustomerStatus:  c.Status,
		CanPurchase:     c.AvailableCredit.GreaterThanOrEqual(amount),
		Shortfall:       decimal.Zero,
	}

	if res.CanPurchase {
		after := e.policy.Round(c.AvailableCredit.Sub(amount))
		res.AvailableAfterPurchase = &after
		if after.LessThan(c.CreditLimit.Mul(criticalShare)) {
			res.Warnings = append(res.Warnings, Warning{
				Code: WarnPostPurchaseCritical,
				Message: fmt.Sprintf("available credit after purchase would be %s, below 10%% of the %s limit",
					e.policy.Format(after), e.policy.Format(c.CreditLimit)),
				Amount: &after,
			})
		}
	} else {
		shortfall := e.policy.Round(amount.Sub(c.AvailableCredit))
		res.Shortfall = shortfall
		res.Warnings = append(res.Warnings, Warning{
			Code: WarnInsufficientCredit,
			Message: fmt.Sprintf("insufficient credit: available %s, requested %s, short by %s",
				e.policy.Format(c.AvailableCredit), e.policy.Format(amount), e.policy.Format(shortfall)),
			Amount: &shortfall,
		})
	}

	switch c.CreditStatus {
	case models.CreditWarning:
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnCreditWarningStatus,
			Message: "customer is already above 90% credit utilization",
		})
	case models.CreditExceeded:
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnCreditExceeded,
			Message: "customer has exceeded the credit limit",
		})
	case models.CreditBlocked:
		msg := "customer account is blocked"
		if c.BlockReason != "" {
			msg += ": " + c.BlockReason
		}
		res.Warnings = append(res.Warnings, Warning{Code: WarnAccountBlocked, Message: msg})
	}
	if c.Status == models.CustomerInactive {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnCustomerInactive,
			Message: "customer is inactive",
		})
	}
	return res
}
